package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/homeservice-dispatch/internal/models"
	"github.com/example/homeservice-dispatch/internal/observability"
)

// HeartbeatInterval is the fixed period of the consistency backstop.
const HeartbeatInterval = 30 * time.Second

// StateFetcher is the part of the REST client the heartbeat uses.
type StateFetcher interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	AdminStats(ctx context.Context) (models.Stats, error)
}

// Poller re-fetches every tracked job, and optionally aggregate stats, on a
// fixed interval. Failures are logged and retried on the next tick.
type Poller struct {
	API      StateFetcher
	Interval time.Duration
	Tracked  func() []string
	Stats    bool
	Logger   *slog.Logger
}

func (p *Poller) Run(ctx context.Context, out chan<- models.RealtimeEvent) error {
	interval := p.Interval
	if interval <= 0 {
		interval = HeartbeatInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			p.tick(ctx, out)
		}
	}
}

func (p *Poller) tick(ctx context.Context, out chan<- models.RealtimeEvent) {
	observability.HeartbeatPolls.Inc()
	var ids []string
	if p.Tracked != nil {
		ids = p.Tracked()
	}
	for _, id := range ids {
		job, err := p.API.GetJob(ctx, id)
		if err != nil {
			p.Logger.Warn("heartbeat_job_failed", "job_id", id, "error", err)
			continue
		}
		if job.ID == "" {
			job.ID = id
		}
		if !send(ctx, out, FromJob(models.SourcePoll, job, time.Now())) {
			return
		}
	}
	if p.Stats {
		st, err := p.API.AdminStats(ctx)
		if err != nil {
			p.Logger.Warn("heartbeat_stats_failed", "error", err)
			return
		}
		send(ctx, out, FromStats(st, time.Now()))
	}
}

func send(ctx context.Context, out chan<- models.RealtimeEvent, ev models.RealtimeEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
