package tracking

import (
	"context"

	"github.com/example/homeservice-dispatch/internal/models"
	"github.com/example/homeservice-dispatch/internal/realtime"
)

type Subscriber interface {
	Subscribe(f realtime.Filter, fn realtime.Handler) (unsubscribe func())
}

// Follow starts a ride when one of the technician's jobs becomes accepted and
// ends it once that job reaches a terminal status.
func (t *Tracker) Follow(ctx context.Context, hub Subscriber, technicianID string) (unsubscribe func()) {
	return hub.Subscribe(realtime.Filter{Entities: []models.Entity{models.EntityJob}}, func(ev models.RealtimeEvent) {
		var job models.Job
		if err := ev.Decode(&job); err != nil || job.TechnicianID != technicianID {
			return
		}
		cur := t.Current()
		switch {
		case job.Status.Active() && cur == nil:
			if _, err := t.StartRide(ctx, job, technicianID); err != nil {
				t.cfg.Logger.Warn("ride_autostart_failed", "job_id", job.ID, "error", err)
			}
		case job.Status.Terminal() && cur != nil && cur.job.ID == job.ID:
			cur.End()
		}
	})
}
