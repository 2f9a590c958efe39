package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/segmentio/kafka-go"

	"github.com/example/homeservice-dispatch/internal/models"
	"github.com/example/homeservice-dispatch/internal/observability"
)

// Default NOTIFY channels for the jobs and chats tables. Triggers publish
// {"table","type","record"} as the payload.
var DefaultChannels = []string{"jobs_changes", "chats_changes"}

// PQFeed subscribes to row changes with Postgres LISTEN/NOTIFY.
type PQFeed struct {
	DSN      string
	Channels []string
	Logger   *slog.Logger
}

func (f *PQFeed) Run(ctx context.Context, out chan<- models.RealtimeEvent) error {
	l := pq.NewListener(f.DSN, time.Second, maxBackoff, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			f.Logger.Warn("changefeed_disconnected", "error", err)
		case pq.ListenerEventReconnected:
			f.Logger.Info("changefeed_reconnected")
		}
	})
	defer l.Close()

	channels := f.Channels
	if len(channels) == 0 {
		channels = DefaultChannels
	}
	for _, ch := range channels {
		if err := l.Listen(ch); err != nil {
			// the listener keeps retrying the connection; a failed LISTEN
			// here is not fatal for the session
			f.Logger.Warn("changefeed_listen_failed", "channel", ch, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-l.Notify:
			if n == nil {
				// connection was re-established; notifications may have been lost
				continue
			}
			forward(ctx, out, []byte(n.Extra), f.Logger)
		case <-time.After(90 * time.Second):
			go func() { _ = l.Ping() }()
		}
	}
}

// MessageReader is the subset of *kafka.Reader the feed needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaFeed reads row changes from a CDC topic.
type KafkaFeed struct {
	Reader MessageReader
	Logger *slog.Logger
}

func NewKafkaFeed(brokers []string, topic, group string, logger *slog.Logger) *KafkaFeed {
	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 1, MaxBytes: 10e6})
	return &KafkaFeed{Reader: r, Logger: logger}
}

func (f *KafkaFeed) Run(ctx context.Context, out chan<- models.RealtimeEvent) error {
	defer func() { _ = f.Reader.Close() }()
	backoff := time.Second
	for {
		m, err := f.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.Logger.Warn("changefeed_read_failed", "error", err, "backoff", backoff.String())
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		// reset backoff on success
		backoff = time.Second
		forward(ctx, out, m.Value, f.Logger)
	}
}

func forward(ctx context.Context, out chan<- models.RealtimeEvent, raw []byte, logger *slog.Logger) {
	ev, ok := FromChange(raw, time.Now())
	if !ok {
		observability.EventsDropped.WithLabelValues(string(models.SourceChangefeed)).Inc()
		logger.Debug("changefeed_row_ignored", "bytes", len(raw))
		return
	}
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
