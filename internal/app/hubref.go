package app

import (
	"context"
	"fmt"

	"github.com/example/homeservice-dispatch/internal/models"
	"github.com/example/homeservice-dispatch/internal/realtime"
	"github.com/example/homeservice-dispatch/internal/session"
)

// hubRef resolves to the hub of the current session on every call, so
// long-lived components survive logout and re-login.
type hubRef struct{ m *session.Manager }

func (r hubRef) hub() *realtime.Hub {
	h, _ := r.m.Resource().(*realtime.Hub)
	return h
}

func (r hubRef) Subscribe(f realtime.Filter, fn realtime.Handler) func() {
	if h := r.hub(); h != nil {
		return h.Subscribe(f, fn)
	}
	return func() {}
}

func (r hubRef) Track(ctx context.Context, job models.Job) error {
	if h := r.hub(); h != nil {
		return h.Track(ctx, job)
	}
	return nil
}

func (r hubRef) Emit(event string, data any) error {
	if h := r.hub(); h != nil {
		return h.Emit(event, data)
	}
	return realtime.ErrNotConnected
}

func (r hubRef) Optimistic(id string, status models.JobStatus) (func(), error) {
	if h := r.hub(); h != nil {
		return h.Jobs().Optimistic(id, status)
	}
	return nil, fmt.Errorf("job %s: %w", id, session.ErrNoSession)
}

func (r hubRef) Snapshot() []models.Job {
	if h := r.hub(); h != nil {
		return h.Jobs().Snapshot()
	}
	return nil
}

func (r hubRef) Get(id string) (models.Job, bool) {
	if h := r.hub(); h != nil {
		return h.Jobs().Get(id)
	}
	return models.Job{}, false
}

func (r hubRef) Connected() bool {
	h := r.hub()
	return h != nil && h.Connected()
}
