package booking

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/homeservice-dispatch/internal/api"
	"github.com/example/homeservice-dispatch/internal/models"
)

type StatusUpdater interface {
	UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, details map[string]any) (models.Job, error)
}

type OptimisticCache interface {
	Optimistic(id string, status models.JobStatus) (undo func(), err error)
}

// JobActions changes the status of an existing job: a customer cancelling,
// or a technician accepting, starting or completing work. The cached job
// shows the new status immediately and is rolled back if the server
// rejects the change.
type JobActions struct {
	API   StatusUpdater
	Cache OptimisticCache
	Hub   interface {
		Track(ctx context.Context, job models.Job) error
	}
	Logger *slog.Logger
}

func (a *JobActions) Cancel(ctx context.Context, jobID, reason string) (models.Job, error) {
	return a.Update(ctx, jobID, models.JobCancelled, map[string]any{"reason": reason})
}

func (a *JobActions) Update(ctx context.Context, jobID string, status models.JobStatus, details map[string]any) (models.Job, error) {
	undo, err := a.Cache.Optimistic(jobID, status)
	if err != nil {
		return models.Job{}, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	job, err := a.API.UpdateJobStatus(ctx, jobID, status, details)
	if err != nil {
		undo()
		a.Logger.Warn("job_status_rejected", "job_id", jobID, "status", status, "error", err)
		return models.Job{}, &Rejection{Message: api.UserMessage(err), Err: err}
	}
	if job.ID == "" {
		job.ID = jobID
	}
	// the server's answer replaces the provisional entry
	if a.Hub != nil {
		if err := a.Hub.Track(ctx, job); err != nil {
			a.Logger.Warn("job_track_failed", "job_id", jobID, "error", err)
		}
	}
	return job, nil
}
