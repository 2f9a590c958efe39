package models

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobAccepted   JobStatus = "accepted"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobRejected   JobStatus = "rejected"
	JobCancelled  JobStatus = "cancelled"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobPending:    {JobAccepted, JobRejected, JobCancelled},
	JobAccepted:   {JobInProgress, JobRejected, JobCancelled},
	JobInProgress: {JobCompleted, JobCancelled},
}

// CanTransition reports whether a job may move from s to next.
// Terminal statuses have no outgoing edges.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, to := range jobTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobRejected, JobCancelled:
		return true
	}
	return false
}

// Active reports whether the job holds its technician.
func (s JobStatus) Active() bool { return s == JobAccepted || s == JobInProgress }

func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobAccepted, JobInProgress, JobCompleted, JobRejected, JobCancelled:
		return true
	}
	return false
}

type TechnicianStatus string

const (
	TechAvailable     TechnicianStatus = "available"
	TechPending       TechnicianStatus = "pending"
	TechEngaged       TechnicianStatus = "engaged"
	TechBusy          TechnicianStatus = "busy"
	TechFinishingWork TechnicianStatus = "finishing_work"
	TechNotAvailable  TechnicianStatus = "not_available"
	TechOffline       TechnicianStatus = "offline"
)

// Bookable reports whether a customer may select a technician in this status.
func (s TechnicianStatus) Bookable() bool {
	return s == TechAvailable || s == TechPending
}

// Label is the text shown next to a technician that cannot be selected.
func (s TechnicianStatus) Label() string {
	switch s {
	case TechAvailable, TechPending:
		return ""
	case TechEngaged, TechBusy:
		return "On another job"
	case TechFinishingWork:
		return "Finishing current work"
	case TechOffline:
		return "Offline"
	default:
		return "Not available"
	}
}
