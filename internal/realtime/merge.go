package realtime

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/homeservice-dispatch/internal/models"
	"github.com/example/homeservice-dispatch/internal/observability"
)

// Outcome is the result of merging one job event into the cache.
type Outcome int

const (
	Unchanged Outcome = iota
	Applied
	Backward // would move the job against the status graph
	Stale    // older than what the cache already holds
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Backward:
		return "backward"
	case Stale:
		return "stale"
	}
	return "unchanged"
}

type jobEntry struct {
	job         models.Job
	at          time.Time
	source      models.Source
	provisional bool
}

// JobCache is the client's copy of server jobs. Merging is last-write-wins by
// job id regardless of which transport delivered the event, except that a
// status may only move forward along the job graph. Provisional entries come
// from optimistic local updates and yield to the next authoritative event.
type JobCache struct {
	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

func NewJobCache() *JobCache {
	return &JobCache{jobs: make(map[string]*jobEntry)}
}

// Apply merges a job event and returns the resulting cached job.
func (c *JobCache) Apply(ev models.RealtimeEvent) (models.Job, Outcome, error) {
	var job models.Job
	if err := ev.Decode(&job); err != nil {
		return models.Job{}, Unchanged, fmt.Errorf("decode job %s: %w", ev.ID, err)
	}
	if job.ID == "" {
		job.ID = ev.ID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.jobs[job.ID]
	if job.Status == "" && ok {
		job.Status = cur.job.Status
	}
	if !job.Status.Valid() {
		return models.Job{}, Unchanged, fmt.Errorf("job %s: unknown status %q", job.ID, job.Status)
	}
	next := &jobEntry{job: job, at: ev.ReceivedAt, source: ev.Source}

	switch {
	case !ok, cur.provisional:
		c.jobs[job.ID] = next
		return job, Applied, nil
	case ev.ReceivedAt.Before(cur.at):
		return cur.job, Stale, nil
	case job.Status == cur.job.Status:
		changed := job.TechnicianID != cur.job.TechnicianID
		c.jobs[job.ID] = next
		if changed {
			return job, Applied, nil
		}
		return job, Unchanged, nil
	case cur.job.Status.CanTransition(job.Status):
		c.jobs[job.ID] = next
		return job, Applied, nil
	default:
		observability.JobTransitionsRejected.Inc()
		return cur.job, Backward, nil
	}
}

// Optimistic marks a locally-issued status change as provisional. The
// returned undo restores the previous entry unless an authoritative event has
// replaced the provisional one in the meantime.
func (c *JobCache) Optimistic(id string, status models.JobStatus) (undo func(), err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not cached", id)
	}
	if !cur.job.Status.CanTransition(status) {
		return nil, fmt.Errorf("job %s: %s -> %s not allowed", id, cur.job.Status, status)
	}
	prev := *cur
	job := cur.job
	job.Status = status
	job.UpdatedAt = time.Now()
	entry := &jobEntry{job: job, at: prev.at, source: models.SourceLocal, provisional: true}
	c.jobs[id] = entry
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.jobs[id] == entry {
			c.jobs[id] = &prev
		}
	}, nil
}

func (c *JobCache) Get(id string) (models.Job, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return e.job, true
}

// Snapshot returns every cached job, most recently merged first.
func (c *JobCache) Snapshot() []models.Job {
	c.mu.RLock()
	entries := make([]*jobEntry, 0, len(c.jobs))
	for _, e := range c.jobs {
		entries = append(entries, e)
	}
	c.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.After(entries[j].at) })
	out := make([]models.Job, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.job)
	}
	return out
}

// Tracked lists ids of jobs that can still change, for the heartbeat poll.
func (c *JobCache) Tracked() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.jobs))
	for id, e := range c.jobs {
		if !e.job.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ActiveFor returns the accepted or in-progress jobs referencing a technician.
// More than one means the client has observed a conflict the server must settle.
func (c *JobCache) ActiveFor(technicianID string) []models.Job {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []models.Job
	for _, e := range c.jobs {
		if e.job.TechnicianID == technicianID && e.job.Status.Active() {
			out = append(out, e.job)
		}
	}
	return out
}

// ChatLog is an append-only message list per conversation, deduplicated by
// message id since both channels deliver the same rows.
type ChatLog struct {
	mu    sync.RWMutex
	ids   map[string]struct{}
	convs map[string][]models.ChatMessage
}

func NewChatLog() *ChatLog {
	return &ChatLog{ids: make(map[string]struct{}), convs: make(map[string][]models.ChatMessage)}
}

// Append adds msg unless its id is already present.
func (l *ChatLog) Append(msg models.ChatMessage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[msg.ID]; ok {
		return false
	}
	l.ids[msg.ID] = struct{}{}
	l.convs[msg.ConversationID] = append(l.convs[msg.ConversationID], msg)
	return true
}

func (l *ChatLog) Messages(conversationID string) []models.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.ChatMessage(nil), l.convs[conversationID]...)
}
