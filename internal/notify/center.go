package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/homeservice-dispatch/internal/models"
	"github.com/example/homeservice-dispatch/internal/observability"
	"github.com/example/homeservice-dispatch/internal/realtime"
)

const DefaultCapacity = 200

var ErrNotFound = errors.New("notification not found")

// Alerter shows a desktop alert. It is only called when the user allowed it.
type Alerter interface {
	Alert(n models.Notification)
}

type Subscriber interface {
	Subscribe(f realtime.Filter, fn realtime.Handler) (unsubscribe func())
}

type Options struct {
	Capacity int
	Alerter  Alerter // optional
	Logger   *slog.Logger
}

// Center keeps the user's notifications newest first.
type Center struct {
	opts Options

	mu      sync.Mutex
	items   []models.Notification
	byJob   map[string]string // jobID|status -> notification id
	alerts  bool
	onApply []func(models.Notification)
}

func NewCenter(opts Options) *Center {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Center{opts: opts, byJob: make(map[string]string)}
}

// SyntheticID is the id given to a notification built locally from a job
// status change. A server notification for the same job and status replaces
// it.
func SyntheticID(jobID string, status models.JobStatus) string {
	return "job:" + jobID + ":" + string(status)
}

func jobKey(jobID string, status models.JobStatus) string { return jobID + "|" + string(status) }

// Attach subscribes the center to notification and job events.
func (c *Center) Attach(hub Subscriber) (unsubscribe func()) {
	return hub.Subscribe(realtime.Filter{
		Entities: []models.Entity{models.EntityNotification, models.EntityJob},
		Kinds:    []string{models.EventNewNotification, models.EventGeneralBroadcast, models.EventJobStatusUpdated},
	}, func(ev models.RealtimeEvent) { c.Apply(ev) })
}

// SetAlerts records whether desktop alerts are permitted.
func (c *Center) SetAlerts(allowed bool) {
	c.mu.Lock()
	c.alerts = allowed
	c.mu.Unlock()
}

// wire accepts both camelCase rows from the push channel and snake_case rows
// from the change feed.
type wire struct {
	ID         string           `json:"id"`
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	JobID      string           `json:"jobId"`
	JobIDSnake string           `json:"job_id"`
	Status     models.JobStatus `json:"status"`
	CreatedAt  time.Time        `json:"createdAt"`
	Created    time.Time        `json:"created_at"`
	Read       bool             `json:"read"`
}

// Apply turns an event into a notification. It reports false when the event
// was not surfaced: a duplicate id, a job event the server already
// notified about, or an undecodable payload.
func (c *Center) Apply(ev models.RealtimeEvent) (models.Notification, bool) {
	var n models.Notification
	switch ev.Kind {
	case models.EventNewNotification, models.EventGeneralBroadcast:
		var w wire
		if err := ev.Decode(&w); err != nil {
			c.opts.Logger.Warn("notification_invalid", "source", ev.Source, "error", err)
			return n, false
		}
		n = models.Notification{
			ID:        firstNonEmpty(w.ID, ev.ID),
			Title:     w.Title,
			Message:   w.Message,
			JobID:     firstNonEmpty(w.JobID, w.JobIDSnake),
			Status:    w.Status,
			Broadcast: ev.Kind == models.EventGeneralBroadcast,
			Read:      w.Read,
			CreatedAt: firstTime(w.CreatedAt, w.Created, ev.ReceivedAt),
		}
		if n.Title == "" && n.Broadcast {
			n.Title = "Announcement"
		}
	case models.EventJobStatusUpdated:
		var job models.Job
		if err := ev.Decode(&job); err != nil || job.ID == "" || !job.Status.Valid() {
			return n, false
		}
		title, msg := statusText(job)
		n = models.Notification{
			ID:        SyntheticID(job.ID, job.Status),
			Title:     title,
			Message:   msg,
			JobID:     job.ID,
			Status:    job.Status,
			Synthetic: true,
			CreatedAt: firstTime(ev.ReceivedAt, time.Now()),
		}
	default:
		return n, false
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if !c.insert(n) {
		return n, false
	}
	return n, true
}

func (c *Center) insert(n models.Notification) bool {
	c.mu.Lock()
	if c.indexLocked(n.ID) >= 0 {
		c.mu.Unlock()
		return false
	}
	if n.JobID != "" && n.Status != "" {
		k := jobKey(n.JobID, n.Status)
		if prev, ok := c.byJob[k]; ok {
			i := c.indexLocked(prev)
			switch {
			case n.Synthetic:
				// the server already told the user
				c.mu.Unlock()
				return false
			case i >= 0 && c.items[i].Synthetic:
				n.Read = n.Read || c.items[i].Read
				c.items = append(c.items[:i], c.items[i+1:]...)
			}
		}
		c.byJob[k] = n.ID
	}
	c.items = append([]models.Notification{n}, c.items...)
	for len(c.items) > c.opts.Capacity {
		last := c.items[len(c.items)-1]
		if last.JobID != "" {
			delete(c.byJob, jobKey(last.JobID, last.Status))
		}
		c.items = c.items[:len(c.items)-1]
	}
	alert := c.alerts && c.opts.Alerter != nil && !n.Read
	hooks := append([]func(models.Notification){}, c.onApply...)
	c.updateGaugeLocked()
	c.mu.Unlock()

	c.opts.Logger.Debug("notification_added", "id", n.ID, "synthetic", n.Synthetic, "job_id", n.JobID)
	if alert {
		c.opts.Alerter.Alert(n)
	}
	for _, fn := range hooks {
		fn(n)
	}
	return true
}

// OnNotification registers fn to run after every surfaced notification.
func (c *Center) OnNotification(fn func(models.Notification)) {
	c.mu.Lock()
	c.onApply = append(c.onApply, fn)
	c.mu.Unlock()
}

func (c *Center) indexLocked(id string) int {
	for i := range c.items {
		if c.items[i].ID == id {
			return i
		}
	}
	return -1
}

// List returns a copy, newest first.
func (c *Center) List() []models.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Notification(nil), c.items...)
}

func (c *Center) Unread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unreadLocked()
}

func (c *Center) unreadLocked() int {
	n := 0
	for _, it := range c.items {
		if !it.Read {
			n++
		}
	}
	return n
}

func (c *Center) updateGaugeLocked() {
	observability.NotificationsUnread.Set(float64(c.unreadLocked()))
}

func (c *Center) MarkRead(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.items[i].Read = true
	c.updateGaugeLocked()
	return nil
}

// MarkAllRead marks every notification read and returns how many changed.
func (c *Center) MarkAllRead() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := 0
	for i := range c.items {
		if !c.items[i].Read {
			c.items[i].Read = true
			changed++
		}
	}
	c.updateGaugeLocked()
	return changed
}

func statusText(job models.Job) (string, string) {
	svc := job.ServiceType
	if svc == "" {
		svc = "Your"
	}
	switch job.Status {
	case models.JobPending:
		return "Booking received", svc + " request is waiting for a technician."
	case models.JobAccepted:
		return "Technician assigned", svc + " request was accepted."
	case models.JobInProgress:
		return "Work started", svc + " job is in progress."
	case models.JobCompleted:
		return "Job completed", svc + " job is complete."
	case models.JobRejected:
		return "Booking declined", svc + " request was declined."
	case models.JobCancelled:
		return "Booking cancelled", svc + " request was cancelled."
	}
	return "Job updated", svc + " job changed."
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstTime(ts ...time.Time) time.Time {
	for _, t := range ts {
		if !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}
