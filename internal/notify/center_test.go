package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/homeservice-dispatch/internal/models"
	"github.com/example/homeservice-dispatch/internal/realtime"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func push(t *testing.T, event string, body any) models.RealtimeEvent {
	t.Helper()
	b, _ := json.Marshal(body)
	ev, ok := realtime.FromPush(event, b, time.Now())
	if !ok {
		t.Fatalf("event %s not normalized", event)
	}
	return ev
}

func jobEv(id string, status models.JobStatus) models.RealtimeEvent {
	return realtime.FromJob(models.SourcePush, models.Job{ID: id, Status: status, ServiceType: "Plumber"}, time.Now())
}

func TestNewestFirstAndDedupByID(t *testing.T) {
	c := NewCenter(Options{Logger: quiet()})
	c.Apply(push(t, models.EventNewNotification, map[string]any{"id": "n1", "title": "Hello", "message": "first"}))
	c.Apply(push(t, models.EventGeneralBroadcast, map[string]any{"id": "b1", "message": "maintenance tonight"}))
	if _, ok := c.Apply(push(t, models.EventNewNotification, map[string]any{"id": "n1", "title": "Hello", "message": "first"})); ok {
		t.Fatal("duplicate id must be suppressed")
	}

	list := c.List()
	if len(list) != 2 || list[0].ID != "b1" || list[1].ID != "n1" {
		t.Fatalf("unexpected order: %+v", list)
	}
	if !list[0].Broadcast || list[0].Title != "Announcement" {
		t.Fatalf("broadcast not labelled: %+v", list[0])
	}
	if c.Unread() != 2 {
		t.Fatalf("expected 2 unread, got %d", c.Unread())
	}
}

func TestMarkReadAndMarkAll(t *testing.T) {
	c := NewCenter(Options{Logger: quiet()})
	c.Apply(push(t, models.EventNewNotification, map[string]any{"id": "n1", "title": "a"}))
	c.Apply(push(t, models.EventNewNotification, map[string]any{"id": "n2", "title": "b"}))
	c.Apply(jobEv("j1", models.JobAccepted))

	if err := c.MarkRead("n1"); err != nil {
		t.Fatal(err)
	}
	if err := c.MarkRead("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if c.Unread() != 2 {
		t.Fatalf("expected 2 unread, got %d", c.Unread())
	}
	if n := c.MarkAllRead(); n != 2 || c.Unread() != 0 {
		t.Fatalf("mark all changed %d, unread %d", n, c.Unread())
	}
}

func TestServerNotificationReplacesSynthetic(t *testing.T) {
	c := NewCenter(Options{Logger: quiet()})
	syn, ok := c.Apply(jobEv("j1", models.JobAccepted))
	if !ok || syn.ID != SyntheticID("j1", models.JobAccepted) || !syn.Synthetic {
		t.Fatalf("unexpected synthetic %+v", syn)
	}
	_ = c.MarkRead(syn.ID)

	c.Apply(push(t, models.EventNewNotification, map[string]any{
		"id": "srv-7", "title": "Technician assigned", "message": "Ravi is on the way", "jobId": "j1", "status": "accepted",
	}))
	list := c.List()
	if len(list) != 1 || list[0].ID != "srv-7" || list[0].Synthetic {
		t.Fatalf("synthetic not replaced: %+v", list)
	}
	if !list[0].Read {
		t.Fatal("read flag of the replaced entry must carry over")
	}

	// a re-announced status change does not bring the synthetic back
	if _, ok := c.Apply(jobEv("j1", models.JobAccepted)); ok {
		t.Fatal("synthetic added after server notification")
	}
	if len(c.List()) != 1 {
		t.Fatalf("double counted: %+v", c.List())
	}
}

func TestNotificationWithoutIDUsesContentKey(t *testing.T) {
	c := NewCenter(Options{Logger: quiet()})
	body := map[string]any{"title": "Promo", "message": "10% off"}
	c.Apply(push(t, models.EventNewNotification, body))
	c.Apply(push(t, models.EventNewNotification, body))
	if len(c.List()) != 1 {
		t.Fatalf("expected one entry, got %+v", c.List())
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	c := NewCenter(Options{Capacity: 2, Logger: quiet()})
	for _, id := range []string{"a", "b", "c"} {
		c.Apply(push(t, models.EventNewNotification, map[string]any{"id": id, "title": id}))
	}
	list := c.List()
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "b" {
		t.Fatalf("unexpected list %+v", list)
	}
}

type alerter struct {
	mu  sync.Mutex
	got []string
}

func (a *alerter) Alert(n models.Notification) {
	a.mu.Lock()
	a.got = append(a.got, n.ID)
	a.mu.Unlock()
}

func (a *alerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.got)
}

func TestAlertsOnlyWhenPermitted(t *testing.T) {
	al := &alerter{}
	c := NewCenter(Options{Alerter: al, Logger: quiet()})
	c.Apply(push(t, models.EventNewNotification, map[string]any{"id": "n1", "title": "x"}))
	c.SetAlerts(true)
	c.Apply(push(t, models.EventNewNotification, map[string]any{"id": "n2", "title": "y"}))
	if al.count() != 1 || al.got[0] != "n2" {
		t.Fatalf("unexpected alerts %v", al.got)
	}
}

func TestAttachReceivesHubEvents(t *testing.T) {
	hub := realtime.New(realtime.Options{Logger: quiet()})
	_ = hub.Start(context.Background())
	defer hub.Close()

	c := NewCenter(Options{Logger: quiet()})
	unsub := c.Attach(hub)
	defer unsub()

	_ = hub.Publish(context.Background(), jobEv("j2", models.JobPending))
	_ = hub.Publish(context.Background(), push(t, models.EventGeneralBroadcast, map[string]any{"id": "b9", "message": "hi"}))

	deadline := time.Now().Add(2 * time.Second)
	for len(c.List()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(c.List()) != 2 {
		t.Fatalf("expected 2 notifications, got %+v", c.List())
	}
}
