package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/example/homeservice-dispatch/internal/models"
)

func jobEvent(src models.Source, id string, status models.JobStatus, at time.Time) models.RealtimeEvent {
	b, _ := json.Marshal(models.Job{ID: id, Status: status, TechnicianID: "t1"})
	return models.RealtimeEvent{Source: src, Entity: models.EntityJob, Kind: models.EventJobStatusUpdated, ID: id, Payload: b, ReceivedAt: at}
}

func TestLaterEventWinsRegardlessOfSource(t *testing.T) {
	t0 := time.Now()
	for _, order := range [][2]models.Source{
		{models.SourcePush, models.SourceChangefeed},
		{models.SourceChangefeed, models.SourcePush},
	} {
		c := NewJobCache()
		c.Apply(jobEvent(models.SourcePush, "j1", models.JobPending, t0))
		c.Apply(jobEvent(order[0], "j1", models.JobAccepted, t0.Add(time.Second)))
		_, out, err := c.Apply(jobEvent(order[1], "j1", models.JobInProgress, t0.Add(2*time.Second)))
		if err != nil || out != Applied {
			t.Fatalf("%v: expected applied, got %v %v", order, out, err)
		}
		if j, _ := c.Get("j1"); j.Status != models.JobInProgress {
			t.Fatalf("%v: expected in_progress, got %s", order, j.Status)
		}
	}
}

func TestBackwardTransitionIgnored(t *testing.T) {
	t0 := time.Now()
	c := NewJobCache()
	c.Apply(jobEvent(models.SourcePush, "j1", models.JobInProgress, t0))
	_, out, _ := c.Apply(jobEvent(models.SourceChangefeed, "j1", models.JobAccepted, t0.Add(time.Second)))
	if out != Backward {
		t.Fatalf("expected backward, got %v", out)
	}
	if j, _ := c.Get("j1"); j.Status != models.JobInProgress {
		t.Fatalf("job moved backward to %s", j.Status)
	}
	_, out, _ = c.Apply(jobEvent(models.SourcePoll, "j1", models.JobCompleted, t0.Add(2*time.Second)))
	if out != Applied {
		t.Fatalf("expected completed to apply, got %v", out)
	}
	_, out, _ = c.Apply(jobEvent(models.SourcePush, "j1", models.JobCancelled, t0.Add(3*time.Second)))
	if out != Backward {
		t.Fatalf("terminal job must not change, got %v", out)
	}
}

func TestStaleEventIgnored(t *testing.T) {
	t0 := time.Now()
	c := NewJobCache()
	c.Apply(jobEvent(models.SourcePush, "j1", models.JobPending, t0))
	_, out, _ := c.Apply(jobEvent(models.SourceChangefeed, "j1", models.JobAccepted, t0.Add(-time.Second)))
	if out != Stale {
		t.Fatalf("expected stale, got %v", out)
	}
}

func TestSameStatusFromSecondChannelIsUnchanged(t *testing.T) {
	t0 := time.Now()
	c := NewJobCache()
	c.Apply(jobEvent(models.SourcePush, "j1", models.JobAccepted, t0))
	_, out, _ := c.Apply(jobEvent(models.SourceChangefeed, "j1", models.JobAccepted, t0.Add(time.Millisecond)))
	if out != Unchanged {
		t.Fatalf("expected unchanged, got %v", out)
	}
}

func TestMissingStatusKeepsCached(t *testing.T) {
	c := NewJobCache()
	c.Apply(jobEvent(models.SourcePush, "j1", models.JobAccepted, time.Now()))
	ev := models.RealtimeEvent{Source: models.SourceChangefeed, Entity: models.EntityJob, ID: "j1", Payload: json.RawMessage(`{"id":"j1","technician_id":"t2"}`), ReceivedAt: time.Now().Add(time.Second)}
	j, out, err := c.Apply(ev)
	if err != nil || out != Applied || j.Status != models.JobAccepted || j.TechnicianID != "t2" {
		t.Fatalf("unexpected merge %+v %v %v", j, out, err)
	}
}

func TestOptimisticRollbackAndOverride(t *testing.T) {
	t0 := time.Now()
	c := NewJobCache()
	c.Apply(jobEvent(models.SourcePush, "j1", models.JobAccepted, t0))

	undo, err := c.Optimistic("j1", models.JobCancelled)
	if err != nil {
		t.Fatal(err)
	}
	if j, _ := c.Get("j1"); j.Status != models.JobCancelled {
		t.Fatalf("optimistic status not visible: %s", j.Status)
	}
	undo()
	if j, _ := c.Get("j1"); j.Status != models.JobAccepted {
		t.Fatalf("rollback failed: %s", j.Status)
	}

	// an authoritative event replaces a provisional entry even if it looks backward
	undo, _ = c.Optimistic("j1", models.JobInProgress)
	c.Apply(jobEvent(models.SourcePoll, "j1", models.JobAccepted, t0.Add(time.Second)))
	undo()
	if j, _ := c.Get("j1"); j.Status != models.JobAccepted {
		t.Fatalf("expected authoritative accepted, got %s", j.Status)
	}
	if _, err := c.Optimistic("j1", models.JobPending); err == nil {
		t.Fatal("optimistic backward change must be refused")
	}
}

func TestTrackedAndActiveFor(t *testing.T) {
	t0 := time.Now()
	c := NewJobCache()
	c.Apply(jobEvent(models.SourcePush, "a", models.JobAccepted, t0))
	c.Apply(jobEvent(models.SourcePush, "b", models.JobCompleted, t0))
	c.Apply(jobEvent(models.SourcePush, "c", models.JobPending, t0))
	ids := c.Tracked()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Fatalf("unexpected tracked %v", ids)
	}
	if got := c.ActiveFor("t1"); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("unexpected active %v", got)
	}
}

func TestChatLogDedupByID(t *testing.T) {
	l := NewChatLog()
	m := models.ChatMessage{ID: "m1", ConversationID: "c1", Body: "hi"}
	if !l.Append(m) || l.Append(m) {
		t.Fatal("second append of the same id must be refused")
	}
	if got := l.Messages("c1"); len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
}

func TestDedupBounded(t *testing.T) {
	d := NewDedup(2)
	d.Seen("a")
	d.Seen("b")
	if !d.Seen("a") {
		t.Fatal("a should be remembered")
	}
	d.Seen("c") // evicts b, the least recent
	if d.Seen("b") {
		t.Fatal("b should have been evicted")
	}
}

func TestDedupRepeatTracksLastValue(t *testing.T) {
	d := NewDedup(8)
	for i, tc := range []struct {
		val  string
		want bool
	}{{"suspended", false}, {"suspended", true}, {"active", false}, {"suspended", false}} {
		if got := d.Repeat("account|status|", tc.val); got != tc.want {
			t.Fatalf("step %d (%s): repeat=%v want %v", i, tc.val, got, tc.want)
		}
	}
}
