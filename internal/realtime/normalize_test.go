package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/example/homeservice-dispatch/internal/models"
)

func TestFromPushEntities(t *testing.T) {
	cases := []struct {
		event  string
		data   string
		entity models.Entity
		id     string
	}{
		{models.EventJobStatusUpdated, `{"id":"j1","status":"accepted"}`, models.EntityJob, "j1"},
		{models.EventJobStatusUpdated, `{"_id":"j2","status":"accepted"}`, models.EntityJob, "j2"},
		{models.EventTechnicianStatus, `{"technicianId":"t1","status":"engaged"}`, models.EntityTechnician, "t1"},
		{models.EventTechnicianLocation, `{"technicianId":7,"location":{"lat":1,"lon":2}}`, models.EntityTechnician, "7"},
		{models.EventReceiveMessage, `{"id":"m1","body":"hi"}`, models.EntityChat, "m1"},
		{models.EventAccountStatusChange, `{"status":"blocked"}`, models.EntityAccount, ""},
	}
	for _, c := range cases {
		ev, ok := FromPush(c.event, json.RawMessage(c.data), time.Now())
		if !ok {
			t.Fatalf("%s not normalized", c.event)
		}
		if ev.Entity != c.entity || ev.Source != models.SourcePush || ev.Kind != c.event {
			t.Fatalf("%s: unexpected %+v", c.event, ev)
		}
		if c.id != "" && ev.ID != c.id {
			t.Fatalf("%s: expected id %s, got %s", c.event, c.id, ev.ID)
		}
	}
	if _, ok := FromPush("something_else", json.RawMessage(`{}`), time.Now()); ok {
		t.Fatal("unknown event must not normalize")
	}
	if _, ok := FromPush(models.EventJobStatusUpdated, json.RawMessage(`{"status":"accepted"}`), time.Now()); ok {
		t.Fatal("job without id must not normalize")
	}
}

func TestNotificationWithoutIDKeyedByContent(t *testing.T) {
	a, _ := FromPush(models.EventNewNotification, json.RawMessage(`{"title":"x","message":"y"}`), time.Now())
	b, _ := FromPush(models.EventNewNotification, json.RawMessage(`{"title":"x","message":"y"}`), time.Now())
	if a.ID == "" || a.ID != b.ID {
		t.Fatalf("expected stable content ids, got %q %q", a.ID, b.ID)
	}
}

func TestFromChangeMatchesPushShape(t *testing.T) {
	ev, ok := FromChange([]byte(`{"table":"jobs","type":"UPDATE","record":{"id":"j1","status":"accepted"}}`), time.Now())
	if !ok || ev.Entity != models.EntityJob || ev.Kind != models.EventJobStatusUpdated || ev.ID != "j1" || ev.Source != models.SourceChangefeed {
		t.Fatalf("unexpected %+v ok=%v", ev, ok)
	}
	ev, ok = FromChange([]byte(`{"table":"chats","type":"INSERT","record":{"id":"m1","conversation_id":"c1"}}`), time.Now())
	if !ok || ev.Entity != models.EntityChat || ev.Kind != models.EventReceiveMessage {
		t.Fatalf("unexpected %+v ok=%v", ev, ok)
	}
	for _, raw := range []string{
		`{"table":"chats","type":"UPDATE","record":{"id":"m1"}}`,
		`{"table":"jobs","type":"DELETE","record":{"id":"j1"}}`,
		`{"table":"users","type":"INSERT","record":{"id":"u1"}}`,
		`not json`,
	} {
		if _, ok := FromChange([]byte(raw), time.Now()); ok {
			t.Fatalf("expected %s to be ignored", raw)
		}
	}
}
