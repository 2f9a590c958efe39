package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/homeservice-dispatch/internal/api"
	"github.com/example/homeservice-dispatch/internal/booking"
	"github.com/example/homeservice-dispatch/internal/models"
	"github.com/example/homeservice-dispatch/internal/notify"
	"github.com/example/homeservice-dispatch/internal/realtime"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type rejectingAPI struct{}

func (rejectingAPI) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, details map[string]any) (models.Job, error) {
	return models.Job{}, &api.Error{Status: 409, Message: "Job already started"}
}

func newTestServer(t *testing.T) (*Server, *realtime.JobCache, *notify.Center) {
	t.Helper()
	jobs := realtime.NewJobCache()
	jobs.Apply(realtime.FromJob(models.SourcePush, models.Job{ID: "j1", Status: models.JobAccepted}, time.Now()))
	center := notify.NewCenter(notify.Options{Logger: quiet()})
	b, _ := json.Marshal(map[string]any{"id": "n1", "title": "Hi"})
	ev, _ := realtime.FromPush(models.EventNewNotification, b, time.Now())
	center.Apply(ev)

	s := NewServer(Deps{
		Jobs:          jobs,
		Notifications: center,
		Actions:       &booking.JobActions{API: rejectingAPI{}, Cache: jobs, Logger: quiet()},
		Results: func() ([]models.Technician, error) {
			return []models.Technician{{ID: "t1", Bookable: true, DistanceKm: 1.2}}, nil
		},
		Connected: func() bool { return true },
	}, quiet())
	return s, jobs, center
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndStatus(t *testing.T) {
	s, _, _ := newTestServer(t)
	if rec := do(s, "GET", "/healthz", ""); rec.Code != 200 || rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("healthz: %d %v", rec.Code, rec.Header())
	}
	rec := do(s, "GET", "/v1/status", "")
	var st map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &st)
	if st["connected"] != true || st["jobs"] != float64(1) || st["unread"] != float64(1) {
		t.Fatalf("unexpected status %v", st)
	}
}

func TestJobRoutes(t *testing.T) {
	s, _, _ := newTestServer(t)
	if rec := do(s, "GET", "/v1/jobs/j1", ""); rec.Code != 200 || !strings.Contains(rec.Body.String(), `"accepted"`) {
		t.Fatalf("get job: %d %s", rec.Code, rec.Body)
	}
	if rec := do(s, "GET", "/v1/jobs/nope", ""); rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCancelRejectedRollsBack(t *testing.T) {
	s, jobs, _ := newTestServer(t)
	rec := do(s, "POST", "/v1/jobs/j1/cancel", `{"reason":"no longer needed"}`)
	if rec.Code != 409 || !strings.Contains(rec.Body.String(), "Job already started") {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body)
	}
	if j, _ := jobs.Get("j1"); j.Status != models.JobAccepted {
		t.Fatalf("status not rolled back: %s", j.Status)
	}
}

func TestNotificationRoutes(t *testing.T) {
	s, _, center := newTestServer(t)
	if rec := do(s, "POST", "/v1/notifications/missing/read", ""); rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := do(s, "POST", "/v1/notifications/n1/read", ""); rec.Code != 204 {
		t.Fatalf("mark read: %d", rec.Code)
	}
	if center.Unread() != 0 {
		t.Fatal("notification still unread")
	}
	rec := do(s, "GET", "/v1/notifications", "")
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), `"unread":0`) {
		t.Fatalf("list: %d %s", rec.Code, rec.Body)
	}
	if rec := do(s, "POST", "/v1/notifications/read-all", ""); rec.Code != 200 || !strings.Contains(rec.Body.String(), `"marked":0`) {
		t.Fatalf("read-all: %d %s", rec.Code, rec.Body)
	}
}

func TestSearchAndMissingRide(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(s, "GET", "/v1/search", "")
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), `"distance_from_requester":1.2`) {
		t.Fatalf("search: %d %s", rec.Code, rec.Body)
	}
	if rec := do(s, "GET", "/v1/ride", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("ride route without tracker: %d", rec.Code)
	}
}

func TestLockedAccountRefusesWrites(t *testing.T) {
	locked := true
	s := NewServer(Deps{Booking: &fakeFlow{state: booking.Searching}, Locked: func() bool { return locked }}, quiet())
	if rec := do(s, "POST", "/v1/booking/cancel", ""); rec.Code != http.StatusLocked {
		t.Fatalf("expected 423, got %d", rec.Code)
	}
	if rec := do(s, "GET", "/v1/booking", ""); rec.Code != 200 {
		t.Fatalf("reads must stay available, got %d", rec.Code)
	}
	locked = false
	if rec := do(s, "POST", "/v1/booking/cancel", ""); rec.Code != 204 {
		t.Fatalf("expected 204 after unlock, got %d", rec.Code)
	}
}
