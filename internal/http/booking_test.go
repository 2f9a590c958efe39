package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/example/homeservice-dispatch/internal/api"
	"github.com/example/homeservice-dispatch/internal/booking"
	"github.com/example/homeservice-dispatch/internal/models"
	"github.com/example/homeservice-dispatch/internal/search"
	"github.com/example/homeservice-dispatch/internal/session"
)

type fakeFlow struct {
	state      booking.State
	confirmErr error
	chosen     string
	smart      bool
}

func (f *fakeFlow) State() booking.State { return f.state }
func (f *fakeFlow) Draft() (models.BookingDraft, bool) {
	return models.BookingDraft{ServiceType: "Plumber"}, true
}
func (f *fakeFlow) LastError() string       { return "" }
func (f *fakeFlow) Job() (models.Job, bool) { return models.Job{}, false }
func (f *fakeFlow) ChooseTechnician(id string) error {
	if id == "busy" {
		return booking.ErrTechnicianUnavailable
	}
	f.chosen = id
	return nil
}
func (f *fakeFlow) SmartAssign() error { f.smart = true; return nil }
func (f *fakeFlow) Review() (float64, error) {
	f.state = booking.Confirming
	return 199, nil
}
func (f *fakeFlow) Confirm(ctx context.Context, terms bool) (models.Job, error) {
	if f.confirmErr != nil {
		return models.Job{}, f.confirmErr
	}
	return models.Job{ID: "job-1", Status: models.JobPending}, nil
}
func (f *fakeFlow) CompleteLogin(ctx context.Context) (models.Job, error) {
	return models.Job{ID: "job-1", Status: models.JobPending}, nil
}
func (f *fakeFlow) Cancel() error { f.state = booking.Idle; return nil }

func TestBookingRoutes(t *testing.T) {
	flow := &fakeFlow{state: booking.Searching}
	s := NewServer(Deps{Booking: flow}, quiet())

	if rec := do(s, "GET", "/v1/booking", ""); rec.Code != 200 || !strings.Contains(rec.Body.String(), `"searching"`) {
		t.Fatalf("get: %d %s", rec.Code, rec.Body)
	}
	if rec := do(s, "POST", "/v1/booking/choose", `{"technician_id":"busy"}`); rec.Code != 400 {
		t.Fatalf("blocked technician: %d", rec.Code)
	}
	rec := do(s, "POST", "/v1/booking/choose", `{}`)
	if rec.Code != 200 || !flow.smart || !strings.Contains(rec.Body.String(), `"visiting_charge":199`) {
		t.Fatalf("smart assign: %d %s", rec.Code, rec.Body)
	}

	flow.confirmErr = booking.ErrAuthRequired
	if rec := do(s, "POST", "/v1/booking/confirm", `{"terms_accepted":true}`); rec.Code != 401 {
		t.Fatalf("auth gate: %d", rec.Code)
	}
	flow.confirmErr = &booking.Rejection{Message: "Technician no longer available", Conflict: true, Err: &api.Error{Status: 409}}
	rec = do(s, "POST", "/v1/booking/confirm", `{"terms_accepted":true}`)
	if rec.Code != 409 || !strings.Contains(rec.Body.String(), "Technician no longer available") {
		t.Fatalf("rejection: %d %s", rec.Code, rec.Body)
	}
	if rec := do(s, "POST", "/v1/booking/resume", ""); rec.Code != 201 {
		t.Fatalf("resume: %d", rec.Code)
	}
	if rec := do(s, "POST", "/v1/booking/cancel", ""); rec.Code != 204 || flow.state != booking.Idle {
		t.Fatalf("cancel: %d %s", rec.Code, flow.state)
	}
}

type fakeSession struct {
	user string
}

func (f *fakeSession) Login(token string) error {
	if token != "good" {
		return fmt.Errorf("%w: bad signature", session.ErrInvalidToken)
	}
	f.user = "u1"
	return nil
}
func (f *fakeSession) Logout() { f.user = "" }
func (f *fakeSession) Profile() (models.Profile, error) {
	if f.user == "" {
		return models.Profile{}, session.ErrNoSession
	}
	return models.Profile{ID: f.user}, nil
}

func TestSessionRoutes(t *testing.T) {
	sess := &fakeSession{}
	locked := true
	s := NewServer(Deps{Session: sess, Locked: func() bool { return locked }}, quiet())

	if rec := do(s, "GET", "/v1/session", ""); rec.Code != 401 {
		t.Fatalf("guest session: %d", rec.Code)
	}
	if rec := do(s, "POST", "/v1/session", `{"token":"bad"}`); rec.Code != 401 {
		t.Fatalf("bad token: %d", rec.Code)
	}
	if rec := do(s, "POST", "/v1/session", `{}`); rec.Code != 400 {
		t.Fatalf("missing token: %d", rec.Code)
	}
	// signing in stays possible on a locked account
	rec := do(s, "POST", "/v1/session", `{"token":"good"}`)
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), `"u1"`) {
		t.Fatalf("login: %d %s", rec.Code, rec.Body)
	}
	if rec := do(s, "DELETE", "/v1/session", ""); rec.Code != 204 || sess.user != "" {
		t.Fatalf("logout: %d", rec.Code)
	}
}

func TestStartBookingRoute(t *testing.T) {
	var got []models.BookingDraft
	flow := &fakeFlow{state: booking.Idle}
	s := NewServer(Deps{Booking: flow, StartBooking: func(d models.BookingDraft) error {
		if d.ServiceType == "" {
			return search.ErrNoServiceType
		}
		if flow.state == booking.Searching {
			return fmt.Errorf("%w: select service from searching", booking.ErrInvalidTransition)
		}
		got = append(got, d)
		flow.state = booking.Searching
		return nil
	}}, quiet())

	rec := do(s, "POST", "/v1/booking", `{"service_type":"Plumber","description":"leak","location":{"lat":12.97,"lon":77.59}}`)
	if rec.Code != http.StatusAccepted || !strings.Contains(rec.Body.String(), `"searching"`) {
		t.Fatalf("start: %d %s", rec.Code, rec.Body)
	}
	if len(got) != 1 || got[0].Location.Lat != 12.97 || got[0].Description != "leak" {
		t.Fatalf("draft not passed through: %+v", got)
	}
	if rec := do(s, "POST", "/v1/booking", `{"service_type":"Plumber"}`); rec.Code != 409 {
		t.Fatalf("second start while searching: %d", rec.Code)
	}
	if rec := do(s, "POST", "/v1/booking", `{}`); rec.Code != 400 {
		t.Fatalf("missing service type: %d", rec.Code)
	}
}
