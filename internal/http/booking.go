package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/homeservice-dispatch/internal/booking"
	"github.com/example/homeservice-dispatch/internal/models"
	"github.com/example/homeservice-dispatch/internal/search"
)

// BookingFlow is the orchestrator surface driven over the status API.
type BookingFlow interface {
	State() booking.State
	Draft() (models.BookingDraft, bool)
	LastError() string
	Job() (models.Job, bool)
	ChooseTechnician(id string) error
	SmartAssign() error
	Review() (float64, error)
	Confirm(ctx context.Context, termsAccepted bool) (models.Job, error)
	CompleteLogin(ctx context.Context) (models.Job, error)
	Cancel() error
}

func (s *Server) bookingRoutes(v1 *mux.Router) {
	v1.HandleFunc("/booking", s.handleBooking).Methods("GET")
	v1.HandleFunc("/booking", s.handleStartBooking).Methods("POST")
	v1.HandleFunc("/booking/choose", s.handleChoose).Methods("POST")
	v1.HandleFunc("/booking/confirm", s.handleConfirm).Methods("POST")
	v1.HandleFunc("/booking/resume", s.handleResume).Methods("POST")
	v1.HandleFunc("/booking/cancel", s.handleBookingCancel).Methods("POST")
}

func (s *Server) handleBooking(w http.ResponseWriter, r *http.Request) {
	f := s.deps.Booking
	if f == nil {
		http.NotFound(w, r)
		return
	}
	resp := map[string]any{"state": f.State()}
	if d, ok := f.Draft(); ok {
		resp["draft"] = d
	}
	if msg := f.LastError(); msg != "" {
		resp["error"] = msg
	}
	if j, ok := f.Job(); ok {
		resp["job"] = j
	}
	writeJSON(w, 200, resp)
}

func (s *Server) handleStartBooking(w http.ResponseWriter, r *http.Request) {
	if s.deps.StartBooking == nil {
		http.NotFound(w, r)
		return
	}
	var body struct {
		ServiceType string           `json:"service_type"`
		Description string           `json:"description"`
		Contact     models.Contact   `json:"contact"`
		ScheduledAt time.Time        `json:"scheduled_at"`
		Location    *models.Location `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	d := models.BookingDraft{
		ServiceType: body.ServiceType,
		Description: body.Description,
		Contact:     body.Contact,
		ScheduledAt: body.ScheduledAt,
	}
	if body.Location != nil {
		d.Location = *body.Location
	}
	if err := s.deps.StartBooking(d); err != nil {
		s.bookingError(w, err)
		return
	}
	resp := map[string]any{"state": booking.Searching}
	if s.deps.Booking != nil {
		resp["state"] = s.deps.Booking.State()
	}
	writeJSON(w, 202, resp)
}

func (s *Server) handleChoose(w http.ResponseWriter, r *http.Request) {
	f := s.deps.Booking
	if f == nil {
		http.NotFound(w, r)
		return
	}
	var body struct {
		TechnicianID string `json:"technician_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	var err error
	if body.TechnicianID == "" {
		err = f.SmartAssign()
	} else {
		err = f.ChooseTechnician(body.TechnicianID)
	}
	if err != nil {
		s.bookingError(w, err)
		return
	}
	charge, err := f.Review()
	if err != nil {
		s.bookingError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"state": f.State(), "visiting_charge": charge})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	f := s.deps.Booking
	if f == nil {
		http.NotFound(w, r)
		return
	}
	var body struct {
		TermsAccepted bool `json:"terms_accepted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	job, err := f.Confirm(r.Context(), body.TermsAccepted)
	if err != nil {
		s.bookingError(w, err)
		return
	}
	writeJSON(w, 201, job)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	f := s.deps.Booking
	if f == nil {
		http.NotFound(w, r)
		return
	}
	job, err := f.CompleteLogin(r.Context())
	if err != nil {
		s.bookingError(w, err)
		return
	}
	writeJSON(w, 201, job)
}

func (s *Server) handleBookingCancel(w http.ResponseWriter, r *http.Request) {
	f := s.deps.Booking
	if f == nil {
		http.NotFound(w, r)
		return
	}
	if err := f.Cancel(); err != nil {
		s.bookingError(w, err)
		return
	}
	w.WriteHeader(204)
}

func (s *Server) bookingError(w http.ResponseWriter, err error) {
	var rej *booking.Rejection
	switch {
	case errors.As(err, &rej):
		writeJSON(w, 409, map[string]any{"error": rej.Message, "conflict": rej.Conflict})
	case errors.Is(err, booking.ErrAuthRequired):
		writeJSON(w, 401, map[string]string{"error": err.Error()})
	case errors.Is(err, booking.ErrInvalidTransition):
		writeJSON(w, 409, map[string]string{"error": err.Error()})
	case errors.Is(err, booking.ErrMissingCoordinates),
		errors.Is(err, search.ErrNoServiceType),
		errors.Is(err, booking.ErrTermsNotAccepted),
		errors.Is(err, booking.ErrTechnicianUnavailable),
		errors.Is(err, booking.ErrUnknownTechnician):
		writeJSON(w, 400, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("booking_request_failed", "error", err)
		http.Error(w, "internal error", 500)
	}
}
