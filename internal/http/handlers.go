package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/homeservice-dispatch/internal/booking"
	"github.com/example/homeservice-dispatch/internal/models"
	"github.com/example/homeservice-dispatch/internal/notify"
)

type JobView interface {
	Snapshot() []models.Job
	Get(id string) (models.Job, bool)
}

type NotificationView interface {
	List() []models.Notification
	Unread() int
	MarkRead(id string) error
	MarkAllRead() int
}

type JobCanceller interface {
	Cancel(ctx context.Context, jobID, reason string) (models.Job, error)
}

// Deps are the live views the status API exposes. Nil fields disable their
// routes with 404.
type Deps struct {
	Jobs          JobView
	Notifications NotificationView
	Actions       JobCanceller
	Booking       BookingFlow
	Session       SessionControl
	// StartBooking opens a draft and its live technician search.
	StartBooking func(models.BookingDraft) error
	// Results returns the latest search results of the running watch.
	Results func() ([]models.Technician, error)
	// Ride returns the current ride snapshot.
	Ride      func() (models.Ride, bool)
	Connected func() bool
	// Locked reports an account locked by the server.
	Locked func() bool
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{deps: deps, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())

	v1 := s.mux.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods("GET")
	v1.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	v1.HandleFunc("/jobs/{id}", s.handleJob).Methods("GET")
	v1.HandleFunc("/jobs/{id}/cancel", s.handleCancel).Methods("POST")
	v1.HandleFunc("/notifications", s.handleNotifications).Methods("GET")
	v1.HandleFunc("/notifications/read-all", s.handleReadAll).Methods("POST")
	v1.HandleFunc("/notifications/{id}/read", s.handleRead).Methods("POST")
	v1.HandleFunc("/search", s.handleSearch).Methods("GET")
	v1.HandleFunc("/ride", s.handleRide).Methods("GET")
	s.bookingRoutes(v1)
	s.sessionRoutes(v1)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"connected": false}
	if s.deps.Connected != nil {
		resp["connected"] = s.deps.Connected()
	}
	if s.deps.Jobs != nil {
		resp["jobs"] = len(s.deps.Jobs.Snapshot())
	}
	if s.deps.Notifications != nil {
		resp["unread"] = s.deps.Notifications.Unread()
	}
	writeJSON(w, 200, resp)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, 200, s.deps.Jobs.Snapshot())
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		http.NotFound(w, r)
		return
	}
	job, ok := s.deps.Jobs.Get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "job not tracked", 404)
		return
	}
	writeJSON(w, 200, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if s.deps.Actions == nil {
		http.NotFound(w, r)
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
	}
	job, err := s.deps.Actions.Cancel(r.Context(), mux.Vars(r)["id"], body.Reason)
	var rej *booking.Rejection
	switch {
	case errors.As(err, &rej):
		writeJSON(w, 409, map[string]string{"error": rej.Message})
	case errors.Is(err, booking.ErrInvalidTransition):
		writeJSON(w, 409, map[string]string{"error": err.Error()})
	case err != nil:
		s.logger.Error("job_cancel_failed", "error", err)
		http.Error(w, "internal error", 500)
	default:
		writeJSON(w, 200, job)
	}
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.deps.Notifications == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, 200, map[string]any{
		"unread": s.deps.Notifications.Unread(),
		"items":  s.deps.Notifications.List(),
	})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	if s.deps.Notifications == nil {
		http.NotFound(w, r)
		return
	}
	if err := s.deps.Notifications.MarkRead(mux.Vars(r)["id"]); err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			http.Error(w, err.Error(), 404)
			return
		}
		http.Error(w, err.Error(), 500)
		return
	}
	w.WriteHeader(204)
}

func (s *Server) handleReadAll(w http.ResponseWriter, r *http.Request) {
	if s.deps.Notifications == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, 200, map[string]int{"marked": s.deps.Notifications.MarkAllRead()})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Results == nil {
		http.NotFound(w, r)
		return
	}
	res, err := s.deps.Results()
	resp := map[string]any{"technicians": res}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, 200, resp)
}

func (s *Server) handleRide(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ride == nil {
		http.NotFound(w, r)
		return
	}
	ride, ok := s.deps.Ride()
	if !ok {
		http.Error(w, "no active ride", 404)
		return
	}
	writeJSON(w, 200, ride)
}
