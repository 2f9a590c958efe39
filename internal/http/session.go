package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/homeservice-dispatch/internal/models"
	"github.com/example/homeservice-dispatch/internal/session"
)

// SessionControl signs the client in and out. A login replaces any current
// session and clears an account lock.
type SessionControl interface {
	Login(token string) error
	Logout()
	Profile() (models.Profile, error)
}

const sessionRoute = "/v1/session"

func (s *Server) sessionRoutes(v1 *mux.Router) {
	v1.HandleFunc("/session", s.handleSession).Methods("GET")
	v1.HandleFunc("/session", s.handleLogin).Methods("POST")
	v1.HandleFunc("/session", s.handleLogout).Methods("DELETE")
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Session == nil {
		http.NotFound(w, r)
		return
	}
	p, err := s.deps.Session.Profile()
	if err != nil {
		writeJSON(w, 401, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, 200, p)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.Session == nil {
		http.NotFound(w, r)
		return
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		http.Error(w, "token is required", 400)
		return
	}
	if err := s.deps.Session.Login(body.Token); err != nil {
		if errors.Is(err, session.ErrInvalidToken) {
			writeJSON(w, 401, map[string]string{"error": err.Error()})
			return
		}
		s.logger.Error("login_failed", "error", err)
		http.Error(w, "login failed", 502)
		return
	}
	p, _ := s.deps.Session.Profile()
	writeJSON(w, 200, p)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.deps.Session == nil {
		http.NotFound(w, r)
		return
	}
	s.deps.Session.Logout()
	w.WriteHeader(204)
}
