package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/homeservice-dispatch/internal/models"
)

type Role string

const (
	RoleUser       Role = "user"
	RoleTechnician Role = "technician"
)

var (
	ErrNoSession    = errors.New("no authenticated session")
	ErrInvalidToken = errors.New("invalid session token")
)

// Session is the authenticated identity the realtime connection is scoped to.
type Session struct {
	UserID string
	Role   Role
	Token  string
}

// Room is the push-channel room this session joins.
func (s Session) Room() string {
	if s.Role == RoleTechnician {
		return "tech_" + s.UserID
	}
	return "user_" + s.UserID
}

type claims struct {
	UserID string `json:"userId"`
	ID     string `json:"id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// FromToken builds a session from a JWT. With a secret the HS256 signature is
// verified; without one the claims are read as-is since the server remains
// the authority on every request.
func FromToken(token, secret string) (Session, error) {
	var c claims
	var err error
	if secret != "" {
		_, err = jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	} else {
		_, _, err = jwt.NewParser().ParseUnverified(token, &c)
	}
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id := c.UserID
	if id == "" {
		id = c.ID
	}
	if id == "" {
		id = c.Subject
	}
	if id == "" {
		return Session{}, fmt.Errorf("%w: no user id claim", ErrInvalidToken)
	}
	role := RoleUser
	if c.Role == "technician" || c.Role == "tech" {
		role = RoleTechnician
	}
	return Session{UserID: id, Role: role, Token: token}, nil
}

// Resource is anything whose lifetime is bound to a session, in practice the
// realtime hub.
type Resource interface {
	Start(ctx context.Context) error
	Close()
}

// Manager owns the current session and the resource created for it. The
// resource exists exactly between Login and Logout.
type Manager struct {
	factory func(Session) (Resource, error)
	logger  *slog.Logger

	mu      sync.RWMutex
	cur     *Session
	res     Resource
	locked  bool
	profile models.Profile
}

func NewManager(factory func(Session) (Resource, error), logger *slog.Logger) *Manager {
	return &Manager{factory: factory, logger: logger}
}

// Login replaces any existing session.
func (m *Manager) Login(ctx context.Context, s Session) error {
	m.Logout()
	res, err := m.factory(s)
	if err != nil {
		return err
	}
	if err := res.Start(ctx); err != nil {
		res.Close()
		return err
	}
	m.mu.Lock()
	m.cur = &s
	m.res = res
	m.locked = false
	m.profile = models.Profile{ID: s.UserID}
	m.mu.Unlock()
	m.logger.Info("session_started", "user_id", s.UserID, "role", s.Role, "room", s.Room())
	return nil
}

func (m *Manager) Logout() {
	m.mu.Lock()
	res, cur := m.res, m.cur
	m.res, m.cur = nil, nil
	m.profile = models.Profile{}
	m.mu.Unlock()
	if res != nil {
		res.Close()
	}
	if cur != nil {
		m.logger.Info("session_ended", "user_id", cur.UserID)
	}
}

// Current returns the active session or ErrNoSession.
func (m *Manager) Current() (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cur == nil {
		return Session{}, ErrNoSession
	}
	return *m.cur, nil
}

func (m *Manager) Resource() Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.res
}

// SetLocked applies an account_status_change.
func (m *Manager) SetLocked(locked bool) {
	m.mu.Lock()
	m.locked = locked
	m.mu.Unlock()
	m.logger.Warn("account_status_changed", "locked", locked)
}

func (m *Manager) Locked() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.locked
}

// Token returns the current bearer token, for api.Client.Token.
func (m *Manager) Token() string {
	s, err := m.Current()
	if err != nil {
		return ""
	}
	return s.Token
}

// Profile returns the cached user record of the current session.
func (m *Manager) Profile() (models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cur == nil {
		return models.Profile{}, ErrNoSession
	}
	p := m.profile
	if p.Location != nil {
		loc := *p.Location
		p.Location = &loc
	}
	return p, nil
}

// PatchProfile merges a partial user record into the cached profile. Fields
// absent from partial keep their value; the id stays the session's.
func (m *Manager) PatchProfile(partial json.RawMessage) (models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return models.Profile{}, ErrNoSession
	}
	next := m.profile
	if next.Location != nil {
		loc := *next.Location
		next.Location = &loc
	}
	if err := json.Unmarshal(partial, &next); err != nil {
		return models.Profile{}, fmt.Errorf("patch profile: %w", err)
	}
	next.ID = m.cur.UserID
	m.profile = next
	out := next
	if out.Location != nil {
		loc := *out.Location
		out.Location = &loc
	}
	return out, nil
}
