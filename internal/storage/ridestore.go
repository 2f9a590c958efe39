package storage

import (
	"context"
	"sync"

	"github.com/example/homeservice-dispatch/internal/models"
)

// RideStore persists rides and their position pings.
type RideStore interface {
	SaveRide(ctx context.Context, r *models.Ride) error
	UpdateRide(ctx context.Context, r *models.Ride) error
	SavePing(ctx context.Context, p models.Ping) error
}

type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride
	pings map[string][]models.Ping
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride), pings: make(map[string][]models.Ping)}
}

func (m *MemoryStore) SaveRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	cp.Pings = nil
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateRide(ctx context.Context, r *models.Ride) error {
	return m.SaveRide(ctx, r)
}

func (m *MemoryStore) SavePing(ctx context.Context, p models.Ping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings[p.RideID] = append(m.pings[p.RideID], p)
	return nil
}

// Get returns the ride with every archived ping attached.
func (m *MemoryStore) Get(id string) (*models.Ride, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, false
	}
	cp := *r
	cp.Pings = append([]models.Ping(nil), m.pings[id]...)
	return &cp, true
}
