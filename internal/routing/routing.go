package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/homeservice-dispatch/internal/geo"
	"github.com/example/homeservice-dispatch/internal/models"
)

// Route is a driving route between two points.
type Route struct {
	DistanceM float64        `json:"distance_m"`
	DurationS float64        `json:"duration_s"`
	Geometry  []models.Coord `json:"geometry,omitempty"`
	Estimated bool           `json:"estimated,omitempty"` // straight-line fallback, no road geometry
}

// Client is the routing query used by the ride tracker.
type Client interface {
	Route(ctx context.Context, from, to models.Coord) (Route, error)
}

// Cache is a tiny in-memory cache for route lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	r  Route
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

// 4 decimals is ~11m, well below the tracker's re-route threshold
func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.4f,%.4f", c.Lat, c.Lon)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (Route, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return Route{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return Route{}, false
	}
	return e.r, true
}

// Set stores a value in the cache.
func (c *Cache) Set(a, b models.Coord, r Route) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{r: r, ts: time.Now()}
	c.mu.Unlock()
}

// Naive ETA: distance / speed_mps. Used when the routing engine is unreachable.
func EstimateSeconds(from, to models.Coord, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h default city speed
	}
	d := geo.Haversine(from.Lat, from.Lon, to.Lat, to.Lon)
	return d / speedMps
}

// Cached wraps a Client with a Cache. On upstream failure it returns the
// error unchanged so the caller can decide whether to degrade.
type Cached struct {
	Client Client
	Cache  *Cache
}

func (c *Cached) Route(ctx context.Context, from, to models.Coord) (Route, error) {
	if r, ok := c.Cache.Get(from, to); ok {
		return r, nil
	}
	r, err := c.Client.Route(ctx, from, to)
	if err != nil {
		return Route{}, err
	}
	c.Cache.Set(from, to, r)
	return r, nil
}

// Straight builds a geometry-less route from the naive estimator.
func Straight(from, to models.Coord, speedMps float64) Route {
	return Route{
		DistanceM: geo.Haversine(from.Lat, from.Lon, to.Lat, to.Lon),
		DurationS: EstimateSeconds(from, to, speedMps),
		Estimated: true,
	}
}
