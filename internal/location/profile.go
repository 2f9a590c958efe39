package location

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/homeservice-dispatch/internal/models"
)

// ProfileStore holds the last location a user saved on their profile.
type ProfileStore interface {
	Load(ctx context.Context, userID string) (models.Location, bool, error)
	Save(ctx context.Context, userID string, loc models.Location) error
}

type MemoryProfiles struct {
	mu   sync.RWMutex
	locs map[string]models.Location
}

func NewMemoryProfiles() *MemoryProfiles {
	return &MemoryProfiles{locs: make(map[string]models.Location)}
}

func (m *MemoryProfiles) Load(ctx context.Context, userID string) (models.Location, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.locs[userID]
	return l, ok, nil
}

func (m *MemoryProfiles) Save(ctx context.Context, userID string, loc models.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locs[userID] = loc
	return nil
}

// RedisHash is the subset of redis commands the profile store needs.
type RedisHash interface {
	HSet(ctx context.Context, key string, values map[string]interface{}) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return r.c.HSet(ctx, key, values).Err()
}

func (r *redisAdapter) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.c.HGetAll(ctx, key).Result()
}

// RedisProfiles stores profile locations as one hash per user.
type RedisProfiles struct {
	h RedisHash
}

func NewRedisProfiles(addr, password string) *RedisProfiles {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisProfiles{h: &redisAdapter{c: c}}
}

func NewRedisProfilesWith(h RedisHash) *RedisProfiles { return &RedisProfiles{h: h} }

func (r *RedisProfiles) Load(ctx context.Context, userID string) (models.Location, bool, error) {
	m, err := r.h.HGetAll(ctx, profileKey(userID))
	if err != nil {
		return models.Location{}, false, err
	}
	if len(m) == 0 {
		return models.Location{}, false, nil
	}
	lat, err1 := strconv.ParseFloat(m["lat"], 64)
	lon, err2 := strconv.ParseFloat(m["lon"], 64)
	if err1 != nil || err2 != nil {
		return models.Location{}, false, nil
	}
	return models.Location{Lat: lat, Lon: lon, Address: m["address"]}, true, nil
}

func (r *RedisProfiles) Save(ctx context.Context, userID string, loc models.Location) error {
	return r.h.HSet(ctx, profileKey(userID), map[string]interface{}{
		"lat":     strconv.FormatFloat(loc.Lat, 'f', 6, 64),
		"lon":     strconv.FormatFloat(loc.Lon, 'f', 6, 64),
		"address": loc.Address,
		"updated": time.Now().Format(time.RFC3339),
	})
}

func profileKey(userID string) string { return "profile:location:" + userID }
