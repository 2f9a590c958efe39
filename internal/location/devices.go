package location

import (
	"context"
	"sync"
	"time"

	"github.com/example/homeservice-dispatch/internal/geo"
	"github.com/example/homeservice-dispatch/internal/models"
)

// Reported accuracy radius of the simulated devices, in metres.
const (
	fineAccuracyM   = 10
	coarseAccuracyM = 500
)

func accuracyFor(req Request) float64 {
	if req.HighAccuracy {
		return fineAccuracyM
	}
	return coarseAccuracyM
}

// Static always reports the same coordinates.
type Static struct {
	Coord models.Coord
}

func (s Static) Acquire(ctx context.Context, req Request) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	return Position{Coord: s.Coord, Accuracy: accuracyFor(req), At: time.Now()}, nil
}

// Track replays a fixed route, one point per acquisition, and stays on the
// final point once exhausted. Heading is derived from consecutive points.
type Track struct {
	mu     sync.Mutex
	points []models.Coord
	i      int
}

func NewTrack(points []models.Coord) *Track {
	return &Track{points: points}
}

func (t *Track) Acquire(ctx context.Context, req Request) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.points) == 0 {
		return Position{}, ErrUnavailable
	}
	cur := t.points[t.i]
	pos := Position{Coord: cur, Accuracy: accuracyFor(req), At: time.Now()}
	if t.i+1 < len(t.points) {
		pos.Heading = geo.Bearing(cur, t.points[t.i+1])
		t.i++
	} else if t.i > 0 {
		pos.Heading = geo.Bearing(t.points[t.i-1], cur)
	}
	return pos, nil
}

// Denied models a device where the user refused the permission prompt.
type Denied struct{}

func (Denied) Acquire(context.Context, Request) (Position, error) {
	return Position{}, ErrPermissionDenied
}
