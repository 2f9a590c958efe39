package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/homeservice-dispatch/internal/api"
	"github.com/example/homeservice-dispatch/internal/geo"
	"github.com/example/homeservice-dispatch/internal/models"
	"github.com/example/homeservice-dispatch/internal/realtime"
)

const kmPerDegLat = 111.19

type fakeAPI struct {
	mu    sync.Mutex
	calls int
	techs []models.Technician
	err   error
}

func (f *fakeAPI) SearchTechnicians(ctx context.Context, req api.SearchRequest) ([]models.Technician, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]models.Technician(nil), f.techs...), f.err
}

func (f *fakeAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHub struct {
	mu       sync.Mutex
	handlers map[int]realtime.Handler
	next     int
}

func (h *fakeHub) Subscribe(f realtime.Filter, fn realtime.Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handlers == nil {
		h.handlers = map[int]realtime.Handler{}
	}
	id := h.next
	h.next++
	h.handlers[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.handlers, id)
		h.mu.Unlock()
	}
}

func (h *fakeHub) fire(ev models.RealtimeEvent) {
	h.mu.Lock()
	fns := make([]realtime.Handler, 0, len(h.handlers))
	for _, fn := range h.handlers {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (h *fakeHub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handlers)
}

func newEngine(a *fakeAPI, h *fakeHub) *Engine {
	e := &Engine{API: a, DefaultSpeedMps: 10, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if h != nil {
		e.Hub = h
	}
	return e
}

func north(origin models.Coord, km float64) models.Coord {
	return models.Coord{Lat: origin.Lat + km/kmPerDegLat, Lon: origin.Lon}
}

func TestElectricianScenarioOnlyNearTechnician(t *testing.T) {
	origin := models.Coord{Lat: 12.90, Lon: 77.60}
	a := &fakeAPI{techs: []models.Technician{
		{ID: "near", Status: models.TechAvailable, Loc: north(origin, 1.2), Rating: 4},
		{ID: "far", Status: models.TechAvailable, Loc: north(origin, 3.5), Rating: 5},
	}}
	res, err := newEngine(a, nil).Search(context.Background(), Query{Lat: 12.90, Lon: 77.60, ServiceType: "Electrician"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != "near" {
		t.Fatalf("expected only the 1.2km technician, got %+v", res)
	}
	if d := res[0].DistanceKm; d < 1.19 || d > 1.21 {
		t.Fatalf("unexpected distance %f", d)
	}
}

func TestRankDistanceInvariantAndOrdering(t *testing.T) {
	origin := models.Coord{Lat: 12.90, Lon: 77.60}
	techs := []models.Technician{
		{ID: "engaged", Status: models.TechEngaged, Loc: north(origin, 0.1), Rating: 5},
		{ID: "low", Status: models.TechAvailable, Loc: north(origin, 0.5), Rating: 3},
		{ID: "high", Status: models.TechPending, Loc: north(origin, 0.5), Rating: 5},
		{ID: "edge", Status: models.TechAvailable, Loc: north(origin, 2.01), Rating: 5},
		{ID: "south", Status: models.TechOffline, Loc: models.Coord{Lat: origin.Lat - 1.5/kmPerDegLat, Lon: origin.Lon}, Rating: 5},
	}
	res := Rank(origin, techs, 10)
	for _, r := range res {
		if r.DistanceKm < 0 || r.DistanceKm > geo.DispatchRadiusKm {
			t.Fatalf("%s outside radius: %f", r.ID, r.DistanceKm)
		}
		if r.DistanceKm != geo.DistanceKm(origin, r.Loc) {
			t.Fatalf("%s distance not computed with the filter formula", r.ID)
		}
	}
	if len(res) != 4 {
		t.Fatalf("expected 4 results, got %d", len(res))
	}
	if res[0].ID != "high" || res[1].ID != "low" {
		t.Fatalf("bookable technicians must come first by cost, got %s %s", res[0].ID, res[1].ID)
	}
	for _, r := range res[2:] {
		if r.Bookable || r.Label == "" {
			t.Fatalf("%s should be shown blocked with a label: %+v", r.ID, r)
		}
	}
}

func TestSearchRequiresServiceType(t *testing.T) {
	if _, err := newEngine(&fakeAPI{}, nil).Search(context.Background(), Query{}); !errors.Is(err, ErrNoServiceType) {
		t.Fatalf("expected ErrNoServiceType, got %v", err)
	}
}

func waitCalls(t *testing.T, a *fakeAPI, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d searches, got %d", n, a.count())
}

func TestWatchRefreshesOnEventsAndStopsAfterClose(t *testing.T) {
	origin := models.Coord{Lat: 12.90, Lon: 77.60}
	a := &fakeAPI{techs: []models.Technician{{ID: "t1", Status: models.TechAvailable, Loc: north(origin, 0.3), Rating: 4}}}
	h := &fakeHub{}
	var mu sync.Mutex
	var deliveries int
	w := newEngine(a, h).Watch(context.Background(), Query{Lat: 12.90, Lon: 77.60, ServiceType: "Plumber"}, func([]models.Technician, error) {
		mu.Lock()
		deliveries++
		mu.Unlock()
	})
	waitCalls(t, a, 1)

	a.mu.Lock()
	a.techs[0].Status = models.TechEngaged
	a.mu.Unlock()
	h.fire(models.RealtimeEvent{Entity: models.EntityTechnician, Kind: models.EventTechnicianStatus, ID: "t1"})
	waitCalls(t, a, 2)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if res, _ := w.Results(); len(res) == 1 && !res[0].Bookable {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if res, _ := w.Results(); len(res) != 1 || res[0].Bookable {
		t.Fatalf("refresh did not pick up new status: %+v", res)
	}

	w.Close()
	if h.subscribers() != 0 {
		t.Fatal("close must release the realtime subscription")
	}
	mu.Lock()
	before := deliveries
	mu.Unlock()
	calls := a.count()
	h.fire(models.RealtimeEvent{Entity: models.EntityTechnician, Kind: models.EventTechnicianLocation, ID: "t1"})
	w.Refresh()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if a.count() != calls || deliveries != before {
		t.Fatalf("refresh after close: calls %d->%d deliveries %d->%d", calls, a.count(), before, deliveries)
	}
}

func TestWatchKeepsLastResultsOnError(t *testing.T) {
	origin := models.Coord{Lat: 12.90, Lon: 77.60}
	a := &fakeAPI{techs: []models.Technician{{ID: "t1", Status: models.TechAvailable, Loc: north(origin, 0.3)}}}
	w := newEngine(a, nil).Watch(context.Background(), Query{Lat: 12.90, Lon: 77.60, ServiceType: "Plumber"}, nil)
	defer w.Close()
	waitCalls(t, a, 1)
	time.Sleep(10 * time.Millisecond)

	a.mu.Lock()
	a.err = errors.New("timeout")
	a.mu.Unlock()
	w.Refresh()
	waitCalls(t, a, 2)
	time.Sleep(10 * time.Millisecond)
	res, err := w.Results()
	if err == nil || len(res) != 1 {
		t.Fatalf("expected previous results with error, got %v %v", res, err)
	}
}
