package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/example/homeservice-dispatch/internal/api"
	"github.com/example/homeservice-dispatch/internal/geo"
	"github.com/example/homeservice-dispatch/internal/models"
	"github.com/example/homeservice-dispatch/internal/observability"
	"github.com/example/homeservice-dispatch/internal/realtime"
	"github.com/example/homeservice-dispatch/internal/routing"
)

var ErrNoServiceType = errors.New("service type is required")

type Searcher interface {
	SearchTechnicians(ctx context.Context, req api.SearchRequest) ([]models.Technician, error)
}

type Subscriber interface {
	Subscribe(f realtime.Filter, fn realtime.Handler) (unsubscribe func())
}

type Query struct {
	Lat         float64
	Lon         float64
	ServiceType string
}

func (q Query) Origin() models.Coord { return models.Coord{Lat: q.Lat, Lon: q.Lon} }

// Engine finds technicians around a requester.
type Engine struct {
	API             Searcher
	Hub             Subscriber
	DefaultSpeedMps float64
	Logger          *slog.Logger
}

// Search issues one query and returns the technicians inside the dispatch
// radius, bookable ones first.
func (e *Engine) Search(ctx context.Context, q Query) ([]models.Technician, error) {
	return e.search(ctx, q, "manual")
}

func (e *Engine) search(ctx context.Context, q Query, trigger string) ([]models.Technician, error) {
	if q.ServiceType == "" {
		return nil, ErrNoServiceType
	}
	observability.SearchRequests.WithLabelValues(trigger).Inc()
	start := time.Now()
	raw, err := e.API.SearchTechnicians(ctx, api.SearchRequest{Lat: q.Lat, Lon: q.Lon, ServiceType: q.ServiceType})
	observability.SearchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	out := Rank(q.Origin(), raw, e.DefaultSpeedMps)
	e.Logger.Debug("search_completed", "service_type", q.ServiceType, "returned", len(raw), "in_radius", len(out), "trigger", trigger)
	return out, nil
}

// Rank drops technicians outside the dispatch radius and orders the rest:
// bookable before blocked, then by cost = eta + 30*(5 - rating).
func Rank(origin models.Coord, techs []models.Technician, speedMps float64) []models.Technician {
	type scored struct {
		t    models.Technician
		cost float64
	}
	list := make([]scored, 0, len(techs))
	for _, t := range techs {
		t.DistanceKm = geo.DistanceKm(origin, t.Loc)
		if t.DistanceKm > geo.DispatchRadiusKm {
			continue
		}
		t.Bookable = t.Status.Bookable()
		t.Label = t.Status.Label()
		t.ETA = routing.EstimateSeconds(t.Loc, origin, speedMps)
		list = append(list, scored{t, t.ETA + 30.0*(5.0-t.Rating)})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].t.Bookable != list[j].t.Bookable {
			return list[i].t.Bookable
		}
		return list[i].cost < list[j].cost
	})
	out := make([]models.Technician, 0, len(list))
	for _, s := range list {
		out = append(out, s.t)
	}
	return out
}

// Watch keeps a result set fresh. Every technician status or location event
// re-issues the whole query instead of patching rows, so distance and status
// always come from one consistent snapshot.
type Watch struct {
	engine *Engine
	query  Query
	fn     func([]models.Technician, error)
	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	inFlight bool
	dirty    bool
	results  []models.Technician
	err      error
}

// Watch runs an initial search and then refreshes on technician events. fn
// is called from a background goroutine after every refresh; it must not
// call Close.
func (e *Engine) Watch(ctx context.Context, q Query, fn func([]models.Technician, error)) *Watch {
	ctx, cancel := context.WithCancel(ctx)
	w := &Watch{engine: e, query: q, fn: fn, ctx: ctx, cancel: cancel}
	if e.Hub != nil {
		w.unsub = e.Hub.Subscribe(realtime.Filter{
			Entities: []models.Entity{models.EntityTechnician},
			Kinds:    []string{models.EventTechnicianStatus, models.EventTechnicianLocation},
		}, func(models.RealtimeEvent) { w.trigger("event") })
	}
	w.trigger("initial")
	return w
}

// Refresh forces a new search.
func (w *Watch) Refresh() { w.trigger("manual") }

func (w *Watch) trigger(reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.inFlight {
		// coalesce bursts into one follow-up query
		w.dirty = true
		return
	}
	w.inFlight = true
	w.wg.Add(1)
	go w.run(reason)
}

func (w *Watch) run(reason string) {
	defer w.wg.Done()
	for {
		res, err := w.engine.search(w.ctx, w.query, reason)

		w.mu.Lock()
		if w.closed {
			w.inFlight = false
			w.mu.Unlock()
			return
		}
		if err == nil {
			w.results = res
		}
		w.err = err
		again := w.dirty
		w.dirty = false
		if !again {
			w.inFlight = false
		}
		w.mu.Unlock()

		if err != nil {
			w.engine.Logger.Warn("search_refresh_failed", "error", err, "trigger", reason)
		}
		if w.fn != nil {
			w.fn(res, err)
		}
		if !again {
			return
		}
		reason = "event"
	}
}

// Results returns the latest successful result set and the last error.
func (w *Watch) Results() ([]models.Technician, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]models.Technician(nil), w.results...), w.err
}

// Close releases the realtime subscription. No refresh and no callback
// happens after Close returns.
func (w *Watch) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	if w.unsub != nil {
		w.unsub()
	}
	w.cancel()
	w.wg.Wait()
}
