package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/homeservice-dispatch/internal/geo"
	"github.com/example/homeservice-dispatch/internal/location"
	"github.com/example/homeservice-dispatch/internal/models"
	"github.com/example/homeservice-dispatch/internal/observability"
	"github.com/example/homeservice-dispatch/internal/realtime"
	"github.com/example/homeservice-dispatch/internal/routing"
)

const (
	DefaultInterval = 5 * time.Second
	// RerouteMeters is how far the technician must move from the last routed
	// origin before the route is queried again.
	RerouteMeters = 50.0
)

var (
	ErrRideActive     = errors.New("a ride is already in progress")
	ErrJobNotAccepted = errors.New("job is not accepted")
	ErrNoDestination  = errors.New("job has no destination coordinates")
)

type Emitter interface {
	Emit(event string, data any) error
}

// PingSink archives ride pings.
type PingSink interface {
	SavePing(ctx context.Context, p models.Ping) error
}

type RideStore interface {
	SaveRide(ctx context.Context, r *models.Ride) error
	UpdateRide(ctx context.Context, r *models.Ride) error
}

// Banner is the non-fatal warning shown while the position watch is failing.
type Banner struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type Config struct {
	Provider *location.Provider
	Router   routing.Client
	Hub      Emitter   // optional
	Sink     PingSink  // optional
	Rides    RideStore // optional
	Interval time.Duration
	SpeedMps float64
	Logger   *slog.Logger
}

// Tracker runs at most one ride at a time.
type Tracker struct {
	cfg Config

	mu      sync.Mutex
	current *Ride
}

func New(cfg Config) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Tracker{cfg: cfg}
}

// Ride is a running position watch for one accepted job.
type Ride struct {
	t      *Tracker
	job    models.Job
	sub    *location.Subscription
	cancel context.CancelFunc
	once   sync.Once

	mu          sync.Mutex
	ride        models.Ride
	last        *models.Ping
	route       *routing.Route
	routeOrigin *models.Coord
	banner      *Banner
}

// StartRide begins watching the device immediately. Every fix is emitted as
// ride_location_update, archived, and may trigger a re-route.
func (t *Tracker) StartRide(ctx context.Context, job models.Job, technicianID string) (*Ride, error) {
	if job.Status != models.JobAccepted && job.Status != models.JobInProgress {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobNotAccepted, job.ID, job.Status)
	}
	if !job.Location.HasCoords() {
		return nil, ErrNoDestination
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil {
		return nil, ErrRideActive
	}

	ctx, cancel := context.WithCancel(ctx)
	r := &Ride{
		t:      t,
		job:    job,
		cancel: cancel,
		ride: models.Ride{
			ID:           uuid.NewString(),
			JobID:        job.ID,
			TechnicianID: technicianID,
			UserID:       job.UserID,
			Destination:  job.Location.Coord(),
			Active:       true,
			StartedAt:    time.Now(),
		},
	}
	if t.cfg.Rides != nil {
		snap := r.ride
		if err := t.cfg.Rides.SaveRide(ctx, &snap); err != nil {
			t.cfg.Logger.Warn("ride_save_failed", "ride_id", r.ride.ID, "error", err)
		}
	}
	t.current = r
	r.sub = t.cfg.Provider.Watch(ctx, t.cfg.Interval, func(f location.Fix) { r.onFix(ctx, f) })
	t.cfg.Logger.Info("ride_started", "ride_id", r.ride.ID, "job_id", job.ID, "technician_id", technicianID)
	return r, nil
}

// Current returns the active ride, if any.
func (t *Tracker) Current() *Ride {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// EndRide stops the active ride. It is a no-op without one.
func (t *Tracker) EndRide() {
	if r := t.Current(); r != nil {
		r.End()
	}
}

func (r *Ride) onFix(ctx context.Context, f location.Fix) {
	cfg := r.t.cfg
	if f.Err != nil {
		r.mu.Lock()
		r.banner = &Banner{Message: bannerText(f.Err), At: time.Now()}
		r.mu.Unlock()
		cfg.Logger.Warn("ride_position_failed", "ride_id", r.ride.ID, "error", f.Err)
		return
	}

	p := models.Ping{RideID: r.ride.ID, Lat: f.Position.Lat, Lon: f.Position.Lon, Heading: f.Position.Heading, At: f.Position.At}
	if p.At.IsZero() {
		p.At = time.Now()
	}
	r.mu.Lock()
	r.ride.Pings = append(r.ride.Pings, p)
	r.last = &p
	r.banner = nil
	needRoute := r.routeOrigin == nil || geo.Haversine(r.routeOrigin.Lat, r.routeOrigin.Lon, p.Lat, p.Lon) >= RerouteMeters
	r.mu.Unlock()
	observability.RidePings.Inc()

	if cfg.Hub != nil {
		err := cfg.Hub.Emit(models.EmitRideLocationUpdate, models.RideLocationEmission{
			RideID:       r.ride.ID,
			Location:     p,
			UserID:       r.ride.UserID,
			TechnicianID: r.ride.TechnicianID,
		})
		if err != nil && !errors.Is(err, realtime.ErrNotConnected) {
			cfg.Logger.Warn("ride_emit_failed", "ride_id", r.ride.ID, "error", err)
		}
	}
	if cfg.Sink != nil {
		if err := cfg.Sink.SavePing(ctx, p); err != nil {
			cfg.Logger.Warn("ride_ping_archive_failed", "ride_id", r.ride.ID, "error", err)
		}
	}
	if needRoute {
		r.reroute(ctx, p.Coord())
	}
}

func (r *Ride) reroute(ctx context.Context, from models.Coord) {
	cfg := r.t.cfg
	dest := r.ride.Destination
	var route routing.Route
	var err error
	if cfg.Router != nil {
		route, err = cfg.Router.Route(ctx, from, dest)
	} else {
		err = errors.New("no routing client")
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		observability.RouteRequests.WithLabelValues("fallback").Inc()
		cfg.Logger.Debug("ride_route_fallback", "ride_id", r.ride.ID, "error", err)
		route = routing.Straight(from, dest, cfg.SpeedMps)
	} else {
		observability.RouteRequests.WithLabelValues("ok").Inc()
	}
	r.mu.Lock()
	r.route = &route
	r.routeOrigin = &from
	r.mu.Unlock()
}

func bannerText(err error) string {
	switch {
	case errors.Is(err, location.ErrPermissionDenied):
		return "Location permission denied. Showing last known position."
	case errors.Is(err, location.ErrTimeout), errors.Is(err, location.ErrUnavailable):
		return "Location signal lost. Showing last known position."
	default:
		return "Unable to update location."
	}
}

func (r *Ride) ID() string { return r.ride.ID }

// Snapshot returns a copy of the ride including every ping so far.
func (r *Ride) Snapshot() models.Ride {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.ride
	out.Pings = append([]models.Ping(nil), r.ride.Pings...)
	return out
}

// Position is the last rendered position. It survives watch errors.
func (r *Ride) Position() (models.Ping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return models.Ping{}, false
	}
	return *r.last, true
}

func (r *Ride) Route() (routing.Route, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.route == nil {
		return routing.Route{}, false
	}
	return *r.route, true
}

func (r *Ride) Banner() (Banner, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.banner == nil {
		return Banner{}, false
	}
	return *r.banner, true
}

func (r *Ride) DismissBanner() {
	r.mu.Lock()
	r.banner = nil
	r.mu.Unlock()
}

// End cancels the position watch and waits for it to exit. Safe to call
// more than once; must not be called from inside the watch callback.
func (r *Ride) End() {
	r.once.Do(func() {
		r.sub.Stop()
		r.cancel()

		r.mu.Lock()
		r.ride.Active = false
		r.ride.EndedAt = time.Now()
		snap := r.ride
		r.mu.Unlock()

		t := r.t
		t.mu.Lock()
		if t.current == r {
			t.current = nil
		}
		t.mu.Unlock()

		if t.cfg.Rides != nil {
			if err := t.cfg.Rides.UpdateRide(context.Background(), &snap); err != nil {
				t.cfg.Logger.Warn("ride_update_failed", "ride_id", snap.ID, "error", err)
			}
		}
		t.cfg.Logger.Info("ride_ended", "ride_id", snap.ID, "job_id", snap.JobID, "pings", len(snap.Pings))
	})
}
