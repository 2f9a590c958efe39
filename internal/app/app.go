package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/example/homeservice-dispatch/internal/api"
	"github.com/example/homeservice-dispatch/internal/booking"
	"github.com/example/homeservice-dispatch/internal/config"
	httpapi "github.com/example/homeservice-dispatch/internal/http"
	"github.com/example/homeservice-dispatch/internal/ingest"
	"github.com/example/homeservice-dispatch/internal/location"
	"github.com/example/homeservice-dispatch/internal/models"
	"github.com/example/homeservice-dispatch/internal/notify"
	"github.com/example/homeservice-dispatch/internal/payments"
	"github.com/example/homeservice-dispatch/internal/realtime"
	"github.com/example/homeservice-dispatch/internal/routing"
	"github.com/example/homeservice-dispatch/internal/search"
	"github.com/example/homeservice-dispatch/internal/session"
	"github.com/example/homeservice-dispatch/internal/storage"
	"github.com/example/homeservice-dispatch/internal/tracking"
)

// App is one headless client: a session, its realtime hub and every
// component fed by it.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	API           *api.Client
	Sessions      *session.Manager
	Provider      *location.Provider // nil without a device
	Resolver      *location.Resolver
	Search        *search.Engine
	Booking       *booking.Orchestrator
	Actions       *booking.JobActions
	Notifications *notify.Center
	Tracker       *tracking.Tracker // nil without a device
	Status        *httpapi.Server

	// ctx outlives requests; the hub and live searches run on it.
	ctx    context.Context
	cancel context.CancelFunc

	hub      hubRef
	profiles location.ProfileStore
	sources  func() []realtime.Source
	closers  []func() error
}

// New wires the components. dev may be nil when no position source exists.
func New(cfg config.Config, dev location.Device, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.Sessions = session.NewManager(a.newHub, logger)
	a.hub = hubRef{m: a.Sessions}

	a.API = api.NewClient(cfg.APIBaseURL)
	a.API.Token = a.Sessions.Token

	a.profiles = location.NewMemoryProfiles()
	if cfg.RedisAddr != "" {
		a.profiles = location.NewRedisProfiles(cfg.RedisAddr, cfg.RedisPassword)
	}
	if dev != nil {
		a.Provider = location.NewProvider(dev, location.Options{HighAccuracy: true})
	}
	a.Resolver = &location.Resolver{
		Provider: a.Provider,
		Profiles: a.profiles,
		Geocoder: location.NewGeocoder(cfg.GeocoderURL),
		Default:  cfg.Region,
		Logger:   logger,
	}

	a.Search = &search.Engine{API: a.API, Hub: a.hub, DefaultSpeedMps: cfg.DefaultSpeedMps, Logger: logger}

	bcfg := booking.Config{
		API:            a.API,
		Search:         a.Search,
		Resolver:       a.Resolver,
		Auth:           a.Sessions,
		Hub:            a.hub,
		VisitingCharge: cfg.VisitingCharge,
		Currency:       cfg.Currency,
		Logger:         logger,
	}
	if cfg.StripeKey != "" {
		bcfg.Hold = payments.NewStripeClient(cfg.StripeKey)
	}
	a.Booking = booking.New(bcfg)
	a.Actions = &booking.JobActions{API: a.API, Cache: a.hub, Hub: a.hub, Logger: logger}

	nopts := notify.Options{Logger: logger}
	if cfg.AlertWebhookURL != "" {
		nopts.Alerter = notify.NewWebhookAlerter(cfg.AlertWebhookURL, cfg.AlertWebhookKey, logger)
	}
	a.Notifications = notify.NewCenter(nopts)
	a.Notifications.SetAlerts(nopts.Alerter != nil)

	rides, sink, err := a.rideStorage()
	if err != nil {
		return nil, err
	}
	if a.Provider != nil {
		router := &routing.Cached{Client: routing.NewOSRMClient(cfg.OSRMURL), Cache: routing.NewCache(time.Minute)}
		a.Tracker = tracking.New(tracking.Config{
			Provider: a.Provider,
			Router:   router,
			Hub:      a.hub,
			Sink:     sink,
			Rides:    rides,
			Interval: cfg.RideInterval,
			SpeedMps: cfg.DefaultSpeedMps,
			Logger:   logger,
		})
	}

	deps := httpapi.Deps{
		Jobs:          a.hub,
		Notifications: a.Notifications,
		Actions:       a.Actions,
		Booking:       a.Booking,
		Session:       a,
		StartBooking:  a.StartBooking,
		Results:       a.Booking.Results,
		Connected:     a.hub.Connected,
		Locked:        a.Sessions.Locked,
	}
	if a.Tracker != nil {
		deps.Ride = func() (models.Ride, bool) {
			if r := a.Tracker.Current(); r != nil {
				return r.Snapshot(), true
			}
			return models.Ride{}, false
		}
	}
	a.Status = httpapi.NewServer(deps, logger)
	a.sources = a.changeFeeds
	return a, nil
}

// rideStorage picks Postgres for rides when configured and streams pings to
// Kafka when brokers are set, otherwise to the ride store.
func (a *App) rideStorage() (tracking.RideStore, tracking.PingSink, error) {
	var store storage.RideStore = storage.NewMemoryStore()
	if a.cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(a.cfg.PGDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open ride store: %w", err)
		}
		if a.cfg.RunMigrations {
			if err := ps.Migrate(context.Background()); err != nil {
				return nil, nil, fmt.Errorf("migrate ride store: %w", err)
			}
			a.logger.Info("migration_applied", "tables", "rides,ride_pings")
		}
		store = ps
	}
	if len(a.cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(a.cfg.KafkaBrokers, a.cfg.KafkaPingTopic)
		a.closers = append(a.closers, kp.Close)
		return store, kp, nil
	}
	return store, store, nil
}

func (a *App) changeFeeds() []realtime.Source {
	var out []realtime.Source
	if a.cfg.PGDSN != "" {
		out = append(out, &realtime.PQFeed{DSN: a.cfg.PGDSN, Channels: a.cfg.ChangeFeedChannels, Logger: a.logger})
	}
	if len(a.cfg.KafkaBrokers) > 0 && a.cfg.KafkaCDCTopic != "" {
		out = append(out, realtime.NewKafkaFeed(a.cfg.KafkaBrokers, a.cfg.KafkaCDCTopic, a.cfg.KafkaGroup, a.logger))
	}
	return out
}

// newHub is the session factory: one hub per login, with every long-lived
// subscriber attached before it starts.
func (a *App) newHub(s session.Session) (session.Resource, error) {
	var push *realtime.PushConn
	if a.cfg.PushURL != "" {
		push = &realtime.PushConn{
			URL:      pushURL(a.cfg.PushURL),
			Identity: realtime.Identity{UserID: s.UserID, Role: string(s.Role), Room: s.Room(), Token: s.Token},
			Logger:   a.logger,
		}
		if a.Provider != nil {
			push.Position = func() (models.Coord, bool) {
				p, ok := a.Provider.LastKnown()
				return p.Coord, ok
			}
		}
	}
	hub := realtime.New(realtime.Options{
		Push:      push,
		Poll:      &realtime.Poller{API: a.API, Interval: a.cfg.PollInterval, Stats: a.cfg.PollStats, Logger: a.logger},
		Sources:   a.sources(),
		Logger:    a.logger,
		DedupSize: a.cfg.DedupSize,
	})
	a.Notifications.Attach(hub)
	a.watchAccount(hub)
	if s.Role == session.RoleTechnician && a.Tracker != nil {
		a.Tracker.Follow(context.Background(), hub, s.UserID)
	}
	return hub, nil
}

// pushURL accepts an http(s) base and turns it into a websocket URL.
func pushURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String()
}

var lockedStatuses = map[string]bool{"suspended": true, "blocked": true, "inactive": true, "locked": true}

func (a *App) watchAccount(hub *realtime.Hub) {
	hub.Subscribe(realtime.Filter{Entities: []models.Entity{models.EntityAccount}}, func(ev models.RealtimeEvent) {
		switch ev.Kind {
		case models.EventAccountStatusChange:
			var st models.AccountStatus
			if err := ev.Decode(&st); err != nil {
				a.logger.Warn("account_event_invalid", "error", err)
				return
			}
			a.Sessions.SetLocked(lockedStatuses[strings.ToLower(st.Status)])
		case models.EventMembershipUpdate:
			a.applyMembership(ev.Payload)
		}
	})
}

// applyMembership patches the cached profile and keeps the saved profile
// location current, since it is the second link of the location fallback.
func (a *App) applyMembership(partial json.RawMessage) {
	p, err := a.Sessions.PatchProfile(partial)
	if err != nil {
		a.logger.Warn("membership_update_invalid", "error", err)
		return
	}
	a.logger.Info("membership_updated", "user_id", p.ID, "membership", p.Membership)
	if p.Location == nil || !p.Location.HasCoords() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.profiles.Save(ctx, p.ID, *p.Location); err != nil {
		a.logger.Warn("profile_location_save_failed", "user_id", p.ID, "error", err)
	}
}

// Login starts a session from a bearer token. The session and its hub live
// until Logout or Close, not for the duration of the caller's request.
func (a *App) Login(token string) error {
	s, err := session.FromToken(token, a.cfg.JWTSecret)
	if err != nil {
		return err
	}
	return a.Sessions.Login(a.ctx, s)
}

// Logout ends the session. A ride cannot outlive it.
func (a *App) Logout() {
	if a.Tracker != nil {
		a.Tracker.EndRide()
	}
	a.Sessions.Logout()
}

func (a *App) Profile() (models.Profile, error) { return a.Sessions.Profile() }

// StartBooking opens a booking from draft and starts the live search. It
// works without a session; confirmation then parks in the auth gate.
func (a *App) StartBooking(draft models.BookingDraft) error {
	if err := a.Booking.SelectService(draft.ServiceType, func(d *models.BookingDraft) { *d = draft }); err != nil {
		return err
	}
	service := draft.ServiceType
	_, err := a.Booking.StartSearch(a.ctx, func(res []models.Technician, err error) {
		if err != nil {
			return
		}
		a.logger.Info("search_refreshed", "service_type", service, "results", len(res))
	})
	return err
}

// Close ends the session and releases every component.
func (a *App) Close() error {
	a.Booking.Close()
	a.Logout()
	a.cancel()
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
