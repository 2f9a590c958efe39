package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/example/homeservice-dispatch/internal/api"
	"github.com/example/homeservice-dispatch/internal/location"
	"github.com/example/homeservice-dispatch/internal/models"
	"github.com/example/homeservice-dispatch/internal/observability"
	"github.com/example/homeservice-dispatch/internal/realtime"
	"github.com/example/homeservice-dispatch/internal/search"
	"github.com/example/homeservice-dispatch/internal/session"
)

type State string

const (
	Idle             State = "idle"
	SelectingService State = "selecting_service"
	Searching        State = "searching"
	TechnicianChosen State = "technician_chosen"
	Confirming       State = "confirming"
	AuthGate         State = "auth_gate"
	Submitting       State = "submitting"
	Done             State = "done"
	Failed           State = "failed"
)

var (
	ErrInvalidTransition     = errors.New("action not allowed in current booking state")
	ErrMissingCoordinates    = errors.New("location coordinates are required to assign a technician")
	ErrTermsNotAccepted      = errors.New("terms must be accepted before submitting")
	ErrAuthRequired          = errors.New("login required to submit booking")
	ErrTechnicianUnavailable = errors.New("technician cannot be booked")
	ErrUnknownTechnician     = errors.New("technician is not in the current results")
)

// Rejection is a failed job creation. Message is what the user sees.
type Rejection struct {
	Message string
	// Conflict is set when the server reports the chosen technician was
	// taken between display and selection.
	Conflict bool
	Err      error
}

func (r *Rejection) Error() string { return "booking rejected: " + r.Message }
func (r *Rejection) Unwrap() error { return r.Err }

type JobCreator interface {
	CreateJob(ctx context.Context, req api.CreateJobRequest) (models.Job, error)
}

type Resolver interface {
	Resolve(ctx context.Context, userID string) (models.Location, location.Origin)
}

type Authenticator interface {
	Current() (session.Session, error)
}

// ChargeHold reserves the visiting charge while the job is created.
type ChargeHold interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Cancel(ctx context.Context, paymentIntentID string) error
}

type Tracker interface {
	Track(ctx context.Context, job models.Job) error
	Subscribe(f realtime.Filter, fn realtime.Handler) (unsubscribe func())
}

type Config struct {
	API            JobCreator
	Search         *search.Engine
	Resolver       Resolver
	Auth           Authenticator
	Hold           ChargeHold // optional
	Hub            Tracker    // optional
	VisitingCharge float64
	Currency       string
	Logger         *slog.Logger
}

// Orchestrator drives one booking from service selection to job creation.
// All methods are safe for concurrent use; while a submission is pending
// every other action fails with ErrInvalidTransition.
type Orchestrator struct {
	cfg Config

	mu       sync.Mutex
	state    State
	draft    *models.BookingDraft
	watch    *search.Watch
	lastErr  string
	job      *models.Job
	unsubJob func()
	closing  *search.Watch
}

func New(cfg Config) *Orchestrator {
	if cfg.Currency == "" {
		cfg.Currency = "inr"
	}
	return &Orchestrator{cfg: cfg, state: Idle}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Draft returns a copy of the current draft, if any.
func (o *Orchestrator) Draft() (models.BookingDraft, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.draft == nil {
		return models.BookingDraft{}, false
	}
	return *o.draft, true
}

// LastError is the message of the most recent rejected submission.
func (o *Orchestrator) LastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Job returns the created job, reconciled with realtime updates.
func (o *Orchestrator) Job() (models.Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.job == nil {
		return models.Job{}, false
	}
	return *o.job, true
}

// Results returns the live search results while the booking is searching.
func (o *Orchestrator) Results() ([]models.Technician, error) {
	o.mu.Lock()
	w := o.watch
	o.mu.Unlock()
	if w == nil {
		return nil, fmt.Errorf("%w: no search running", ErrInvalidTransition)
	}
	return w.Results()
}

func (o *Orchestrator) transition(to State) {
	o.cfg.Logger.Debug("booking_transition", "from", o.state, "to", to)
	o.state = to
}

// SelectService starts a draft from a tile tap or a detailed form. fill may
// be nil.
func (o *Orchestrator) SelectService(serviceType string, fill func(*models.BookingDraft)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Idle && o.state != Done && o.state != SelectingService {
		return fmt.Errorf("%w: select service from %s", ErrInvalidTransition, o.state)
	}
	if serviceType == "" {
		return search.ErrNoServiceType
	}
	d := &models.BookingDraft{ServiceType: serviceType}
	if fill != nil {
		fill(d)
	}
	d.ServiceType = serviceType
	o.draft = d
	o.job = nil
	o.lastErr = ""
	o.transition(SelectingService)
	return nil
}

// UpdateDraft edits contact, schedule or description fields before submission.
func (o *Orchestrator) UpdateDraft(fn func(*models.BookingDraft)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.draft == nil || o.state == Submitting {
		return fmt.Errorf("%w: update draft in %s", ErrInvalidTransition, o.state)
	}
	fn(o.draft)
	return nil
}

// StartSearch resolves the requester location through the fallback chain
// when the draft has none and opens a live search. onResults receives every
// refresh.
func (o *Orchestrator) StartSearch(ctx context.Context, onResults func([]models.Technician, error)) (*search.Watch, error) {
	o.mu.Lock()
	if o.state != SelectingService {
		st := o.state
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: search from %s", ErrInvalidTransition, st)
	}
	d := *o.draft
	o.mu.Unlock()

	if !d.Location.HasCoords() && o.cfg.Resolver != nil {
		userID := ""
		if o.cfg.Auth != nil {
			if s, err := o.cfg.Auth.Current(); err == nil {
				userID = s.UserID
			}
		}
		loc, origin := o.cfg.Resolver.Resolve(ctx, userID)
		o.cfg.Logger.Info("booking_location_resolved", "origin", origin, "address", loc.Address)
		d.Location = loc
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != SelectingService {
		// cancelled while resolving
		return nil, fmt.Errorf("%w: search from %s", ErrInvalidTransition, o.state)
	}
	o.draft.Location = d.Location
	o.watch = o.cfg.Search.Watch(ctx, search.Query{Lat: d.Location.Lat, Lon: d.Location.Lon, ServiceType: d.ServiceType}, onResults)
	o.transition(Searching)
	return o.watch, nil
}

// ChooseTechnician picks a technician from the live results.
func (o *Orchestrator) ChooseTechnician(id string) error {
	return o.locked(func() error { return o.chooseLocked(id) })
}

func (o *Orchestrator) chooseLocked(id string) error {
	if o.state != Searching {
		return fmt.Errorf("%w: choose technician from %s", ErrInvalidTransition, o.state)
	}
	res, _ := o.watch.Results()
	var found *models.Technician
	for i := range res {
		if res[i].ID == id {
			found = &res[i]
			break
		}
	}
	if found == nil {
		return ErrUnknownTechnician
	}
	if !found.Bookable {
		return fmt.Errorf("%w: %s", ErrTechnicianUnavailable, found.Label)
	}
	o.draft.TechnicianID = &id
	o.closeSearchLocked()
	o.transition(TechnicianChosen)
	return nil
}

// SmartAssign leaves the technician choice to the server.
func (o *Orchestrator) SmartAssign() error {
	return o.locked(func() error {
		if o.state != Searching {
			return fmt.Errorf("%w: smart assign from %s", ErrInvalidTransition, o.state)
		}
		o.draft.TechnicianID = nil
		o.closeSearchLocked()
		o.transition(TechnicianChosen)
		return nil
	})
}

// Review moves to the confirmation step and returns the visiting charge.
func (o *Orchestrator) Review() (float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != TechnicianChosen {
		return 0, fmt.Errorf("%w: review from %s", ErrInvalidTransition, o.state)
	}
	o.draft.VisitingCharge = o.cfg.VisitingCharge
	o.transition(Confirming)
	return o.cfg.VisitingCharge, nil
}

// Confirm submits the booking. Without a session it parks the draft in
// AuthGate and returns ErrAuthRequired; call CompleteLogin after login.
func (o *Orchestrator) Confirm(ctx context.Context, termsAccepted bool) (models.Job, error) {
	o.mu.Lock()
	if o.state != Confirming {
		st := o.state
		o.mu.Unlock()
		return models.Job{}, fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, st)
	}
	if !termsAccepted {
		o.mu.Unlock()
		return models.Job{}, ErrTermsNotAccepted
	}
	o.draft.TermsAccepted = true
	if !o.draft.Location.HasCoords() {
		o.mu.Unlock()
		return models.Job{}, ErrMissingCoordinates
	}
	sess, err := o.currentSession()
	if err != nil {
		o.transition(AuthGate)
		o.mu.Unlock()
		return models.Job{}, ErrAuthRequired
	}
	return o.submitLocked(ctx, sess)
}

// CompleteLogin resumes a booking parked in AuthGate with the unchanged draft.
func (o *Orchestrator) CompleteLogin(ctx context.Context) (models.Job, error) {
	o.mu.Lock()
	if o.state != AuthGate {
		st := o.state
		o.mu.Unlock()
		return models.Job{}, fmt.Errorf("%w: resume from %s", ErrInvalidTransition, st)
	}
	sess, err := o.currentSession()
	if err != nil {
		o.mu.Unlock()
		return models.Job{}, ErrAuthRequired
	}
	return o.submitLocked(ctx, sess)
}

func (o *Orchestrator) currentSession() (session.Session, error) {
	if o.cfg.Auth == nil {
		return session.Session{}, session.ErrNoSession
	}
	return o.cfg.Auth.Current()
}

// submitLocked is entered with o.mu held and releases it around the
// network calls.
func (o *Orchestrator) submitLocked(ctx context.Context, sess session.Session) (models.Job, error) {
	o.transition(Submitting)
	d := *o.draft
	o.mu.Unlock()

	req := api.CreateJobRequest{BookingDraft: d, UserID: sess.UserID}
	var holdID string
	if o.cfg.Hold != nil && d.VisitingCharge > 0 {
		id, err := o.cfg.Hold.Hold(ctx, int64(math.Round(d.VisitingCharge*100)), o.cfg.Currency, "")
		if err != nil {
			return o.fail(&Rejection{Message: "Could not reserve the visiting charge. Please try again.", Err: err})
		}
		holdID = id
		req.PaymentHoldID = id
	}

	job, err := o.cfg.API.CreateJob(ctx, req)
	if err != nil {
		if holdID != "" {
			if cerr := o.cfg.Hold.Cancel(context.WithoutCancel(ctx), holdID); cerr != nil {
				o.cfg.Logger.Error("charge_hold_release_failed", "payment_intent", holdID, "error", cerr)
			}
		}
		rej := &Rejection{Message: api.UserMessage(err), Err: err}
		var apiErr *api.Error
		if errors.As(err, &apiErr) && apiErr.Status == 409 {
			rej.Conflict = true
		}
		return o.fail(rej)
	}
	observability.BookingsTotal.WithLabelValues("created").Inc()

	o.mu.Lock()
	o.draft = nil
	o.lastErr = ""
	o.job = &job
	o.transition(Done)
	o.followJobLocked(job)
	o.mu.Unlock()
	if o.cfg.Hub != nil {
		if err := o.cfg.Hub.Track(context.WithoutCancel(ctx), job); err != nil {
			o.cfg.Logger.Warn("job_track_failed", "job_id", job.ID, "error", err)
		}
	}
	o.cfg.Logger.Info("booking_created", "job_id", job.ID, "user_id", sess.UserID, "status", job.Status)
	return job, nil
}

func (o *Orchestrator) fail(rej *Rejection) (models.Job, error) {
	observability.BookingsTotal.WithLabelValues("rejected").Inc()
	o.mu.Lock()
	o.transition(Failed)
	o.lastErr = rej.Message
	// the draft is kept so the user can retry from the confirmation step
	o.transition(Confirming)
	o.mu.Unlock()
	o.cfg.Logger.Warn("booking_rejected", "message", rej.Message, "conflict", rej.Conflict, "error", rej.Err)
	return models.Job{}, rej
}

// followJobLocked mirrors realtime status changes of the created job.
func (o *Orchestrator) followJobLocked(job models.Job) {
	if o.cfg.Hub == nil {
		return
	}
	if o.unsubJob != nil {
		o.unsubJob()
	}
	o.unsubJob = o.cfg.Hub.Subscribe(realtime.Filter{Entities: []models.Entity{models.EntityJob}, ID: job.ID}, func(ev models.RealtimeEvent) {
		var j models.Job
		if err := ev.Decode(&j); err != nil {
			return
		}
		o.mu.Lock()
		if o.job != nil && o.job.ID == j.ID {
			o.job = &j
		}
		o.mu.Unlock()
	})
}

// Cancel abandons the flow from any state except a pending submission.
// Closing the search view is the same as cancelling.
func (o *Orchestrator) Cancel() error {
	return o.locked(func() error {
		if o.state == Submitting {
			return fmt.Errorf("%w: cancel while submitting", ErrInvalidTransition)
		}
		o.closeSearchLocked()
		o.draft = nil
		o.lastErr = ""
		o.transition(Idle)
		return nil
	})
}

// Close releases the search and job subscriptions.
func (o *Orchestrator) Close() {
	_ = o.locked(func() error {
		o.closeSearchLocked()
		if o.unsubJob != nil {
			o.unsubJob()
			o.unsubJob = nil
		}
		return nil
	})
}

// locked runs fn under the lock and closes a detached search watch after
// releasing it, since the watch may be delivering results concurrently.
func (o *Orchestrator) locked(fn func() error) error {
	o.mu.Lock()
	err := fn()
	w := o.closing
	o.closing = nil
	o.mu.Unlock()
	if w != nil {
		w.Close()
	}
	return err
}

func (o *Orchestrator) closeSearchLocked() {
	if o.watch != nil {
		o.closing = o.watch
		o.watch = nil
	}
}
