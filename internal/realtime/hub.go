package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/homeservice-dispatch/internal/models"
	"github.com/example/homeservice-dispatch/internal/observability"
)

// Source feeds raw items into the hub. Run blocks until ctx ends.
type Source interface {
	Run(ctx context.Context, out chan<- models.RealtimeEvent) error
}

type Handler func(models.RealtimeEvent)

// Filter selects events for a subscriber. Empty fields match everything.
type Filter struct {
	Entities []models.Entity
	Kinds    []string
	ID       string
}

func (f Filter) match(ev models.RealtimeEvent) bool {
	if f.ID != "" && f.ID != ev.ID {
		return false
	}
	if len(f.Entities) > 0 && !contains(f.Entities, ev.Entity) {
		return false
	}
	if len(f.Kinds) > 0 && !contains(f.Kinds, ev.Kind) {
		return false
	}
	return true
}

func contains[T comparable](xs []T, v T) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

type subscriber struct {
	filter Filter
	fn     Handler
	active atomic.Bool
}

type Options struct {
	Push      *PushConn
	Poll      *Poller
	Sources   []Source
	Logger    *slog.Logger
	DedupSize int
	Buffer    int
}

// Hub merges the push channel, the change feed and the heartbeat poll into
// one ordered stream. A single loop goroutine processes events, so merges and
// subscriber callbacks never run concurrently with each other.
type Hub struct {
	push    *PushConn
	sources []Source
	logger  *slog.Logger

	jobs  *JobCache
	chats *ChatLog
	dedup *Dedup
	in    chan models.RealtimeEvent

	mu   sync.RWMutex
	subs map[uint64]*subscriber
	next uint64

	runMu  sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

func New(opts Options) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Hub{
		push:    opts.Push,
		sources: opts.Sources,
		logger:  opts.Logger,
		jobs:    NewJobCache(),
		chats:   NewChatLog(),
		dedup:   NewDedup(opts.DedupSize),
		in:      make(chan models.RealtimeEvent, opts.Buffer),
		subs:    make(map[uint64]*subscriber),
	}
	if h.push != nil {
		h.sources = append([]Source{h.push}, h.sources...)
	}
	if opts.Poll != nil {
		if opts.Poll.Tracked == nil {
			opts.Poll.Tracked = h.jobs.Tracked
		}
		h.sources = append(h.sources, opts.Poll)
	}
	return h
}

// Start launches every source and the event loop.
func (h *Hub) Start(ctx context.Context) error {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	if h.cancel != nil {
		return errors.New("hub already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	h.cancel, h.group = cancel, g
	for _, src := range h.sources {
		src := src
		g.Go(func() error { return src.Run(gctx, h.in) })
	}
	g.Go(func() error { h.loop(gctx); return nil })
	return nil
}

// Close stops all sources and waits for them. The hub cannot be restarted;
// a new session gets a new hub.
func (h *Hub) Close() {
	h.runMu.Lock()
	cancel, g := h.cancel, h.group
	h.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if err := g.Wait(); err != nil {
		h.logger.Warn("hub_source_failed", "error", err)
	}
}

func (h *Hub) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.in:
			h.handle(ev)
		}
	}
}

func (h *Hub) handle(ev models.RealtimeEvent) {
	observability.EventsReceived.WithLabelValues(string(ev.Source), string(ev.Entity)).Inc()
	if h.duplicate(ev) {
		observability.EventsDuplicate.WithLabelValues(string(ev.Source)).Inc()
		return
	}

	switch ev.Entity {
	case models.EntityJob:
		job, outcome, err := h.jobs.Apply(ev)
		if err != nil {
			h.logger.Warn("job_event_invalid", "source", ev.Source, "error", err)
			return
		}
		if outcome != Applied {
			h.logger.Debug("job_event_skipped", "job_id", job.ID, "source", ev.Source, "outcome", outcome.String(), "status", job.Status)
			return
		}
		if job.TechnicianID != "" && job.Status.Active() {
			if active := h.jobs.ActiveFor(job.TechnicianID); len(active) > 1 {
				observability.TechnicianConflicts.Inc()
				h.logger.Warn("technician_conflict_observed", "technician_id", job.TechnicianID, "active_jobs", len(active))
			}
		}
		ev.Payload, _ = json.Marshal(job)
	case models.EntityChat:
		var msg models.ChatMessage
		if err := ev.Decode(&msg); err != nil {
			h.logger.Warn("chat_event_invalid", "source", ev.Source, "error", err)
			return
		}
		if msg.ID == "" {
			msg.ID = ev.ID
		}
		if !h.chats.Append(msg) {
			return
		}
	}

	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		if s.filter.match(ev) {
			subs = append(subs, s)
		}
	}
	h.mu.RUnlock()
	for _, s := range subs {
		if s.active.Load() {
			h.deliver(s, ev)
		}
	}
}

// duplicate reports whether ev carries nothing new. Jobs and chats are
// deduplicated by the merge itself. State updates are dropped only when they
// repeat the last value seen for the same slot; a value that comes back after
// a different one is a real change.
func (h *Hub) duplicate(ev models.RealtimeEvent) bool {
	switch ev.Entity {
	case models.EntityJob, models.EntityChat:
		return false
	case models.EntityTechnician, models.EntityAccount, models.EntityStats:
		return h.dedup.Repeat(stateSlot(ev), payloadHash(ev))
	}
	return h.dedup.Seen(ev.Key())
}

func (h *Hub) deliver(s *subscriber, ev models.RealtimeEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("subscriber panic recovered", "error", rec, "kind", ev.Kind)
		}
	}()
	s.fn(ev)
}

// Subscribe registers fn for events matching f. The returned function
// unsubscribes. Called from inside fn it takes effect before the next event.
// Called from another goroutine, an event already being handed to fn may
// still arrive; callers that need a hard stop guard fn themselves.
func (h *Hub) Subscribe(f Filter, fn Handler) (unsubscribe func()) {
	s := &subscriber{filter: f, fn: fn}
	s.active.Store(true)
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = s
	h.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.active.Store(false)
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Publish enqueues a locally-originated event, e.g. a job the client just
// created, so it goes through the same merge as remote ones.
func (h *Hub) Publish(ctx context.Context, ev models.RealtimeEvent) error {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	select {
	case h.in <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Track seeds the cache with a job so the heartbeat poll follows it.
func (h *Hub) Track(ctx context.Context, job models.Job) error {
	return h.Publish(ctx, FromJob(models.SourceLocal, job, time.Now()))
}

// Emit sends a client->server event over the push channel. It is the only
// write path to the connection.
func (h *Hub) Emit(event string, data any) error {
	if h.push == nil {
		return ErrNotConnected
	}
	return h.push.Emit(event, data)
}

// SendMessage emits a chat message. The local list is only updated when the
// server echoes it back through receive_message or the change feed.
func (h *Hub) SendMessage(msg models.ChatMessage) error {
	return h.Emit(models.EmitSendMessage, msg)
}

func (h *Hub) Jobs() *JobCache { return h.jobs }
func (h *Hub) Chats() *ChatLog { return h.chats }
func (h *Hub) Connected() bool { return h.push != nil && h.push.Connected() }
