package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/homeservice-dispatch/internal/models"
)

var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrTimeout          = errors.New("location request timed out")
	ErrUnavailable      = errors.New("location unavailable")
)

const (
	MinTimeout     = 5 * time.Second
	MaxTimeout     = 20 * time.Second
	DefaultTimeout = 10 * time.Second
)

// Position is one fix from the device.
type Position struct {
	models.Coord
	Heading  float64   `json:"heading"`
	Accuracy float64   `json:"accuracy_m"`
	At       time.Time `json:"timestamp"`
}

// Request carries per-acquisition preferences down to the device.
type Request struct {
	HighAccuracy bool
}

// Device is the platform position source. Implementations return one of the
// package errors so callers can branch with errors.Is.
type Device interface {
	Acquire(ctx context.Context, req Request) (Position, error)
}

// Options mirrors the platform request options.
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

func clampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultTimeout
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	}
	return d
}

// Provider wraps a Device and remembers the last good fix.
type Provider struct {
	dev  Device
	opts Options

	mu   sync.RWMutex
	last Position
	has  bool
}

func NewProvider(dev Device, opts Options) *Provider {
	opts.Timeout = clampTimeout(opts.Timeout)
	return &Provider{dev: dev, opts: opts}
}

// Acquire performs a one-shot bounded request. A cached fix younger than
// MaximumAge is returned without touching the device.
func (p *Provider) Acquire(ctx context.Context) (Position, error) {
	if p.opts.MaximumAge > 0 {
		if last, ok := p.LastKnown(); ok && time.Since(last.At) <= p.opts.MaximumAge {
			return last, nil
		}
	}
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()
	pos, err := p.dev.Acquire(ctx, Request{HighAccuracy: p.opts.HighAccuracy})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Position{}, ErrTimeout
		}
		return Position{}, err
	}
	if pos.At.IsZero() {
		pos.At = time.Now()
	}
	p.remember(pos)
	return pos, nil
}

func (p *Provider) remember(pos Position) {
	p.mu.Lock()
	p.last = pos
	p.has = true
	p.mu.Unlock()
}

// LastKnown returns the most recent successful fix, if any.
func (p *Provider) LastKnown() (Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.has
}

// Fix is what a watch delivers: a position or the error that replaced it.
type Fix struct {
	Position Position
	Err      error
}

// Subscription is a running watch. Stop cancels it and waits for the
// watcher to exit; it is safe to call more than once.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *Subscription) Stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Watch acquires immediately and then every interval until the
// subscription is stopped or ctx ends.
func (p *Provider) Watch(ctx context.Context, interval time.Duration, fn func(Fix)) *Subscription {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			pos, err := p.Acquire(ctx)
			if ctx.Err() != nil {
				return
			}
			fn(Fix{Position: pos, Err: err})
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	return sub
}
