// Package resilience keeps a call answering when a speech or language backend
// misbehaves.
//
// A [Breaker] stops sending requests to a backend after repeated failures
// and lets a probe through once a cool-down has passed. A [Group] orders
// several backends of one kind, each behind its own breaker, and [STT],
// [LLM] and [TTS] present a group as an ordinary provider.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned without calling the backend while a breaker is open.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed forwards every call.
	Closed State = iota
	// Open rejects calls with [ErrOpen] until the reset timeout passes.
	Open
	// HalfOpen admits a limited number of probe calls.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig tunes a [Breaker]. Zero values take the defaults.
type BreakerConfig struct {
	// Name labels log lines and state change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default 30s.
	ResetTimeout time.Duration

	// Probes is the number of successful half-open calls that close the
	// breaker again. Default 1.
	Probes int

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 1
	}
	return c
}

// transition is a state change waiting to be reported.
type transition struct{ from, to State }

// Breaker is a three-state circuit breaker, safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inflight int
	passed   int
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), now: time.Now}
}

// Name returns the configured name.
func (b *Breaker) Name() string { return b.cfg.Name }

// Do runs fn unless the breaker is open. An error wrapping
// [context.Canceled] is not held against the backend: the caller hung up
// or spoke over the reply.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.settle(probe, err)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	var changes []transition
	defer func() {
		b.mu.Unlock()
		b.report(changes)
	}()

	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return false, ErrOpen
		}
		b.inflight, b.passed = 0, 0
		changes = append(changes, b.move(HalfOpen))
	}
	if b.state == HalfOpen {
		if b.inflight+b.passed >= b.cfg.Probes {
			return false, ErrOpen
		}
		b.inflight++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) settle(probe bool, err error) {
	b.mu.Lock()
	var changes []transition
	defer func() {
		b.mu.Unlock()
		b.report(changes)
	}()

	if probe && b.inflight > 0 {
		b.inflight--
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	switch {
	case err != nil && probe && b.state == HalfOpen:
		changes = append(changes, b.trip())
	case err != nil && b.state == Closed:
		b.failures++
		if b.failures >= b.cfg.MaxFailures {
			changes = append(changes, b.trip())
		}
	case err == nil && probe && b.state == HalfOpen:
		b.passed++
		if b.passed >= b.cfg.Probes {
			b.failures = 0
			changes = append(changes, b.move(Closed))
		}
	case err == nil && b.state == Closed:
		b.failures = 0
	}
}

// trip opens the breaker. Callers hold b.mu.
func (b *Breaker) trip() transition {
	b.openedAt = b.now()
	b.failures = 0
	return b.move(Open)
}

// move switches state. Callers hold b.mu.
func (b *Breaker) move(to State) transition {
	t := transition{from: b.state, to: to}
	b.state = to
	return t
}

func (b *Breaker) report(changes []transition) {
	for _, t := range changes {
		level := slog.LevelInfo
		if t.to == Open {
			level = slog.LevelWarn
		}
		slog.Log(context.Background(), level, "circuit breaker state changed",
			"name", b.cfg.Name, "from", t.from.String(), "to", t.to.String())
		if b.cfg.OnStateChange != nil {
			b.cfg.OnStateChange(b.cfg.Name, t.from, t.to)
		}
	}
}

// State returns the current state. An open breaker whose timeout has passed
// reports [HalfOpen]; the switch itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return HalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	var changes []transition
	if b.state != Closed {
		changes = append(changes, b.move(Closed))
	}
	b.failures, b.inflight, b.passed = 0, 0, 0
	b.mu.Unlock()
	b.report(changes)
}
