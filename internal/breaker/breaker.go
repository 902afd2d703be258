// Package breaker adapts sony/gobreaker's generic circuit breaker to
// the exact state vocabulary and stat surface spec.md §4.6 names.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// State is the breaker's externally visible state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Stats is the breaker's own bookkeeping: how many times it has
// tripped open, how many calls were attempted, and when it last tripped.
type Stats struct {
	Trips         int64
	Attempts      int64
	LastTripTime  time.Time
}

// Config configures threshold and timeout behavior (spec §9 defaults:
// failure_threshold=5, success_threshold=2, reset_timeout_ms=30000).
type Config struct {
	Name             string
	FailureThreshold uint32
	SuccessThreshold uint32
	ResetTimeout     time.Duration
}

// ErrOpen is returned by Allow (and from Call) when the breaker is
// open and rejecting attempts.
var ErrOpen = gobreaker.ErrOpenState

// Breaker wraps gobreaker.CircuitBreaker, translating its library
// vocabulary (closed/open/half-open, generation counters) into the
// spec's named states and idempotent record_success/record_failure
// calls.
type Breaker struct {
	cb *gobreaker.CircuitBreaker

	mu    sync.Mutex
	stats stats
}

type stats struct {
	trips        int64
	attempts     int64
	lastTripTime time.Time
}

// New builds a breaker from cfg.
func New(cfg Config) *Breaker {
	b := &Breaker{}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				b.mu.Lock()
				b.stats.trips++
				b.stats.lastTripTime = time.Now()
				b.mu.Unlock()
			}
		},
	}
	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

// IsAllowed reports whether a call is currently permitted: true in
// CLOSED and HALF_OPEN, false in OPEN. It does not count calls, so in
// HALF_OPEN it keeps returning true for every caller until the state
// changes.
func (b *Breaker) IsAllowed() bool {
	return b.cb.State() != gobreaker.StateOpen
}

// RecordSuccess and RecordFailure drive the breaker's state machine
// directly, for callers that perform their own work outside gobreaker's
// Execute wrapper (the Verification Gate does this, since it needs to
// run the timeout check itself).
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.stats.attempts++
	b.mu.Unlock()
	_, _ = b.cb.Execute(func() (interface{}, error) { return nil, nil })
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.stats.attempts++
	b.mu.Unlock()
	_, _ = b.cb.Execute(func() (interface{}, error) { return nil, errors.New("recorded failure") })
}

// GetState returns the breaker's current state in the spec's
// vocabulary.
func (b *Breaker) GetState() State {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// GetStats returns trip/attempt counters for diagnostics.
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{Trips: b.stats.trips, Attempts: b.stats.attempts, LastTripTime: b.stats.lastTripTime}
}
