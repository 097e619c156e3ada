// Package circuitbreaker implements a three-state health gate: closed ->
// open -> half-open -> closed, with decaying failure counts in the closed
// state rather than a hard reset on success.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is one of closed, open, half_open.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config parameterizes a CircuitBreaker.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// DefaultConfig trips after 3 consecutive failures, closes after 2
// consecutive half-open successes, reopens for retry after 60s.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
	}
}

// CircuitBreaker is the per-ProviderInstance health gate. All public
// methods acquire the instance's own mutex; a CircuitBreaker is never
// shared across ProviderInstances.
type CircuitBreaker struct {
	mu           sync.Mutex
	cfg          Config
	state        State
	failureCount int
	successCount int
	lastFailure  time.Time
}

// New creates a CircuitBreaker starting closed with zeroed counts.
func New(cfg Config) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// CanAttempt reports whether a call may proceed, transitioning open->half_open
// when the reopen timeout has elapsed.
func (cb *CircuitBreaker) CanAttempt() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.canAttemptLocked()
}

func (cb *CircuitBreaker) canAttemptLocked() bool {
	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(cb.lastFailure) >= cb.cfg.Timeout {
			cb.state = StateHalfOpen
			cb.failureCount = 0
			cb.successCount = 0
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess applies the success transition for the current state.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		if cb.failureCount > 0 {
			cb.failureCount--
		}
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.successCount = 0
		}
	}
}

// RecordFailure applies the failure transition for the current state.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.successCount = 0
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot is the introspection/persistence shape for a breaker.
type Snapshot struct {
	State        string    `json:"circuit_breaker_state"`
	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
}

// Snapshot returns a read-only copy of the breaker's state for introspection
// endpoints and the persisted-aggregates encoder.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		State:        cb.state.String(),
		FailureCount: cb.failureCount,
		SuccessCount: cb.successCount,
		LastFailure:  cb.lastFailure,
	}
}

// Restore seeds the breaker from a persisted Snapshot on startup. An
// unrecognized state string leaves the breaker closed.
func (cb *CircuitBreaker) Restore(snap Snapshot) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch snap.State {
	case StateOpen.String():
		cb.state = StateOpen
	case StateHalfOpen.String():
		cb.state = StateHalfOpen
	default:
		cb.state = StateClosed
	}
	cb.failureCount = snap.FailureCount
	cb.successCount = snap.SuccessCount
	cb.lastFailure = snap.LastFailure
}
