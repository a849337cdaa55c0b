package circuitbreaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/florinutz/deltashare/metrics"
)

// State represents the current state of the circuit breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// CircuitBreaker implements a three-state circuit breaker around a named
// dependency. In the half-open state exactly one trial call is let through.
type CircuitBreaker struct {
	name         string
	mu           sync.Mutex
	state        State
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time
	trialPending bool
	now          func() time.Time
	logger       *slog.Logger
}

// New creates a breaker that opens after maxFailures consecutive failures and
// allows a trial call after resetTimeout. maxFailures <= 0 disables tripping.
func New(name string, maxFailures int, resetTimeout time.Duration, logger *slog.Logger) *CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	metrics.BreakerState.WithLabelValues(name).Set(0)
	return &CircuitBreaker{
		name:         name,
		state:        StateClosed,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		logger:       logger.With("component", "circuit_breaker", "breaker", name),
	}
}

// Allow reports whether a call should proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			return false
		}
		cb.setState(StateHalfOpen)
		cb.trialPending = true
		cb.logger.Info("circuit breaker half-open", "previous_failures", cb.failures)
		return true
	case StateHalfOpen:
		if cb.trialPending {
			return false
		}
		cb.trialPending = true
		return true
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.trialPending = false
	if cb.state == StateHalfOpen {
		cb.logger.Info("circuit breaker closed after successful trial")
	}
	cb.setState(StateClosed)
}

// Release ends an admitted call without an outcome. A pending half-open
// trial is freed for the next caller and the state is left as is.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialPending = false
}

// RecordFailure counts a failure, opening the breaker at maxFailures or when
// a half-open trial fails.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()
	cb.trialPending = false

	switch {
	case cb.state == StateHalfOpen:
		cb.setState(StateOpen)
		cb.logger.Warn("circuit breaker re-opened after half-open failure", "failures", cb.failures)
	case cb.state == StateClosed && cb.maxFailures > 0 && cb.failures >= cb.maxFailures:
		cb.setState(StateOpen)
		metrics.BreakerTrips.WithLabelValues(cb.name).Inc()
		cb.logger.Warn("circuit breaker opened", "failures", cb.failures, "max_failures", cb.maxFailures)
	}
}

func (cb *CircuitBreaker) setState(s State) {
	cb.state = s
	open := 0.0
	if s == StateOpen {
		open = 1
	}
	metrics.BreakerState.WithLabelValues(cb.name).Set(open)
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset forces the circuit breaker back to Closed state with zero failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateClosed)
	cb.failures = 0
	cb.trialPending = false
	cb.logger.Info("circuit breaker reset")
}
