package resilience

import (
	"sync"
	"time"
)

// CircuitState is the breaker's position. Exactly one state is active per
// monitored endpoint; transitions are the sole mutator of circuit health.
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	TimeoutDuration  time.Duration
}

// DefaultBreakerConfig provides sensible defaults.
var DefaultBreakerConfig = BreakerConfig{
	FailureThreshold: 5,
	SuccessThreshold: 2,
	TimeoutDuration:  30 * time.Second,
}

// CircuitBreaker guards one logical remote endpoint. It is constructed
// explicitly and shared by reference between the components that call the
// endpoint; there is no process-wide instance.
//
// Closed: counts retryable failures, opens at FailureThreshold.
// Open: rejects calls until TimeoutDuration has elapsed, then the next call
// transitions to HalfOpen and is let through as a test call.
// HalfOpen: SuccessThreshold consecutive successes close the circuit; any
// failure reopens it immediately.
//
// Non-retryable errors never touch circuit state.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time
}

// NewCircuitBreaker creates a breaker for the named endpoint.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultBreakerConfig.SuccessThreshold
	}
	if cfg.TimeoutDuration <= 0 {
		cfg.TimeoutDuration = DefaultBreakerConfig.TimeoutDuration
	}
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Name returns the endpoint label the breaker guards.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow decides whether a call may proceed. While Open it returns
// ErrCircuitOpen until the timeout has elapsed, at which point the next
// caller transitions the breaker to HalfOpen and is admitted.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.cfg.TimeoutDuration {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.successes = 0
	}
	return nil
}

// RecordSuccess reports a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

// RecordFailure reports a failed call. Only retryable failures count
// against circuit health.
func (cb *CircuitBreaker) RecordFailure(err *RemoteCallError) {
	if err == nil || !err.IsRetryable() {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.state = StateOpen
			cb.openedAt = cb.now()
		}
	case StateHalfOpen:
		// A single failure during probing reopens the circuit.
		cb.state = StateOpen
		cb.openedAt = cb.now()
		cb.successes = 0
	}
}
