// Package circuitbreaker stops calls to an upstream service after repeated failures
// and lets a single probe through once the cooldown has passed.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"bundle-cache-go/logcolors"

	log "github.com/sirupsen/logrus"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation, requests allowed
	StateOpen                  // Circuit tripped, requests blocked
	StateHalfOpen              // One probe in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Publisher receives state transitions. *events.Bus implements it.
type Publisher interface {
	PublishCircuitBreakerOpen(name string, failures int, cooldown time.Duration)
	PublishCircuitBreakerRecovered(name string)
	PublishHighFailureRate(name string, failures, threshold int)
}

// Config holds circuit breaker configuration
type Config struct {
	Name            string        // upstream service name
	Threshold       int           // consecutive failures before opening
	Cooldown        time.Duration // how long to stay open before probing
	HalfOpenTimeout time.Duration // how long a probe may take before reopening
	Events          Publisher     // optional
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	name            string
	state           State
	failures        int
	threshold       int
	cooldown        time.Duration
	halfOpenTimeout time.Duration
	openedAt        time.Time
	halfOpenStart   time.Time
	events          Publisher
	mu              sync.RWMutex
}

// New creates a new circuit breaker
func New(cfg Config) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.HalfOpenTimeout <= 0 {
		cfg.HalfOpenTimeout = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	return &CircuitBreaker{
		name:            cfg.Name,
		state:           StateClosed,
		threshold:       cfg.Threshold,
		cooldown:        cfg.Cooldown,
		halfOpenTimeout: cfg.HalfOpenTimeout,
		events:          cfg.Events,
	}
}

// Name returns the service this breaker guards
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow reports whether a call may proceed. In HALF-OPEN only the call that
// triggered the transition is allowed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	prefix := logcolors.CircuitBreakerPrefix(cb.name)
	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.state = StateHalfOpen
		cb.halfOpenStart = time.Now()
		log.Infof("%s Cooldown passed, transitioning to HALF-OPEN", prefix)
		return true

	case StateHalfOpen:
		if time.Since(cb.halfOpenStart) >= cb.halfOpenTimeout {
			cb.state = StateOpen
			cb.openedAt = time.Now()
			log.Warnf("%s Probe timed out, transitioning back to OPEN", prefix)
		}
		return false

	default:
		return true
	}
}

// RecordSuccess records a call that reached the service
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// a late success from a call started before the circuit opened changes nothing
	if cb.state == StateOpen {
		return
	}

	recovered := cb.state == StateHalfOpen
	cb.state = StateClosed
	cb.failures = 0

	if recovered {
		log.Infof("%s Probe succeeded, transitioning to CLOSED", logcolors.CircuitBreakerPrefix(cb.name))
		if cb.events != nil {
			cb.events.PublishCircuitBreakerRecovered(cb.name)
		}
	}
}

// warningThreshold is 60% of the threshold, at least 2
func (cb *CircuitBreaker) warningThreshold() int {
	w := (cb.threshold * 3) / 5
	if w < 2 {
		w = 2
	}
	return w
}

// RecordFailure records a call that failed at the transport level or with a server error
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	prefix := logcolors.CircuitBreakerPrefix(cb.name)
	cb.failures++

	switch cb.state {
	case StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = time.Now()
		log.Warnf("%s Probe failed, transitioning back to OPEN", prefix)
		if cb.events != nil {
			cb.events.PublishCircuitBreakerOpen(cb.name, cb.failures, cb.cooldown)
		}

	case StateClosed:
		if cb.failures == cb.warningThreshold() && cb.failures < cb.threshold && cb.events != nil {
			cb.events.PublishHighFailureRate(cb.name, cb.failures, cb.threshold)
		}
		if cb.failures >= cb.threshold {
			cb.state = StateOpen
			cb.openedAt = time.Now()
			log.Warnf("%s Threshold reached (%d failures), transitioning to OPEN (cooldown: %v)",
				prefix, cb.failures, cb.cooldown)
			if cb.events != nil {
				cb.events.PublishCircuitBreakerOpen(cb.name, cb.failures, cb.cooldown)
			}
		}
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Reset manually closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.openedAt = time.Time{}
	cb.halfOpenStart = time.Time{}
	log.Infof("%s Manually reset to CLOSED", logcolors.CircuitBreakerPrefix(cb.name))
}

// timeUntilRetry must be called with the lock held
func (cb *CircuitBreaker) timeUntilRetry() time.Duration {
	var remaining time.Duration
	switch cb.state {
	case StateOpen:
		remaining = cb.cooldown - time.Since(cb.openedAt)
	case StateHalfOpen:
		remaining = cb.halfOpenTimeout - time.Since(cb.halfOpenStart)
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TimeUntilRetry returns the remaining cooldown (OPEN) or probe timeout (HALF-OPEN).
func (cb *CircuitBreaker) TimeUntilRetry() time.Duration {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.timeUntilRetry()
}

// Status is a JSON view of a breaker for the admin endpoint
type Status struct {
	Name           string  `json:"name"`
	State          string  `json:"state"`
	Failures       int     `json:"failures"`
	Threshold      int     `json:"threshold"`
	Cooldown       string  `json:"cooldown"`
	RetryInSeconds float64 `json:"retry_in_seconds"`
}

// Status returns a consistent snapshot of the breaker
func (cb *CircuitBreaker) Status() Status {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return Status{
		Name:           cb.name,
		State:          cb.state.String(),
		Failures:       cb.failures,
		Threshold:      cb.threshold,
		Cooldown:       cb.cooldown.String(),
		RetryInSeconds: cb.timeUntilRetry().Seconds(),
	}
}
