package tameng

import (
	"sync"
	"time"
)

const (
	defaultFailureThreshold = 5
	defaultResetTimeout     = 60 * time.Second
)

// CircuitBreaker fast-fails requests after FailureThreshold consecutive failures.
//
// There is no half-open state: once ResetTimeout has elapsed since the last failure the
// breaker closes again and the next request goes straight to the transport. The failure
// count is only cleared by a success, so a failure right after the reset reopens it.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu            sync.Mutex
	failures      int
	lastFailureAt time.Time
	open          bool

	onStateChange func(open bool)
	now           func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaultFailureThreshold
	}
	if config.ResetTimeout == 0 {
		config.ResetTimeout = defaultResetTimeout
	}

	return &CircuitBreaker{
		config: config,
		now:    time.Now,
	}
}

// Allow reports whether a request may proceed. An open breaker whose cooldown has
// elapsed is closed here.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	if !cb.open {
		cb.mu.Unlock()
		return true
	}
	if cb.now().Sub(cb.lastFailureAt) > cb.config.ResetTimeout {
		cb.open = false
		cb.mu.Unlock()
		cb.notify(false)
		return true
	}
	cb.mu.Unlock()
	return false
}

// RecordSuccess clears the failure count and closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	wasOpen := cb.open
	cb.failures = 0
	cb.open = false
	cb.mu.Unlock()

	if wasOpen {
		cb.notify(false)
	}
}

// RecordFailure counts a failure and opens the breaker at the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	cb.failures++
	cb.lastFailureAt = cb.now()
	opened := !cb.open && cb.failures >= cb.config.FailureThreshold
	if opened {
		cb.open = true
	}
	cb.mu.Unlock()

	if opened {
		cb.notify(true)
	}
}

// IsOpen reports the current state without applying the cooldown.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.open
}

// Snapshot returns a copy of the breaker state.
func (cb *CircuitBreaker) Snapshot() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitState{
		FailureCount:  cb.failures,
		LastFailureAt: cb.lastFailureAt,
		IsOpen:        cb.open,
	}
}

// Config returns the effective configuration, defaults applied.
func (cb *CircuitBreaker) Config() CircuitBreakerConfig {
	return cb.config
}

func (cb *CircuitBreaker) notify(open bool) {
	if cb.onStateChange != nil {
		cb.onStateChange(open)
	}
}
