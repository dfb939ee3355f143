// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"sync"
	"time"

	"github.com/windlass-io/windlass/pkg/errors"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	// CircuitClosed means calls flow normally.
	CircuitClosed CircuitState = "closed"

	// CircuitOpen means calls are refused until the cooldown elapses.
	CircuitOpen CircuitState = "open"

	// CircuitHalfOpen means a limited number of probe calls are admitted to
	// test whether the downstream recovered.
	CircuitHalfOpen CircuitState = "half-open"
)

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int

	// SuccessThreshold is the number of successes in half-open before closing.
	SuccessThreshold int

	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration

	// Name identifies the breaker in errors and metrics.
	Name string
}

// CircuitBreaker protects a known-broken tool from being hammered. The
// admission controller consults Allow before admitting an invocation and
// reports the outcome afterwards.
type CircuitBreaker struct {
	config       CircuitBreakerConfig
	mu           sync.Mutex
	state        CircuitState
	failures     int
	successes    int
	lastFailTime time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 2
	}
	if config.Cooldown == 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.Name == "" {
		config.Name = "circuit_breaker"
	}
	return &CircuitBreaker{
		config: config,
		state:  CircuitClosed,
	}
}

// Allow reports whether a call may proceed. Returns a KindCircuitOpen error
// while the circuit is open and the cooldown has not elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if time.Since(cb.lastFailTime) <= cb.config.Cooldown {
			return errors.New(errors.KindCircuitOpen, "circuit breaker open", nil).
				WithContext("breaker", cb.config.Name)
		}
		cb.state = CircuitHalfOpen
		cb.failures = 0
		cb.successes = 0
	}
	return nil
}

// Record reports the outcome of a call that Allow admitted.
func (cb *CircuitBreaker) Record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		switch cb.state {
		case CircuitHalfOpen:
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.state = CircuitClosed
				cb.failures = 0
				cb.successes = 0
			}
		case CircuitClosed:
			cb.failures = 0
		}
		return
	}

	cb.failures++
	cb.lastFailTime = time.Now()
	switch cb.state {
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.failures = 0
		cb.successes = 0
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = CircuitOpen
			cb.failures = 0
		}
	}
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset manually returns the circuit breaker to the closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
}
