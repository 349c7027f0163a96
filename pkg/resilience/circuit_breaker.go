// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/jllopis/artifacts/pkg/errors"
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	// StateClosed means the circuit breaker is working normally.
	StateClosed CircuitBreakerState = "closed"

	// StateOpen means the circuit breaker is blocking calls.
	StateOpen CircuitBreakerState = "open"

	// StateHalfOpen means the circuit breaker is testing if service recovered.
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	FailureThreshold int

	// SuccessThreshold is the number of successes in half-open before closing.
	SuccessThreshold int

	// Timeout is how long to wait before trying half-open state.
	Timeout time.Duration

	// Name is the circuit breaker identifier for logging/metrics.
	Name string

	// Code is the error code returned while the circuit is open.
	Code errors.ErrorCode

	// OnStateChange is invoked (outside the lock) after every transition.
	OnStateChange func(name string, from, to CircuitBreakerState)

	// IsFailure decides which errors count against the breaker.
	// If nil, every non-nil error counts.
	IsFailure func(error) bool
}

// CircuitBreaker prevents cascading failures using the circuit breaker pattern.
// Calls run outside the lock so concurrent callers are not serialized.
type CircuitBreaker struct {
	config       CircuitBreakerConfig
	state        CircuitBreakerState
	failures     int
	successes    int
	lastFailTime time.Time
	mu           sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker with the given config.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 1
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Name == "" {
		config.Name = "circuit_breaker"
	}
	if config.Code == "" {
		config.Code = errors.CodeInternal
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Call executes fn if the circuit breaker allows, tracking success/failure.
// While open it fails fast with an unrecoverable error of config.Code.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateOpen && time.Since(cb.lastFailTime) > cb.config.Timeout {
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.failures = 0
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	if to == StateOpen {
		return errors.New(cb.config.Code, "circuit breaker open", nil).
			WithContext("breaker", cb.config.Name).
			WithRecoverable(false)
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	failed := err != nil
	if failed && cb.config.IsFailure != nil {
		failed = cb.config.IsFailure(err)
	}

	cb.mu.Lock()
	from := cb.state
	if failed {
		cb.failures++
		cb.lastFailTime = time.Now()
		switch {
		case cb.state == StateHalfOpen:
			cb.state = StateOpen
		case cb.state == StateClosed && cb.failures >= cb.config.FailureThreshold:
			cb.state = StateOpen
		}
		if cb.state == StateOpen {
			cb.failures = 0
			cb.successes = 0
		}
	} else if err == nil {
		switch cb.state {
		case StateHalfOpen:
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.state = StateClosed
				cb.failures = 0
				cb.successes = 0
			}
		case StateClosed:
			cb.failures = 0
		}
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

func (cb *CircuitBreaker) notify(from, to CircuitBreakerState) {
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset manually resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.mu.Unlock()
	cb.notify(from, StateClosed)
}
