// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
// Package health reports the readiness of the components a run depends on.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jllopis/artifacts/pkg/resilience"
)

// Status represents the health state of a component.
type Status string

const (
	// Healthy indicates the component is fully operational.
	Healthy Status = "HEALTHY"

	// Degraded indicates the component is operational but recovering.
	Degraded Status = "DEGRADED"

	// Unhealthy indicates the component is not operational.
	Unhealthy Status = "UNHEALTHY"
)

// Result is the outcome of one check.
type Result struct {
	Status    Status
	Component string
	Message   string
	LastCheck time.Time
}

// MarshalJSON renders the result for readiness endpoints.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Component string    `json:"component"`
		Status    Status    `json:"status"`
		Message   string    `json:"message,omitempty"`
		LastCheck time.Time `json:"last_check"`
	}{r.Component, r.Status, r.Message, r.LastCheck})
}

// Checker checks the health of a component.
type Checker interface {
	Check(ctx context.Context) Result
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) Result

// Check calls f and stamps LastCheck when f leaves it unset.
func (f CheckerFunc) Check(ctx context.Context) Result {
	result := f(ctx)
	if result.LastCheck.IsZero() {
		result.LastCheck = time.Now()
	}
	return result
}

// BreakerSource exposes the circuit breaker guarding a remote dependency.
type BreakerSource interface {
	BreakerState() resilience.CircuitBreakerState
}

// Breaker reports src as healthy while its breaker is closed, degraded while
// it probes the dependency and unhealthy while it is open.
func Breaker(src BreakerSource) Checker {
	return CheckerFunc(func(context.Context) Result {
		state := src.BreakerState()
		result := Result{Message: "circuit " + string(state)}
		switch state {
		case resilience.StateOpen:
			result.Status = Unhealthy
		case resilience.StateHalfOpen:
			result.Status = Degraded
		default:
			result.Status = Healthy
		}
		return result
	})
}

// Registry runs a set of named checkers.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds or replaces the checker of a component.
func (r *Registry) Register(name string, checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
}

// Check runs the checker of one component.
func (r *Registry) Check(ctx context.Context, name string) (Result, error) {
	r.mu.RLock()
	checker, ok := r.checkers[name]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("checker not registered: %s", name)
	}
	result := checker.Check(ctx)
	result.Component = name
	return result, nil
}

// CheckAll runs every checker. Results are sorted by component; the overall
// status is the worst one reported.
func (r *Registry) CheckAll(ctx context.Context) ([]Result, Status) {
	r.mu.RLock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	results := make([]Result, 0, len(names))
	overall := Healthy
	for _, name := range names {
		result, err := r.Check(ctx, name)
		if err != nil {
			continue
		}
		results = append(results, result)
		switch result.Status {
		case Unhealthy:
			overall = Unhealthy
		case Degraded:
			if overall == Healthy {
				overall = Degraded
			}
		}
	}
	return results, overall
}
