// SPDX-License-Identifier: Apache-2.0
package core

import (
	"context"
	"sync"
	"time"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	// HealthHealthy indicates the component is fully operational.
	HealthHealthy HealthStatus = "HEALTHY"

	// HealthDegraded indicates the component is operational but with reduced capacity.
	HealthDegraded HealthStatus = "DEGRADED"

	// HealthUnhealthy indicates the component is not operational.
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthResult represents the result of a health check.
type HealthResult struct {
	Status    HealthStatus
	Component string
	Message   string
	LastCheck time.Time
	Error     error
}

// HealthChecker checks the health of a component.
type HealthChecker interface {
	// Check returns the current health status of the component.
	Check(ctx context.Context) HealthResult
}

// HealthCheckerFunc adapts a function to the HealthChecker interface.
type HealthCheckerFunc func(ctx context.Context) HealthResult

// Check implements HealthChecker.
func (f HealthCheckerFunc) Check(ctx context.Context) HealthResult {
	return f(ctx)
}

// HealthRegistry aggregates health checks for engine components.
type HealthRegistry struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	order    []string
}

// NewHealthRegistry creates an empty health registry.
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{checkers: make(map[string]HealthChecker)}
}

// RegisterChecker registers a health checker under a component name.
// Re-registering replaces the previous checker.
func (h *HealthRegistry) RegisterChecker(name string, checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.checkers[name]; !exists {
		h.order = append(h.order, name)
	}
	h.checkers[name] = checker
}

// CheckAll checks every registered component in registration order and
// returns the individual results plus the worst overall status.
func (h *HealthRegistry) CheckAll(ctx context.Context) ([]HealthResult, HealthStatus) {
	h.mu.RLock()
	names := append([]string(nil), h.order...)
	checkers := make(map[string]HealthChecker, len(h.checkers))
	for k, v := range h.checkers {
		checkers[k] = v
	}
	h.mu.RUnlock()

	overall := HealthHealthy
	results := make([]HealthResult, 0, len(names))
	for _, name := range names {
		res := checkers[name].Check(ctx)
		res.Component = name
		res.LastCheck = time.Now().UTC()
		results = append(results, res)
		switch res.Status {
		case HealthUnhealthy:
			overall = HealthUnhealthy
		case HealthDegraded:
			if overall == HealthHealthy {
				overall = HealthDegraded
			}
		}
	}
	return results, overall
}
