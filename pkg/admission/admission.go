// SPDX-License-Identifier: Apache-2.0
// Package admission gates invocation execution with token buckets, weighted
// concurrency semaphores and per-tool circuit breakers.
//
// Rate-limit tokens regenerate on the clock; releasing a lease returns only
// the concurrency slots. The controller holds the only shared mutable state
// of the admission path, each piece guarded by its own small critical
// section, so unrelated tools never serialize on each other.
package admission

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/windlass-io/windlass/pkg/errors"
	"github.com/windlass-io/windlass/pkg/registry"
	"github.com/windlass-io/windlass/pkg/resilience"
)

// Config controls the engine-wide admission limits.
type Config struct {
	// MaxConcurrent caps simultaneous executions across all tools.
	// 0 defaults to 64.
	MaxConcurrent int64

	// GlobalRateLimit bounds the engine-wide request rate.
	// PerSecond 0 disables the global bucket.
	GlobalRateLimit registry.RateLimit

	// Breaker configures the per-tool circuit breakers. A zero value uses
	// the resilience defaults.
	Breaker resilience.CircuitBreakerConfig
}

// Lease is one admitted invocation's claim on the concurrency semaphores.
// Release returns the slots; it is safe to call more than once.
type Lease struct {
	once    sync.Once
	release func()
}

// Release returns the concurrency slots held by the lease.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		if l.release != nil {
			l.release()
		}
	})
}

// toolState is the admission state for a single tool.
type toolState struct {
	limiter *rate.Limiter // nil when rate limiting is disabled for the tool
	sem     *semaphore.Weighted
	breaker *resilience.CircuitBreaker
}

// Controller admits invocations against global and per-tool limits.
type Controller struct {
	globalSem     *semaphore.Weighted
	globalLimiter *rate.Limiter // nil when disabled
	breakerConfig resilience.CircuitBreakerConfig

	mu    sync.RWMutex
	tools map[string]*toolState
}

// NewController creates an admission controller with the given limits.
func NewController(cfg Config) *Controller {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 64
	}
	c := &Controller{
		globalSem:     semaphore.NewWeighted(maxConcurrent),
		breakerConfig: cfg.Breaker,
		tools:         make(map[string]*toolState),
	}
	if cfg.GlobalRateLimit.PerSecond > 0 {
		burst := cfg.GlobalRateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		c.globalLimiter = rate.NewLimiter(rate.Limit(cfg.GlobalRateLimit.PerSecond), burst)
	}
	return c
}

// Configure installs or replaces the admission state for a tool. Called by
// the engine on registration; in-flight leases keep their slots.
func (c *Controller) Configure(name string, limit registry.RateLimit, concurrency int) {
	st := &toolState{}
	if limit.PerSecond > 0 {
		burst := limit.Burst
		if burst < 1 {
			burst = 1
		}
		st.limiter = rate.NewLimiter(rate.Limit(limit.PerSecond), burst)
	}
	if concurrency > 0 {
		st.sem = semaphore.NewWeighted(int64(concurrency))
	}
	breakerCfg := c.breakerConfig
	breakerCfg.Name = name
	st.breaker = resilience.NewCircuitBreaker(breakerCfg)

	c.mu.Lock()
	c.tools[name] = st
	c.mu.Unlock()
}

// Remove drops a tool's admission state. In-flight leases keep their slots.
func (c *Controller) Remove(name string) {
	c.mu.Lock()
	delete(c.tools, name)
	c.mu.Unlock()
}

func (c *Controller) state(name string) *toolState {
	c.mu.RLock()
	st := c.tools[name]
	c.mu.RUnlock()
	return st
}

// TryAcquire attempts non-blocking admission for the named tool. On rejection
// no rate-limit token is consumed and no concurrency slot is held.
func (c *Controller) TryAcquire(name string) (*Lease, error) {
	st := c.state(name)
	if st == nil {
		return nil, errors.New(errors.KindUnknownTool, "tool not configured for admission", nil).
			WithContext("tool", name)
	}
	if err := st.breaker.Allow(); err != nil {
		return nil, err
	}

	if !c.globalSem.TryAcquire(1) {
		return nil, errors.New(errors.KindRateLimited, "global concurrency limit reached", nil).
			WithContext("tool", name)
	}
	if st.sem != nil && !st.sem.TryAcquire(1) {
		c.globalSem.Release(1)
		return nil, errors.New(errors.KindRateLimited, "tool concurrency limit reached", nil).
			WithContext("tool", name)
	}

	release := func() {
		if st.sem != nil {
			st.sem.Release(1)
		}
		c.globalSem.Release(1)
	}

	// Reserve tokens without consuming when unavailable: a reservation with
	// a delay is cancelled, restoring the token.
	if st.limiter != nil {
		r := st.limiter.Reserve()
		if !r.OK() || r.Delay() > 0 {
			r.Cancel()
			release()
			return nil, errors.New(errors.KindRateLimited, "tool rate limit exceeded", nil).
				WithContext("tool", name)
		}
	}
	if c.globalLimiter != nil {
		r := c.globalLimiter.Reserve()
		if !r.OK() || r.Delay() > 0 {
			r.Cancel()
			release()
			return nil, errors.New(errors.KindRateLimited, "global rate limit exceeded", nil).
				WithContext("tool", name)
		}
	}

	return &Lease{release: release}, nil
}

// Acquire blocks until admission is granted or ctx expires. Waits are
// cooperative (timer-based); when the deadline cannot be met the pending
// token reservation is abandoned without being consumed.
func (c *Controller) Acquire(ctx context.Context, name string) (*Lease, error) {
	st := c.state(name)
	if st == nil {
		return nil, errors.New(errors.KindUnknownTool, "tool not configured for admission", nil).
			WithContext("tool", name)
	}
	if err := st.breaker.Allow(); err != nil {
		return nil, err
	}

	if err := c.globalSem.Acquire(ctx, 1); err != nil {
		return nil, admissionTimeout(name, err)
	}
	if st.sem != nil {
		if err := st.sem.Acquire(ctx, 1); err != nil {
			c.globalSem.Release(1)
			return nil, admissionTimeout(name, err)
		}
	}

	release := func() {
		if st.sem != nil {
			st.sem.Release(1)
		}
		c.globalSem.Release(1)
	}

	if st.limiter != nil {
		if err := st.limiter.Wait(ctx); err != nil {
			release()
			return nil, admissionTimeout(name, err)
		}
	}
	if c.globalLimiter != nil {
		if err := c.globalLimiter.Wait(ctx); err != nil {
			release()
			return nil, admissionTimeout(name, err)
		}
	}

	return &Lease{release: release}, nil
}

// RecordOutcome feeds an execution outcome to the tool's circuit breaker.
func (c *Controller) RecordOutcome(name string, success bool) {
	if st := c.state(name); st != nil {
		st.breaker.Record(success)
	}
}

// BreakerState returns the tool's circuit state, or closed when unknown.
func (c *Controller) BreakerState(name string) resilience.CircuitState {
	if st := c.state(name); st != nil {
		return st.breaker.State()
	}
	return resilience.CircuitClosed
}

// OpenCircuits returns the names of tools whose breakers are not closed.
func (c *Controller) OpenCircuits() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var open []string
	for name, st := range c.tools {
		if st.breaker.State() != resilience.CircuitClosed {
			open = append(open, name)
		}
	}
	return open
}

func admissionTimeout(name string, cause error) error {
	kind := errors.KindAdmissionTimeout
	if stderrors.Is(cause, context.Canceled) {
		kind = errors.KindCancelled
	}
	return errors.New(kind, "gave up waiting for admission", cause).
		WithContext("tool", name)
}

// WaitEstimate returns how long the caller would currently wait for a token,
// without consuming one. The scheduler logs the backlog before blocking.
func (c *Controller) WaitEstimate(name string) time.Duration {
	st := c.state(name)
	if st == nil || st.limiter == nil {
		return 0
	}
	r := st.limiter.Reserve()
	d := r.Delay()
	r.Cancel()
	return d
}
