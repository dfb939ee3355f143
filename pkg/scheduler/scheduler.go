// SPDX-License-Identifier: Apache-2.0
// Package scheduler runs admitted invocations on a bounded worker pool,
// honoring dependency order, per-call timeouts and retry policies.
package scheduler

import (
	"context"
	stderrors "errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	enginerrors "github.com/windlass-io/windlass/pkg/errors"

	"github.com/windlass-io/windlass/pkg/admission"
	"github.com/windlass-io/windlass/pkg/core"
	"github.com/windlass-io/windlass/pkg/registry"
	"github.com/windlass-io/windlass/pkg/resilience"
	"github.com/windlass-io/windlass/pkg/results"
	"github.com/windlass-io/windlass/pkg/sandbox"
)

// Config tunes the scheduler.
type Config struct {
	// Workers is the size of the worker pool. Default runtime.NumCPU().
	Workers int

	// DefaultTimeout applies to tools that do not declare one.
	DefaultTimeout time.Duration

	// GracePeriod is how long a cancelled or timed-out handler gets to
	// yield before the scheduler stops waiting for it. Default 1s.
	GracePeriod time.Duration

	// MaxBackoffDelay caps retry backoff sleeps. Default 30s.
	MaxBackoffDelay time.Duration
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = time.Second
	}
	if c.MaxBackoffDelay <= 0 {
		c.MaxBackoffDelay = 30 * time.Second
	}
}

// Task pairs an invocation with the tool definition resolved at submission
// time. A batch executes against the definitions it was submitted with, even
// if the registry changes afterwards.
type Task struct {
	Inv *core.Invocation
	Def registry.ToolDefinition
}

// node is the scheduler's per-invocation bookkeeping. outcome is written
// exactly once, before done is closed.
type node struct {
	inv    *core.Invocation
	def    registry.ToolDefinition
	deps   []*node
	ctx    context.Context
	cancel context.CancelFunc

	done    chan struct{}
	outcome core.Result
}

// Scheduler owns invocation state transitions from Pending to Completed.
type Scheduler struct {
	cfg     Config
	admit   *admission.Controller
	box     sandbox.Sandbox
	agg     *results.Aggregator
	cache   results.Cache
	logger  *slog.Logger
	queue   chan *node
	stop    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup

	mu    sync.Mutex
	nodes map[string]*node // invocation ID -> node, engine-wide unique
}

// New creates a scheduler and starts its worker pool.
func New(cfg Config, admit *admission.Controller, box sandbox.Sandbox, agg *results.Aggregator, cache results.Cache, logger *slog.Logger) *Scheduler {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cfg:    cfg,
		admit:  admit,
		box:    box,
		agg:    agg,
		cache:  cache,
		logger: logger,
		queue:  make(chan *node),
		stop:   make(chan struct{}),
		nodes:  make(map[string]*node),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Submit validates the batch's dependency graph and starts executing it. The
// whole batch is rejected if the graph has a cycle or a dangling edge;
// nothing runs on rejection. Submission order is preserved in the
// aggregator's output.
func (s *Scheduler) Submit(batchID string, tasks []Task) error {
	invs := make([]*core.Invocation, len(tasks))
	for i, t := range tasks {
		invs[i] = t.Inv
	}
	if err := validateDAG(invs); err != nil {
		return err
	}

	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.Inv.ID
	}
	s.agg.StartBatch(batchID, ids)

	s.mu.Lock()
	batch := make(map[string]*node, len(tasks))
	for _, t := range tasks {
		ctx, cancel := context.WithCancel(context.Background())
		ctx = core.WithBatchID(ctx, batchID)
		ctx = core.WithInvocationID(ctx, t.Inv.ID)
		ctx = core.WithToolName(ctx, t.Inv.ToolName)
		n := &node{
			inv:    t.Inv,
			def:    t.Def,
			ctx:    ctx,
			cancel: cancel,
			done:   make(chan struct{}),
		}
		batch[t.Inv.ID] = n
		s.nodes[t.Inv.ID] = n
	}
	for _, n := range batch {
		for _, dep := range n.inv.DependsOn {
			n.deps = append(n.deps, batch[dep])
		}
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.mu.Lock()
		n := s.nodes[id]
		s.mu.Unlock()
		go s.coordinate(n)
	}
	return nil
}

// Cancel cancels a single invocation. A pending invocation is removed
// without running; a running one gets its context cancelled and the grace
// period to yield. Returns false for unknown IDs.
func (s *Scheduler) Cancel(invocationID string) bool {
	s.mu.Lock()
	n, ok := s.nodes[invocationID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	n.cancel()
	return true
}

// CancelBatch cancels every invocation in the batch.
func (s *Scheduler) CancelBatch(batchID string) {
	s.mu.Lock()
	var targets []*node
	for _, n := range s.nodes {
		if n.inv.BatchID == batchID {
			targets = append(targets, n)
		}
	}
	s.mu.Unlock()
	for _, n := range targets {
		n.cancel()
	}
}

// Close stops the worker pool. In-flight invocations are cancelled.
func (s *Scheduler) Close() {
	s.stopped.Do(func() {
		s.mu.Lock()
		for _, n := range s.nodes {
			n.cancel()
		}
		s.mu.Unlock()
		close(s.stop)
	})
	s.wg.Wait()
}

// coordinate waits for the node's dependencies, short-circuits on their
// failure, serves cache hits, and otherwise hands the node to the pool.
func (s *Scheduler) coordinate(n *node) {
	for _, dep := range n.deps {
		select {
		case <-dep.done:
		case <-n.ctx.Done():
			s.finish(n, core.FailureResult(n.inv,
				enginerrors.New(enginerrors.KindCancelled, "cancelled before execution", n.ctx.Err()),
				0, 0))
			return
		}
		if !dep.outcome.Success {
			kind := enginerrors.KindDependencyFailed
			switch dep.outcome.ErrorKind {
			case enginerrors.KindCancelled, enginerrors.KindDependencyCancelled:
				kind = enginerrors.KindDependencyCancelled
			}
			s.finish(n, core.FailureResult(n.inv,
				enginerrors.New(kind, "dependency "+dep.inv.ID+" did not succeed", nil).
					WithContext("dependency_id", dep.inv.ID).
					WithContext("dependency_error", dep.outcome.ErrorKind),
				0, 0))
			return
		}
	}

	if res, ok := s.cachedResult(n); ok {
		s.finish(n, res)
		return
	}

	select {
	case s.queue <- n:
	case <-n.ctx.Done():
		s.finish(n, core.FailureResult(n.inv,
			enginerrors.New(enginerrors.KindCancelled, "cancelled before execution", n.ctx.Err()),
			0, 0))
	case <-s.stop:
		s.finish(n, core.FailureResult(n.inv,
			enginerrors.New(enginerrors.KindCancelled, "scheduler shut down", nil),
			0, 0))
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case n := <-s.queue:
			s.execute(n)
		case <-s.stop:
			return
		}
	}
}

// execute runs one invocation: admission, then the sandbox under timeout,
// retried per the tool's policy. The admission lease is held across retries.
func (s *Scheduler) execute(n *node) {
	start := time.Now()

	if wait := s.admit.WaitEstimate(n.inv.ToolName); wait > 0 {
		s.logger.Debug("admission backlog",
			slog.String("invocation_id", n.inv.ID),
			slog.String("tool", n.inv.ToolName),
			slog.Duration("estimated_wait", wait))
	}
	lease, err := s.admit.Acquire(n.ctx, n.inv.ToolName)
	if err != nil {
		s.finish(n, core.FailureResult(n.inv, err, 0, time.Since(start)))
		return
	}
	defer lease.Release()

	n.inv.State = core.StateAdmitted
	n.inv.AdmittedAt = time.Now().UTC()

	timeout := n.def.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	policy := n.def.RetryPolicy
	retry := resilience.RetryConfig{
		MaxAttempts: policy.MaxAttempts,
		BackoffBase: policy.BackoffBase,
		MaxDelay:    s.cfg.MaxBackoffDelay,
		Jitter:      0.1,
		Retryable:   policy.Retryable,
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	if retry.BackoffBase <= 0 {
		retry.BackoffBase = 100 * time.Millisecond
	}

	var value any
	attempts, err := retry.Do(n.ctx, func(attempt int) error {
		n.inv.State = core.StateRunning
		n.inv.Attempts = attempt
		v, execErr := resilience.WithTimeout(n.ctx, timeout, s.cfg.GracePeriod,
			func(ctx context.Context) (any, error) {
				return s.box.Execute(ctx, n.def.Handler, n.inv.Parameters, n.def.Limits)
			})
		execErr = classify(execErr)
		s.admit.RecordOutcome(n.inv.ToolName, execErr == nil)
		if execErr != nil {
			s.logger.Debug("attempt failed",
				slog.String("invocation_id", n.inv.ID),
				slog.String("tool", n.inv.ToolName),
				slog.Int("attempt", attempt),
				slog.String("error", execErr.Error()))
			return execErr
		}
		value = v
		return nil
	})

	elapsed := time.Since(start)
	if err != nil {
		s.finish(n, core.FailureResult(n.inv, err, attempts, elapsed))
		return
	}

	res := core.SuccessResult(n.inv, value, attempts, elapsed)
	s.storeResult(n, res)
	s.finish(n, res)
}

// classify maps untyped context errors from handlers that return ctx.Err()
// directly onto the engine's error kinds. Typed errors pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if _, typed := err.(*enginerrors.EngineError); typed {
		return err
	}
	switch {
	case stderrors.Is(err, context.Canceled):
		return enginerrors.New(enginerrors.KindCancelled, "execution cancelled", err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return enginerrors.New(enginerrors.KindSandboxTimeout, "execution exceeded timeout", err)
	}
	return err
}

// cachedResult serves an idempotent invocation from the cache when possible.
func (s *Scheduler) cachedResult(n *node) (core.Result, bool) {
	if s.cache == nil || n.def.CacheTTL <= 0 {
		return core.Result{}, false
	}
	if !n.def.Idempotent && !n.inv.Idempotent {
		return core.Result{}, false
	}
	hit, ok := s.cache.Get(results.Fingerprint(n.inv.ToolName, n.inv.Parameters))
	if !ok {
		return core.Result{}, false
	}
	hit.InvocationID = n.inv.ID
	hit.Cached = true
	hit.Attempts = 0
	hit.Duration = 0
	return hit, true
}

func (s *Scheduler) storeResult(n *node, res core.Result) {
	if s.cache == nil || n.def.CacheTTL <= 0 {
		return
	}
	if !n.def.Idempotent && !n.inv.Idempotent {
		return
	}
	s.cache.Put(results.Fingerprint(n.inv.ToolName, n.inv.Parameters), res, n.def.CacheTTL)
}

// finish records the terminal outcome exactly once and releases dependents.
func (s *Scheduler) finish(n *node, res core.Result) {
	select {
	case <-n.done:
		return // already finished
	default:
	}
	n.outcome = res
	n.inv.State = core.StateCompleted
	close(n.done)
	n.cancel()

	s.mu.Lock()
	delete(s.nodes, n.inv.ID)
	s.mu.Unlock()

	s.agg.Complete(n.inv.BatchID, res)
}
