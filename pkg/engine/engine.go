// SPDX-License-Identifier: Apache-2.0
// Package engine is the façade over the tool-execution pipeline: registry,
// validation, admission, scheduling and result aggregation behind one API.
package engine

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	enginerrors "github.com/windlass-io/windlass/pkg/errors"

	"github.com/windlass-io/windlass/pkg/admission"
	"github.com/windlass-io/windlass/pkg/config"
	"github.com/windlass-io/windlass/pkg/core"
	"github.com/windlass-io/windlass/pkg/registry"
	"github.com/windlass-io/windlass/pkg/resilience"
	"github.com/windlass-io/windlass/pkg/results"
	"github.com/windlass-io/windlass/pkg/sandbox"
	"github.com/windlass-io/windlass/pkg/scheduler"
	"github.com/windlass-io/windlass/pkg/store"
	"github.com/windlass-io/windlass/pkg/telemetry"
	"github.com/windlass-io/windlass/pkg/validate"
)

// Engine executes validated tool invocations with bounded concurrency.
// Construct one per process with New and share it between callers.
type Engine struct {
	registry *registry.Registry
	admit    *admission.Controller
	box      sandbox.Sandbox
	agg      *results.Aggregator
	sched    *scheduler.Scheduler
	audit    store.AuditStore
	metrics  *telemetry.EngineMetrics
	health   *core.HealthRegistry
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option customizes engine construction.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	sandbox sandbox.Sandbox
	cache   results.Cache
	audit   store.AuditStore
	metrics *telemetry.EngineMetrics
	servers map[string]sandbox.ToolCaller
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSandbox replaces the default local sandbox.
func WithSandbox(box sandbox.Sandbox) Option {
	return func(o *options) { o.sandbox = box }
}

// WithCache replaces the default LRU idempotency cache. Pass nil to disable
// result caching entirely.
func WithCache(cache results.Cache) Option {
	return func(o *options) { o.cache = cache }
}

// WithAuditStore persists every terminal result.
func WithAuditStore(audit store.AuditStore) Option {
	return func(o *options) { o.audit = audit }
}

// WithMetrics records invocation metrics.
func WithMetrics(metrics *telemetry.EngineMetrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithServer routes remote_mcp handlers naming this server through the
// given caller. Ignored when WithSandbox is also used.
func WithServer(name string, caller sandbox.ToolCaller) Option {
	return func(o *options) {
		if o.servers == nil {
			o.servers = make(map[string]sandbox.ToolCaller)
		}
		o.servers[name] = caller
	}
}

// New builds an engine from configuration.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	o := options{
		logger: slog.Default(),
		cache:  results.NewLRUCache(cfg.Cache.Size),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.sandbox == nil {
		sandboxOpts := []sandbox.LocalOption{sandbox.WithLogger(o.logger)}
		for name, caller := range o.servers {
			sandboxOpts = append(sandboxOpts, sandbox.WithServer(name, caller))
		}
		o.sandbox = sandbox.NewLocal(sandboxOpts...)
	}

	admit := admission.NewController(admission.Config{
		MaxConcurrent: int64(cfg.Admission.MaxConcurrent),
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Admission.BreakerThreshold,
			Cooldown:         cfg.Admission.BreakerCooldown,
		},
	})
	agg := results.NewAggregator(o.logger)
	box := newInstrumentedSandbox(o.sandbox, o.metrics)

	e := &Engine{
		registry: registry.New(),
		admit:    admit,
		box:      box,
		agg:      agg,
		audit:    o.audit,
		metrics:  o.metrics,
		health:   core.NewHealthRegistry(),
		logger:   o.logger,
		tracer:   otel.Tracer("windlass/engine"),
	}
	agg.SetObserver(e.observeResult)

	e.sched = scheduler.New(scheduler.Config{
		Workers:        cfg.Engine.Workers,
		DefaultTimeout: cfg.Engine.DefaultTimeout,
		GracePeriod:    cfg.Engine.GracePeriod,
	}, admit, box, agg, o.cache, o.logger)

	e.registerHealthChecks()

	for _, tool := range cfg.Tools {
		def, err := DefinitionFromConfig(tool)
		if err != nil {
			e.sched.Close()
			return nil, err
		}
		if err := e.RegisterTool(def); err != nil {
			e.sched.Close()
			return nil, err
		}
	}
	return e, nil
}

// RegisterTool adds a tool and provisions its admission state. Remote
// handlers with no explicit remote tool name call the tool's own name.
func (e *Engine) RegisterTool(def registry.ToolDefinition, opts ...registry.RegisterOption) error {
	if def.Handler.Kind == core.HandlerRemoteMCP && def.Handler.RemoteTool == "" {
		def.Handler.RemoteTool = def.Name
	}
	if err := e.registry.Register(def, opts...); err != nil {
		return err
	}
	e.admit.Configure(def.Name, def.RateLimit, def.ConcurrencyLimit)
	e.logger.Info("tool registered",
		slog.String("tool", def.Name),
		slog.String("handler", string(def.Handler.Kind)))
	return nil
}

// UnregisterTool removes a tool. In-flight invocations of the tool finish
// normally; new submissions are rejected as unknown.
func (e *Engine) UnregisterTool(name string) bool {
	removed := e.registry.Unregister(name)
	if removed {
		e.admit.Remove(name)
		e.logger.Info("tool unregistered", slog.String("tool", name))
	}
	return removed
}

// ListTools returns discovery summaries in registration order.
func (e *Engine) ListTools() []registry.ToolSummary {
	return e.registry.Summaries()
}

// SubmitBatch validates every invocation in the batch and schedules it. The
// batch is atomic: one unknown tool, validation failure or dependency cycle
// rejects the whole batch and nothing runs.
func (e *Engine) SubmitBatch(ctx context.Context, reqs []core.InvocationRequest) (string, error) {
	_, span := e.tracer.Start(ctx, "windlass.batch.submit")
	defer span.End()

	batchID, err := e.submitBatch(reqs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(telemetry.BatchAttributes(batchID, len(reqs))...)
	return batchID, nil
}

func (e *Engine) submitBatch(reqs []core.InvocationRequest) (string, error) {
	if len(reqs) == 0 {
		return "", enginerrors.New(enginerrors.KindValidationFailed, "empty batch", nil)
	}
	batchID := core.NewBatchID()

	tasks := make([]scheduler.Task, 0, len(reqs))
	var problems []string
	for _, req := range reqs {
		def, ok := e.registry.Lookup(req.ToolName)
		if !ok {
			return "", enginerrors.New(enginerrors.KindUnknownTool, "unknown tool: "+req.ToolName, nil).
				WithContext("tool", req.ToolName)
		}
		coerced, verrs := validate.Validate(def, req.Parameters)
		if len(verrs) > 0 {
			problems = append(problems, req.ToolName+": "+verrs.Error())
			continue
		}
		inv := core.NewInvocation(batchID, req)
		inv.Parameters = coerced
		tasks = append(tasks, scheduler.Task{Inv: inv, Def: def})
	}
	if len(problems) > 0 {
		return "", enginerrors.New(enginerrors.KindValidationFailed,
			strings.Join(problems, "; "), nil)
	}

	if err := e.sched.Submit(batchID, tasks); err != nil {
		return "", err
	}
	e.logger.Debug("batch submitted",
		slog.String("batch_id", batchID),
		slog.Int("size", len(tasks)))
	return batchID, nil
}

// Execute submits a single invocation and waits for its result.
func (e *Engine) Execute(ctx context.Context, req core.InvocationRequest) (core.Result, error) {
	batchID, err := e.SubmitBatch(ctx, []core.InvocationRequest{req})
	if err != nil {
		return core.Result{}, err
	}
	res, err := e.GetResults(ctx, batchID)
	if err != nil {
		return core.Result{}, err
	}
	return res[0], nil
}

// GetResults blocks until the batch completes and returns results in
// submission order. The context bounds the wait only.
func (e *Engine) GetResults(ctx context.Context, batchID string) ([]core.Result, error) {
	return e.agg.Wait(ctx, batchID)
}

// PollResults returns the results completed so far without blocking.
func (e *Engine) PollResults(batchID string) (partial []core.Result, complete bool, err error) {
	return e.agg.Poll(batchID)
}

// DiscardResults drops a completed batch's results from memory.
func (e *Engine) DiscardResults(batchID string) {
	e.agg.Discard(batchID)
}

// Cancel cancels one invocation by ID.
func (e *Engine) Cancel(invocationID string) bool {
	return e.sched.Cancel(invocationID)
}

// CancelBatch cancels every invocation in a batch.
func (e *Engine) CancelBatch(batchID string) {
	e.sched.CancelBatch(batchID)
}

// Health runs all registered health checks and returns the individual
// results plus the worst overall status.
func (e *Engine) Health(ctx context.Context) ([]core.HealthResult, core.HealthStatus) {
	return e.health.CheckAll(ctx)
}

// Close shuts the engine down. In-flight invocations are cancelled.
func (e *Engine) Close() error {
	e.sched.Close()
	if e.audit != nil {
		return e.audit.Close()
	}
	return nil
}

// observeResult fans terminal results out to the audit store and metrics.
func (e *Engine) observeResult(batchID string, res core.Result) {
	if e.metrics != nil {
		e.metrics.RecordResult(context.Background(), res.ToolName,
			res.Success, res.Cached, res.Attempts, res.Duration, string(res.ErrorKind))
		e.metrics.RecordBreakerState(context.Background(), res.ToolName,
			string(e.admit.BreakerState(res.ToolName)))
	}
	if e.audit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.audit.Record(ctx, batchID, res); err != nil {
			e.logger.Error("recording audit entry",
				slog.String("batch_id", batchID),
				slog.String("invocation_id", res.InvocationID),
				slog.String("error", err.Error()))
		}
	}
}

func (e *Engine) registerHealthChecks() {
	e.health.RegisterChecker("registry", core.HealthCheckerFunc(func(ctx context.Context) core.HealthResult {
		return core.HealthResult{Status: core.HealthHealthy,
			Message: "tools registered: " + strconv.Itoa(e.registry.Len())}
	}))
	e.health.RegisterChecker("admission", core.HealthCheckerFunc(func(ctx context.Context) core.HealthResult {
		open := e.admit.OpenCircuits()
		if len(open) > 0 {
			return core.HealthResult{Status: core.HealthDegraded,
				Message: "open circuits: " + strings.Join(open, ", ")}
		}
		return core.HealthResult{Status: core.HealthHealthy}
	}))
}
