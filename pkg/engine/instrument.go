// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	stderrors "errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/windlass-io/windlass/pkg/core"
	enginerrors "github.com/windlass-io/windlass/pkg/errors"
	"github.com/windlass-io/windlass/pkg/sandbox"
	"github.com/windlass-io/windlass/pkg/telemetry"
)

// instrumentedSandbox wraps the execution boundary with a per-attempt span
// and the running-invocation gauge. The tracer comes from the global
// provider and is a no-op unless telemetry is initialized.
type instrumentedSandbox struct {
	inner   sandbox.Sandbox
	metrics *telemetry.EngineMetrics
	tracer  trace.Tracer
}

func newInstrumentedSandbox(inner sandbox.Sandbox, metrics *telemetry.EngineMetrics) *instrumentedSandbox {
	return &instrumentedSandbox{
		inner:   inner,
		metrics: metrics,
		tracer:  otel.Tracer("windlass/engine"),
	}
}

func (s *instrumentedSandbox) Execute(ctx context.Context, ref core.HandlerRef, params map[string]any, limits core.ResourceLimits) (any, error) {
	batchID, _ := core.BatchID(ctx)
	invocationID, _ := core.InvocationID(ctx)
	toolName, _ := core.ToolName(ctx)

	ctx, span := s.tracer.Start(ctx, "windlass.tool.execute", trace.WithAttributes(
		telemetry.InvocationAttributes(batchID, invocationID, toolName, string(ref.Kind))...))
	defer span.End()

	s.metrics.RecordRunning(ctx, toolName, 1)
	defer s.metrics.RecordRunning(ctx, toolName, -1)

	start := time.Now()
	value, err := s.inner.Execute(ctx, ref, params, limits)

	kind := ""
	if err != nil {
		var ee *enginerrors.EngineError
		if stderrors.As(err, &ee) {
			kind = string(ee.Kind)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(telemetry.OutcomeAttributes(err == nil,
		float64(time.Since(start).Milliseconds()), kind)...)
	return value, err
}
