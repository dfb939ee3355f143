// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics tracks invocation throughput, latency and failure patterns.
type EngineMetrics struct {
	// invocationCounter counts terminal results by tool, outcome and kind
	invocationCounter metric.Int64Counter

	// durationHistogram records end-to-end invocation latency
	durationHistogram metric.Float64Histogram

	// retryCounter counts retried attempts by tool
	retryCounter metric.Int64Counter

	// cacheHitCounter counts results served from the idempotency cache
	cacheHitCounter metric.Int64Counter

	// runningGauge tracks currently executing invocations
	runningGauge metric.Int64UpDownCounter

	// breakerGauge tracks circuit state per tool (0=open, 1=half-open, 2=closed)
	breakerGauge metric.Int64Gauge
}

// NewEngineMetrics creates the engine's OTEL instruments.
func NewEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter("windlass/engine")

	invocationCounter, err := meter.Int64Counter(
		"windlass.invocations.total",
		metric.WithDescription("Terminal invocation results by tool and outcome"),
	)
	if err != nil {
		return nil, err
	}

	durationHistogram, err := meter.Float64Histogram(
		"windlass.invocations.duration_ms",
		metric.WithDescription("End-to-end invocation duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	retryCounter, err := meter.Int64Counter(
		"windlass.invocations.retries",
		metric.WithDescription("Retried execution attempts by tool"),
	)
	if err != nil {
		return nil, err
	}

	cacheHitCounter, err := meter.Int64Counter(
		"windlass.cache.hits",
		metric.WithDescription("Results served from the idempotency cache"),
	)
	if err != nil {
		return nil, err
	}

	runningGauge, err := meter.Int64UpDownCounter(
		"windlass.invocations.running",
		metric.WithDescription("Invocations currently executing"),
	)
	if err != nil {
		return nil, err
	}

	breakerGauge, err := meter.Int64Gauge(
		"windlass.breaker.state",
		metric.WithDescription("Circuit breaker state per tool (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		invocationCounter: invocationCounter,
		durationHistogram: durationHistogram,
		retryCounter:      retryCounter,
		cacheHitCounter:   cacheHitCounter,
		runningGauge:      runningGauge,
		breakerGauge:      breakerGauge,
	}, nil
}

// RecordResult records one terminal invocation outcome.
func (m *EngineMetrics) RecordResult(ctx context.Context, toolName string, success, cached bool, attempts int, duration time.Duration, errorKind string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(AttrToolName, toolName),
		attribute.Bool(AttrToolSuccess, success),
		attribute.Bool(AttrToolCached, cached),
		attribute.Int(AttrToolAttempts, attempts),
	}
	if errorKind != "" {
		attrs = append(attrs, attribute.String(AttrErrorKind, errorKind))
	}
	m.invocationCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.durationHistogram.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.String(AttrToolName, toolName)))
	if cached {
		m.cacheHitCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.String(AttrToolName, toolName)))
	}
	if attempts > 1 {
		m.retryCounter.Add(ctx, int64(attempts-1),
			metric.WithAttributes(attribute.String(AttrToolName, toolName)))
	}
}

// RecordRunning adjusts the running-invocation gauge by delta (+1 on worker
// entry, -1 on exit).
func (m *EngineMetrics) RecordRunning(ctx context.Context, toolName string, delta int64) {
	if m == nil {
		return
	}
	m.runningGauge.Add(ctx, delta,
		metric.WithAttributes(attribute.String(AttrToolName, toolName)))
}

// RecordBreakerState records a tool's circuit state.
func (m *EngineMetrics) RecordBreakerState(ctx context.Context, toolName, state string) {
	if m == nil {
		return
	}
	var value int64
	switch state {
	case "open":
		value = 0
	case "half-open":
		value = 1
	default:
		value = 2
	}
	m.breakerGauge.Record(ctx, value,
		metric.WithAttributes(attribute.String(AttrToolName, toolName)))
}
