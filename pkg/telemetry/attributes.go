// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for engine telemetry. These follow OpenTelemetry
// naming conventions where applicable.
const (
	AttrBatchID      = "windlass.batch.id"
	AttrBatchSize    = "windlass.batch.size"
	AttrInvocationID = "windlass.invocation.id"

	AttrToolName       = "windlass.tool.name"
	AttrToolHandler    = "windlass.tool.handler" // in_process, shell_command, remote_mcp
	AttrToolAttempts   = "windlass.tool.attempts"
	AttrToolDurationMs = "windlass.tool.duration_ms"
	AttrToolSuccess    = "windlass.tool.success"
	AttrToolCached     = "windlass.tool.cached"

	AttrErrorKind = "windlass.error.kind"

	AttrAdmissionWaitMs = "windlass.admission.wait_ms"
	AttrBreakerState    = "windlass.breaker.state" // open, half-open, closed
)

// InvocationAttributes builds the attribute set for one tool execution span.
func InvocationAttributes(batchID, invocationID, toolName, handlerKind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrBatchID, batchID),
		attribute.String(AttrInvocationID, invocationID),
		attribute.String(AttrToolName, toolName),
		attribute.String(AttrToolHandler, handlerKind),
	}
}

// OutcomeAttributes describes the outcome of one execution attempt.
func OutcomeAttributes(success bool, durationMs float64, errorKind string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Bool(AttrToolSuccess, success),
		attribute.Float64(AttrToolDurationMs, durationMs),
	}
	if errorKind != "" {
		attrs = append(attrs, attribute.String(AttrErrorKind, errorKind))
	}
	return attrs
}

// BatchAttributes describes a batch submission.
func BatchAttributes(batchID string, size int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrBatchID, batchID),
		attribute.Int(AttrBatchSize, size),
	}
}
