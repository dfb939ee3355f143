// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Windlass.
package errors

import (
	"encoding/json"
	"fmt"
)

// Kind classifies Windlass errors for monitoring and retry decisions.
type Kind string

const (
	// KindValidationFailed indicates invocation parameters failed schema or
	// safety-policy validation. Never retried.
	KindValidationFailed Kind = "VALIDATION_FAILED"

	// KindUnknownTool indicates the invocation references an unregistered tool.
	KindUnknownTool Kind = "UNKNOWN_TOOL"

	// KindRateLimited indicates the admission controller rejected the
	// invocation because no rate-limit token was available.
	KindRateLimited Kind = "RATE_LIMITED"

	// KindAdmissionTimeout indicates the caller's deadline elapsed while
	// waiting for admission.
	KindAdmissionTimeout Kind = "ADMISSION_TIMEOUT"

	// KindHandlerError indicates a tool handler returned an error.
	KindHandlerError Kind = "HANDLER_ERROR"

	// KindSandboxTimeout indicates an execution exceeded the tool's timeout
	// and was terminated by the sandbox.
	KindSandboxTimeout Kind = "SANDBOX_TIMEOUT"

	// KindDependencyFailed indicates an invocation was skipped because a
	// dependency reached a failed terminal state.
	KindDependencyFailed Kind = "DEPENDENCY_FAILED"

	// KindDependencyCancelled indicates an invocation was skipped because a
	// dependency was cancelled.
	KindDependencyCancelled Kind = "DEPENDENCY_CANCELLED"

	// KindCircuitOpen indicates the tool's circuit breaker refused admission.
	KindCircuitOpen Kind = "CIRCUIT_OPEN"

	// KindCancelled indicates the invocation was cancelled by the caller.
	KindCancelled Kind = "CANCELLED"

	// KindInternal indicates an internal engine error.
	KindInternal Kind = "INTERNAL_ERROR"
)

// EngineError is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type EngineError struct {
	Kind       Kind
	Message    string
	Err        error
	Context    map[string]interface{}
	Retryable  bool
	StatusCode int
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *EngineError) MarshalJSON() ([]byte, error) {
	out := struct {
		Kind      string                 `json:"kind"`
		Message   string                 `json:"message"`
		Err       string                 `json:"error,omitempty"`
		Retryable bool                   `json:"retryable"`
		Context   map[string]interface{} `json:"context,omitempty"`
	}{
		Kind:      string(e.Kind),
		Message:   e.Message,
		Retryable: e.Retryable,
		Context:   e.Context,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new EngineError with the given kind, message, and cause.
// The retryable flag and status code default from the kind.
func New(kind Kind, msg string, cause error) *EngineError {
	return &EngineError{
		Kind:       kind,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Retryable:  retryableDefault(kind),
		StatusCode: kindToStatusCode(kind),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRetryable overrides whether the error may be retried.
// Returns the error for method chaining.
func (e *EngineError) WithRetryable(retryable bool) *EngineError {
	e.Retryable = retryable
	return e
}

// AsEngineError attempts to convert an error to an EngineError.
// Returns the error as EngineError if it is one, or wraps it as a
// handler error otherwise.
func AsEngineError(err error) *EngineError {
	if err == nil {
		return nil
	}
	if ee, ok := err.(*EngineError); ok {
		return ee
	}
	return New(KindHandlerError, "handler error", err)
}

// KindOf returns the error kind, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if ee, ok := err.(*EngineError); ok {
		return ee.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the error may be retried. Untyped errors are
// treated as retryable handler failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ee, ok := err.(*EngineError); ok {
		return ee.Retryable
	}
	return true
}

// retryableDefault returns the default retryability for a kind.
// Transient admission and execution failures retry; everything that reflects
// a property of the request itself does not.
func retryableDefault(kind Kind) bool {
	switch kind {
	case KindRateLimited, KindAdmissionTimeout, KindHandlerError, KindSandboxTimeout, KindCircuitOpen:
		return true
	default:
		return false
	}
}

// kindToStatusCode maps error kinds to HTTP status codes for callers that
// expose the engine over a wire surface.
func kindToStatusCode(kind Kind) int {
	switch kind {
	case KindValidationFailed:
		return 400
	case KindUnknownTool:
		return 404
	case KindRateLimited, KindCircuitOpen:
		return 429
	case KindAdmissionTimeout, KindSandboxTimeout:
		return 408
	case KindDependencyFailed, KindDependencyCancelled:
		return 424
	case KindCancelled:
		return 499
	default:
		return 500
	}
}
