// SPDX-License-Identifier: Apache-2.0
package core

import (
	"time"

	"github.com/windlass-io/windlass/pkg/errors"
)

// Result is the normalized outcome of one invocation. Exactly one of Value
// and the error fields is populated. Results are immutable once produced.
type Result struct {
	InvocationID string         `json:"invocation_id"`
	ToolName     string         `json:"tool_name"`
	Success      bool           `json:"success"`
	Value        any            `json:"value,omitempty"`
	ErrorKind    errors.Kind    `json:"error_kind,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Attempts     int            `json:"attempts"`
	Duration     time.Duration  `json:"duration"`
	Cached       bool           `json:"cached"`
}

// SuccessResult builds a successful result.
func SuccessResult(inv *Invocation, value any, attempts int, duration time.Duration) Result {
	return Result{
		InvocationID: inv.ID,
		ToolName:     inv.ToolName,
		Success:      true,
		Value:        value,
		Attempts:     attempts,
		Duration:     duration,
	}
}

// FailureResult builds a failed result from a terminal error.
func FailureResult(inv *Invocation, err error, attempts int, duration time.Duration) Result {
	ee := errors.AsEngineError(err)
	return Result{
		InvocationID: inv.ID,
		ToolName:     inv.ToolName,
		Success:      false,
		ErrorKind:    ee.Kind,
		ErrorMessage: ee.Error(),
		Attempts:     attempts,
		Duration:     duration,
	}
}
