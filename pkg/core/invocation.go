// SPDX-License-Identifier: Apache-2.0
// Package core provides the shared leaf types of the Windlass engine.
package core

import (
	"time"

	"github.com/google/uuid"
)

// InvocationState describes the lifecycle state of an invocation.
type InvocationState string

const (
	StatePending   InvocationState = "pending"
	StateAdmitted  InvocationState = "admitted"
	StateRunning   InvocationState = "running"
	StateSucceeded InvocationState = "succeeded"
	StateFailed    InvocationState = "failed"
	StateTimedOut  InvocationState = "timed_out"
	StateCompleted InvocationState = "completed"
)

// Terminal reports whether the state is one a handler can no longer leave.
func (s InvocationState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateCompleted:
		return true
	}
	return false
}

// InvocationRequest is the caller-facing shape of one tool call in a batch.
type InvocationRequest struct {
	// ID is the caller-supplied call identifier. Generated when empty.
	ID string `json:"id,omitempty"`

	// ToolName references a registered tool.
	ToolName string `json:"tool_name"`

	// Parameters maps parameter names to values.
	Parameters map[string]any `json:"parameters,omitempty"`

	// DependsOn lists invocation IDs that must succeed before this one runs.
	DependsOn []string `json:"depends_on,omitempty"`

	// IdempotencyHint marks the call as safe to serve from cache even when
	// the tool definition does not declare itself idempotent.
	IdempotencyHint bool `json:"idempotency_hint,omitempty"`
}

// Invocation is one request to execute a tool, tracked by the scheduler.
// The scheduler exclusively owns state transitions.
type Invocation struct {
	ID          string
	BatchID     string
	ToolName    string
	Parameters  map[string]any
	DependsOn   []string
	Idempotent  bool
	SubmittedAt time.Time
	AdmittedAt  time.Time
	State       InvocationState
	Attempts    int
}

// NewInvocation creates a pending invocation from a request, generating an ID
// when the caller did not supply one.
func NewInvocation(batchID string, req InvocationRequest) *Invocation {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Invocation{
		ID:          id,
		BatchID:     batchID,
		ToolName:    req.ToolName,
		Parameters:  req.Parameters,
		DependsOn:   append([]string(nil), req.DependsOn...),
		Idempotent:  req.IdempotencyHint,
		SubmittedAt: time.Now().UTC(),
		State:       StatePending,
	}
}
