// SPDX-License-Identifier: Apache-2.0
package core

import (
	"context"
	"testing"
)

func TestHealthRegistryCheckAll(t *testing.T) {
	reg := NewHealthRegistry()
	reg.RegisterChecker("registry", HealthCheckerFunc(func(ctx context.Context) HealthResult {
		return HealthResult{Status: HealthHealthy}
	}))
	reg.RegisterChecker("admission", HealthCheckerFunc(func(ctx context.Context) HealthResult {
		return HealthResult{Status: HealthDegraded, Message: "circuit open for 2 tools"}
	}))

	results, overall := reg.CheckAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Component != "registry" || results[1].Component != "admission" {
		t.Errorf("results out of registration order: %+v", results)
	}
	if overall != HealthDegraded {
		t.Errorf("expected overall DEGRADED, got %s", overall)
	}
}

func TestHealthRegistryUnhealthyWins(t *testing.T) {
	reg := NewHealthRegistry()
	reg.RegisterChecker("a", HealthCheckerFunc(func(ctx context.Context) HealthResult {
		return HealthResult{Status: HealthUnhealthy}
	}))
	reg.RegisterChecker("b", HealthCheckerFunc(func(ctx context.Context) HealthResult {
		return HealthResult{Status: HealthDegraded}
	}))

	_, overall := reg.CheckAll(context.Background())
	if overall != HealthUnhealthy {
		t.Errorf("expected UNHEALTHY, got %s", overall)
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []InvocationState{StateSucceeded, StateFailed, StateTimedOut, StateCompleted} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []InvocationState{StatePending, StateAdmitted, StateRunning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestNewInvocationGeneratesID(t *testing.T) {
	inv := NewInvocation("b1", InvocationRequest{ToolName: "echo"})
	if inv.ID == "" {
		t.Errorf("expected generated id")
	}
	if inv.State != StatePending {
		t.Errorf("expected pending state, got %s", inv.State)
	}

	explicit := NewInvocation("b1", InvocationRequest{ID: "call-1", ToolName: "echo"})
	if explicit.ID != "call-1" {
		t.Errorf("caller-supplied id lost")
	}
}
