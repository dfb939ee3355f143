// SPDX-License-Identifier: Apache-2.0
package registry

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/windlass-io/windlass/pkg/core"
	enginerrors "github.com/windlass-io/windlass/pkg/errors"
)

func echoDef(name string) ToolDefinition {
	return ToolDefinition{
		Name:        name,
		Description: "returns its input",
		ParameterSchema: []ParameterSpec{
			{Name: "text", Type: TypeString, Required: true},
		},
		Timeout: 5 * time.Second,
		Handler: core.HandlerRef{Kind: core.HandlerInProcess},
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	if err := r.Register(echoDef("echo")); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	err := r.Register(echoDef("echo"))
	if err == nil {
		t.Fatalf("expected duplicate error")
	}
	if !stderrors.Is(err, ErrDuplicateTool) {
		t.Errorf("expected ErrDuplicateTool, got %v", err)
	}

	if err := r.Register(echoDef("echo"), WithOverwrite()); err != nil {
		t.Errorf("overwrite register failed: %v", err)
	}
}

func TestRegisterEmptyName(t *testing.T) {
	r := New()
	if err := r.Register(ToolDefinition{}); err == nil {
		t.Errorf("expected error for empty name")
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	r := New()
	_ = r.Register(echoDef("echo"))

	if !r.Unregister("echo") {
		t.Errorf("expected true for present tool")
	}
	if r.Unregister("echo") {
		t.Errorf("expected false for absent tool")
	}
	if r.Unregister("never-existed") {
		t.Errorf("expected false for unknown tool")
	}
}

func TestListInsertionOrder(t *testing.T) {
	r := New()
	names := []string{"charlie", "alpha", "bravo"}
	for _, n := range names {
		_ = r.Register(echoDef(n))
	}

	// Overwrite must not change position.
	_ = r.Register(echoDef("alpha"), WithOverwrite())

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(list))
	}
	for i, n := range names {
		if list[i].Name != n {
			t.Errorf("position %d: expected %s, got %s", i, n, list[i].Name)
		}
	}

	// Unregister then re-register moves to the end.
	r.Unregister("charlie")
	_ = r.Register(echoDef("charlie"))
	list = r.List()
	if list[2].Name != "charlie" {
		t.Errorf("re-registered tool should append, got order %v", list)
	}
}

func TestCopyOnRegister(t *testing.T) {
	r := New()
	def := echoDef("echo")
	def.SafetyPolicy.Deny = []string{"drop table"}
	_ = r.Register(def)

	// Mutating the caller's copy must not leak into the registry.
	def.SafetyPolicy.Deny[0] = "mutated"
	def.ParameterSchema[0].Name = "mutated"

	got, ok := r.Lookup("echo")
	if !ok {
		t.Fatalf("lookup failed")
	}
	if got.SafetyPolicy.Deny[0] != "drop table" {
		t.Errorf("registry shares deny slice with caller")
	}
	if got.ParameterSchema[0].Name != "text" {
		t.Errorf("registry shares schema slice with caller")
	}

	// Mutating a looked-up copy must not change the registry either.
	got.ParameterSchema[0].Name = "other"
	again, _ := r.Lookup("echo")
	if again.ParameterSchema[0].Name != "text" {
		t.Errorf("lookup returned a shared copy")
	}
}

func TestSummariesHideHandler(t *testing.T) {
	r := New()
	def := echoDef("echo")
	def.Handler = core.HandlerRef{Kind: core.HandlerShellCommand, Command: "/bin/echo"}
	_ = r.Register(def)

	sums := r.Summaries()
	if len(sums) != 1 {
		t.Fatalf("expected 1 summary")
	}
	if sums[0].Name != "echo" || len(sums[0].ParameterSchema) != 1 {
		t.Errorf("summary missing fields: %+v", sums[0])
	}
}

func TestRetryPolicyRetryable(t *testing.T) {
	handlerErr := enginerrors.New(enginerrors.KindHandlerError, "boom", nil)
	timeoutErr := enginerrors.New(enginerrors.KindSandboxTimeout, "slow", nil)
	validationErr := enginerrors.New(enginerrors.KindValidationFailed, "bad", nil)

	p := RetryPolicy{MaxAttempts: 3}
	// With no explicit kinds the per-error flag decides.
	if !p.Retryable(handlerErr) {
		t.Errorf("handler error should be retryable by default")
	}
	if p.Retryable(validationErr) {
		t.Errorf("validation error should never retry")
	}

	p.RetryableKinds = []enginerrors.Kind{enginerrors.KindSandboxTimeout}
	if p.Retryable(handlerErr) {
		t.Errorf("handler error not in explicit kinds")
	}
	if !p.Retryable(timeoutErr) {
		t.Errorf("sandbox timeout in explicit kinds should retry")
	}
}
