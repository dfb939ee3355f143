// SPDX-License-Identifier: Apache-2.0
package validate

import (
	"strings"
	"testing"

	"github.com/windlass-io/windlass/pkg/registry"
)

func queryDef() registry.ToolDefinition {
	return registry.ToolDefinition{
		Name: "query",
		ParameterSchema: []registry.ParameterSpec{
			{Name: "sql", Type: registry.TypeString, Required: true, Constraints: registry.Constraints{MaxLength: 100}},
			{Name: "limit", Type: registry.TypeInteger},
			{Name: "dialect", Type: registry.TypeString, Constraints: registry.Constraints{Enum: []string{"postgres", "sqlite"}}},
		},
		SafetyPolicy: registry.SafetyPolicy{
			Deny: []string{"drop table", "re:insert\\s+into"},
		},
	}
}

func TestValidateHappyPath(t *testing.T) {
	coerced, errs := Validate(queryDef(), map[string]any{
		"sql":   "select 1",
		"limit": float64(10),
	})
	if errs != nil {
		t.Fatalf("unexpected violations: %v", errs)
	}
	if coerced["sql"] != "select 1" {
		t.Errorf("string value lost: %v", coerced)
	}
	if coerced["limit"] != int64(10) {
		t.Errorf("expected float64 10 coerced to int64, got %T %v", coerced["limit"], coerced["limit"])
	}
}

func TestValidateClosedSchema(t *testing.T) {
	_, errs := Validate(queryDef(), map[string]any{
		"sql":       "select 1",
		"injected":  "x",
		"injected2": "y",
	})
	if len(errs) != 2 {
		t.Fatalf("expected 2 violations, got %v", errs)
	}
	for _, fe := range errs {
		if !strings.Contains(fe.Reason, "not declared") {
			t.Errorf("unexpected reason: %v", fe)
		}
	}
	// Every undeclared field must be named, never silently dropped.
	fields := map[string]bool{errs[0].Field: true, errs[1].Field: true}
	if !fields["injected"] || !fields["injected2"] {
		t.Errorf("undeclared fields not all reported: %v", errs)
	}
}

func TestValidateRequiredMissing(t *testing.T) {
	coerced, errs := Validate(queryDef(), map[string]any{})
	if coerced != nil {
		t.Errorf("expected nil map on failure")
	}
	if len(errs) != 1 || errs[0].Field != "sql" {
		t.Errorf("expected missing sql violation, got %v", errs)
	}
}

func TestValidateCollectsAllViolations(t *testing.T) {
	_, errs := Validate(queryDef(), map[string]any{
		"sql":     strings.Repeat("x", 101),
		"limit":   "not-a-number",
		"dialect": "mysql",
		"extra":   1,
	})
	if len(errs) != 4 {
		t.Fatalf("expected 4 violations collected, got %d: %v", len(errs), errs)
	}
}

func TestValidateTypeCoercion(t *testing.T) {
	def := registry.ToolDefinition{
		Name: "typed",
		ParameterSchema: []registry.ParameterSpec{
			{Name: "count", Type: registry.TypeInteger},
			{Name: "ratio", Type: registry.TypeNumber},
			{Name: "flag", Type: registry.TypeBoolean},
		},
	}

	coerced, errs := Validate(def, map[string]any{
		"count": "42",
		"ratio": "0.5",
		"flag":  "true",
	})
	if errs != nil {
		t.Fatalf("unexpected violations: %v", errs)
	}
	if coerced["count"] != int64(42) || coerced["ratio"] != 0.5 || coerced["flag"] != true {
		t.Errorf("coercion wrong: %#v", coerced)
	}

	_, errs = Validate(def, map[string]any{"count": 1.5})
	if len(errs) != 1 {
		t.Errorf("fractional value must not coerce to integer: %v", errs)
	}
}

func TestValidateDenylistCaseInsensitive(t *testing.T) {
	_, errs := Validate(queryDef(), map[string]any{"sql": "DROP TABLE users"})
	if len(errs) != 1 {
		t.Fatalf("expected denylist violation, got %v", errs)
	}
	if !strings.Contains(errs[0].Reason, "denied term") {
		t.Errorf("unexpected reason: %v", errs[0])
	}
}

func TestValidateDenylistRegex(t *testing.T) {
	_, errs := Validate(queryDef(), map[string]any{"sql": "Insert   Into t values (1)"})
	if len(errs) != 1 {
		t.Fatalf("expected regex denylist violation, got %v", errs)
	}
}

func TestValidateDenylistNestedValues(t *testing.T) {
	def := registry.ToolDefinition{
		Name: "batch",
		ParameterSchema: []registry.ParameterSpec{
			{Name: "queries", Type: registry.TypeArray},
		},
		SafetyPolicy: registry.SafetyPolicy{Deny: []string{"drop table"}},
	}
	_, errs := Validate(def, map[string]any{
		"queries": []any{"select 1", "drop table x"},
	})
	if len(errs) != 1 {
		t.Errorf("denylist must walk nested values, got %v", errs)
	}
}

func TestValidateAllowlist(t *testing.T) {
	def := registry.ToolDefinition{
		Name: "env",
		ParameterSchema: []registry.ParameterSpec{
			{Name: "target", Type: registry.TypeString},
		},
		SafetyPolicy: registry.SafetyPolicy{
			Allow: map[string][]string{"target": {"staging", "dev"}},
		},
	}

	if _, errs := Validate(def, map[string]any{"target": "staging"}); errs != nil {
		t.Errorf("allowed value rejected: %v", errs)
	}
	if _, errs := Validate(def, map[string]any{"target": "prod"}); len(errs) != 1 {
		t.Errorf("disallowed value accepted: %v", errs)
	}
}

func TestErrorsAsEngineError(t *testing.T) {
	_, errs := Validate(queryDef(), map[string]any{})
	ee := errs.AsEngineError()
	if ee.Kind != "VALIDATION_FAILED" {
		t.Errorf("expected validation kind, got %s", ee.Kind)
	}
	if ee.Retryable {
		t.Errorf("validation errors must never be retryable")
	}
}
