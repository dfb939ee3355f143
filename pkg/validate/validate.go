// SPDX-License-Identifier: Apache-2.0
// Package validate checks invocation parameters against a tool's schema and
// safety policy before execution.
//
// Validation is a pure function of the tool definition and the input: it has
// no side effects and collects every violation instead of failing fast, so
// the caller receives a complete error report in one pass. The schema is
// closed; parameter names not declared by the tool are rejected outright.
package validate

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/windlass-io/windlass/pkg/errors"
	"github.com/windlass-io/windlass/pkg/registry"
)

// FieldError describes one validation violation.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Error implements the error interface.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Errors aggregates all violations for one invocation.
type Errors []FieldError

// Error implements the error interface.
func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AsEngineError converts the violation list into a typed engine error.
func (e Errors) AsEngineError() *errors.EngineError {
	return errors.New(errors.KindValidationFailed, e.Error(), nil).
		WithContext("violations", []FieldError(e))
}

// regex entries in a deny list are prefixed to distinguish them from
// plain substrings.
const regexPrefix = "re:"

var (
	patternMu    sync.Mutex
	patternCache = map[string]*regexp.Regexp{}
)

func compilePattern(pattern string) (*regexp.Regexp, error) {
	patternMu.Lock()
	defer patternMu.Unlock()
	if re, ok := patternCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache[pattern] = re
	return re, nil
}

// Validate checks params against the tool's schema and safety policy and
// returns the coerced parameter map on success, or every violation found.
// Never partial success: on any violation the coerced map is nil.
func Validate(def registry.ToolDefinition, params map[string]any) (map[string]any, Errors) {
	var violations Errors
	coerced := make(map[string]any, len(params))

	declared := make(map[string]registry.ParameterSpec, len(def.ParameterSchema))
	for _, spec := range def.ParameterSchema {
		declared[spec.Name] = spec
	}

	// Closed schema: reject undeclared names first, in stable order.
	unknown := make([]string, 0)
	for name := range params {
		if _, ok := declared[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		violations = append(violations, FieldError{Field: name, Reason: "parameter not declared in schema"})
	}

	for _, spec := range def.ParameterSchema {
		raw, present := params[spec.Name]
		if !present {
			if spec.Required {
				violations = append(violations, FieldError{Field: spec.Name, Reason: "required parameter missing"})
			}
			continue
		}

		value, err := coerce(spec.Type, raw)
		if err != nil {
			violations = append(violations, FieldError{Field: spec.Name, Reason: err.Error()})
			continue
		}

		violations = append(violations, checkConstraints(spec, value)...)
		violations = append(violations, checkAllow(def.SafetyPolicy, spec.Name, value)...)
		coerced[spec.Name] = value
	}

	// Denylist runs over every string value in the (possibly nested) input,
	// including values that individually passed their constraints.
	violations = append(violations, checkDeny(def.SafetyPolicy, params)...)

	if len(violations) > 0 {
		return nil, violations
	}
	return coerced, nil
}

// coerce converts raw to the declared type, or reports why it cannot.
func coerce(t registry.ParamType, raw any) (any, error) {
	switch t {
	case registry.TypeString, "":
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		return s, nil

	case registry.TypeNumber:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to number", v)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("expected number, got %T", raw)
		}

	case registry.TypeInteger:
		switch v := raw.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("expected integer, got fractional %v", v)
			}
			return int64(v), nil
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to integer", v)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", raw)
		}

	case registry.TypeBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to boolean", v)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("expected boolean, got %T", raw)
		}

	case registry.TypeObject:
		if m, ok := raw.(map[string]any); ok {
			return m, nil
		}
		return nil, fmt.Errorf("expected object, got %T", raw)

	case registry.TypeArray:
		if a, ok := raw.([]any); ok {
			return a, nil
		}
		return nil, fmt.Errorf("expected array, got %T", raw)

	default:
		return nil, fmt.Errorf("unsupported parameter type %q", t)
	}
}

func checkConstraints(spec registry.ParameterSpec, value any) Errors {
	var out Errors
	c := spec.Constraints

	if s, ok := value.(string); ok {
		if c.MaxLength > 0 && len(s) > c.MaxLength {
			out = append(out, FieldError{
				Field:  spec.Name,
				Reason: fmt.Sprintf("length %d exceeds maximum %d", len(s), c.MaxLength),
			})
		}
		if c.Pattern != "" {
			re, err := compilePattern(c.Pattern)
			if err != nil {
				out = append(out, FieldError{Field: spec.Name, Reason: "invalid pattern in schema: " + err.Error()})
			} else if !re.MatchString(s) {
				out = append(out, FieldError{Field: spec.Name, Reason: fmt.Sprintf("value does not match pattern %q", c.Pattern)})
			}
		}
	}

	if len(c.Enum) > 0 {
		sv := stringify(value)
		found := false
		for _, allowed := range c.Enum {
			if sv == allowed {
				found = true
				break
			}
		}
		if !found {
			out = append(out, FieldError{
				Field:  spec.Name,
				Reason: fmt.Sprintf("value %q not in allowed set %v", sv, c.Enum),
			})
		}
	}

	return out
}

func checkAllow(policy registry.SafetyPolicy, name string, value any) Errors {
	allowed, ok := policy.Allow[name]
	if !ok || len(allowed) == 0 {
		return nil
	}
	sv := stringify(value)
	for _, a := range allowed {
		if sv == a {
			return nil
		}
	}
	return Errors{{
		Field:  name,
		Reason: fmt.Sprintf("value %q not permitted by safety policy", sv),
	}}
}

// checkDeny matches the policy denylist against every string value found by
// walking the raw input, including nested objects and arrays. Entries match
// case-insensitively as substrings, or as regular expressions when prefixed
// with "re:". Defense in depth only; see SafetyPolicy.
func checkDeny(policy registry.SafetyPolicy, params map[string]any) Errors {
	if len(policy.Deny) == 0 {
		return nil
	}

	var out Errors
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		walkStrings(params[key], func(s string) {
			lower := strings.ToLower(s)
			for _, entry := range policy.Deny {
				if pattern, ok := strings.CutPrefix(entry, regexPrefix); ok {
					re, err := compilePattern("(?i)" + pattern)
					if err != nil {
						out = append(out, FieldError{Field: key, Reason: "invalid deny pattern: " + err.Error()})
						continue
					}
					if re.MatchString(s) {
						out = append(out, FieldError{
							Field:  key,
							Reason: fmt.Sprintf("value matches denied pattern %q", pattern),
						})
					}
				} else if strings.Contains(lower, strings.ToLower(entry)) {
					out = append(out, FieldError{
						Field:  key,
						Reason: fmt.Sprintf("value contains denied term %q", entry),
					})
				}
			}
		})
	}
	return out
}

func walkStrings(value any, visit func(string)) {
	switch v := value.(type) {
	case string:
		visit(v)
	case []any:
		for _, item := range v {
			walkStrings(item, visit)
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkStrings(v[k], visit)
		}
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
