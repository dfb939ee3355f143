// SPDX-License-Identifier: Apache-2.0
// Package registry holds the set of known tool definitions.
//
// The registry is the leaf component of the engine: it owns ToolDefinitions
// exclusively and has no dependencies beyond the core types. Definitions are
// copied on registration and on lookup, so an in-flight invocation keeps
// executing against the definition it was admitted with even if the tool is
// re-registered mid-flight.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/windlass-io/windlass/pkg/core"
	"github.com/windlass-io/windlass/pkg/errors"
)

// ErrDuplicateTool is returned when registering a name that already exists
// without the Overwrite flag.
var ErrDuplicateTool = errors.New(errors.KindValidationFailed, "tool already registered", nil)

// ParamType is the declared type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

// Constraints bound the values a parameter may take.
type Constraints struct {
	// MaxLength caps string length. 0 means unlimited.
	MaxLength int `json:"max_length,omitempty"`

	// Pattern is a regular expression the value must match.
	Pattern string `json:"pattern,omitempty"`

	// Enum restricts the value to a fixed set.
	Enum []string `json:"enum,omitempty"`
}

// ParameterSpec declares one parameter of a tool.
type ParameterSpec struct {
	Name        string      `json:"name"`
	Type        ParamType   `json:"type"`
	Required    bool        `json:"required"`
	Description string      `json:"description,omitempty"`
	Constraints Constraints `json:"constraints,omitempty"`
}

// SafetyPolicy is the defense-in-depth input filter run by the validator.
// Deny patterns are matched case-insensitively as substrings, or as regular
// expressions when prefixed with "re:". This is a weak control on its own
// (trivially bypassed through encoding or nesting) and must not be the only
// boundary in front of a sensitive handler.
type SafetyPolicy struct {
	Deny []string `json:"deny,omitempty"`

	// Allow restricts named parameters to fixed value sets, on top of any
	// per-parameter Enum constraint.
	Allow map[string][]string `json:"allow,omitempty"`
}

// RateLimit bounds the request rate for a tool.
type RateLimit struct {
	// PerSecond is the sustained refill rate. 0 disables rate limiting for
	// the tool; admission then depends only on the concurrency semaphore.
	PerSecond float64 `json:"per_second"`

	// Burst is the bucket capacity.
	Burst int `json:"burst"`
}

// RetryPolicy controls retries of failed executions.
type RetryPolicy struct {
	// MaxAttempts is the total number of execution attempts (>= 1).
	MaxAttempts int `json:"max_attempts"`

	// BackoffBase is the delay before the second attempt; subsequent delays
	// double, with up to 10% random jitter added.
	BackoffBase time.Duration `json:"backoff_base"`

	// RetryableKinds lists the error kinds that trigger a retry. When empty,
	// the per-error retryable flag decides.
	RetryableKinds []errors.Kind `json:"retryable_kinds,omitempty"`
}

// Retryable reports whether the policy retries the given error.
func (p RetryPolicy) Retryable(err error) bool {
	if len(p.RetryableKinds) == 0 {
		return errors.IsRetryable(err)
	}
	kind := errors.KindOf(err)
	for _, k := range p.RetryableKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ToolDefinition is the static description of a capability. Immutable once
// registered; updates go through Register with Overwrite set.
type ToolDefinition struct {
	Name            string
	Description     string
	ParameterSchema []ParameterSpec
	SafetyPolicy    SafetyPolicy

	// ConcurrencyLimit caps simultaneous executions of this tool.
	// 0 means unbounded, subject to the engine's global cap.
	ConcurrencyLimit int

	RateLimit   RateLimit
	Timeout     time.Duration
	RetryPolicy RetryPolicy

	// Idempotent marks results as cacheable; CacheTTL 0 disables caching
	// even for idempotent tools.
	Idempotent bool
	CacheTTL   time.Duration

	Handler core.HandlerRef
	Limits  core.ResourceLimits
}

// ToolSummary is the discovery-facing subset of a definition. Handler
// internals are deliberately not exposed.
type ToolSummary struct {
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	ParameterSchema []ParameterSpec `json:"parameter_schema,omitempty"`
}

// Summary returns the discovery view of the definition.
func (d ToolDefinition) Summary() ToolSummary {
	return ToolSummary{
		Name:            d.Name,
		Description:     d.Description,
		ParameterSchema: append([]ParameterSpec(nil), d.ParameterSchema...),
	}
}

// clone returns a copy with its own slices and maps, so callers and in-flight
// invocations cannot observe later mutations.
func (d ToolDefinition) clone() ToolDefinition {
	out := d
	out.ParameterSchema = append([]ParameterSpec(nil), d.ParameterSchema...)
	out.SafetyPolicy.Deny = append([]string(nil), d.SafetyPolicy.Deny...)
	if d.SafetyPolicy.Allow != nil {
		out.SafetyPolicy.Allow = make(map[string][]string, len(d.SafetyPolicy.Allow))
		for k, v := range d.SafetyPolicy.Allow {
			out.SafetyPolicy.Allow[k] = append([]string(nil), v...)
		}
	}
	out.RetryPolicy.RetryableKinds = append([]errors.Kind(nil), d.RetryPolicy.RetryableKinds...)
	if d.Handler.Env != nil {
		out.Handler.Env = make(map[string]string, len(d.Handler.Env))
		for k, v := range d.Handler.Env {
			out.Handler.Env[k] = v
		}
	}
	out.Handler.Args = append([]string(nil), d.Handler.Args...)
	return out
}

// RegisterOption configures a Register call.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	overwrite bool
}

// WithOverwrite allows Register to replace an existing definition.
func WithOverwrite() RegisterOption {
	return func(o *registerOptions) { o.overwrite = true }
}

// Registry maps tool names to definitions. Safe for concurrent use.
// List returns definitions in stable insertion order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ToolDefinition
	order []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]ToolDefinition)}
}

// Register adds a tool definition. Returns ErrDuplicateTool when the name is
// taken and WithOverwrite was not given.
func (r *Registry) Register(def ToolDefinition, opts ...RegisterOption) error {
	if def.Name == "" {
		return errors.New(errors.KindValidationFailed, "tool name is required", nil)
	}
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.tools[def.Name]
	if exists && !o.overwrite {
		return errors.New(errors.KindValidationFailed,
			fmt.Sprintf("tool %q already registered", def.Name), ErrDuplicateTool)
	}
	if !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = def.clone()
	return nil
}

// Unregister removes a tool by name. Idempotent: returns false when the name
// was not present, never an error.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; !ok {
		return false
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Lookup returns a copy of the definition for name.
func (r *Registry) Lookup(name string) (ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tools[name]
	if !ok {
		return ToolDefinition{}, false
	}
	return def.clone(), true
}

// List returns copies of all definitions in insertion order.
func (r *Registry) List() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].clone())
	}
	return out
}

// Summaries returns the discovery view of all definitions in insertion order.
func (r *Registry) Summaries() []ToolSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ToolSummary, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Summary())
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
