// SPDX-License-Identifier: Apache-2.0
// Package sandbox executes tool handlers inside a resource-limited context.
//
// The sandbox is the only place arbitrary handler code runs. It dispatches on
// the handler kind through a single entry point and guarantees that control
// returns to the scheduler when the execution context is cancelled, even if
// the underlying process must be killed.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/windlass-io/windlass/pkg/core"
	"github.com/windlass-io/windlass/pkg/errors"
)

// Sandbox runs a tool handler with bounded resources. Implementations must
// honor ctx cancellation and must never let handler resource usage exceed
// the given limits.
type Sandbox interface {
	Execute(ctx context.Context, ref core.HandlerRef, params map[string]any, limits core.ResourceLimits) (any, error)
}

// Local is the default sandbox: in-process functions run on a goroutine,
// shell commands run as child processes with kill-on-cancel, and remote MCP
// calls go through a registered ToolCaller.
type Local struct {
	servers map[string]ToolCaller
	logger  *slog.Logger
}

// LocalOption configures the local sandbox.
type LocalOption func(*Local)

// WithServer registers an MCP server connection under a logical name for
// HandlerRemoteMCP dispatch.
func WithServer(name string, caller ToolCaller) LocalOption {
	return func(l *Local) {
		l.servers[name] = caller
	}
}

// WithLogger sets the sandbox logger.
func WithLogger(logger *slog.Logger) LocalOption {
	return func(l *Local) {
		l.logger = logger
	}
}

// NewLocal creates a local sandbox.
func NewLocal(opts ...LocalOption) *Local {
	l := &Local{
		servers: make(map[string]ToolCaller),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Execute dispatches on the handler kind.
func (l *Local) Execute(ctx context.Context, ref core.HandlerRef, params map[string]any, limits core.ResourceLimits) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.New(errors.KindCancelled, "execution cancelled before start", err)
	}

	switch ref.Kind {
	case core.HandlerInProcess:
		return l.runInProcess(ctx, ref, params)
	case core.HandlerShellCommand:
		return l.runShell(ctx, ref, params, limits)
	case core.HandlerRemoteMCP:
		return l.runRemote(ctx, ref, params)
	default:
		return nil, errors.New(errors.KindInternal,
			fmt.Sprintf("unknown handler kind %q", ref.Kind), nil)
	}
}

func (l *Local) runInProcess(ctx context.Context, ref core.HandlerRef, params map[string]any) (any, error) {
	if ref.Func == nil {
		return nil, errors.New(errors.KindInternal, "in-process handler has no function", nil)
	}

	value, err := ref.Func(ctx, params)
	if err != nil {
		if ee, ok := err.(*errors.EngineError); ok {
			return nil, ee
		}
		return nil, errors.New(errors.KindHandlerError, "handler returned error", err)
	}
	return value, nil
}

var _ Sandbox = (*Local)(nil)
