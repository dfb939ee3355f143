// SPDX-License-Identifier: Apache-2.0
package core

import (
	"context"
	"time"
)

// HandlerKind selects the execution backend for a tool.
type HandlerKind string

const (
	// HandlerInProcess runs a registered Go function.
	HandlerInProcess HandlerKind = "in_process"

	// HandlerShellCommand runs an external command under the sandbox.
	HandlerShellCommand HandlerKind = "shell_command"

	// HandlerRemoteMCP forwards the call to a tool on a remote MCP server.
	HandlerRemoteMCP HandlerKind = "remote_mcp"
)

// HandlerFunc is the signature of an in-process tool handler.
type HandlerFunc func(ctx context.Context, params map[string]any) (any, error)

// HandlerRef is a tagged union describing how to execute a tool. Exactly the
// fields for the declared Kind are consulted; the sandbox dispatches on Kind.
type HandlerRef struct {
	Kind HandlerKind

	// Func backs HandlerInProcess.
	Func HandlerFunc

	// Command, Args and Env back HandlerShellCommand. Parameters are passed
	// to the process as a JSON document on stdin.
	Command string
	Args    []string
	Env     map[string]string

	// Server and RemoteTool back HandlerRemoteMCP. Server is the logical
	// name of a configured MCP server; RemoteTool defaults to the local
	// tool name when empty.
	Server     string
	RemoteTool string
}

// ResourceLimits bounds handler resource usage inside the sandbox.
// Zero values mean "no explicit limit" for that dimension.
type ResourceLimits struct {
	MaxCPUTime     time.Duration
	MaxMemoryBytes int64
	MaxOpenFiles   int
	MaxOutputBytes int64

	// AllowNetwork permits ambient network access. Off by default;
	// HandlerRemoteMCP is exempt since the remote call is its whole job.
	AllowNetwork bool
}
