// SPDX-License-Identifier: Apache-2.0
// Package mcpserver exposes the engine's registry as an MCP server. Each
// CallTool request runs as a single-invocation batch through the engine, so
// remote callers get the same validation, admission and retry behavior as
// embedded ones.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/windlass-io/windlass/pkg/core"
	"github.com/windlass-io/windlass/pkg/engine"
	"github.com/windlass-io/windlass/pkg/registry"
)

// Server bridges the engine to MCP transports.
type Server struct {
	engine *engine.Engine
	mcp    *server.MCPServer
	logger *slog.Logger

	mu       sync.Mutex
	exported map[string]bool
}

// New creates an MCP server over the engine and exports its current tools.
func New(eng *engine.Engine, name, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:   eng,
		mcp:      server.NewMCPServer(name, version),
		logger:   logger,
		exported: make(map[string]bool),
	}
	s.Sync()
	return s
}

// Sync reconciles the MCP tool list with the engine registry. Call it after
// registering or unregistering tools.
func (s *Server) Sync() {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]bool)
	for _, summary := range s.engine.ListTools() {
		current[summary.Name] = true
		if s.exported[summary.Name] {
			continue
		}
		s.mcp.AddTool(buildTool(summary), s.callHandler(summary.Name))
		s.exported[summary.Name] = true
	}

	var stale []string
	for name := range s.exported {
		if !current[name] {
			stale = append(stale, name)
			delete(s.exported, name)
		}
	}
	if len(stale) > 0 {
		s.mcp.DeleteTools(stale...)
	}
}

// ServeStdio serves MCP over stdin/stdout. Blocks until the stream closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// ServeHTTP serves MCP over streamable HTTP on addr. Blocks.
func (s *Server) ServeHTTP(addr string) error {
	return server.NewStreamableHTTPServer(s.mcp).Start(addr)
}

// MCPServer exposes the underlying server for test harnesses.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) callHandler(toolName string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)

		res, err := s.engine.Execute(ctx, core.InvocationRequest{
			ToolName:   toolName,
			Parameters: args,
		})
		if err != nil {
			// Pre-admission rejects: unknown tool, validation, cycle.
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !res.Success {
			s.logger.Debug("tool call failed",
				slog.String("tool", toolName),
				slog.String("error_kind", string(res.ErrorKind)))
			return mcp.NewToolResultError(res.ErrorMessage), nil
		}
		return mcp.NewToolResultText(renderValue(res.Value)), nil
	}
}

// buildTool converts a registry summary into an MCP tool declaration.
func buildTool(summary registry.ToolSummary) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(summary.Description)}
	for _, p := range summary.ParameterSchema {
		var propOpts []mcp.PropertyOption
		if p.Description != "" {
			propOpts = append(propOpts, mcp.Description(p.Description))
		}
		if p.Required {
			propOpts = append(propOpts, mcp.Required())
		}
		if len(p.Constraints.Enum) > 0 {
			propOpts = append(propOpts, mcp.Enum(p.Constraints.Enum...))
		}
		switch p.Type {
		case registry.TypeNumber, registry.TypeInteger:
			opts = append(opts, mcp.WithNumber(p.Name, propOpts...))
		case registry.TypeBoolean:
			opts = append(opts, mcp.WithBoolean(p.Name, propOpts...))
		case registry.TypeObject:
			opts = append(opts, mcp.WithObject(p.Name, propOpts...))
		case registry.TypeArray:
			opts = append(opts, mcp.WithArray(p.Name, propOpts...))
		default:
			opts = append(opts, mcp.WithString(p.Name, propOpts...))
		}
	}
	return mcp.NewTool(summary.Name, opts...)
}

func renderValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
