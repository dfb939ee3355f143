// SPDX-License-Identifier: Apache-2.0
package mcpserver

import (
	"context"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpservergo "github.com/mark3labs/mcp-go/server"

	"github.com/windlass-io/windlass/pkg/config"
	"github.com/windlass-io/windlass/pkg/core"
	"github.com/windlass-io/windlass/pkg/engine"
	enginerrors "github.com/windlass-io/windlass/pkg/errors"
	"github.com/windlass-io/windlass/pkg/registry"
	"github.com/windlass-io/windlass/pkg/sandbox"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.New(&config.Config{})
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	err = eng.RegisterTool(registry.ToolDefinition{
		Name:        "echo",
		Description: "Echo a message back",
		ParameterSchema: []registry.ParameterSpec{
			{Name: "message", Type: registry.TypeString, Required: true},
		},
		Timeout: 2 * time.Second,
		Handler: core.HandlerRef{
			Kind: core.HandlerInProcess,
			Func: func(ctx context.Context, params map[string]any) (any, error) {
				return params["message"], nil
			},
		},
	})
	if err != nil {
		t.Fatalf("RegisterTool() error = %v", err)
	}
	return eng
}

func dialTestServer(t *testing.T, s *Server) *sandbox.MCPCaller {
	t.Helper()
	httpServer := mcpservergo.NewTestStreamableHTTPServer(s.MCPServer())
	t.Cleanup(httpServer.Close)

	caller, err := sandbox.DialStreamableHTTP(httpServer.URL)
	if err != nil {
		t.Fatalf("dialing test server: %v", err)
	}
	t.Cleanup(func() { caller.Close() })
	return caller
}

func TestCallToolRoundTrip(t *testing.T) {
	eng := newTestEngine(t)
	s := New(eng, "windlass-test", "0.0.0", nil)
	caller := dialTestServer(t, s)

	result, err := caller.CallTool(context.Background(), "echo", map[string]any{"message": "over http"})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %+v", result.Content)
	}
	text, ok := result.Content[0].(mcpgo.TextContent)
	if !ok {
		t.Fatalf("content[0] is %T, want TextContent", result.Content[0])
	}
	if text.Text != "over http" {
		t.Errorf("Text = %q, want %q", text.Text, "over http")
	}
}

func TestCallToolValidationSurfacesAsToolError(t *testing.T) {
	eng := newTestEngine(t)
	s := New(eng, "windlass-test", "0.0.0", nil)
	caller := dialTestServer(t, s)

	// missing the required "message" parameter
	result, err := caller.CallTool(context.Background(), "echo", map[string]any{})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError for invalid parameters")
	}
}

func TestCallToolHandlerFailure(t *testing.T) {
	eng := newTestEngine(t)
	err := eng.RegisterTool(registry.ToolDefinition{
		Name:    "broken",
		Timeout: time.Second,
		Handler: core.HandlerRef{
			Kind: core.HandlerInProcess,
			Func: func(ctx context.Context, params map[string]any) (any, error) {
				return nil, enginerrors.New(enginerrors.KindHandlerError, "it broke", nil)
			},
		},
	})
	if err != nil {
		t.Fatalf("RegisterTool() error = %v", err)
	}

	s := New(eng, "windlass-test", "0.0.0", nil)
	caller := dialTestServer(t, s)

	result, err := caller.CallTool(context.Background(), "broken", nil)
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError for handler failure")
	}
}

func TestSyncRemovesUnregisteredTools(t *testing.T) {
	eng := newTestEngine(t)
	s := New(eng, "windlass-test", "0.0.0", nil)

	if !s.exported["echo"] {
		t.Fatal("echo not exported after New")
	}

	eng.UnregisterTool("echo")
	s.Sync()

	if s.exported["echo"] {
		t.Error("echo still exported after unregister and Sync")
	}
}
