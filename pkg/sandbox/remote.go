// SPDX-License-Identifier: Apache-2.0
package sandbox

import (
	"context"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/windlass-io/windlass/pkg/core"
	"github.com/windlass-io/windlass/pkg/errors"
)

// ToolCaller abstracts MCP tool execution on a remote server.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	Close() error
}

func (l *Local) runRemote(ctx context.Context, ref core.HandlerRef, params map[string]any) (any, error) {
	caller, ok := l.servers[ref.Server]
	if !ok {
		return nil, errors.New(errors.KindInternal, "remote server not configured", nil).
			WithContext("server", ref.Server)
	}

	toolName := ref.RemoteTool
	if toolName == "" {
		return nil, errors.New(errors.KindInternal, "remote handler has no tool name", nil).
			WithContext("server", ref.Server)
	}

	result, err := caller.CallTool(ctx, toolName, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.New(errors.KindSandboxTimeout, "remote call terminated by cancellation", ctx.Err()).
				WithContext("server", ref.Server)
		}
		return nil, errors.New(errors.KindHandlerError, "remote tool call failed", err).
			WithContext("server", ref.Server).
			WithContext("tool", toolName)
	}

	return resultToValue(result)
}

// resultToValue normalizes an MCP tool result into a plain value.
func resultToValue(result *mcp.CallToolResult) (any, error) {
	if result == nil {
		return nil, errors.New(errors.KindHandlerError, "remote tool returned nil result", nil)
	}
	if result.IsError {
		return nil, errors.New(errors.KindHandlerError, "remote tool returned error: "+textContent(result.Content), nil)
	}
	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	if text := textContent(result.Content); text != "" {
		return text, nil
	}
	return result, nil
}

func textContent(items []mcp.Content) string {
	if len(items) == 0 {
		return ""
	}
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// MCPCaller is a ToolCaller backed by an mcp-go client connection.
type MCPCaller struct {
	client *mcpclient.Client
}

// CallTool executes a tool on the remote server.
func (m *MCPCaller) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return m.client.CallTool(ctx, req)
}

// ListTools retrieves the tools available on the remote server.
func (m *MCPCaller) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	resp, err := m.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return resp.Tools, nil
}

// Close closes the connection.
func (m *MCPCaller) Close() error {
	return m.client.Close()
}

// DialStdio starts a subprocess MCP server and returns a caller bound to it.
func DialStdio(command string, args []string) (*MCPCaller, error) {
	c, err := mcpclient.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, err
	}
	return initCaller(c)
}

// DialStreamableHTTP connects to an MCP server over streamable HTTP.
func DialStreamableHTTP(url string) (*MCPCaller, error) {
	c, err := mcpclient.NewStreamableHttpClient(url)
	if err != nil {
		return nil, err
	}
	if err := c.Start(context.Background()); err != nil {
		return nil, err
	}
	return initCaller(c)
}

func initCaller(c *mcpclient.Client) (*MCPCaller, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "windlass",
		Version: "0.1.0",
	}
	if _, err := c.Initialize(ctx, initRequest); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &MCPCaller{client: c}, nil
}

var _ ToolCaller = (*MCPCaller)(nil)
