// SPDX-License-Identifier: Apache-2.0
package engine

import (
	"fmt"

	"github.com/windlass-io/windlass/pkg/config"
	"github.com/windlass-io/windlass/pkg/core"
	"github.com/windlass-io/windlass/pkg/registry"
)

// DefinitionFromConfig converts a declarative tool entry into a registry
// definition. Only shell and remote handlers can be declared in config;
// in-process tools are registered programmatically.
func DefinitionFromConfig(tool config.ToolConfig) (registry.ToolDefinition, error) {
	def := registry.ToolDefinition{
		Name:             tool.Name,
		Description:      tool.Description,
		ConcurrencyLimit: tool.Concurrency,
		RateLimit: registry.RateLimit{
			PerSecond: tool.RatePerSecond,
			Burst:     tool.RateBurst,
		},
		Timeout: tool.Timeout,
		RetryPolicy: registry.RetryPolicy{
			MaxAttempts: tool.MaxAttempts,
			BackoffBase: tool.BackoffBase,
		},
		Idempotent: tool.Idempotent,
		CacheTTL:   tool.CacheTTL,
	}

	switch tool.Kind {
	case "shell_command":
		def.Handler = core.HandlerRef{
			Kind:    core.HandlerShellCommand,
			Command: tool.Command,
			Args:    tool.Args,
		}
	case "remote_mcp":
		def.Handler = core.HandlerRef{
			Kind:       core.HandlerRemoteMCP,
			Server:     tool.Server,
			RemoteTool: tool.RemoteTool,
		}
	default:
		return registry.ToolDefinition{}, fmt.Errorf("tool %s: unknown handler kind %q", tool.Name, tool.Kind)
	}

	for _, p := range tool.Parameters {
		ptype, err := paramType(p.Type)
		if err != nil {
			return registry.ToolDefinition{}, fmt.Errorf("tool %s, parameter %s: %w", tool.Name, p.Name, err)
		}
		def.ParameterSchema = append(def.ParameterSchema, registry.ParameterSpec{
			Name:     p.Name,
			Type:     ptype,
			Required: p.Required,
		})
	}
	return def, nil
}

func paramType(s string) (registry.ParamType, error) {
	switch registry.ParamType(s) {
	case registry.TypeString, registry.TypeNumber, registry.TypeInteger,
		registry.TypeBoolean, registry.TypeObject, registry.TypeArray:
		return registry.ParamType(s), nil
	case "":
		return registry.TypeString, nil
	}
	return "", fmt.Errorf("unknown parameter type %q", s)
}
