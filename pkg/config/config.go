// SPDX-License-Identifier: Apache-2.0
// Package config loads engine configuration from YAML files and the
// environment. Environment variables use the WINDLASS_ prefix and override
// file values (WINDLASS_ENGINE_WORKERS -> engine.workers).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig               `koanf:"log"`
	Engine    EngineConfig            `koanf:"engine"`
	Admission AdmissionConfig         `koanf:"admission"`
	Cache     CacheConfig             `koanf:"cache"`
	Audit     AuditConfig             `koanf:"audit"`
	Telemetry TelemetryConfig         `koanf:"telemetry"`
	Servers   map[string]ServerConfig `koanf:"servers"`
	Tools     []ToolConfig            `koanf:"tools"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type EngineConfig struct {
	// Workers sizes the scheduler pool. 0 means one per CPU.
	Workers        int           `koanf:"workers"`
	DefaultTimeout time.Duration `koanf:"default_timeout"`
	GracePeriod    time.Duration `koanf:"grace_period"`
}

type AdmissionConfig struct {
	// MaxConcurrent caps in-flight invocations engine-wide.
	MaxConcurrent int `koanf:"max_concurrent"`

	// BreakerThreshold opens a tool's circuit after this many consecutive
	// failures. 0 uses the default of 5.
	BreakerThreshold int           `koanf:"breaker_threshold"`
	BreakerCooldown  time.Duration `koanf:"breaker_cooldown"`
}

type CacheConfig struct {
	// Size is the maximum number of cached results.
	Size int `koanf:"size"`
}

type AuditConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"` // SQLite file, ":memory:" for ephemeral
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
	Exporter    string `koanf:"exporter"` // stdout, otlp-grpc
	Endpoint    string `koanf:"endpoint"`
}

// ServerConfig describes a remote MCP server tools may be routed to.
type ServerConfig struct {
	Transport string   `koanf:"transport"` // stdio, streamable-http
	Command   string   `koanf:"command"`
	Args      []string `koanf:"args"`
	URL       string   `koanf:"url"`
}

// ToolConfig declares a shell or remote tool in configuration. In-process
// tools are registered programmatically.
type ToolConfig struct {
	Name        string        `koanf:"name"`
	Description string        `koanf:"description"`
	Kind        string        `koanf:"kind"` // shell_command, remote_mcp
	Command     string        `koanf:"command"`
	Args        []string      `koanf:"args"`
	Server      string        `koanf:"server"`
	RemoteTool  string        `koanf:"remote_tool"`
	Timeout     time.Duration `koanf:"timeout"`

	RatePerSecond float64 `koanf:"rate_per_second"`
	RateBurst     int     `koanf:"rate_burst"`
	Concurrency   int     `koanf:"concurrency"`

	MaxAttempts int           `koanf:"max_attempts"`
	BackoffBase time.Duration `koanf:"backoff_base"`

	Idempotent bool          `koanf:"idempotent"`
	CacheTTL   time.Duration `koanf:"cache_ttl"`

	Parameters []ParamConfig `koanf:"parameters"`
}

type ParamConfig struct {
	Name     string `koanf:"name"`
	Type     string `koanf:"type"`
	Required bool   `koanf:"required"`
}

const envPrefix = "WINDLASS_"

// Load reads configuration from the given YAML file (optional) and the
// environment, layered over defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("engine.default_timeout", "30s")
	k.Set("engine.grace_period", "1s")
	k.Set("admission.max_concurrent", 64)
	k.Set("admission.breaker_cooldown", "30s")
	k.Set("cache.size", 256)
	k.Set("telemetry.service_name", "windlass")
	k.Set("telemetry.exporter", "stdout")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// WINDLASS_ADMISSION_MAX_CONCURRENT -> admission.max_concurrent
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, envPrefix)), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must not be negative")
	}
	if c.Admission.MaxConcurrent < 0 {
		return fmt.Errorf("admission.max_concurrent must not be negative")
	}
	seen := make(map[string]bool, len(c.Tools))
	for _, tool := range c.Tools {
		if tool.Name == "" {
			return fmt.Errorf("tool with empty name")
		}
		if seen[tool.Name] {
			return fmt.Errorf("duplicate tool name: %s", tool.Name)
		}
		seen[tool.Name] = true
		switch tool.Kind {
		case "shell_command":
			if tool.Command == "" {
				return fmt.Errorf("tool %s: shell_command needs a command", tool.Name)
			}
		case "remote_mcp":
			if tool.Server == "" {
				return fmt.Errorf("tool %s: remote_mcp needs a server", tool.Name)
			}
			if _, ok := c.Servers[tool.Server]; !ok {
				return fmt.Errorf("tool %s: unknown server %s", tool.Name, tool.Server)
			}
		default:
			return fmt.Errorf("tool %s: unknown kind %q", tool.Name, tool.Kind)
		}
	}
	for name, srv := range c.Servers {
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				return fmt.Errorf("server %s: stdio transport needs a command", name)
			}
		case "streamable-http":
			if srv.URL == "" {
				return fmt.Errorf("server %s: streamable-http transport needs a url", name)
			}
		default:
			return fmt.Errorf("server %s: unknown transport %q", name, srv.Transport)
		}
	}
	return nil
}
