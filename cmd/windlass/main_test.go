// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/windlass-io/windlass/pkg/config"
	"github.com/windlass-io/windlass/pkg/engine"
	"github.com/windlass-io/windlass/pkg/mcpserver"
)

func TestParseGlobalFlags(t *testing.T) {
	flags, args, err := parseGlobalFlags([]string{
		"--config", "windlass.yaml", "--timeout=5s", "--json", "serve", "--transport", "http",
	})
	if err != nil {
		t.Fatalf("parseGlobalFlags: %v", err)
	}
	if flags.ConfigPath != "windlass.yaml" {
		t.Errorf("expected config path %q, got %q", "windlass.yaml", flags.ConfigPath)
	}
	if flags.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %s", flags.Timeout)
	}
	if !flags.JSON {
		t.Error("expected json output to be set")
	}
	if len(args) != 3 || args[0] != "serve" {
		t.Errorf("expected command args to start at serve, got %v", args)
	}
}

func TestParseGlobalFlagsUnknown(t *testing.T) {
	if _, _, err := parseGlobalFlags([]string{"--bogus"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestParseGlobalFlagsMissingValue(t *testing.T) {
	if _, _, err := parseGlobalFlags([]string{"--config"}); err == nil {
		t.Error("expected error for --config without value")
	}
}

func TestParamFlags(t *testing.T) {
	var params paramFlags
	if err := params.Set("path=/tmp/x"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := params.Set("count=3"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if params.values["path"] != "/tmp/x" {
		t.Errorf("expected path value, got %v", params.values["path"])
	}
	if err := params.Set("no-equals"); err == nil {
		t.Error("expected error for malformed param")
	}
}

func TestValidateAudit(t *testing.T) {
	tests := []struct {
		name   string
		audit  config.AuditConfig
		status string
	}{
		{"disabled", config.AuditConfig{}, "skip"},
		{"no path", config.AuditConfig{Enabled: true}, "error"},
		{"in memory", config.AuditConfig{Enabled: true, Path: ":memory:"}, "warn"},
		{"missing dir", config.AuditConfig{Enabled: true, Path: "/no/such/dir/audit.db"}, "error"},
		{"valid", config.AuditConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "audit.db")}, "ok"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := validateAudit(&config.Config{Audit: tc.audit})
			if got.Status != tc.status {
				t.Errorf("expected status %q, got %q (%s)", tc.status, got.Status, got.Message)
			}
		})
	}
}

func TestApplyToolConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := engine.New(&config.Config{
		Tools: []config.ToolConfig{
			{Name: "alpha", Kind: "shell_command", Command: "echo"},
		},
	}, engine.WithLogger(logger))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	defer eng.Close()
	srv := mcpserver.New(eng, "test", "0.0.0", logger)

	applyToolConfig(logger, eng, srv, &config.Config{
		Tools: []config.ToolConfig{
			{Name: "alpha", Kind: "shell_command", Command: "echo", Description: "updated"},
			{Name: "beta", Kind: "shell_command", Command: "true"},
			{Name: "broken", Kind: "no_such_kind"},
		},
	})

	tools := eng.ListTools()
	byName := map[string]string{}
	for _, tool := range tools {
		byName[tool.Name] = tool.Description
	}
	if len(tools) != 2 {
		t.Fatalf("ListTools() returned %d tools, want 2: %v", len(tools), byName)
	}
	if byName["alpha"] != "updated" {
		t.Errorf("alpha description = %q, want %q", byName["alpha"], "updated")
	}
	if _, ok := byName["beta"]; !ok {
		t.Error("beta was not registered on reload")
	}
}

func TestValidateToolsShellCommand(t *testing.T) {
	cfg := &config.Config{
		Tools: []config.ToolConfig{
			{
				Name:          "list-files",
				Kind:          "shell_command",
				Command:       "ls",
				RatePerSecond: 5,
			},
			{
				Name:    "ghost",
				Kind:    "shell_command",
				Command: "definitely-not-a-real-binary-xyz",
			},
		},
	}

	results := validateTools(cfg)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Status != "ok" {
		t.Errorf("expected ls tool to be ok, got %q (%s)", results[0].Status, results[0].Message)
	}
	if results[1].Status != "warn" {
		t.Errorf("expected missing binary to warn, got %q", results[1].Status)
	}
}
