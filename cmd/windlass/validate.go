// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/windlass-io/windlass/pkg/config"
	"github.com/windlass-io/windlass/pkg/engine"
	"github.com/windlass-io/windlass/pkg/sandbox"
)

type validateResult struct {
	Config  checkResult   `json:"config" yaml:"config"`
	Tools   []checkResult `json:"tools" yaml:"tools"`
	Servers []checkResult `json:"servers" yaml:"servers"`
	Audit   checkResult   `json:"audit" yaml:"audit"`
	Overall string        `json:"overall" yaml:"overall"`
}

type checkResult struct {
	Name    string `json:"name" yaml:"name"`
	Status  string `json:"status" yaml:"status"` // "ok", "warn", "error", "skip"
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

func runValidate(ctx context.Context, global globalFlags, args []string) {
	ensureNoArgs(args)

	result := validateResult{
		Tools:   []checkResult{},
		Servers: []checkResult{},
	}
	hasError := false
	hasWarn := false

	cfg, err := config.Load(global.ConfigPath)
	if err != nil {
		result.Config = checkResult{
			Name:    "config",
			Status:  "error",
			Message: fmt.Sprintf("failed to load: %v", err),
		}
		hasError = true
	} else {
		result.Config = checkResult{Name: "config", Status: "ok"}
	}

	if cfg != nil {
		result.Tools = validateTools(cfg)
		result.Servers = validateServers(ctx, cfg, global.Timeout)
		result.Audit = validateAudit(cfg)
	} else {
		result.Audit = checkResult{Name: "audit", Status: "skip", Message: "config not loaded"}
	}

	for _, checks := range [][]checkResult{result.Tools, result.Servers, {result.Audit}} {
		for _, r := range checks {
			switch r.Status {
			case "error":
				hasError = true
			case "warn":
				hasWarn = true
			}
		}
	}

	switch {
	case hasError:
		result.Overall = "error"
	case hasWarn:
		result.Overall = "warn"
	default:
		result.Overall = "ok"
	}

	switch {
	case global.JSON:
		printJSON(result)
	case global.YAML:
		printYAML(result)
	default:
		printValidateResult(result)
	}

	if hasError {
		os.Exit(1)
	}
}

func validateTools(cfg *config.Config) []checkResult {
	results := make([]checkResult, 0, len(cfg.Tools))
	for _, tool := range cfg.Tools {
		name := fmt.Sprintf("tool:%s", tool.Name)

		def, err := engine.DefinitionFromConfig(tool)
		if err != nil {
			results = append(results, checkResult{Name: name, Status: "error", Message: err.Error()})
			continue
		}

		if tool.Kind == "shell_command" {
			if _, err := exec.LookPath(tool.Command); err != nil {
				results = append(results, checkResult{
					Name:    name,
					Status:  "warn",
					Message: fmt.Sprintf("command %q not found on PATH", tool.Command),
				})
				continue
			}
		}

		if def.RateLimit.PerSecond == 0 && def.ConcurrencyLimit == 0 {
			results = append(results, checkResult{
				Name:    name,
				Status:  "warn",
				Message: "no rate limit or concurrency cap configured",
			})
			continue
		}
		results = append(results, checkResult{Name: name, Status: "ok"})
	}
	return results
}

func validateServers(ctx context.Context, cfg *config.Config, timeout time.Duration) []checkResult {
	results := make([]checkResult, 0, len(cfg.Servers))
	for name, srv := range cfg.Servers {
		check := fmt.Sprintf("server:%s", name)

		switch srv.Transport {
		case "stdio":
			if _, err := exec.LookPath(srv.Command); err != nil {
				results = append(results, checkResult{
					Name:    check,
					Status:  "error",
					Message: fmt.Sprintf("command %q not found on PATH", srv.Command),
				})
				continue
			}
			results = append(results, checkResult{Name: check, Status: "ok"})

		case "streamable-http":
			parsed, err := url.Parse(srv.URL)
			if err != nil || parsed.Scheme == "" || parsed.Host == "" {
				results = append(results, checkResult{
					Name:    check,
					Status:  "error",
					Message: fmt.Sprintf("invalid url %q", srv.URL),
				})
				continue
			}
			caller, err := sandbox.DialStreamableHTTP(srv.URL)
			if err != nil {
				results = append(results, checkResult{
					Name:    check,
					Status:  "error",
					Message: fmt.Sprintf("not reachable: %v", err),
				})
				continue
			}
			listCtx, cancel := context.WithTimeout(ctx, timeout)
			tools, err := caller.ListTools(listCtx)
			cancel()
			_ = caller.Close()
			if err != nil {
				results = append(results, checkResult{
					Name:    check,
					Status:  "error",
					Message: fmt.Sprintf("list tools failed: %v", err),
				})
				continue
			}
			results = append(results, checkResult{
				Name:    check,
				Status:  "ok",
				Message: fmt.Sprintf("%d tool(s) exported", len(tools)),
			})

		default:
			results = append(results, checkResult{
				Name:    check,
				Status:  "error",
				Message: fmt.Sprintf("unknown transport %q", srv.Transport),
			})
		}
	}
	return results
}

func validateAudit(cfg *config.Config) checkResult {
	if !cfg.Audit.Enabled {
		return checkResult{Name: "audit", Status: "skip", Message: "disabled"}
	}
	if cfg.Audit.Path == "" {
		return checkResult{Name: "audit", Status: "error", Message: "enabled but no path set"}
	}
	if cfg.Audit.Path == ":memory:" {
		return checkResult{Name: "audit", Status: "warn", Message: "in-memory store, records lost on restart"}
	}
	dir := filepath.Dir(cfg.Audit.Path)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return checkResult{
			Name:    "audit",
			Status:  "error",
			Message: fmt.Sprintf("directory %q does not exist", dir),
		}
	}
	return checkResult{Name: "audit", Status: "ok"}
}

func printValidateResult(result validateResult) {
	statusIcon := map[string]string{
		"ok":    "✓",
		"warn":  "⚠",
		"error": "✗",
		"skip":  "○",
	}

	fmt.Println("Windlass Configuration Validation")
	fmt.Println("=================================")
	fmt.Println()

	printCheck(statusIcon, result.Config)

	if len(result.Tools) > 0 {
		for _, r := range result.Tools {
			printCheck(statusIcon, r)
		}
	} else {
		fmt.Printf("%s tools: none configured\n", statusIcon["ok"])
	}

	if len(result.Servers) > 0 {
		for _, r := range result.Servers {
			printCheck(statusIcon, r)
		}
	} else {
		fmt.Printf("%s servers: none configured\n", statusIcon["ok"])
	}

	printCheck(statusIcon, result.Audit)

	fmt.Println()
	switch result.Overall {
	case "ok":
		fmt.Println("✓ All checks passed")
	case "warn":
		fmt.Println("⚠ Validation completed with warnings")
	case "error":
		fmt.Println("✗ Validation failed")
	}
}

func printCheck(icons map[string]string, r checkResult) {
	if r.Message != "" {
		fmt.Printf("%s %s: %s\n", icons[r.Status], r.Name, r.Message)
		return
	}
	fmt.Printf("%s %s\n", icons[r.Status], r.Name)
}

func printYAML(value any) {
	payload, err := yaml.Marshal(value)
	if err != nil {
		fatal(err)
	}
	fmt.Print(string(payload))
}
