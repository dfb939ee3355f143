// SPDX-License-Identifier: Apache-2.0

// Command windlass runs the tool-execution engine as an MCP server, and
// offers a handful of operator commands for inspecting and validating a
// deployment.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/windlass-io/windlass/pkg/config"
	"github.com/windlass-io/windlass/pkg/core"
	"github.com/windlass-io/windlass/pkg/engine"
	"github.com/windlass-io/windlass/pkg/mcpserver"
	"github.com/windlass-io/windlass/pkg/registry"
	"github.com/windlass-io/windlass/pkg/sandbox"
	"github.com/windlass-io/windlass/pkg/store"
	"github.com/windlass-io/windlass/pkg/telemetry"
)

const (
	serverName    = "windlass"
	serverVersion = "0.1.0"
)

type globalFlags struct {
	ConfigPath string
	Timeout    time.Duration
	JSON       bool
	YAML       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	switch cmd := args[0]; cmd {
	case "serve":
		runServe(ctx, global, args[1:])
	case "run":
		runTool(ctx, global, args[1:])
	case "tools":
		runTools(global, args[1:])
	case "validate":
		runValidate(ctx, global, args[1:])
	case "help":
		printUsage()
	case "version":
		fmt.Println(serverVersion)
	default:
		fatal(fmt.Errorf("unknown command %q", cmd))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	flags := globalFlags{
		ConfigPath: os.Getenv("WINDLASS_CONFIG"),
		Timeout:    30 * time.Second,
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--yaml":
			flags.YAML = true
		case arg == "--config":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --config")
			}
			flags.ConfigPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			flags.ConfigPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--timeout":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --timeout")
			}
			value, err := time.ParseDuration(args[i+1])
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
			i++
		case strings.HasPrefix(arg, "--timeout="):
			value, err := time.ParseDuration(strings.TrimPrefix(arg, "--timeout="))
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func runServe(ctx context.Context, global globalFlags, args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	transport := fs.String("transport", "stdio", "transport to serve on (stdio, http)")
	addr := fs.String("addr", ":8420", "listen address for http transport")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	ensureNoArgs(fs.Args())

	var watchPaths []string
	if global.ConfigPath != "" {
		watchPaths = []string{global.ConfigPath}
	}
	watcher, err := config.NewWatcher(watchPaths)
	if err != nil {
		fatal(err)
	}
	cfg := watcher.Config()

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	if cfg.Telemetry.Enabled {
		name := cfg.Telemetry.ServiceName
		if name == "" {
			name = serverName
		}
		shutdown, err := telemetry.InitWithConfig(name, serverVersion, telemetry.Config{
			Exporter:     cfg.Telemetry.Exporter,
			OTLPEndpoint: cfg.Telemetry.Endpoint,
		})
		if err != nil {
			fatal(err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	opts := []engine.Option{engine.WithLogger(logger)}

	if cfg.Telemetry.Enabled {
		metrics, err := telemetry.NewEngineMetrics()
		if err != nil {
			fatal(err)
		}
		opts = append(opts, engine.WithMetrics(metrics))
	}

	if cfg.Audit.Enabled {
		audit, err := store.Open(cfg.Audit.Path)
		if err != nil {
			fatal(fmt.Errorf("open audit store: %w", err))
		}
		defer audit.Close()
		opts = append(opts, engine.WithAuditStore(audit))
	}

	callers, err := dialServers(cfg)
	if err != nil {
		fatal(err)
	}
	defer closeCallers(callers)
	for name, caller := range callers {
		opts = append(opts, engine.WithServer(name, caller))
	}

	eng, err := engine.New(cfg, opts...)
	if err != nil {
		fatal(err)
	}
	defer eng.Close()

	srv := mcpserver.New(eng, serverName, serverVersion, logger)

	if global.ConfigPath != "" {
		watcher.OnChange(func(next *config.Config) {
			applyToolConfig(logger, eng, srv, next)
		})
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	switch *transport {
	case "stdio":
		logger.Info("serving over stdio")
		if err := srv.ServeStdio(); err != nil && !errors.Is(err, context.Canceled) {
			fatal(err)
		}
	case "http":
		logger.Info("serving over streamable http", "addr", *addr)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ServeHTTP(*addr) }()
		select {
		case err := <-errCh:
			if err != nil {
				fatal(err)
			}
		case <-ctx.Done():
			logger.Info("shutting down")
		}
	default:
		fatal(fmt.Errorf("unknown transport %q", *transport))
	}
}

// applyToolConfig re-registers every declared tool from a reloaded config and
// re-exports the registry over MCP. New tools appear and existing definitions
// pick up changed limits; tools removed from the file stay registered until
// restart.
func applyToolConfig(logger *slog.Logger, eng *engine.Engine, srv *mcpserver.Server, cfg *config.Config) {
	for _, tool := range cfg.Tools {
		def, err := engine.DefinitionFromConfig(tool)
		if err != nil {
			logger.Error("skipping reloaded tool", "tool", tool.Name, "error", err)
			continue
		}
		if err := eng.RegisterTool(def, registry.WithOverwrite()); err != nil {
			logger.Error("re-registering reloaded tool", "tool", tool.Name, "error", err)
		}
	}
	srv.Sync()
}

func runTool(ctx context.Context, global globalFlags, args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var params paramFlags
	fs.Var(&params, "param", "tool parameter as key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	if fs.NArg() != 1 {
		fatal(errors.New("usage: windlass run [--param key=value ...] <tool>"))
	}
	toolName := fs.Arg(0)

	cfg, err := config.Load(global.ConfigPath)
	if err != nil {
		fatal(err)
	}
	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	callers, err := dialServers(cfg)
	if err != nil {
		fatal(err)
	}
	defer closeCallers(callers)

	opts := []engine.Option{engine.WithLogger(logger)}
	for name, caller := range callers {
		opts = append(opts, engine.WithServer(name, caller))
	}
	eng, err := engine.New(cfg, opts...)
	if err != nil {
		fatal(err)
	}
	defer eng.Close()

	runCtx, cancel := context.WithTimeout(ctx, global.Timeout)
	defer cancel()

	res, err := eng.Execute(runCtx, core.InvocationRequest{
		ToolName:   toolName,
		Parameters: params.values,
	})
	if err != nil {
		fatal(err)
	}

	if global.JSON {
		printJSON(res)
	} else {
		printResult(res)
	}
	if !res.Success {
		os.Exit(1)
	}
}

func runTools(global globalFlags, args []string) {
	if len(args) == 0 || args[0] != "list" {
		fatal(errors.New("usage: windlass tools list"))
	}
	ensureNoArgs(args[1:])

	cfg, err := config.Load(global.ConfigPath)
	if err != nil {
		fatal(err)
	}

	defs := make([]toolListing, 0, len(cfg.Tools))
	for _, tool := range cfg.Tools {
		def, err := engine.DefinitionFromConfig(tool)
		if err != nil {
			fatal(err)
		}
		defs = append(defs, toolListing{
			Name:        def.Name,
			Kind:        tool.Kind,
			Description: def.Description,
			Parameters:  len(def.ParameterSchema),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	if global.JSON {
		printJSON(defs)
		return
	}
	if len(defs) == 0 {
		fmt.Println("no tools configured")
		return
	}
	writer := newTabWriter()
	writeRow(writer, "TOOL", "KIND", "PARAMS", "DESCRIPTION")
	for _, def := range defs {
		writeRow(writer, def.Name, def.Kind, fmt.Sprintf("%d", def.Parameters), def.Description)
	}
	_ = writer.Flush()
}

type toolListing struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	Parameters  int    `json:"parameters"`
}

func dialServers(cfg *config.Config) (map[string]sandbox.ToolCaller, error) {
	callers := make(map[string]sandbox.ToolCaller, len(cfg.Servers))
	for name, srv := range cfg.Servers {
		var caller *sandbox.MCPCaller
		var err error
		switch srv.Transport {
		case "stdio":
			caller, err = sandbox.DialStdio(srv.Command, srv.Args)
		case "streamable-http":
			caller, err = sandbox.DialStreamableHTTP(srv.URL)
		default:
			err = fmt.Errorf("unknown transport %q", srv.Transport)
		}
		if err != nil {
			closeCallers(callers)
			return nil, fmt.Errorf("server %s: %w", name, err)
		}
		callers[name] = caller
	}
	return callers, nil
}

func closeCallers(callers map[string]sandbox.ToolCaller) {
	for _, caller := range callers {
		if closer, ok := caller.(*sandbox.MCPCaller); ok {
			_ = closer.Close()
		}
	}
}

func printResult(res core.Result) {
	if res.Success {
		fmt.Printf("ok (%d attempt(s), %s)\n", res.Attempts, res.Duration.Round(time.Millisecond))
		if res.Value != nil {
			printJSON(res.Value)
		}
		return
	}
	fmt.Printf("failed: %s: %s\n", res.ErrorKind, res.ErrorMessage)
}

func printJSON(value any) {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(payload))
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
}

func writeRow(writer *tabwriter.Writer, cols ...string) {
	fmt.Fprintln(writer, strings.Join(cols, "\t"))
}

func printUsage() {
	fmt.Print(`Windlass tool-execution engine

Usage:
  windlass [global flags] <command> [args]

Global flags:
  --config <path>      Path to config file (YAML)
  --timeout <dur>      Request timeout (default 30s)
  --json               JSON output
  --yaml               YAML output (validate only)

Commands:
  serve [--transport stdio|http] [--addr :8420]
  run [--param key=value ...] <tool>
  tools list
  validate
  version
`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func ensureNoArgs(args []string) {
	if len(args) > 0 {
		fatal(fmt.Errorf("unexpected args: %v", args))
	}
}

type paramFlags struct {
	values map[string]any
}

func (p *paramFlags) String() string {
	parts := make([]string, 0, len(p.values))
	for key, value := range p.values {
		parts = append(parts, fmt.Sprintf("%s=%v", key, value))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (p *paramFlags) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("invalid --param %q, want key=value", value)
	}
	if p.values == nil {
		p.values = make(map[string]any)
	}
	p.values[key] = val
	return nil
}
