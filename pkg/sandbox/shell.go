// SPDX-License-Identifier: Apache-2.0
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/windlass-io/windlass/pkg/core"
	"github.com/windlass-io/windlass/pkg/errors"
)

const defaultMaxOutputBytes = 1 << 20 // 1 MiB

// killDelay is how long after context cancellation the child process gets
// before being killed outright (exec.Cmd.WaitDelay).
const killDelay = time.Second

// capWriter stops accepting bytes once the cap is reached. The process keeps
// running; only its captured output is bounded.
type capWriter struct {
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func (w *capWriter) Write(p []byte) (int, error) {
	remaining := w.limit - int64(w.buf.Len())
	if remaining <= 0 {
		w.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		w.truncated = true
		_, _ = w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}

// runShell executes the handler command with the invocation parameters as a
// JSON document on stdin. The environment contains only the handler's
// declared variables plus PATH; ambient network access is not restricted at
// this layer beyond what the host provides.
func (l *Local) runShell(ctx context.Context, ref core.HandlerRef, params map[string]any, limits core.ResourceLimits) (any, error) {
	if ref.Command == "" {
		return nil, errors.New(errors.KindInternal, "shell handler has no command", nil)
	}

	input, err := json.Marshal(params)
	if err != nil {
		return nil, errors.New(errors.KindInternal, "cannot encode parameters", err)
	}

	maxOut := limits.MaxOutputBytes
	if maxOut <= 0 {
		maxOut = defaultMaxOutputBytes
	}

	cmd := exec.CommandContext(ctx, ref.Command, ref.Args...)
	cmd.Stdin = bytes.NewReader(input)
	stdout := &capWriter{limit: maxOut}
	stderr := &capWriter{limit: maxOut}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = killDelay

	// Scrubbed environment: the handler sees only what it declared.
	env := []string{"PATH=/usr/local/bin:/usr/bin:/bin"}
	for k, v := range ref.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env
	cmd.Cancel = func() error {
		return cmd.Process.Kill()
	}

	runErr := cmd.Run()

	if ctx.Err() != nil {
		return nil, errors.New(errors.KindSandboxTimeout, "command terminated by cancellation", ctx.Err()).
			WithContext("command", ref.Command)
	}
	if runErr != nil {
		msg := strings.TrimSpace(stderr.buf.String())
		if msg == "" {
			msg = runErr.Error()
		}
		return nil, errors.New(errors.KindHandlerError, "command failed", runErr).
			WithContext("command", ref.Command).
			WithContext("stderr", msg)
	}

	l.logger.Debug("sandbox.shell.complete",
		slog.String("command", ref.Command),
		slog.Bool("truncated", stdout.truncated),
	)

	out := strings.TrimRight(stdout.buf.String(), "\n")

	// A handler that emits JSON gets its structure preserved.
	trimmed := strings.TrimSpace(out)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return decoded, nil
		}
	}
	return out, nil
}
