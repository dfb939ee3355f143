// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"time"

	"github.com/windlass-io/windlass/pkg/errors"
)

// WithTimeout executes fn with a wall-clock deadline. When the deadline
// elapses, control returns immediately with a KindSandboxTimeout error; the
// goroutine running fn is signalled through its context and abandoned if it
// does not yield within the grace period.
func WithTimeout(ctx context.Context, timeout, grace time.Duration, fn func(ctx context.Context) (any, error)) (any, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}

	done := make(chan outcome, 1)
	go func() {
		value, err := fn(runCtx)
		done <- outcome{value, err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-runCtx.Done():
	}

	// Deadline hit or caller cancelled: give the handler a grace period to
	// observe cancellation before abandoning it.
	if grace > 0 {
		graceTimer := time.NewTimer(grace)
		defer graceTimer.Stop()
		select {
		case out := <-done:
			return out.value, out.err
		case <-graceTimer.C:
		}
	}

	if ctx.Err() != nil && runCtx.Err() == ctx.Err() {
		return nil, errors.New(errors.KindCancelled, "execution cancelled", ctx.Err())
	}
	return nil, errors.New(errors.KindSandboxTimeout, "execution exceeded timeout", runCtx.Err()).
		WithContext("timeout", timeout.String())
}
