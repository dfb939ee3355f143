// SPDX-License-Identifier: Apache-2.0
// Package resilience provides retry, timeout and circuit breaker patterns
// for the Windlass scheduler.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/windlass-io/windlass/pkg/errors"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (must be >= 1).
	MaxAttempts int

	// BackoffBase is the delay before the second attempt. Attempt n waits
	// BackoffBase * 2^(n-1), plus jitter.
	BackoffBase time.Duration

	// MaxDelay caps the backoff delay. 0 means uncapped.
	MaxDelay time.Duration

	// Jitter is the fraction of the delay added as randomness, between 0
	// and 1. 0.1 means up to +10%.
	Jitter float64

	// Retryable decides if an error should be retried. When nil, the
	// error's own retryable flag decides.
	Retryable func(error) bool
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BackoffBase: 100 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      0.1,
	}
}

// Do executes fn up to MaxAttempts times, sleeping between attempts.
// Returns the last error if every attempt fails, and reports the number of
// attempts actually made.
func (rc RetryConfig) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	retryable := rc.Retryable
	if retryable == nil {
		retryable = errors.IsRetryable
	}

	var lastErr error
	for attempt := 1; attempt <= rc.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := rc.backoff(attempt)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt - 1, errors.New(errors.KindCancelled, "cancelled during retry backoff", ctx.Err()).
					WithContext("attempt", attempt).
					WithContext("max_attempts", rc.MaxAttempts)
			case <-timer.C:
			}
		}

		err := fn(attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if !retryable(err) {
			return attempt, err
		}
	}

	return rc.MaxAttempts, lastErr
}

// backoff computes the delay before the given attempt (attempt >= 2):
// BackoffBase * 2^(attempt-2) plus up to Jitter fraction of that value.
func (rc RetryConfig) backoff(attempt int) time.Duration {
	delay := rc.BackoffBase << (attempt - 2)
	if rc.MaxDelay > 0 && delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}
	if rc.Jitter > 0 {
		delay += time.Duration(rand.Float64() * rc.Jitter * float64(delay))
	}
	return delay
}
