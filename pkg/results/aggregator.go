// SPDX-License-Identifier: Apache-2.0
package results

import (
	"context"
	"log/slog"
	"sync"

	enginerrors "github.com/windlass-io/windlass/pkg/errors"

	"github.com/windlass-io/windlass/pkg/core"
)

// Aggregator collects results per batch and hands them back in submission
// order. One aggregator serves the whole engine; batches are independent.
type Aggregator struct {
	mu       sync.Mutex
	batches  map[string]*batchState
	logger   *slog.Logger
	observer func(batchID string, res core.Result)
}

type batchState struct {
	order   []string // invocation IDs in submission order
	results map[string]core.Result
	done    chan struct{}
}

// NewAggregator creates an empty aggregator.
func NewAggregator(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		batches: make(map[string]*batchState),
		logger:  logger,
	}
}

// SetObserver registers a callback invoked once per terminal result, after
// it is recorded. Set it before the first batch is submitted.
func (a *Aggregator) SetObserver(fn func(batchID string, res core.Result)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observer = fn
}

// StartBatch registers a batch and the submission order of its invocations.
// It must be called before any Complete for that batch.
func (a *Aggregator) StartBatch(batchID string, invocationIDs []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	order := make([]string, len(invocationIDs))
	copy(order, invocationIDs)
	a.batches[batchID] = &batchState{
		order:   order,
		results: make(map[string]core.Result, len(order)),
		done:    make(chan struct{}),
	}
}

// Complete records the terminal result for one invocation. When the last
// invocation of a batch completes, waiters are released.
func (a *Aggregator) Complete(batchID string, res core.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.batches[batchID]
	if !ok {
		a.logger.Warn("result for unknown batch dropped",
			slog.String("batch_id", batchID),
			slog.String("invocation_id", res.InvocationID))
		return
	}
	if _, dup := b.results[res.InvocationID]; dup {
		a.logger.Warn("duplicate result ignored",
			slog.String("batch_id", batchID),
			slog.String("invocation_id", res.InvocationID))
		return
	}
	b.results[res.InvocationID] = res
	observer := a.observer
	if len(b.results) == len(b.order) {
		close(b.done)
	}
	if observer != nil {
		// Release the lock around the callback; observers may block on IO.
		a.mu.Unlock()
		observer(batchID, res)
		a.mu.Lock()
	}
}

// Wait blocks until every invocation in the batch has a terminal result, then
// returns the results in submission order. The context bounds the wait only;
// cancelling it does not cancel the batch.
func (a *Aggregator) Wait(ctx context.Context, batchID string) ([]core.Result, error) {
	a.mu.Lock()
	b, ok := a.batches[batchID]
	a.mu.Unlock()
	if !ok {
		return nil, enginerrors.New(enginerrors.KindUnknownTool, "unknown batch: "+batchID, nil)
	}

	select {
	case <-b.done:
		return a.snapshot(b), nil
	case <-ctx.Done():
		return nil, enginerrors.New(enginerrors.KindCancelled, "wait for batch cancelled", ctx.Err()).
			WithContext("batch_id", batchID)
	}
}

// Poll returns the results completed so far, in submission order, and whether
// the batch is fully complete. It never blocks.
func (a *Aggregator) Poll(batchID string) (partial []core.Result, complete bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.batches[batchID]
	if !ok {
		return nil, false, enginerrors.New(enginerrors.KindUnknownTool, "unknown batch: "+batchID, nil)
	}
	for _, id := range b.order {
		if res, done := b.results[id]; done {
			partial = append(partial, res)
		}
	}
	return partial, len(b.results) == len(b.order), nil
}

// Discard drops a batch and its results. Safe to call for unknown batches.
func (a *Aggregator) Discard(batchID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.batches, batchID)
}

func (a *Aggregator) snapshot(b *batchState) []core.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]core.Result, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.results[id])
	}
	return out
}
