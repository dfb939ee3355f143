// SPDX-License-Identifier: Apache-2.0
package results

import (
	"context"
	"testing"
	"time"

	"github.com/windlass-io/windlass/pkg/core"
)

func okResult(id string, v any) core.Result {
	return core.Result{InvocationID: id, ToolName: "t", Success: true, Value: v, Attempts: 1}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("echo", map[string]any{"b": 2, "a": map[string]any{"y": 1, "x": 2}})
	b := Fingerprint("echo", map[string]any{"a": map[string]any{"x": 2, "y": 1}, "b": 2})
	if a != b {
		t.Errorf("same params hashed differently: %s vs %s", a, b)
	}
	c := Fingerprint("echo", map[string]any{"b": 3})
	if a == c {
		t.Error("different params hashed identically")
	}
	d := Fingerprint("other", map[string]any{"b": 2, "a": map[string]any{"y": 1, "x": 2}})
	if a == d {
		t.Error("different tool names hashed identically")
	}
}

func TestLRUCacheTTL(t *testing.T) {
	c := NewLRUCache(8)
	res := okResult("inv-1", "hello")

	c.Put("k", res, 50*time.Millisecond)
	got, ok := c.Get("k")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Value != "hello" {
		t.Errorf("cached value = %v, want hello", got.Value)
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expected entry to expire")
	}
}

func TestLRUCacheZeroTTLNotStored(t *testing.T) {
	c := NewLRUCache(8)
	c.Put("k", core.Result{}, 0)
	if _, ok := c.Get("k"); ok {
		t.Error("zero-TTL entry should not be stored")
	}
}

func TestAggregatorSubmissionOrder(t *testing.T) {
	agg := NewAggregator(nil)
	agg.StartBatch("b1", []string{"i1", "i2", "i3"})

	// Complete out of submission order.
	agg.Complete("b1", okResult("i3", 3))
	agg.Complete("b1", okResult("i1", 1))
	agg.Complete("b1", okResult("i2", 2))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	results, err := agg.Wait(ctx, "b1")
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, want := range []string{"i1", "i2", "i3"} {
		if results[i].InvocationID != want {
			t.Errorf("results[%d] = %s, want %s", i, results[i].InvocationID, want)
		}
	}
}

func TestAggregatorPollPartial(t *testing.T) {
	agg := NewAggregator(nil)
	agg.StartBatch("b1", []string{"i1", "i2"})

	partial, complete, err := agg.Poll("b1")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if complete || len(partial) != 0 {
		t.Errorf("empty batch: complete=%v partial=%d", complete, len(partial))
	}

	agg.Complete("b1", okResult("i2", 2))
	partial, complete, _ = agg.Poll("b1")
	if complete {
		t.Error("batch should not be complete")
	}
	if len(partial) != 1 || partial[0].InvocationID != "i2" {
		t.Errorf("partial = %+v, want single i2", partial)
	}

	agg.Complete("b1", okResult("i1", 1))
	partial, complete, _ = agg.Poll("b1")
	if !complete || len(partial) != 2 {
		t.Errorf("complete=%v len=%d, want true/2", complete, len(partial))
	}
	if partial[0].InvocationID != "i1" {
		t.Errorf("partial[0] = %s, want i1 (submission order)", partial[0].InvocationID)
	}
}

func TestAggregatorWaitBlocksUntilComplete(t *testing.T) {
	agg := NewAggregator(nil)
	agg.StartBatch("b1", []string{"i1"})

	go func() {
		time.Sleep(30 * time.Millisecond)
		agg.Complete("b1", okResult("i1", 1))
	}()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	results, err := agg.Wait(ctx, "b1")
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Error("Wait returned before the batch completed")
	}
}

func TestAggregatorWaitContextCancel(t *testing.T) {
	agg := NewAggregator(nil)
	agg.StartBatch("b1", []string{"i1"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := agg.Wait(ctx, "b1"); err == nil {
		t.Error("expected error when context expires before completion")
	}
}

func TestAggregatorUnknownBatch(t *testing.T) {
	agg := NewAggregator(nil)
	if _, err := agg.Wait(context.Background(), "nope"); err == nil {
		t.Error("Wait on unknown batch should error")
	}
	if _, _, err := agg.Poll("nope"); err == nil {
		t.Error("Poll on unknown batch should error")
	}
}

func TestAggregatorDuplicateResultIgnored(t *testing.T) {
	agg := NewAggregator(nil)
	agg.StartBatch("b1", []string{"i1", "i2"})

	agg.Complete("b1", okResult("i1", 1))
	agg.Complete("b1", core.Result{InvocationID: "i1", ToolName: "t", Attempts: 2}) // must not overwrite

	partial, _, _ := agg.Poll("b1")
	if len(partial) != 1 || !partial[0].Success {
		t.Errorf("duplicate result overwrote original: %+v", partial)
	}
}
