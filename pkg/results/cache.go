// SPDX-License-Identifier: Apache-2.0
// Package results collects terminal invocation outcomes, normalizes them into
// result envelopes, and serves idempotent results from a TTL cache.
package results

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/windlass-io/windlass/pkg/core"
)

// Cache is the pluggable result-cache collaborator. The engine works
// correctly without one; it just stops serving cached results.
type Cache interface {
	Get(fingerprint string) (core.Result, bool)
	Put(fingerprint string, res core.Result, ttl time.Duration)
}

// Fingerprint produces a stable cache key from a tool name and parameters.
// json.Marshal sorts map keys at every nesting level, so two parameter maps
// with the same contents always hash identically.
func Fingerprint(toolName string, params map[string]any) string {
	data, err := json.Marshal(params)
	if err != nil {
		data = []byte("{}")
	}
	sum := sha256.Sum256(append([]byte(toolName+":"), data...))
	return hex.EncodeToString(sum[:])
}

type cacheEntry struct {
	result   core.Result
	storedAt time.Time
	ttl      time.Duration
}

// LRUCache is the default Cache: a bounded LRU with per-entry TTL.
type LRUCache struct {
	entries *lru.Cache[string, cacheEntry]
}

const defaultCacheSize = 256

// NewLRUCache creates a cache with the given capacity (entries, not bytes).
func NewLRUCache(size int) *LRUCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	// lru.New only errors on a non-positive size, which is guarded above.
	entries, _ := lru.New[string, cacheEntry](size)
	return &LRUCache{entries: entries}
}

// Get returns the cached result if present and not expired.
func (c *LRUCache) Get(fingerprint string) (core.Result, bool) {
	entry, ok := c.entries.Get(fingerprint)
	if !ok {
		return core.Result{}, false
	}
	if time.Since(entry.storedAt) >= entry.ttl {
		// Expired: evict so the LRU bookkeeping stays clean.
		c.entries.Remove(fingerprint)
		return core.Result{}, false
	}
	return entry.result, true
}

// Put stores a result with the given TTL. TTL <= 0 stores nothing.
func (c *LRUCache) Put(fingerprint string, res core.Result, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.entries.Add(fingerprint, cacheEntry{result: res, storedAt: time.Now(), ttl: ttl})
}

// Len returns the number of live entries, expired ones included until read.
func (c *LRUCache) Len() int {
	return c.entries.Len()
}

var _ Cache = (*LRUCache)(nil)
