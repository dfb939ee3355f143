// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcherInitialConfig(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n")
	w, err := NewWatcher([]string{path})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if w.Config().Log.Level != "debug" {
		t.Errorf("Log.Level = %s, want debug", w.Config().Log.Level)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	w, err := NewWatcher([]string{path}, WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	var notified atomic.Int32
	w.OnChange(func(cfg *Config) {
		notified.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	// mtime granularity on some filesystems is one second
	time.Sleep(30 * time.Millisecond)
	if err := os.WriteFile(path, []byte("log:\n  level: error\n"), 0o644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}
	now := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatalf("bumping mtime: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Config().Log.Level == "error" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := w.Config().Log.Level; got != "error" {
		t.Fatalf("Log.Level = %s, want error after reload", got)
	}
	if notified.Load() == 0 {
		t.Error("OnChange listener was not notified")
	}
}

func TestWatcherKeepsConfigOnBadReload(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	w, err := NewWatcher([]string{path}, WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	if err := os.WriteFile(path, []byte(":\nnot yaml at all ["), 0o644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}
	now := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatalf("bumping mtime: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := w.Config().Log.Level; got != "info" {
		t.Errorf("Log.Level = %s, want info (previous config retained)", got)
	}
}

func TestWatcherNoPathsUsesDefaults(t *testing.T) {
	w, err := NewWatcher(nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if w.Config().Log.Level != "info" {
		t.Errorf("Log.Level = %s, want info default", w.Config().Log.Level)
	}
}
