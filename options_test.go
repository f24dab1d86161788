// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package framegraph

import (
	"bytes"
	"context"
	"log/slog"
	"runtime"
	"strings"
	"testing"
)

// TestDefaultOptions tests that engines record on the calling goroutine by
// default.
func TestDefaultOptions(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	if e.pool != nil {
		t.Error("default engine has a recording pool")
	}
	if got := e.RecordingThreads(); got != 1 {
		t.Errorf("RecordingThreads() = %d, want 1", got)
	}
}

// TestWithLogger tests that WithLogger installs the package logger.
func TestWithLogger(t *testing.T) {
	t.Cleanup(func() { SetLogger(nil) })

	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e, _ := newTestEngine(t, DefaultConfig(), WithLogger(l))

	if Logger() != l {
		t.Error("WithLogger did not install the logger")
	}
	if !strings.Contains(buf.String(), "engine created") {
		t.Errorf("log output %q has no creation message", buf.String())
	}
	renderFrames(t, e, 1, 1, asyncComputePasses()[:2], nil)
	if !strings.Contains(buf.String(), "frame submitted") {
		t.Error("no per-frame debug output")
	}
}

// TestWithRecordingPool tests that a shared pool is used and left open.
func TestWithRecordingPool(t *testing.T) {
	pool := NewRecordingPool(3)
	defer pool.Close()

	cfg := DefaultConfig()
	cfg.RecordingThreads = 8 // ignored in favor of the pool
	e, _ := newTestEngine(t, cfg, WithRecordingPool(pool))
	if got := e.RecordingThreads(); got != 3 {
		t.Errorf("RecordingThreads() = %d, want 3", got)
	}
	renderFrames(t, e, 1, 2, asyncComputePasses()[:2], nil)

	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if !pool.workers.IsRunning() {
		t.Error("engine closed a pool it does not own")
	}

	// A second engine reuses the pool.
	e2, _ := newTestEngine(t, cfg, WithRecordingPool(pool))
	if err := e2.RenderFrame(context.Background(), 1, asyncComputePasses()[:2], nil); err != nil {
		t.Fatal(err)
	}
}

// TestOwnedRecordingPoolClosed tests that a pool created from the config is
// closed with the engine.
func TestOwnedRecordingPoolClosed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecordingThreads = 2
	e, _ := newTestEngine(t, cfg)
	pool := e.pool
	if pool == nil {
		t.Fatal("no pool for recording_threads 2")
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if pool.workers.IsRunning() {
		t.Error("owned pool still running after Close")
	}
}

func TestNewRecordingPoolDefaultWorkers(t *testing.T) {
	pool := NewRecordingPool(0)
	defer pool.Close()
	if got, want := pool.Workers(), runtime.GOMAXPROCS(0); got != want {
		t.Errorf("Workers() = %d, want %d", got, want)
	}
}
