// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package framegraph

import (
	"log/slog"

	"github.com/gogpu/framegraph/internal/parallel"
)

// EngineOption configures an Engine during creation.
// Use functional options to customize Engine behavior.
//
// Example:
//
//	// Defaults: configuration from DefaultConfig, recording on the caller
//	eng, err := framegraph.NewEngine(device, framegraph.DefaultConfig())
//
//	// Share one recording pool between engines
//	pool := framegraph.NewRecordingPool(8)
//	eng, err := framegraph.NewEngine(device, cfg, framegraph.WithRecordingPool(pool))
type EngineOption func(*engineOptions)

// engineOptions holds optional configuration for Engine creation.
type engineOptions struct {
	logger *slog.Logger
	pool   *RecordingPool
}

// defaultOptions returns the default engine options.
func defaultOptions() engineOptions {
	return engineOptions{
		logger: nil, // Keeps the current package logger
		pool:   nil, // Created from Config.RecordingThreads if needed
	}
}

// WithLogger installs l as the framegraph logger, as SetLogger does.
// Because the logger is shared by every sub-package, the last engine created
// with WithLogger wins.
func WithLogger(l *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = l
	}
}

// WithRecordingPool records passes on pool instead of a pool owned by the
// engine. The engine never closes a pool passed this way.
//
// Example:
//
//	pool := framegraph.NewRecordingPool(runtime.GOMAXPROCS(0))
//	defer pool.Close()
//	eng, err := framegraph.NewEngine(device, cfg, framegraph.WithRecordingPool(pool))
func WithRecordingPool(pool *RecordingPool) EngineOption {
	return func(o *engineOptions) {
		o.pool = pool
	}
}

// RecordingPool is a set of goroutines recording render passes in parallel.
// A pool may be shared by several engines as long as their RenderFrame calls
// do not overlap.
type RecordingPool struct {
	workers *parallel.WorkerPool
}

// NewRecordingPool starts a pool of n recording goroutines.
// If n <= 0, GOMAXPROCS goroutines are started.
func NewRecordingPool(n int) *RecordingPool {
	return &RecordingPool{workers: parallel.NewWorkerPool(n)}
}

// Workers returns the number of recording goroutines.
func (p *RecordingPool) Workers() int { return p.workers.Workers() }

// Close stops the pool. It is safe to call Close multiple times.
func (p *RecordingPool) Close() { p.workers.Close() }
