// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package halgpu

import (
	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/gpu"
)

func init() {
	backend.Register(backend.BackendNoop, func(opts backend.Options) (gpu.Device, error) {
		return NewNoop(Options{Queues: opts.QueuesOrDefault()})
	})
}
