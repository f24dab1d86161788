// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package software

import (
	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/gpu"
)

func init() {
	backend.Register(backend.BackendSoftware, func(opts backend.Options) (gpu.Device, error) {
		return New(Options{Queues: opts.QueuesOrDefault()}), nil
	})
}
