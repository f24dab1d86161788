// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package backend

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpu"
)

// Backend name constants.
const (
	// BackendSoftware is the in-memory deterministic device.
	BackendSoftware = "software"
	// BackendNoop is the wgpu HAL device on the noop adapter.
	BackendNoop = "noop"
)

// ErrBackendNotAvailable is returned when a requested backend is not
// registered.
var ErrBackendNotAvailable = errors.New("backend: not available")

// Options are passed to a device factory.
type Options struct {
	// Queues lists the logical queues by index. Index 0 must be graphics.
	// Empty means graphics plus async compute.
	Queues []gpu.QueueType
	// Label names the device in logs.
	Label string
}

// QueuesOrDefault returns o.Queues or graphics plus compute.
func (o Options) QueuesOrDefault() []gpu.QueueType {
	if len(o.Queues) == 0 {
		return []gpu.QueueType{gpu.QueueGraphics, gpu.QueueCompute}
	}
	return o.Queues
}

// DeviceFactory opens a device.
type DeviceFactory func(opts Options) (gpu.Device, error)
