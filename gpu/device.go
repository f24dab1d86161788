// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpu

import (
	"context"
	"time"

	"github.com/gogpu/gputypes"
)

// Capabilities reports optional device features.
type Capabilities struct {
	// UniversalAliasingHeaps allows textures and buffers to share a heap.
	UniversalAliasingHeaps bool
	RayTracing             bool
	// PlacedResources is false when resources are always created dedicated.
	PlacedResources bool
	// Implicit describes implicit state promotion; nil means none.
	Implicit ImplicitTransitionRules
	// HeapAlignment is the minimum placement alignment.
	HeapAlignment uint64
	// TimestampFrequency is the number of timestamp ticks per second.
	TimestampFrequency uint64
}

// ImplicitRules returns the implicit transition rules, never nil.
func (c Capabilities) ImplicitRules() ImplicitTransitionRules {
	if c.Implicit == nil {
		return NoImplicitTransitions{}
	}
	return c.Implicit
}

// Device is the backend the frame graph schedules work on.
//
// Queue indices refer to the slice returned by Queues; index 0 is the
// primary graphics queue.
type Device interface {
	Capabilities() Capabilities
	Queues() []QueueType

	CreateFence(name string) (FenceHandle, error)
	// SignalFence enqueues a GPU-side signal on a queue.
	SignalFence(queue int, f FenceHandle, value uint64) error
	// WaitFence enqueues a GPU-side wait on a queue.
	WaitFence(queue int, f FenceHandle, value uint64) error
	// WaitFenceCPU blocks until the fence reaches value or timeout elapses.
	WaitFenceCPU(ctx context.Context, f FenceHandle, value uint64, timeout time.Duration) error

	CreateCommandList(queue int, label string) (CommandList, error)
	// Submit executes closed command lists on a queue in order.
	Submit(queue int, lists []CommandList) error

	ResourceAllocationInfo(desc ResourceDescription) AllocationInfo
	CreateHeap(class AliasingClass, size uint64) (Heap, error)
	CreateCommittedResource(desc ResourceDescription) (Resource, error)
	CreatePlacedResource(desc ResourceDescription, p Placement) (Resource, error)
	CreateDescriptor(r Resource, kind DescriptorKind, format gputypes.TextureFormat) (Descriptor, error)

	// WriteBuffer and ReadBuffer access host-visible buffers directly.
	WriteBuffer(r Resource, offset uint64, data []byte) error
	ReadBuffer(r Resource, offset uint64, dst []byte) error

	ReleaseResource(r Resource)
	ReleaseHeap(h Heap)
	Close() error
}
