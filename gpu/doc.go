// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package gpu defines the vocabulary shared by the frame graph layers:
// hardware queue types, per-subresource usage states, resource descriptions,
// barriers, fences, command lists, pipeline states and the Device interface
// that backends implement.
//
// # Resource states
//
// [ResourceState] is a bitmask modeled on explicit graphics APIs. Read-only
// states may be combined (a texture can be a pixel and non-pixel shader
// resource at once); write states are exclusive. A transition is redundant
// when the current state already is, or read-only-contains, the requested one.
//
// # Queues
//
// Queues are addressed by index. Index 0 is the primary (graphics) queue. A
// [QueueType] answers which states a queue of that type may transition
// between; the scheduler uses that capability to decide when a barrier must be
// rerouted to a more capable queue.
//
// # Backends
//
// A [Device] is implemented by backend/software (in-memory, used by tests and
// the demo) and backend/halgpu (gogpu/wgpu HAL).
package gpu
