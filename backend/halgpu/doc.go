// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package halgpu runs the frame graph on a wgpu HAL device.
//
// WebGPU exposes a single queue, so every logical queue of the frame graph
// maps onto it. Submissions are therefore executed in the order Traverse
// issues them, and a fence wait is satisfied by any signal submitted before
// it. A wait on a value that has not been submitted yet can never complete
// and is reported as ErrDeadlock.
//
// The HAL has no placed resources, so the device reports PlacedResources as
// false and the resource storage creates every transient resource
// committed. Texture transitions map onto TransitionTextures; buffer,
// aliasing and UAV barriers are tracked by the HAL itself and are counted
// but not recorded.
//
// Use NewNoop for a headless device, or NewFromProvider to share the device
// of a host application.
package halgpu
