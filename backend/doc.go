// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package backend is the registry of devices the frame graph can run on.
//
// # Backend Registration
//
// Device packages register a factory from init(). Importing them is enough
// to make them available:
//
//	import _ "github.com/gogpu/framegraph/backend/software"
//
// # Backend Selection
//
// Use Default to open the best available device, or Open to request one by
// name:
//
//	dev, err := backend.Open(backend.BackendSoftware, backend.Options{})
//
// # Available Backends
//
//   - "software": deterministic in-memory device with a journal
//   - "noop": wgpu HAL device on the noop adapter
package backend
