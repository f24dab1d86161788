// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package halgpu

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/gpu"
)

// Heap is a bookkeeping heap; the HAL has no placement.
type Heap struct {
	size  uint64
	class gpu.AliasingClass
}

func (h *Heap) Size() uint64             { return h.size }
func (h *Heap) Class() gpu.AliasingClass { return h.class }

// Resource is a HAL buffer or texture.
type Resource struct {
	id      gpu.ResourceID
	desc    gpu.ResourceDescription
	buffer  hal.Buffer
	texture hal.Texture
	views   []hal.TextureView
}

func (r *Resource) ID() gpu.ResourceID                   { return r.id }
func (r *Resource) Description() gpu.ResourceDescription { return r.desc }

// Buffer returns the HAL buffer, nil for textures.
func (r *Resource) Buffer() hal.Buffer { return r.buffer }

// Texture returns the HAL texture, nil for buffers.
func (r *Resource) Texture() hal.Texture { return r.texture }

func (r *Resource) String() string {
	return fmt.Sprintf("%s#%d", r.desc.Label, r.id)
}
