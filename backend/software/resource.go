// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package software

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/gpu"
)

// Heap is a software memory heap.
type Heap struct {
	id       int
	size     uint64
	class    gpu.AliasingClass
	released bool
}

func (h *Heap) Size() uint64             { return h.size }
func (h *Heap) Class() gpu.AliasingClass { return h.class }

// ID returns the heap's journal identifier.
func (h *Heap) ID() int { return h.id }

// Resource is a software texture or buffer.
//
// Host-visible buffers own their bytes. Textures get backing bytes on the
// first clear or copy.
type Resource struct {
	id     gpu.ResourceID
	desc   gpu.ResourceDescription
	heap   *Heap
	offset uint64
	data   []byte
}

func (r *Resource) ID() gpu.ResourceID                   { return r.id }
func (r *Resource) Description() gpu.ResourceDescription { return r.desc }

// Heap returns the heap a placed resource lives in, nil when committed.
func (r *Resource) Heap() *Heap { return r.heap }

// Offset returns the placement offset inside Heap.
func (r *Resource) Offset() uint64 { return r.offset }

// Bytes returns the resource contents.
func (r *Resource) Bytes() []byte { return r.data }

func (r *Resource) String() string {
	return fmt.Sprintf("%s#%d", r.desc.Label, r.id)
}

func (r *Resource) ensureData() {
	if r.data == nil {
		r.data = make([]byte, r.desc.EstimatedSize())
	}
}

// fill writes color into every texel of the first subresource.
func (r *Resource) fill(c [4]float32) {
	r.ensureData()
	texel := make([]byte, r.desc.BytesPerTexel())
	for i := range texel {
		v := c[i%4]
		switch {
		case v <= 0:
			texel[i] = 0
		case v >= 1:
			texel[i] = 255
		default:
			texel[i] = byte(v*255 + 0.5)
		}
	}
	if r.desc.Format == gputypes.TextureFormatBGRA8Unorm {
		texel[0], texel[2] = texel[2], texel[0]
	}
	for off := 0; off+len(texel) <= len(r.data); off += len(texel) {
		copy(r.data[off:], texel)
	}
}

func (r *Resource) copyFrom(src *Resource, offset uint64) {
	r.ensureData()
	if offset >= uint64(len(r.data)) {
		return
	}
	if src.data == nil {
		clear(r.data[offset:min(offset+src.desc.EstimatedSize(), uint64(len(r.data)))])
		return
	}
	copy(r.data[offset:], src.data)
}
