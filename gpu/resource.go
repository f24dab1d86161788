// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// ResourceID uniquely identifies a GPU resource object for the lifetime of a
// Device. IDs are never reused.
type ResourceID uint64

// AllSubresources addresses every subresource of a resource in a barrier or
// transition request.
const AllSubresources = ^uint32(0)

// ResourceKind distinguishes textures from buffers.
type ResourceKind uint8

const (
	ResourceTexture ResourceKind = iota
	ResourceBuffer
)

// String returns "texture" or "buffer".
func (k ResourceKind) String() string {
	if k == ResourceBuffer {
		return "buffer"
	}
	return "texture"
}

// ResourceFlags enable optional usages at creation time.
type ResourceFlags uint8

const (
	FlagAllowRenderTarget ResourceFlags = 1 << iota
	FlagAllowDepthStencil
	FlagAllowUnorderedAccess
	FlagSimultaneousAccess
	// FlagHostUpload and FlagHostReadback place buffers in CPU-visible memory.
	FlagHostUpload
	FlagHostReadback
)

// AliasingClass groups resources that may share one aliasing heap.
type AliasingClass uint8

// Aliasing classes. AliasingUniversal is only used when the device supports
// heaps that mix every resource category.
const (
	AliasingRenderTargetsAndDepthStencils AliasingClass = iota
	AliasingTextures
	AliasingBuffers
	AliasingUniversal
)

// String returns a short class name.
func (c AliasingClass) String() string {
	switch c {
	case AliasingRenderTargetsAndDepthStencils:
		return "rt-ds"
	case AliasingTextures:
		return "textures"
	case AliasingBuffers:
		return "buffers"
	case AliasingUniversal:
		return "universal"
	default:
		return fmt.Sprintf("AliasingClass(%d)", uint8(c))
	}
}

// ResourceDescription describes a texture or buffer to create.
type ResourceDescription struct {
	Kind  ResourceKind
	Label string

	// Texture properties.
	Width              uint32
	Height             uint32
	DepthOrArrayLayers uint32
	MipLevels          uint32
	SampleCount        uint32
	Format             gputypes.TextureFormat
	Dimension          gputypes.TextureDimension

	// Buffer properties.
	Size   uint64
	Stride uint32

	Flags        ResourceFlags
	InitialState ResourceState
}

// Texture2D returns a description for a single-sample 2D texture.
func Texture2D(label string, width, height uint32, format gputypes.TextureFormat, mips uint32) ResourceDescription {
	if mips == 0 {
		mips = 1
	}
	return ResourceDescription{
		Kind:               ResourceTexture,
		Label:              label,
		Width:              width,
		Height:             height,
		DepthOrArrayLayers: 1,
		MipLevels:          mips,
		SampleCount:        1,
		Format:             format,
		Dimension:          gputypes.TextureDimension2D,
	}
}

// Buffer returns a description for a structured or raw buffer.
func Buffer(label string, size uint64, stride uint32) ResourceDescription {
	return ResourceDescription{
		Kind:   ResourceBuffer,
		Label:  label,
		Size:   size,
		Stride: stride,
	}
}

// IsTexture reports whether the description is a texture.
func (d ResourceDescription) IsTexture() bool { return d.Kind == ResourceTexture }

// arrayLayers returns the number of independently-stateful array slices.
// 3D textures have a single slice per mip.
func (d ResourceDescription) arrayLayers() uint32 {
	if d.Dimension == gputypes.TextureDimension3D || d.DepthOrArrayLayers == 0 {
		return 1
	}
	return d.DepthOrArrayLayers
}

func (d ResourceDescription) mipLevels() uint32 {
	if d.MipLevels == 0 {
		return 1
	}
	return d.MipLevels
}

// SubresourceCount returns the number of individually-stateful slices.
func (d ResourceDescription) SubresourceCount() uint32 {
	if d.Kind == ResourceBuffer {
		return 1
	}
	return d.mipLevels() * d.arrayLayers()
}

// SubresourceIndex returns the flat subresource index of a mip and array
// layer, mip-major like D3D12CalcSubresource.
func (d ResourceDescription) SubresourceIndex(mip, layer uint32) uint32 {
	return mip + layer*d.mipLevels()
}

// BytesPerTexel returns the texel size of the description's format.
// Formats without an explicit entry are treated as 4 bytes.
func (d ResourceDescription) BytesPerTexel() uint64 {
	if d.Format == gputypes.TextureFormatR8Unorm {
		return 1
	}
	return 4
}

// EstimatedSize returns the byte footprint of the resource including the mip
// chain, before device alignment.
func (d ResourceDescription) EstimatedSize() uint64 {
	if d.Kind == ResourceBuffer {
		return d.Size
	}
	samples := uint64(d.SampleCount)
	if samples == 0 {
		samples = 1
	}
	depth := uint64(1)
	if d.Dimension == gputypes.TextureDimension3D {
		depth = uint64(max(d.DepthOrArrayLayers, 1))
	}
	var total uint64
	w, h := uint64(max(d.Width, 1)), uint64(max(d.Height, 1))
	for range d.mipLevels() {
		total += w * h * depth * d.BytesPerTexel() * samples
		w, h = max(w/2, 1), max(h/2, 1)
		if d.Dimension == gputypes.TextureDimension3D {
			depth = max(depth/2, 1)
		}
	}
	return total * uint64(d.arrayLayers())
}

// AliasingClass returns the heap class the resource belongs to when universal
// heaps are not available.
func (d ResourceDescription) AliasingClass() AliasingClass {
	switch {
	case d.Kind == ResourceBuffer:
		return AliasingBuffers
	case d.Flags&(FlagAllowRenderTarget|FlagAllowDepthStencil) != 0:
		return AliasingRenderTargetsAndDepthStencils
	default:
		return AliasingTextures
	}
}

// Resource is a GPU resource object created by a Device.
type Resource interface {
	ID() ResourceID
	Description() ResourceDescription
}

// Heap is a block of device memory that placed resources are carved from.
type Heap interface {
	Size() uint64
	Class() AliasingClass
}

// Placement locates a placed resource inside a heap.
type Placement struct {
	Heap   Heap
	Offset uint64
}

// AllocationInfo is the device's size and alignment requirement for a
// resource description.
type AllocationInfo struct {
	Size      uint64
	Alignment uint64
}
