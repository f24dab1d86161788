// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package halgpu

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/gpu"
)

// textureUsage maps a resource state to the WebGPU texture usage that covers
// it. Common and Present carry no usage.
func textureUsage(s gpu.ResourceState) gputypes.TextureUsage {
	var u gputypes.TextureUsage
	if s&(gpu.StateRenderTarget|gpu.StateDepthWrite|gpu.StateDepthRead) != 0 {
		u |= gputypes.TextureUsageRenderAttachment
	}
	if s&gpu.StateAnyShaderResource != 0 {
		u |= gputypes.TextureUsageTextureBinding
	}
	if s&gpu.StateUnorderedAccess != 0 {
		u |= gputypes.TextureUsageStorageBinding
	}
	if s&gpu.StateCopySource != 0 {
		u |= gputypes.TextureUsageCopySrc
	}
	if s&gpu.StateCopyDest != 0 {
		u |= gputypes.TextureUsageCopyDst
	}
	return u
}

// textureCreateUsage returns every usage a texture may be transitioned to.
func textureCreateUsage(desc gpu.ResourceDescription) gputypes.TextureUsage {
	u := gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst
	if desc.Flags&(gpu.FlagAllowRenderTarget|gpu.FlagAllowDepthStencil) != 0 {
		u |= gputypes.TextureUsageRenderAttachment
	}
	if desc.Flags&gpu.FlagAllowUnorderedAccess != 0 {
		u |= gputypes.TextureUsageStorageBinding
	}
	return u
}

func bufferCreateUsage(desc gpu.ResourceDescription) gputypes.BufferUsage {
	switch {
	case desc.Flags&gpu.FlagHostReadback != 0:
		return gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	case desc.Flags&gpu.FlagHostUpload != 0:
		return gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	}
	u := gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst |
		gputypes.BufferUsageUniform | gputypes.BufferUsageVertex
	if desc.Flags&gpu.FlagAllowUnorderedAccess != 0 || desc.Stride > 0 {
		u |= gputypes.BufferUsageStorage
	}
	return u
}

func textureDimension(desc gpu.ResourceDescription) gputypes.TextureDimension {
	switch desc.Dimension {
	case gputypes.TextureDimension1D, gputypes.TextureDimension3D:
		return desc.Dimension
	default:
		return gputypes.TextureDimension2D
	}
}

// copyPitchAlignment is the WebGPU bytesPerRow alignment for buffer copies.
const copyPitchAlignment = 256

func alignedBytesPerRow(desc gpu.ResourceDescription) uint32 {
	row := uint32(desc.BytesPerTexel()) * max(desc.Width, 1)
	return (row + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) / a * a
}
