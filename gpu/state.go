// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpu

import (
	"math/bits"
	"strings"
)

// ResourceState is a bitmask of GPU usage states for one subresource.
type ResourceState uint32

// Resource states. StateCommon is the zero value.
const (
	StateCommon ResourceState = 0

	StateVertexAndConstantBuffer ResourceState = 1 << iota
	StateIndexBuffer
	StateRenderTarget
	StateUnorderedAccess
	StateDepthWrite
	StateDepthRead
	StateNonPixelShaderResource
	StatePixelShaderResource
	StateIndirectArgument
	StateCopyDest
	StateCopySource
	StateRaytracingAccelerationStructure
	StatePresent
)

// Combined states.
const (
	// StateAnyShaderResource is readable from every shader stage.
	StateAnyShaderResource = StateNonPixelShaderResource | StatePixelShaderResource

	// StateGenericRead is the union of all buffer read states.
	StateGenericRead = StateVertexAndConstantBuffer | StateIndexBuffer |
		StateNonPixelShaderResource | StatePixelShaderResource |
		StateIndirectArgument | StateCopySource

	readOnlyStates = StateVertexAndConstantBuffer | StateIndexBuffer |
		StateDepthRead | StateNonPixelShaderResource | StatePixelShaderResource |
		StateIndirectArgument | StateCopySource | StatePresent

	writeStates = StateRenderTarget | StateUnorderedAccess | StateDepthWrite |
		StateCopyDest | StateRaytracingAccelerationStructure
)

// IsReadOnly reports whether every bit of s is a read-only state.
// StateCommon is not considered read-only.
func (s ResourceState) IsReadOnly() bool {
	return s != StateCommon && s&^readOnlyStates == 0
}

// IsWrite reports whether s contains a write state.
func (s ResourceState) IsWrite() bool {
	return s&writeStates != 0
}

// Contains reports whether every bit of other is set in s.
func (s ResourceState) Contains(other ResourceState) bool {
	return s&other == other
}

// IsRedundantTransitionTo reports whether moving from s to next needs no
// barrier: the states are equal, or s is read-only and already contains next.
func (s ResourceState) IsRedundantTransitionTo(next ResourceState) bool {
	if s == next {
		return true
	}
	return s.IsReadOnly() && next != StateCommon && s.Contains(next)
}

var stateNames = [...]string{
	"VertexAndConstantBuffer",
	"IndexBuffer",
	"RenderTarget",
	"UnorderedAccess",
	"DepthWrite",
	"DepthRead",
	"NonPixelShaderResource",
	"PixelShaderResource",
	"IndirectArgument",
	"CopyDest",
	"CopySource",
	"RaytracingAccelerationStructure",
	"Present",
}

// String returns the state names joined by '|'.
func (s ResourceState) String() string {
	if s == StateCommon {
		return "Common"
	}
	var parts []string
	for rest := uint32(s); rest != 0; rest &= rest - 1 {
		bit := bits.TrailingZeros32(rest)
		if bit-1 >= 0 && bit-1 < len(stateNames) {
			parts = append(parts, stateNames[bit-1])
		}
	}
	return strings.Join(parts, "|")
}
