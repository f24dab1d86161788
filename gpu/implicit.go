// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpu

// ImplicitTransitionRules describes state changes a device performs without
// an explicit barrier.
//
// A subresource in StateCommon may be promoted to a new state on its first
// use in a command list. Promoted subresources that Decays reports return to
// StateCommon when the command list finishes executing.
type ImplicitTransitionRules interface {
	CanPromote(desc ResourceDescription, to ResourceState) bool
	Decays(desc ResourceDescription, state ResourceState) bool
}

// NoImplicitTransitions disables promotion and decay.
type NoImplicitTransitions struct{}

func (NoImplicitTransitions) CanPromote(ResourceDescription, ResourceState) bool { return false }
func (NoImplicitTransitions) Decays(ResourceDescription, ResourceState) bool     { return false }

// D3D12Rules implements the common state promotion rules of Direct3D 12.
//
// Buffers and simultaneous-access textures promote to any state and always
// decay. Other textures only promote to shader resource and copy states, and
// decay only from read-only states.
type D3D12Rules struct{}

const textureImplicitStates = StateNonPixelShaderResource | StatePixelShaderResource |
	StateCopyDest | StateCopySource

func (D3D12Rules) CanPromote(desc ResourceDescription, to ResourceState) bool {
	if to == StateCommon {
		return false
	}
	if desc.Kind == ResourceBuffer || desc.Flags&FlagSimultaneousAccess != 0 {
		return true
	}
	return textureImplicitStates.Contains(to)
}

func (D3D12Rules) Decays(desc ResourceDescription, state ResourceState) bool {
	if desc.Kind == ResourceBuffer || desc.Flags&FlagSimultaneousAccess != 0 {
		return true
	}
	return state.IsReadOnly()
}
