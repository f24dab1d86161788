// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package resource

import (
	"maps"
	"slices"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/gpu"
	"github.com/gogpu/framegraph/memory"
)

// Properties describe a resource a pass asks the storage to provide.
type Properties struct {
	Description gpu.ResourceDescription
	// Persistent resources keep their memory and contents across frames and
	// never share memory with other resources.
	Persistent bool
}

// PassInfo is what one pass needs from one resource.
type PassInfo struct {
	Pass string
	// Name is the name the pass used; Resource is the canonical name once
	// scheduling ended.
	Name     string
	Resource string

	states      map[uint32]gpu.ResourceState
	format      gputypes.TextureFormat
	descriptors uint8
}

func newPassInfo(pass, name string) *PassInfo {
	return &PassInfo{Pass: pass, Name: name, states: make(map[uint32]gpu.ResourceState)}
}

// RequestState asks for subresources to be in state s while the pass runs.
// Requests for the same subresource accumulate.
func (p *PassInfo) RequestState(s gpu.ResourceState, indices ...uint32) {
	for _, i := range indices {
		p.states[i] |= s
	}
}

// RequestDescriptor asks for a view of kind k.
func (p *PassInfo) RequestDescriptor(k gpu.DescriptorKind) { p.descriptors |= 1 << k }

// ReinterpretAs views the texture with another compatible format.
func (p *PassInfo) ReinterpretAs(f gputypes.TextureFormat) { p.format = f }

// State returns the state requested for subresource index.
func (p *PassInfo) State(index uint32) (gpu.ResourceState, bool) {
	s, ok := p.states[index]
	return s, ok
}

// States returns the union of every requested state.
func (p *PassInfo) States() gpu.ResourceState {
	var all gpu.ResourceState
	for _, s := range p.states {
		all |= s
	}
	return all
}

// Subresources returns the requested subresource indices in order.
func (p *PassInfo) Subresources() []uint32 {
	return slices.Sorted(maps.Keys(p.states))
}

// NeedsDescriptor reports whether a view of kind k was requested.
func (p *PassInfo) NeedsDescriptor(k gpu.DescriptorKind) bool { return p.descriptors&(1<<k) != 0 }

// Format returns the view format override, Undefined when none.
func (p *PassInfo) Format() gputypes.TextureFormat { return p.format }

func (p *PassInfo) merge(o *PassInfo) {
	for i, s := range o.states {
		p.states[i] |= s
	}
	p.descriptors |= o.descriptors
	if o.format != gputypes.TextureFormatUndefined {
		p.format = o.format
	}
}

// SchedulingInfo is the per-frame metadata of one canonical resource.
type SchedulingInfo struct {
	Name        string
	Description gpu.ResourceDescription
	Persistent  bool
	Exported    bool
	External    bool
	Aliasable   bool
	// Aliases are the other names that resolve to this resource.
	Aliases    []string
	Lifetime   memory.Lifetime
	StateMask  gpu.ResourceState
	Allocation gpu.AllocationInfo
	Class      gpu.AliasingClass

	passes map[string]*PassInfo
}

// PassInfo returns what pass needs from the resource.
func (s *SchedulingInfo) PassInfo(pass string) (*PassInfo, bool) {
	p, ok := s.passes[pass]
	return p, ok
}

// Passes returns the names of passes using the resource, sorted.
func (s *SchedulingInfo) Passes() []string {
	return slices.Sorted(maps.Keys(s.passes))
}

// DiffEntry fingerprints a resource for frame-to-frame comparison.
type DiffEntry struct {
	Name        string
	Size        uint64
	StateMask   gpu.ResourceState
	Aliasable   bool
	Lifetime    memory.Lifetime
	Description gpu.ResourceDescription
}

func (s *SchedulingInfo) diffEntry() DiffEntry {
	return DiffEntry{
		Name:        s.Name,
		Size:        s.Allocation.Size,
		StateMask:   s.StateMask,
		Aliasable:   s.Aliasable,
		Lifetime:    s.Lifetime,
		Description: s.Description,
	}
}
