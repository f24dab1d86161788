// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpu

import (
	"fmt"
	"strings"
)

// BarrierKind selects the kind of synchronization a Barrier expresses.
type BarrierKind uint8

const (
	// BarrierTransition changes the usage state of one or all subresources.
	BarrierTransition BarrierKind = iota
	// BarrierAliasing switches which resource occupies shared heap memory.
	BarrierAliasing
	// BarrierUAV orders unordered-access work on the same resource.
	BarrierUAV
)

// SplitFlag marks a transition as a whole barrier or one half of a split one.
type SplitFlag uint8

const (
	SplitNone SplitFlag = iota
	SplitBeginOnly
	SplitEndOnly
)

func (f SplitFlag) String() string {
	switch f {
	case SplitBeginOnly:
		return "begin"
	case SplitEndOnly:
		return "end"
	default:
		return ""
	}
}

// Barrier is a single resource barrier.
//
// For transitions Subresource is either a flat subresource index or
// AllSubresources. For aliasing barriers Before may be nil when the previous
// occupant of the memory is unknown.
type Barrier struct {
	Kind        BarrierKind
	Resource    Resource
	Before      Resource
	Subresource uint32
	StateBefore ResourceState
	StateAfter  ResourceState
	Split       SplitFlag
}

// TransitionBarrier returns a whole (non-split) transition.
func TransitionBarrier(r Resource, sub uint32, before, after ResourceState) Barrier {
	return Barrier{Kind: BarrierTransition, Resource: r, Subresource: sub, StateBefore: before, StateAfter: after}
}

// AliasingBarrier returns an aliasing barrier that activates after.
func AliasingBarrier(before, after Resource) Barrier {
	return Barrier{Kind: BarrierAliasing, Resource: after, Before: before, Subresource: AllSubresources}
}

// UAVBarrier returns an unordered-access barrier on r.
func UAVBarrier(r Resource) Barrier {
	return Barrier{Kind: BarrierUAV, Resource: r, Subresource: AllSubresources}
}

// SplitHalves returns the Begin and End halves of a transition.
func (b Barrier) SplitHalves() (begin, end Barrier) {
	begin, end = b, b
	begin.Split = SplitBeginOnly
	end.Split = SplitEndOnly
	return begin, end
}

func resourceLabel(r Resource) string {
	if r == nil {
		return "<nil>"
	}
	if l := r.Description().Label; l != "" {
		return l
	}
	return fmt.Sprintf("#%d", r.ID())
}

func (b Barrier) String() string {
	switch b.Kind {
	case BarrierAliasing:
		return fmt.Sprintf("alias(%s -> %s)", resourceLabel(b.Before), resourceLabel(b.Resource))
	case BarrierUAV:
		return fmt.Sprintf("uav(%s)", resourceLabel(b.Resource))
	}
	sub := "*"
	if b.Subresource != AllSubresources {
		sub = fmt.Sprint(b.Subresource)
	}
	s := fmt.Sprintf("transition(%s[%s] %s -> %s)", resourceLabel(b.Resource), sub, b.StateBefore, b.StateAfter)
	if b.Split != SplitNone {
		s += "/" + b.Split.String()
	}
	return s
}

// BarrierCollection is an ordered list of barriers recorded together.
type BarrierCollection struct {
	barriers []Barrier
}

// Add appends barriers in order.
func (c *BarrierCollection) Add(b ...Barrier) {
	c.barriers = append(c.barriers, b...)
}

// Merge appends every barrier of other.
func (c *BarrierCollection) Merge(other BarrierCollection) {
	c.barriers = append(c.barriers, other.barriers...)
}

// Barriers returns the recorded barriers. The slice must not be modified.
func (c BarrierCollection) Barriers() []Barrier { return c.barriers }

// Len returns the number of barriers.
func (c BarrierCollection) Len() int { return len(c.barriers) }

// IsEmpty reports whether the collection holds no barriers.
func (c BarrierCollection) IsEmpty() bool { return len(c.barriers) == 0 }

// Count returns the number of barriers of kind k.
func (c BarrierCollection) Count(k BarrierKind) int {
	n := 0
	for i := range c.barriers {
		if c.barriers[i].Kind == k {
			n++
		}
	}
	return n
}

// Reset clears the collection, keeping its capacity.
func (c *BarrierCollection) Reset() { c.barriers = c.barriers[:0] }

func (c BarrierCollection) String() string {
	parts := make([]string, len(c.barriers))
	for i, b := range c.barriers {
		parts[i] = b.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
