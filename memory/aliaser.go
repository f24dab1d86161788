// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package memory

import (
	"cmp"
	"slices"
)

// Lifetime is an inclusive range of dependency levels.
type Lifetime struct {
	First int
	Last  int
}

// Overlaps reports whether two lifetimes share a level.
func (l Lifetime) Overlaps(o Lifetime) bool {
	return l.First <= o.Last && o.First <= l.Last
}

// Union returns the smallest lifetime covering both.
func (l Lifetime) Union(o Lifetime) Lifetime {
	return Lifetime{First: min(l.First, o.First), Last: max(l.Last, o.Last)}
}

// AliasRequest asks for Size bytes, aligned to Alignment, that are live
// during Lifetime.
type AliasRequest struct {
	Name      string
	Size      uint64
	Alignment uint64
	Lifetime  Lifetime
}

// AliasPlacement is the byte range assigned to a request.
type AliasPlacement struct {
	Name     string
	Offset   uint64
	Size     uint64
	Lifetime Lifetime
}

// End returns the first byte after the placement.
func (p AliasPlacement) End() uint64 { return p.Offset + p.Size }

// BytesOverlap reports whether the byte ranges intersect.
func (p AliasPlacement) BytesOverlap(o AliasPlacement) bool {
	return p.Offset < o.End() && o.Offset < p.End()
}

// Conflicts reports whether two placements share bytes while both alive.
func (p AliasPlacement) Conflicts(o AliasPlacement) bool {
	return p.BytesOverlap(o) && p.Lifetime.Overlaps(o.Lifetime)
}

// AliasLayout is the result of packing one aliasing bucket.
type AliasLayout struct {
	// Placements are sorted by name.
	Placements []AliasPlacement
	// HeapSize is the number of bytes the bucket's heap must provide.
	HeapSize uint64
}

// Placement returns the placement of name.
func (l AliasLayout) Placement(name string) (AliasPlacement, bool) {
	i, ok := slices.BinarySearchFunc(l.Placements, name, func(p AliasPlacement, n string) int {
		return cmp.Compare(p.Name, n)
	})
	if !ok {
		return AliasPlacement{}, false
	}
	return l.Placements[i], true
}

// Predecessors returns the placements that occupied any of name's bytes
// earlier in the frame, latest first.
func (l AliasLayout) Predecessors(name string) []AliasPlacement {
	p, ok := l.Placement(name)
	if !ok {
		return nil
	}
	var out []AliasPlacement
	for _, o := range l.Placements {
		if o.Name != name && o.Lifetime.Last < p.Lifetime.First && o.BytesOverlap(p) {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b AliasPlacement) int {
		if c := cmp.Compare(b.Lifetime.Last, a.Lifetime.Last); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

func alignUp(v, a uint64) uint64 {
	if a <= 1 {
		return v
	}
	return (v + a - 1) / a * a
}

// Pack assigns byte offsets so that no two requests with overlapping
// lifetimes share bytes. Requests are placed largest first, each at the
// lowest aligned offset that fits between the live placements. The result is
// deterministic for a given request set regardless of input order.
func Pack(reqs []AliasRequest) AliasLayout {
	order := slices.Clone(reqs)
	slices.SortFunc(order, func(a, b AliasRequest) int {
		if c := cmp.Compare(b.Size, a.Size); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})

	placed := make([]AliasPlacement, 0, len(order))
	var live []AliasPlacement
	var heapSize uint64
	for _, r := range order {
		live = live[:0]
		for _, p := range placed {
			if p.Lifetime.Overlaps(r.Lifetime) {
				live = append(live, p)
			}
		}
		slices.SortFunc(live, func(a, b AliasPlacement) int { return cmp.Compare(a.Offset, b.Offset) })

		offset := uint64(0)
		for _, p := range live {
			if offset+r.Size <= p.Offset {
				break
			}
			offset = alignUp(max(offset, p.End()), r.Alignment)
		}
		p := AliasPlacement{Name: r.Name, Offset: offset, Size: r.Size, Lifetime: r.Lifetime}
		placed = append(placed, p)
		heapSize = max(heapSize, p.End())
	}

	slices.SortFunc(placed, func(a, b AliasPlacement) int { return cmp.Compare(a.Name, b.Name) })
	return AliasLayout{Placements: placed, HeapSize: heapSize}
}
