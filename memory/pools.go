// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package memory provides the GPU memory allocators used by the resource
// storage: size-segregated slot pools for direct-access buffers and the
// lifetime-aware aliasing packer for transient resources.
package memory

import (
	"math/bits"
	"sync"

	"github.com/cockroachdb/errors"
)

var (
	// ErrStaleHandle is returned when releasing an allocation whose slot was
	// already released or reused.
	ErrStaleHandle = errors.New("memory: stale allocation handle")

	// ErrTooLarge is returned for requests above the largest slot size.
	ErrTooLarge = errors.New("memory: allocation larger than the largest slot")
)

// PoolConfig configures SegregatedPools.
type PoolConfig struct {
	// MinSlotSize and MaxSlotSize are rounded up to powers of two.
	MinSlotSize uint64
	MaxSlotSize uint64
	// GrowSlots is the number of slots added to a bucket when it runs out.
	GrowSlots int
}

// DefaultPoolConfig returns 256 B to 64 MiB slots growing 8 at a time.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MinSlotSize: 256, MaxSlotSize: 64 << 20, GrowSlots: 8}
}

// HeapFactory creates backing memory for slots slots of slotSize bytes.
type HeapFactory[H any] func(slotSize uint64, slots int) (H, error)

// Allocation is a slot handle. Generation detects use after release.
type Allocation[H any] struct {
	Bucket     int
	Slot       int
	Generation uint32
	Heap       H
	Offset     uint64
	Size       uint64
}

type slot struct {
	heap       int
	offset     uint64
	generation uint32
	used       bool
}

type bucket[H any] struct {
	slotSize uint64
	heaps    []H
	slots    []slot
	free     []int
}

// PoolStats summarizes pool usage.
type PoolStats struct {
	Heaps         int
	Slots         int
	SlotsInUse    int
	ReservedBytes uint64
}

// SegregatedPools hands out power-of-two slots from per-size free lists.
//
// Thread safety: all methods are safe for concurrent use.
type SegregatedPools[H any] struct {
	mu       sync.Mutex
	cfg      PoolConfig
	minShift int
	buckets  []bucket[H]
	create   HeapFactory[H]
	destroy  func(H)
	// gen is pool-wide so handles stay stale across Reset.
	gen uint32
}

func ceilPow2Shift(v uint64) int {
	if v <= 1 {
		return 0
	}
	return bits.Len64(v - 1)
}

// NewSegregatedPools creates pools backed by heaps from create. destroy, if
// non-nil, is called for every heap on Reset.
func NewSegregatedPools[H any](cfg PoolConfig, create HeapFactory[H], destroy func(H)) (*SegregatedPools[H], error) {
	if cfg.MinSlotSize == 0 || cfg.MaxSlotSize < cfg.MinSlotSize {
		return nil, errors.Newf("memory: invalid slot size range [%d, %d]", cfg.MinSlotSize, cfg.MaxSlotSize)
	}
	if cfg.GrowSlots <= 0 {
		return nil, errors.Newf("memory: GrowSlots must be positive, got %d", cfg.GrowSlots)
	}
	if create == nil {
		return nil, errors.New("memory: nil heap factory")
	}
	minShift := ceilPow2Shift(cfg.MinSlotSize)
	maxShift := ceilPow2Shift(cfg.MaxSlotSize)
	p := &SegregatedPools[H]{
		cfg:      cfg,
		minShift: minShift,
		buckets:  make([]bucket[H], maxShift-minShift+1),
		create:   create,
		destroy:  destroy,
	}
	for i := range p.buckets {
		p.buckets[i].slotSize = 1 << (minShift + i)
	}
	return p, nil
}

// BucketFor returns the bucket index serving size bytes.
func (p *SegregatedPools[H]) BucketFor(size uint64) (int, error) {
	idx := max(ceilPow2Shift(size)-p.minShift, 0)
	if idx >= len(p.buckets) {
		return 0, errors.Wrapf(ErrTooLarge, "%d bytes, largest slot is %d", size, p.buckets[len(p.buckets)-1].slotSize)
	}
	return idx, nil
}

// SlotSize returns the slot size of bucket idx.
func (p *SegregatedPools[H]) SlotSize(idx int) uint64 { return p.buckets[idx].slotSize }

// Allocate returns a slot of at least size bytes, growing the bucket by
// GrowSlots slots when its free list is empty.
func (p *SegregatedPools[H]) Allocate(size uint64) (Allocation[H], error) {
	idx, err := p.BucketFor(size)
	if err != nil {
		return Allocation[H]{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	b := &p.buckets[idx]
	if len(b.free) == 0 {
		if err := p.grow(b); err != nil {
			return Allocation[H]{}, err
		}
	}
	si := b.free[len(b.free)-1]
	b.free = b.free[:len(b.free)-1]
	s := &b.slots[si]
	s.used = true
	return Allocation[H]{
		Bucket:     idx,
		Slot:       si,
		Generation: s.generation,
		Heap:       b.heaps[s.heap],
		Offset:     s.offset,
		Size:       b.slotSize,
	}, nil
}

func (p *SegregatedPools[H]) grow(b *bucket[H]) error {
	h, err := p.create(b.slotSize, p.cfg.GrowSlots)
	if err != nil {
		return errors.Wrapf(err, "memory: grow %d-byte bucket", b.slotSize)
	}
	heap := len(b.heaps)
	b.heaps = append(b.heaps, h)
	// Push in reverse so slots are handed out in ascending offset order.
	first := len(b.slots)
	for i := range p.cfg.GrowSlots {
		p.gen++
		b.slots = append(b.slots, slot{heap: heap, offset: uint64(i) * b.slotSize, generation: p.gen})
	}
	for i := len(b.slots) - 1; i >= first; i-- {
		b.free = append(b.free, i)
	}
	return nil
}

// Release returns a slot to its bucket. Releasing twice, or releasing a
// handle from before a Reset, fails with ErrStaleHandle.
func (p *SegregatedPools[H]) Release(a Allocation[H]) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if a.Bucket < 0 || a.Bucket >= len(p.buckets) {
		return errors.Wrapf(ErrStaleHandle, "bucket %d", a.Bucket)
	}
	b := &p.buckets[a.Bucket]
	if a.Slot < 0 || a.Slot >= len(b.slots) {
		return errors.Wrapf(ErrStaleHandle, "slot %d of bucket %d", a.Slot, a.Bucket)
	}
	s := &b.slots[a.Slot]
	if !s.used || s.generation != a.Generation {
		return errors.Wrapf(ErrStaleHandle, "slot %d of bucket %d generation %d", a.Slot, a.Bucket, a.Generation)
	}
	s.used = false
	p.gen++
	s.generation = p.gen
	b.free = append(b.free, a.Slot)
	return nil
}

// Stats returns a snapshot of pool usage.
func (p *SegregatedPools[H]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var st PoolStats
	for i := range p.buckets {
		b := &p.buckets[i]
		st.Heaps += len(b.heaps)
		st.Slots += len(b.slots)
		st.SlotsInUse += len(b.slots) - len(b.free)
		st.ReservedBytes += uint64(len(b.slots)) * b.slotSize
	}
	return st
}

// Reset destroys every heap. Outstanding handles become stale.
func (p *SegregatedPools[H]) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.buckets {
		b := &p.buckets[i]
		if p.destroy != nil {
			for _, h := range b.heaps {
				p.destroy(h)
			}
		}
		b.heaps = nil
		b.slots = nil
		b.free = nil
	}
}
