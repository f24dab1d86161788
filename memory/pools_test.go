// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package memory

import (
	"testing"

	"github.com/cockroachdb/errors"
)

type testHeap struct {
	id       int
	slotSize uint64
	slots    int
}

func newTestPools(t *testing.T, cfg PoolConfig) (*SegregatedPools[*testHeap], *[]*testHeap) {
	t.Helper()
	var created []*testHeap
	p, err := NewSegregatedPools(cfg, func(slotSize uint64, slots int) (*testHeap, error) {
		h := &testHeap{id: len(created), slotSize: slotSize, slots: slots}
		created = append(created, h)
		return h, nil
	}, nil)
	if err != nil {
		t.Fatalf("NewSegregatedPools: %v", err)
	}
	return p, &created
}

// =============================================================================
// SegregatedPools
// =============================================================================

func TestSegregatedPools_BucketFor(t *testing.T) {
	p, _ := newTestPools(t, PoolConfig{MinSlotSize: 256, MaxSlotSize: 4096, GrowSlots: 2})
	tests := []struct {
		size uint64
		want int
	}{
		{0, 0},
		{1, 0},
		{256, 0},
		{257, 1},
		{1024, 2},
		{4096, 4},
	}
	for _, tt := range tests {
		got, err := p.BucketFor(tt.size)
		if err != nil {
			t.Fatalf("BucketFor(%d): %v", tt.size, err)
		}
		if got != tt.want {
			t.Errorf("BucketFor(%d) = %d, want %d", tt.size, got, tt.want)
		}
	}
	if _, err := p.BucketFor(4097); !errors.Is(err, ErrTooLarge) {
		t.Errorf("BucketFor(4097) error = %v, want ErrTooLarge", err)
	}
}

func TestSegregatedPools_GrowsBySlotCount(t *testing.T) {
	p, created := newTestPools(t, PoolConfig{MinSlotSize: 256, MaxSlotSize: 4096, GrowSlots: 2})

	a, err := p.Allocate(300)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Allocate(500)
	if err != nil {
		t.Fatal(err)
	}
	if len(*created) != 1 {
		t.Fatalf("heaps created = %d, want 1", len(*created))
	}
	if a.Heap != b.Heap || a.Offset != 0 || b.Offset != 512 || a.Size != 512 {
		t.Errorf("unexpected slots: a=%+v b=%+v", a, b)
	}

	if _, err := p.Allocate(512); err != nil {
		t.Fatal(err)
	}
	if len(*created) != 2 {
		t.Errorf("exhausted bucket should grow, heaps = %d", len(*created))
	}
	if (*created)[1].slots != 2 || (*created)[1].slotSize != 512 {
		t.Errorf("grown heap = %+v", (*created)[1])
	}

	st := p.Stats()
	if st.Slots != 4 || st.SlotsInUse != 3 || st.ReservedBytes != 4*512 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestSegregatedPools_ReleaseReuses(t *testing.T) {
	p, created := newTestPools(t, PoolConfig{MinSlotSize: 64, MaxSlotSize: 64, GrowSlots: 1})

	a, _ := p.Allocate(64)
	if err := p.Release(a); err != nil {
		t.Fatal(err)
	}
	b, _ := p.Allocate(64)
	if b.Slot != a.Slot || b.Generation == a.Generation {
		t.Errorf("expected same slot with new generation, a=%+v b=%+v", a, b)
	}
	if len(*created) != 1 {
		t.Errorf("released slot should be reused, heaps = %d", len(*created))
	}
}

func TestSegregatedPools_StaleHandles(t *testing.T) {
	p, _ := newTestPools(t, PoolConfig{MinSlotSize: 64, MaxSlotSize: 128, GrowSlots: 1})

	a, _ := p.Allocate(10)
	if err := p.Release(a); err != nil {
		t.Fatal(err)
	}
	if err := p.Release(a); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("double release error = %v, want ErrStaleHandle", err)
	}

	b, _ := p.Allocate(10)
	p.Reset()
	if _, err := p.Allocate(10); err != nil {
		t.Fatal(err)
	}
	if err := p.Release(b); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("release across Reset error = %v, want ErrStaleHandle", err)
	}
}

func TestNewSegregatedPools_Validation(t *testing.T) {
	create := func(uint64, int) (*testHeap, error) { return &testHeap{}, nil }
	bad := []PoolConfig{
		{MinSlotSize: 0, MaxSlotSize: 64, GrowSlots: 1},
		{MinSlotSize: 128, MaxSlotSize: 64, GrowSlots: 1},
		{MinSlotSize: 64, MaxSlotSize: 128, GrowSlots: 0},
	}
	for _, cfg := range bad {
		if _, err := NewSegregatedPools(cfg, create, nil); err == nil {
			t.Errorf("config %+v accepted", cfg)
		}
	}
}

func TestSegregatedPools_ResetDestroysHeaps(t *testing.T) {
	destroyed := 0
	p, err := NewSegregatedPools(DefaultPoolConfig(),
		func(uint64, int) (*testHeap, error) { return &testHeap{}, nil },
		func(*testHeap) { destroyed++ })
	if err != nil {
		t.Fatal(err)
	}
	_, _ = p.Allocate(100)
	_, _ = p.Allocate(100000)
	p.Reset()
	if destroyed != 2 {
		t.Errorf("destroyed = %d, want 2", destroyed)
	}
	if st := p.Stats(); st.Heaps != 0 {
		t.Errorf("heaps after Reset = %d", st.Heaps)
	}
}
