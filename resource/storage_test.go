// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package resource

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/backend/software"
	"github.com/gogpu/framegraph/gpu"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/state"
)

// testPass declares resources the way a render pass would.
type testPass struct {
	name     string
	create   []string
	reads    []string
	writes   []string
	readback []string
}

func testTexture(label string) gpu.ResourceDescription {
	return gpu.Texture2D(label, 64, 64, gputypes.TextureFormatRGBA8Unorm, 1)
}

func newTestStorage(t *testing.T, opts software.Options, cfg Config) (*Storage, *software.Device, *state.Tracker) {
	t.Helper()
	dev := software.New(opts)
	tr := state.New(dev.Capabilities().ImplicitRules())
	s, err := New(dev, tr, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s, dev, tr
}

// scheduleFrame runs one scheduling phase and returns the built graph.
func scheduleFrame(t *testing.T, s *Storage, frame uint64, passes []testPass) *graph.Graph {
	t.Helper()
	g, err := trySchedule(s, frame, passes)
	if err != nil {
		t.Fatalf("frame %d: %v", frame, err)
	}
	s.EndFrame(frame)
	return g
}

func trySchedule(s *Storage, frame uint64, passes []testPass) (*graph.Graph, error) {
	s.BeginFrame(frame)
	if err := s.StartResourceScheduling(); err != nil {
		return nil, err
	}
	g := graph.New(1)
	for _, p := range passes {
		n, err := g.AddPass(p.name, 0)
		if err != nil {
			return nil, err
		}
		for _, name := range p.create {
			if err := s.QueueResourceAllocationIfNeeded(name, Properties{Description: testTexture(name)}, ""); err != nil {
				return nil, err
			}
		}
		for _, name := range p.reads {
			g.AddReadDependency(n, name, graph.Single(0))
			if err := s.QueueResourceUsage(p.name, name, func(pi *PassInfo) {
				pi.RequestState(gpu.StatePixelShaderResource, 0)
				pi.RequestDescriptor(gpu.DescriptorSRV)
			}); err != nil {
				return nil, err
			}
		}
		for _, name := range p.writes {
			if err := g.AddWriteDependency(n, name, graph.Single(0)); err != nil {
				return nil, err
			}
			if err := s.QueueResourceUsage(p.name, name, func(pi *PassInfo) {
				pi.RequestState(gpu.StateRenderTarget, 0)
				pi.RequestDescriptor(gpu.DescriptorRTV)
			}); err != nil {
				return nil, err
			}
		}
		for _, name := range p.readback {
			if err := s.RequestReadback(p.name, name); err != nil {
				return nil, err
			}
		}
	}
	if err := g.Build(); err != nil {
		return nil, err
	}
	if err := s.EndResourceScheduling(g); err != nil {
		return nil, err
	}
	return g, nil
}

// chain is A writes a, B reads a writes b, C reads b writes c.
func chain() []testPass {
	return []testPass{
		{name: "A", create: []string{"a"}, writes: []string{"a"}},
		{name: "B", create: []string{"b"}, reads: []string{"a"}, writes: []string{"b"}},
		{name: "C", create: []string{"c"}, reads: []string{"b"}, writes: []string{"c"}},
	}
}

// =============================================================================
// Frame-to-frame transfer
// =============================================================================

func TestStableFramesDoNotReallocate(t *testing.T) {
	s, dev, _ := newTestStorage(t, software.Options{}, DefaultConfig())

	scheduleFrame(t, s, 1, chain())
	created := dev.Stats().CreatedResources
	if s.ReallocationCount() != 1 {
		t.Fatalf("ReallocationCount after first frame = %d, want 1", s.ReallocationCount())
	}

	for f := uint64(2); f <= 100; f++ {
		scheduleFrame(t, s, f, chain())
	}
	if got := s.ReallocationCount(); got != 1 {
		t.Errorf("ReallocationCount = %d, want 1", got)
	}
	if got := dev.Stats().CreatedResources; got != created {
		t.Errorf("created %d resources over 99 stable frames", got-created)
	}
}

func TestIdenticalFrameKeepsObjects(t *testing.T) {
	s, _, _ := newTestStorage(t, software.Options{}, DefaultConfig())
	scheduleFrame(t, s, 1, chain())
	before := make(map[string]gpu.ResourceID)
	for _, n := range []string{"a", "b", "c"} {
		r, err := s.Resource(n)
		if err != nil {
			t.Fatal(err)
		}
		before[n] = r.ID()
	}

	scheduleFrame(t, s, 2, chain())
	for n, id := range before {
		r, err := s.Resource(n)
		if err != nil {
			t.Fatal(err)
		}
		if r.ID() != id {
			t.Errorf("%s recreated: id %d -> %d", n, id, r.ID())
		}
	}
}

func TestAddedResourceInvalidatesLayout(t *testing.T) {
	s, _, _ := newTestStorage(t, software.Options{}, DefaultConfig())
	scheduleFrame(t, s, 1, chain())

	passes := append(chain(), testPass{name: "D", create: []string{"d"}, reads: []string{"c"}, writes: []string{"d"}})
	scheduleFrame(t, s, 2, passes)
	if got := s.ReallocationCount(); got != 2 {
		t.Errorf("ReallocationCount = %d, want 2", got)
	}
	if _, err := s.Resource("d"); err != nil {
		t.Errorf("Resource(d): %v", err)
	}
}

func TestAliasingPacksDisjointLifetimes(t *testing.T) {
	s, _, _ := newTestStorage(t, software.Options{}, DefaultConfig())
	scheduleFrame(t, s, 1, chain())

	// a lives in levels [0,1], c in [2,2]: they can share bytes.
	ia, _ := s.SchedulingInfo("a")
	ic, _ := s.SchedulingInfo("c")
	if !ia.Aliasable || !ic.Aliasable {
		t.Fatal("transient textures must be aliasable")
	}
	if ia.Lifetime.Overlaps(ic.Lifetime) {
		t.Fatalf("lifetimes %v and %v overlap", ia.Lifetime, ic.Lifetime)
	}
	shared, preds := s.AliasingInfo("c")
	if !shared {
		t.Fatal("c should share memory with a")
	}
	if len(preds) != 1 || preds[0] != "a" {
		t.Errorf("predecessors of c = %v, want [a]", preds)
	}
	if st := s.Stats(); st.Heaps != 1 {
		t.Errorf("heaps = %d, want 1", st.Heaps)
	}
}

func TestAliasingDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Aliasing = false
	s, dev, _ := newTestStorage(t, software.Options{}, cfg)
	scheduleFrame(t, s, 1, chain())

	if st := s.Stats(); st.Heaps != 0 {
		t.Errorf("heaps = %d, want 0", st.Heaps)
	}
	for _, e := range dev.JournalFor(software.EntryCreateResource) {
		if e.Heap != 0 {
			t.Errorf("%s placed in heap %d", e.Resource, e.Heap)
		}
	}
}

func TestPersistentResourceSurvivesLayoutChange(t *testing.T) {
	s, _, _ := newTestStorage(t, software.Options{}, DefaultConfig())
	persist := func(frame uint64, extra bool) {
		t.Helper()
		s.BeginFrame(frame)
		if err := s.StartResourceScheduling(); err != nil {
			t.Fatal(err)
		}
		g := graph.New(1)
		n, _ := g.AddPass("History", 0)
		if err := s.QueueResourceAllocationIfNeeded("history", Properties{Description: testTexture("history"), Persistent: true}, ""); err != nil {
			t.Fatal(err)
		}
		_ = g.AddWriteDependency(n, "history", graph.Single(0))
		_ = s.QueueResourceUsage("History", "history", func(pi *PassInfo) { pi.RequestState(gpu.StateRenderTarget, 0) })
		if extra {
			_ = s.QueueResourceAllocationIfNeeded("scratch", Properties{Description: testTexture("scratch")}, "")
			_ = g.AddWriteDependency(n, "scratch", graph.Single(0))
			_ = s.QueueResourceUsage("History", "scratch", func(pi *PassInfo) { pi.RequestState(gpu.StateRenderTarget, 0) })
		}
		if err := g.Build(); err != nil {
			t.Fatal(err)
		}
		if err := s.EndResourceScheduling(g); err != nil {
			t.Fatal(err)
		}
		s.EndFrame(frame)
	}

	persist(1, false)
	r1, _ := s.Resource("history")
	persist(2, true)
	r2, _ := s.Resource("history")
	if r1.ID() != r2.ID() {
		t.Errorf("persistent resource recreated on layout change")
	}
	info, _ := s.SchedulingInfo("history")
	if info.Aliasable {
		t.Error("persistent resource must not be aliasable")
	}
}

// =============================================================================
// Names and aliases
// =============================================================================

func TestAliasChainsFlatten(t *testing.T) {
	s, _, _ := newTestStorage(t, software.Options{}, DefaultConfig())
	if err := s.StartResourceScheduling(); err != nil {
		t.Fatal(err)
	}
	_ = s.QueueResourceAllocationIfNeeded("color", Properties{Description: testTexture("color")}, "")
	_ = s.QueueResourceAllocationIfNeeded("color2", Properties{}, "color")
	_ = s.QueueResourceAllocationIfNeeded("color3", Properties{}, "color2")

	g := graph.New(1)
	a, _ := g.AddPass("A", 0)
	b, _ := g.AddPass("B", 0)
	_ = g.AddWriteDependency(a, "color", graph.Single(0))
	g.AddReadDependency(b, "color3", graph.Single(0))
	_ = s.QueueResourceUsage("A", "color", func(pi *PassInfo) { pi.RequestState(gpu.StateRenderTarget, 0) })
	_ = s.QueueResourceUsage("B", "color3", func(pi *PassInfo) { pi.RequestState(gpu.StatePixelShaderResource, 0) })
	if err := g.Build(); err != nil {
		t.Fatal(err)
	}
	if err := s.EndResourceScheduling(g); err != nil {
		t.Fatal(err)
	}

	c, err := s.Canonical("color3")
	if err != nil || c != "color" {
		t.Fatalf("Canonical(color3) = %q, %v; want color", c, err)
	}
	info, _ := s.SchedulingInfo("color2")
	if want := []string{"color2", "color3"}; len(info.Aliases) != 2 || info.Aliases[0] != want[0] || info.Aliases[1] != want[1] {
		t.Errorf("Aliases = %v, want %v", info.Aliases, want)
	}
	if info.StateMask != gpu.StateRenderTarget|gpu.StatePixelShaderResource {
		t.Errorf("StateMask = %v", info.StateMask)
	}
	r1, _ := s.Resource("color")
	r3, _ := s.Resource("color3")
	if r1.ID() != r3.ID() {
		t.Error("aliases resolve to different objects")
	}
}

func TestSchedulingErrors(t *testing.T) {
	tests := []struct {
		name string
		run  func(s *Storage) error
	}{
		{"unscheduled resource", func(s *Storage) error {
			_, err := s.Resource("missing")
			return err
		}},
		{"alias of unscheduled", func(s *Storage) error {
			_ = s.QueueResourceAllocationIfNeeded("x", Properties{}, "nowhere")
			_, err := s.Canonical("x")
			return err
		}},
		{"conflicting redeclaration", func(s *Storage) error {
			_ = s.QueueResourceAllocationIfNeeded("x", Properties{Description: testTexture("x")}, "")
			return s.QueueResourceAllocationIfNeeded("x", Properties{Description: gpu.Buffer("x", 16, 0)}, "")
		}},
		{"allocated name as alias", func(s *Storage) error {
			_ = s.QueueResourceAllocationIfNeeded("x", Properties{Description: testTexture("x")}, "")
			return s.QueueResourceAllocationIfNeeded("x", Properties{}, "y")
		}},
		{"double start", func(s *Storage) error {
			return s.StartResourceScheduling()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestStorage(t, software.Options{}, DefaultConfig())
			if err := s.StartResourceScheduling(); err != nil {
				t.Fatal(err)
			}
			err := tt.run(s)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.HasAssertionFailure(err) {
				t.Errorf("error %v is not an assertion failure", err)
			}
		})
	}
}

func TestUsageByUnknownPass(t *testing.T) {
	s, _, _ := newTestStorage(t, software.Options{}, DefaultConfig())
	_ = s.StartResourceScheduling()
	_ = s.QueueResourceAllocationIfNeeded("x", Properties{Description: testTexture("x")}, "")
	_ = s.QueueResourceUsage("Ghost", "x", nil)
	g := graph.New(1)
	if err := g.Build(); err != nil {
		t.Fatal(err)
	}
	if err := s.EndResourceScheduling(g); err == nil {
		t.Fatal("usage by a pass missing from the graph must fail")
	}
}

func TestScheduleOutsidePhase(t *testing.T) {
	s, _, _ := newTestStorage(t, software.Options{}, DefaultConfig())
	if err := s.QueueResourceUsage("A", "a", nil); !errors.HasAssertionFailure(err) {
		t.Errorf("QueueResourceUsage outside scheduling = %v, want assertion failure", err)
	}
}

// =============================================================================
// Release, descriptors and direct access
// =============================================================================

func TestDeferredRelease(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Aliasing = false
	s, dev, _ := newTestStorage(t, software.Options{}, cfg)
	scheduleFrame(t, s, 1, chain())
	scheduleFrame(t, s, 2, chain()[:2])

	if got := len(dev.JournalFor(software.EntryRelease)); got != 0 {
		t.Fatalf("released %d objects before frames in flight elapsed", got)
	}
	if s.Stats().PendingFrees == 0 {
		t.Fatal("removed resource was not retired")
	}
	scheduleFrame(t, s, 3, chain()[:2])
	if got := len(dev.JournalFor(software.EntryRelease)); got != 0 {
		t.Fatalf("released %d objects one frame early", got)
	}
	scheduleFrame(t, s, 4, chain()[:2])
	released := false
	for _, e := range dev.JournalFor(software.EntryRelease) {
		released = released || e.Resource == "c"
	}
	if !released {
		t.Errorf("c not released by frame 4: %v", dev.JournalFor(software.EntryRelease))
	}
}

func TestDescriptorCaching(t *testing.T) {
	s, _, _ := newTestStorage(t, software.Options{}, DefaultConfig())
	scheduleFrame(t, s, 1, chain())

	d1, err := s.Descriptor("B", "a", gpu.DescriptorSRV)
	if err != nil {
		t.Fatal(err)
	}
	d2, _ := s.Descriptor("B", "a", gpu.DescriptorSRV)
	if d1 != d2 {
		t.Errorf("descriptor not cached: %v vs %v", d1, d2)
	}
	if d1.Format != gputypes.TextureFormatRGBA8Unorm {
		t.Errorf("format = %v", d1.Format)
	}
	if _, err := s.Descriptor("B", "a", gpu.DescriptorUAV); !errors.HasAssertionFailure(err) {
		t.Errorf("unrequested view = %v, want assertion failure", err)
	}
	if _, err := s.Descriptor("A", "b", gpu.DescriptorRTV); !errors.HasAssertionFailure(err) {
		t.Errorf("undeclared use = %v, want assertion failure", err)
	}
}

func TestUploadAllocation(t *testing.T) {
	s, dev, _ := newTestStorage(t, software.Options{}, DefaultConfig())
	a, err := s.AllocateUpload(100)
	if err != nil {
		t.Fatal(err)
	}
	if a.Size != 256 {
		t.Errorf("slot size = %d, want 256", a.Size)
	}
	if err := s.WriteUpload(a, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 5)
	if err := dev.ReadBuffer(a.Heap, a.Offset, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Errorf("upload contents = %q", buf)
	}
	if err := s.WriteUpload(a, make([]byte, 300)); !errors.HasAssertionFailure(err) {
		t.Errorf("oversized write = %v, want assertion failure", err)
	}
	s.ReleaseDirectAccess(a)
	if s.Stats().PendingFrees != 1 {
		t.Error("release was not deferred")
	}
}

func TestReadbackRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DirectAccess.MaxSlotSize = 1 << 20
	s, dev, _ := newTestStorage(t, software.Options{}, cfg)
	passes := chain()
	passes[2].readback = []string{"c"}
	if _, err := trySchedule(s, 1, passes); err != nil {
		t.Fatal(err)
	}

	rbs := s.ReadbacksFor("C")
	if len(rbs) != 1 {
		t.Fatalf("ReadbacksFor(C) = %d, want 1", len(rbs))
	}
	// Emulate the copy the scheduler records after C.
	src, _ := s.Resource("c")
	cl, _ := dev.CreateCommandList(0, "copy")
	cl.ClearRenderTarget(gpu.Descriptor{Kind: gpu.DescriptorRTV, Resource: src}, [4]float32{1, 0, 0, 1})
	cl.CopyResource(gpu.CopyCommand{Dst: rbs[0].Allocation.Heap, DstOffset: rbs[0].Allocation.Offset, Src: src})
	_ = cl.Close()
	if err := dev.Submit(0, []gpu.CommandList{cl}); err != nil {
		t.Fatal(err)
	}
	s.EndFrame(1)

	scheduleFrame(t, s, 2, passes)
	if _, ok := s.LatestReadback("c"); ok {
		t.Fatal("readback completed before the frame retired")
	}
	scheduleFrame(t, s, 3, passes)
	res, ok := s.LatestReadback("c")
	if !ok {
		t.Fatal("readback not completed")
	}
	if res.Frame != 1 {
		t.Errorf("Frame = %d, want 1", res.Frame)
	}
	if !bytes.Equal(res.Data[:4], []byte{255, 0, 0, 255}) {
		t.Errorf("first texel = %v", res.Data[:4])
	}
}
