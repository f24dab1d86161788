// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package graph

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
)

func mustPass(t *testing.T, g *Graph, name string, queue int) *Node {
	t.Helper()
	n, err := g.AddPass(name, queue)
	if err != nil {
		t.Fatalf("AddPass(%q): %v", name, err)
	}
	return n
}

func mustWrite(t *testing.T, g *Graph, n *Node, resource string) {
	t.Helper()
	if err := g.AddWriteDependency(n, resource, Single(0)); err != nil {
		t.Fatalf("AddWriteDependency(%q, %q): %v", n.Name(), resource, err)
	}
}

func mustBuild(t *testing.T, g *Graph) {
	t.Helper()
	if err := g.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
}

func names(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name()
	}
	return out
}

// =============================================================================
// Ordering
// =============================================================================

func TestBuild_ChainOrder(t *testing.T) {
	g := New(1)
	c := mustPass(t, g, "composite", 0)
	a := mustPass(t, g, "gbuffer", 0)
	b := mustPass(t, g, "lighting", 0)

	mustWrite(t, g, a, "albedo")
	g.AddReadDependency(b, "albedo", Single(0))
	mustWrite(t, g, b, "hdr")
	g.AddReadDependency(c, "hdr", Single(0))
	mustWrite(t, g, c, "ldr")
	mustBuild(t, g)

	got := names(g.NodesInGlobalExecutionOrder())
	want := []string{"gbuffer", "lighting", "composite"}
	if !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	for i, n := range g.NodesInGlobalExecutionOrder() {
		if n.DependencyLevelIndex() != i {
			t.Errorf("%s level = %d, want %d", n.Name(), n.DependencyLevelIndex(), i)
		}
		if n.GlobalExecutionIndex() != i || n.LocalToQueueExecutionIndex() != i {
			t.Errorf("%s indices = %d/%d, want %d", n.Name(), n.GlobalExecutionIndex(), n.LocalToQueueExecutionIndex(), i)
		}
	}
}

func TestBuild_TiesBrokenByRegistrationOrder(t *testing.T) {
	g := New(1)
	for _, name := range []string{"shadows", "sky", "particles"} {
		n := mustPass(t, g, name, 0)
		mustWrite(t, g, n, name+"-out")
	}
	mustBuild(t, g)

	got := names(g.NodesInGlobalExecutionOrder())
	want := []string{"shadows", "sky", "particles"}
	if !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if len(g.DependencyLevels()) != 1 {
		t.Errorf("levels = %d, want 1", len(g.DependencyLevels()))
	}
	for i, n := range g.DependencyLevels()[0].Nodes() {
		if n.LocalToDependencyLevelExecutionIndex() != i {
			t.Errorf("%s level-local index = %d, want %d", n.Name(), n.LocalToDependencyLevelExecutionIndex(), i)
		}
	}
}

func TestBuild_RandomGraphsAreTopological(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for iter := range 50 {
		g := New(2)
		count := 3 + rng.IntN(20)
		nodes := make([]*Node, count)
		for i := range count {
			nodes[i] = mustPass(t, g, fmt.Sprintf("p%d", i), rng.IntN(2))
		}
		// Pass i writes r{i} and reads only earlier outputs.
		for i := range count {
			mustWrite(t, g, nodes[i], fmt.Sprintf("r%d", i))
			for j := range i {
				if rng.IntN(4) == 0 {
					g.AddReadDependency(nodes[i], fmt.Sprintf("r%d", j), Single(0))
				}
			}
		}
		mustBuild(t, g)

		order := g.NodesInGlobalExecutionOrder()
		if len(order) != count {
			t.Fatalf("iter %d: order has %d nodes, want %d", iter, len(order), count)
		}
		for _, n := range order {
			want := 0
			for _, p := range n.Predecessors() {
				if p.GlobalExecutionIndex() >= n.GlobalExecutionIndex() {
					t.Fatalf("iter %d: %s runs before its dependency %s", iter, n.Name(), p.Name())
				}
				want = max(want, p.DependencyLevelIndex()+1)
			}
			if n.DependencyLevelIndex() != want {
				t.Fatalf("iter %d: %s level = %d, want %d", iter, n.Name(), n.DependencyLevelIndex(), want)
			}
		}
		for _, l := range g.DependencyLevels() {
			for _, a := range l.Nodes() {
				for _, b := range l.Nodes() {
					if slices.Contains(a.Predecessors(), b) {
						t.Fatalf("iter %d: %s and %s share level %d but depend on each other", iter, a.Name(), b.Name(), l.Index())
					}
				}
			}
		}
	}
}

// =============================================================================
// Validation
// =============================================================================

func TestAddWriteDependency_DoubleWriter(t *testing.T) {
	g := New(1)
	a := mustPass(t, g, "a", 0)
	b := mustPass(t, g, "b", 0)
	mustWrite(t, g, a, "target")

	err := g.AddWriteDependency(b, "target", Single(0))
	if err == nil {
		t.Fatal("expected error for second writer")
	}
	if !errors.IsAssertionFailure(err) {
		t.Errorf("expected assertion failure, got %v", err)
	}
	if !strings.Contains(err.Error(), `"a"`) || !strings.Contains(err.Error(), `"b"`) {
		t.Errorf("error should name both passes: %v", err)
	}

	// A different subresource of the same resource is fine.
	if err := g.AddWriteDependency(b, "target", Single(1)); err != nil {
		t.Errorf("writing another subresource: %v", err)
	}
}

func TestBuild_CycleRejected(t *testing.T) {
	g := New(1)
	a := mustPass(t, g, "a", 0)
	b := mustPass(t, g, "b", 0)
	mustWrite(t, g, a, "x")
	mustWrite(t, g, b, "y")
	g.AddReadDependency(a, "y", Single(0))
	g.AddReadDependency(b, "x", Single(0))

	err := g.Build()
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !errors.IsAssertionFailure(err) || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("unexpected error: %v", err)
	}
	if g.IsBuilt() {
		t.Error("graph must not be marked built after a cycle")
	}
}

func TestAddPass_Validation(t *testing.T) {
	g := New(2)
	mustPass(t, g, "a", 0)
	if _, err := g.AddPass("a", 1); !errors.IsAssertionFailure(err) {
		t.Errorf("duplicate pass: got %v", err)
	}
	if _, err := g.AddPass("b", 2); !errors.IsAssertionFailure(err) {
		t.Errorf("queue out of range: got %v", err)
	}
	if _, err := g.AddPass("", 0); err == nil {
		t.Error("empty name accepted")
	}
}

func TestBuild_ReadModifyWriteIsNotSelfDependency(t *testing.T) {
	g := New(1)
	a := mustPass(t, g, "blur", 0)
	mustWrite(t, g, a, "buffer")
	g.AddReadDependency(a, "buffer", Single(0))
	mustBuild(t, g)
	if len(a.Predecessors()) != 0 {
		t.Errorf("predecessors = %v, want none", names(a.Predecessors()))
	}
}

// =============================================================================
// Cross-queue synchronization
// =============================================================================

func TestBuild_AsyncComputeScenario(t *testing.T) {
	g := New(2)
	p0 := mustPass(t, g, "P0", 0)
	p1 := mustPass(t, g, "P1", 1)
	p2 := mustPass(t, g, "P2", 0)
	mustWrite(t, g, p0, "R")
	g.AddReadDependency(p1, "R", Single(0))
	mustWrite(t, g, p1, "S")
	g.AddReadDependency(p2, "S", Single(0))
	mustBuild(t, g)

	if got := names(g.NodesInGlobalExecutionOrder()); !slices.Equal(got, []string{"P0", "P1", "P2"}) {
		t.Fatalf("order = %v", got)
	}
	if got := names(p1.NodesToSyncWith()); !slices.Equal(got, []string{"P0"}) {
		t.Errorf("P1 syncs with %v, want [P0]", got)
	}
	if got := names(p2.NodesToSyncWith()); !slices.Equal(got, []string{"P1"}) {
		t.Errorf("P2 syncs with %v, want [P1]", got)
	}
	if !p0.SyncSignalRequired() || !p1.SyncSignalRequired() || p2.SyncSignalRequired() {
		t.Errorf("signals = %v/%v/%v, want true/true/false",
			p0.SyncSignalRequired(), p1.SyncSignalRequired(), p2.SyncSignalRequired())
	}
	if p0.DependencyLevelIndex() != 0 || p1.DependencyLevelIndex() != 1 || p2.DependencyLevelIndex() != 2 {
		t.Error("each pass should occupy its own level")
	}
}

func TestBuild_RedundantSyncCulled(t *testing.T) {
	// C (queue 1) reads from A and B; B (queue 1) already waited on A.
	g := New(2)
	a := mustPass(t, g, "A", 0)
	b := mustPass(t, g, "B", 1)
	c := mustPass(t, g, "C", 1)
	d := mustPass(t, g, "D", 0)
	mustWrite(t, g, a, "a")
	g.AddReadDependency(b, "a", Single(0))
	mustWrite(t, g, b, "b")
	g.AddReadDependency(c, "a", Single(0))
	g.AddReadDependency(c, "b", Single(0))
	mustWrite(t, g, c, "c")
	// D waits on C, which transitively covers B on the same queue.
	g.AddReadDependency(d, "b", Single(0))
	g.AddReadDependency(d, "c", Single(0))
	mustBuild(t, g)

	if len(c.NodesToSyncWith()) != 0 {
		t.Errorf("C syncs with %v, want none (same queue as B, A covered by B)", names(c.NodesToSyncWith()))
	}
	if got := names(d.NodesToSyncWith()); !slices.Equal(got, []string{"C"}) {
		t.Errorf("D syncs with %v, want [C]", got)
	}
	if b.SyncSignalRequired() {
		t.Error("B needs no signal once D waits on C")
	}
}

func TestBuild_CrossQueueReads(t *testing.T) {
	g := New(2)
	w := mustPass(t, g, "writer", 0)
	mustWrite(t, g, w, "depth")
	r0 := mustPass(t, g, "fog", 0)
	r1 := mustPass(t, g, "ssao", 1)
	g.AddReadDependency(r0, "depth", Single(0))
	g.AddReadDependency(r1, "depth", Single(0))
	mustWrite(t, g, r0, "fog")
	mustWrite(t, g, r1, "ao")
	mustBuild(t, g)

	levels := g.DependencyLevels()
	if len(levels) != 2 {
		t.Fatalf("levels = %d, want 2", len(levels))
	}
	l := levels[1]
	depth := SubresourceName{Resource: "depth"}
	if !l.IsReadByMultipleQueues(depth) {
		t.Fatal("depth should be read by multiple queues")
	}
	if got := l.QueuesInvolvedInCrossQueueReads(); !slices.Equal(got, []int{0, 1}) {
		t.Errorf("queues = %v, want [0 1]", got)
	}
	if got := l.SubresourcesReadByMultipleQueues(); len(got) != 1 || got[0] != depth {
		t.Errorf("subresources = %v", got)
	}
	if levels[0].IsReadByMultipleQueues(depth) {
		t.Error("level 0 has no cross-queue reads")
	}
	if len(l.NodesForQueue(1)) != 1 || l.NodesForQueue(1)[0] != r1 {
		t.Error("NodesForQueue(1) should hold ssao")
	}
}

func TestGraph_Reset(t *testing.T) {
	g := New(1)
	a := mustPass(t, g, "a", 0)
	mustWrite(t, g, a, "x")
	mustBuild(t, g)

	g.Reset()
	if len(g.Nodes()) != 0 || g.IsBuilt() {
		t.Fatal("Reset should clear the graph")
	}
	b := mustPass(t, g, "b", 0)
	mustWrite(t, g, b, "x")
	mustBuild(t, g)
	if g.WriterOf(SubresourceName{Resource: "x"}) != b {
		t.Error("writer from the previous frame leaked through Reset")
	}
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkBuild(b *testing.B) {
	for b.Loop() {
		g := New(2)
		var prev string
		for i := range 64 {
			n, _ := g.AddPass(fmt.Sprintf("p%d", i), i%2)
			out := fmt.Sprintf("r%d", i)
			_ = g.AddWriteDependency(n, out, Range(0, 4))
			if prev != "" {
				g.AddReadDependency(n, prev, Range(0, 4))
			}
			prev = out
		}
		_ = g.Build()
	}
}
