// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package graph builds the per-frame render pass dependency graph.
//
// Passes register the subresources they read and write. Build orders the
// passes topologically, partitions them into dependency levels, assigns
// execution indices and decides which cross-queue dependencies need a fence
// wait. A Graph is rebuilt from scratch every frame.
package graph

import (
	"slices"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/internal/logging"
)

// Graph is the render pass DAG of one frame.
type Graph struct {
	queueCount int

	nodes   []*Node
	byName  map[string]*Node
	writers map[SubresourceName]*Node

	order    []*Node
	levels   []*DependencyLevel
	perQueue [][]*Node
	built    bool
}

// New creates an empty graph for a device with queueCount queues.
func New(queueCount int) *Graph {
	g := &Graph{queueCount: max(queueCount, 1)}
	g.Reset()
	return g
}

// Reset removes every pass so the graph can be rebuilt for a new frame.
func (g *Graph) Reset() {
	g.nodes = g.nodes[:0]
	g.byName = make(map[string]*Node)
	g.writers = make(map[SubresourceName]*Node)
	g.order = nil
	g.levels = nil
	g.perQueue = nil
	g.built = false
}

// QueueCount returns the number of queues passes may be assigned to.
func (g *Graph) QueueCount() int { return g.queueCount }

// AddPass registers a pass executing on queue.
func (g *Graph) AddPass(name string, queue int) (*Node, error) {
	if name == "" {
		return nil, errors.AssertionFailedf("graph: pass name must not be empty")
	}
	if _, dup := g.byName[name]; dup {
		return nil, errors.AssertionFailedf("graph: pass %q registered twice", name)
	}
	if err := g.checkQueue(name, queue); err != nil {
		return nil, err
	}
	n := newNode(name, len(g.nodes), queue)
	g.nodes = append(g.nodes, n)
	g.byName[name] = n
	g.built = false
	return n, nil
}

func (g *Graph) checkQueue(pass string, queue int) error {
	if queue < 0 || queue >= g.queueCount {
		return errors.AssertionFailedf("graph: pass %q assigned to queue %d, device has %d queues",
			pass, queue, g.queueCount)
	}
	return nil
}

// SetQueue moves a registered pass to another queue.
func (g *Graph) SetQueue(n *Node, queue int) error {
	if err := g.checkQueue(n.name, queue); err != nil {
		return err
	}
	n.queue = queue
	g.built = false
	return nil
}

// UseRayTracing flags the pass as dispatching rays.
func (g *Graph) UseRayTracing(n *Node) { n.usesRayTracing = true }

// MarkBackBufferWrite flags the pass as writing the swap chain image.
func (g *Graph) MarkBackBufferWrite(n *Node) { n.writesBackBuffer = true }

// AddReadDependency records that n reads a range of resource's subresources.
func (g *Graph) AddReadDependency(n *Node, resource string, r SubresourceRange) {
	for _, idx := range r.indices() {
		n.addSubresource(&n.reads, SubresourceName{Resource: resource, Index: idx})
	}
	g.built = false
}

// AddWriteDependency records that n writes a range of resource's
// subresources. A subresource has at most one writer per frame.
func (g *Graph) AddWriteDependency(n *Node, resource string, r SubresourceRange) error {
	for _, idx := range r.indices() {
		s := SubresourceName{Resource: resource, Index: idx}
		if w, ok := g.writers[s]; ok && w != n {
			return errors.AssertionFailedf("graph: subresource %s written by both %q and %q",
				s, w.name, n.name)
		}
		g.writers[s] = n
		n.addSubresource(&n.writes, s)
	}
	g.built = false
	return nil
}

// Node returns the pass registered under name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.byName[name]
	return n, ok
}

// Nodes returns passes in registration order.
func (g *Graph) Nodes() []*Node { return g.nodes }

// WriterOf returns the pass writing s this frame, or nil.
func (g *Graph) WriterOf(s SubresourceName) *Node { return g.writers[s] }

// NodesInGlobalExecutionOrder returns every pass in a valid topological order.
func (g *Graph) NodesInGlobalExecutionOrder() []*Node { return g.order }

// DependencyLevels returns the levels in execution order.
func (g *Graph) DependencyLevels() []*DependencyLevel { return g.levels }

// NodesForQueue returns the passes on queue q in execution order.
func (g *Graph) NodesForQueue(q int) []*Node {
	if q < 0 || q >= len(g.perQueue) {
		return nil
	}
	return g.perQueue[q]
}

// IsBuilt reports whether Build succeeded since the last modification.
func (g *Graph) IsBuilt() bool { return g.built }

// Build validates the registered passes and computes the execution order.
// Any error is an assertion failure naming the offending passes.
func (g *Graph) Build() error {
	g.order, g.levels, g.perQueue = nil, nil, nil
	for _, n := range g.nodes {
		n.predecessors, n.successors = n.predecessors[:0], n.successors[:0]
		n.syncWith = n.syncWith[:0]
		n.syncSignalRequired = false
	}

	if err := g.validateWriters(); err != nil {
		return err
	}
	g.buildAdjacency()

	sorted, err := g.sort()
	if err != nil {
		return err
	}
	g.buildLevels(sorted)
	g.cullSynchronizations()
	g.detectCrossQueueReads()
	g.built = true

	logging.Logger().Debug("graph: built",
		"passes", len(g.nodes), "levels", len(g.levels), "queues", g.queueCount)
	return nil
}

func (g *Graph) validateWriters() error {
	owner := make(map[SubresourceName]*Node, len(g.writers))
	for _, n := range g.nodes {
		for _, s := range n.writes {
			if w, ok := owner[s]; ok {
				return errors.AssertionFailedf("graph: subresource %s written by both %q and %q",
					s, w.name, n.name)
			}
			owner[s] = n
		}
	}
	return nil
}

// buildAdjacency links every reader to the writer of each subresource it
// reads. A pass reading its own output is not a dependency.
func (g *Graph) buildAdjacency() {
	for _, n := range g.nodes {
		for _, s := range n.reads {
			w := g.writers[s]
			if w == nil || w == n || slices.Contains(n.predecessors, w) {
				continue
			}
			n.predecessors = append(n.predecessors, w)
		}
	}
	// Successor lists are kept in registration order for stable sorting.
	for _, n := range g.nodes {
		for _, p := range n.predecessors {
			p.successors = append(p.successors, n)
		}
	}
}

const (
	unvisited = iota
	onStack
	finished
)

// sort runs a depth-first search with recursion-stack marking. Nodes and
// successors are visited in reverse registration order so that reversing the
// finish order breaks ties by registration order.
func (g *Graph) sort() ([]*Node, error) {
	mark := make([]uint8, len(g.nodes))
	finishOrder := make([]*Node, 0, len(g.nodes))
	var stack []*Node

	var visit func(n *Node) error
	visit = func(n *Node) error {
		mark[n.registration] = onStack
		stack = append(stack, n)
		for i := len(n.successors) - 1; i >= 0; i-- {
			s := n.successors[i]
			switch mark[s.registration] {
			case onStack:
				return cycleError(stack, s)
			case unvisited:
				if err := visit(s); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		mark[n.registration] = finished
		finishOrder = append(finishOrder, n)
		return nil
	}

	for i := len(g.nodes) - 1; i >= 0; i-- {
		if mark[i] == unvisited {
			if err := visit(g.nodes[i]); err != nil {
				return nil, err
			}
		}
	}
	slices.Reverse(finishOrder)
	return finishOrder, nil
}

func cycleError(stack []*Node, back *Node) error {
	start := slices.Index(stack, back)
	names := make([]string, 0, len(stack)-start+1)
	for _, n := range stack[start:] {
		names = append(names, n.name)
	}
	names = append(names, back.name)
	return errors.AssertionFailedf("graph: dependency cycle %s", strings.Join(names, " -> "))
}

// buildLevels assigns every node the level 1 + max(predecessor level) and
// derives the execution indices from the level order.
func (g *Graph) buildLevels(sorted []*Node) {
	depth := 0
	for _, n := range sorted {
		n.levelIndex = 0
		for _, p := range n.predecessors {
			n.levelIndex = max(n.levelIndex, p.levelIndex+1)
		}
		depth = max(depth, n.levelIndex+1)
	}

	g.levels = make([]*DependencyLevel, depth)
	for i := range g.levels {
		g.levels[i] = &DependencyLevel{index: i, nodesPerQueue: make([][]*Node, g.queueCount)}
	}
	for _, n := range sorted {
		l := g.levels[n.levelIndex]
		n.levelLocalIndex = len(l.nodes)
		l.nodes = append(l.nodes, n)
		l.nodesPerQueue[n.queue] = append(l.nodesPerQueue[n.queue], n)
	}

	g.perQueue = make([][]*Node, g.queueCount)
	g.order = make([]*Node, 0, len(sorted))
	for _, l := range g.levels {
		for _, n := range l.nodes {
			n.globalIndex = len(g.order)
			n.queueLocalIndex = len(g.perQueue[n.queue])
			g.order = append(g.order, n)
			g.perQueue[n.queue] = append(g.perQueue[n.queue], n)
		}
	}
}

// cullSynchronizations decides which cross-queue predecessors a node waits
// on. Each node carries, per queue, the highest queue-local index it is
// already ordered after. A candidate already covered needs no wait.
func (g *Graph) cullSynchronizations() {
	prevOnQueue := make([]*Node, g.queueCount)
	for _, n := range g.order {
		n.coverage = make([]int, g.queueCount)
		if prev := prevOnQueue[n.queue]; prev != nil {
			copy(n.coverage, prev.coverage)
		} else {
			for q := range n.coverage {
				n.coverage[q] = -1
			}
		}
		n.coverage[n.queue] = n.queueLocalIndex
		prevOnQueue[n.queue] = n

		var candidates []*Node
		for _, p := range n.predecessors {
			if p.queue != n.queue {
				candidates = append(candidates, p)
			}
		}
		slices.SortFunc(candidates, func(a, b *Node) int { return b.globalIndex - a.globalIndex })

		for _, c := range candidates {
			if n.coverage[c.queue] >= c.queueLocalIndex {
				continue
			}
			n.syncWith = append(n.syncWith, c)
			c.syncSignalRequired = true
			for q, v := range c.coverage {
				n.coverage[q] = max(n.coverage[q], v)
			}
		}
	}
}

func (g *Graph) detectCrossQueueReads() {
	for _, l := range g.levels {
		readers := make(map[SubresourceName][]int)
		for _, n := range l.nodes {
			for _, s := range n.reads {
				if !slices.Contains(readers[s], n.queue) {
					readers[s] = append(readers[s], n.queue)
				}
			}
		}
		l.multiQueueReadSets = make(map[SubresourceName][]int)
		var queues []int
		for s, qs := range readers {
			if len(qs) < 2 {
				continue
			}
			slices.Sort(qs)
			l.multiQueueReadSets[s] = qs
			l.multiQueueReads = append(l.multiQueueReads, s)
			for _, q := range qs {
				if !slices.Contains(queues, q) {
					queues = append(queues, q)
				}
			}
		}
		slices.SortFunc(l.multiQueueReads, SubresourceName.Compare)
		slices.Sort(queues)
		l.crossQueueQueues = queues
	}
}
