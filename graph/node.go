// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package graph

import (
	"fmt"
	"slices"
)

// SubresourceName identifies one subresource of a named resource.
type SubresourceName struct {
	Resource string
	Index    uint32
}

func (s SubresourceName) String() string {
	return fmt.Sprintf("%s[%d]", s.Resource, s.Index)
}

// Compare orders subresource names by resource, then index.
func (s SubresourceName) Compare(o SubresourceName) int {
	if s.Resource != o.Resource {
		if s.Resource < o.Resource {
			return -1
		}
		return 1
	}
	switch {
	case s.Index < o.Index:
		return -1
	case s.Index > o.Index:
		return 1
	}
	return 0
}

// SubresourceRange is a contiguous run of subresource indices.
// A zero Count addresses a single subresource.
type SubresourceRange struct {
	First uint32
	Count uint32
}

// Single returns the range holding only index.
func Single(index uint32) SubresourceRange { return SubresourceRange{First: index, Count: 1} }

// Range returns count subresources starting at first.
func Range(first, count uint32) SubresourceRange { return SubresourceRange{First: first, Count: count} }

func (r SubresourceRange) indices() []uint32 {
	n := max(r.Count, 1)
	out := make([]uint32, n)
	for i := range n {
		out[i] = r.First + i
	}
	return out
}

// Node is one render pass instance in a frame.
//
// Registration fields are filled by Graph methods; execution fields are
// valid after a successful Build.
type Node struct {
	name             string
	registration     int
	queue            int
	usesRayTracing   bool
	writesBackBuffer bool

	reads  []SubresourceName
	writes []SubresourceName
	all    []SubresourceName
	seen   map[SubresourceName]struct{}

	predecessors []*Node
	successors   []*Node

	globalIndex     int
	queueLocalIndex int
	levelLocalIndex int
	levelIndex      int

	syncWith           []*Node
	syncSignalRequired bool
	coverage           []int
}

func newNode(name string, registration, queue int) *Node {
	return &Node{
		name:         name,
		registration: registration,
		queue:        queue,
		seen:         make(map[SubresourceName]struct{}),
	}
}

func (n *Node) addSubresource(list *[]SubresourceName, s SubresourceName) {
	if !slices.Contains(*list, s) {
		*list = append(*list, s)
	}
	if _, ok := n.seen[s]; !ok {
		n.seen[s] = struct{}{}
		n.all = append(n.all, s)
	}
}

func (n *Node) Name() string { return n.name }

// Queue returns the queue index the pass executes on.
func (n *Node) Queue() int { return n.queue }

func (n *Node) UsesRayTracing() bool     { return n.usesRayTracing }
func (n *Node) WritesToBackBuffer() bool { return n.writesBackBuffer }

// ReadSubresources returns read subresources in registration order.
func (n *Node) ReadSubresources() []SubresourceName { return n.reads }

// WrittenSubresources returns written subresources in registration order.
func (n *Node) WrittenSubresources() []SubresourceName { return n.writes }

// AllSubresources returns every touched subresource in registration order.
func (n *Node) AllSubresources() []SubresourceName { return n.all }

// Reads reports whether the node reads s.
func (n *Node) Reads(s SubresourceName) bool { return slices.Contains(n.reads, s) }

// Writes reports whether the node writes s.
func (n *Node) Writes(s SubresourceName) bool { return slices.Contains(n.writes, s) }

// Predecessors returns the nodes this node directly depends on.
func (n *Node) Predecessors() []*Node { return n.predecessors }

func (n *Node) GlobalExecutionIndex() int                 { return n.globalIndex }
func (n *Node) LocalToQueueExecutionIndex() int           { return n.queueLocalIndex }
func (n *Node) LocalToDependencyLevelExecutionIndex() int { return n.levelLocalIndex }
func (n *Node) DependencyLevelIndex() int                 { return n.levelIndex }

// NodesToSyncWith returns the nodes on other queues this node must wait for,
// after redundant synchronizations were culled.
func (n *Node) NodesToSyncWith() []*Node { return n.syncWith }

// SyncSignalRequired reports whether another queue waits on this node.
func (n *Node) SyncSignalRequired() bool { return n.syncSignalRequired }

func (n *Node) String() string { return n.name }
