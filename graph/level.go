// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package graph

// DependencyLevel is a set of nodes with no dependency among themselves.
type DependencyLevel struct {
	index         int
	nodes         []*Node
	nodesPerQueue [][]*Node

	crossQueueQueues   []int
	multiQueueReads    []SubresourceName
	multiQueueReadSets map[SubresourceName][]int
}

// Index returns the position of the level in execution order.
func (l *DependencyLevel) Index() int { return l.index }

// Nodes returns the level's nodes in execution order.
func (l *DependencyLevel) Nodes() []*Node { return l.nodes }

// NodesForQueue returns the level's nodes on queue q.
func (l *DependencyLevel) NodesForQueue(q int) []*Node {
	if q < 0 || q >= len(l.nodesPerQueue) {
		return nil
	}
	return l.nodesPerQueue[q]
}

// QueuesInvolvedInCrossQueueReads returns, in ascending order, the queues
// that read a subresource also read by another queue in this level.
func (l *DependencyLevel) QueuesInvolvedInCrossQueueReads() []int { return l.crossQueueQueues }

// SubresourcesReadByMultipleQueues returns the subresources read by more
// than one queue in this level, sorted by name.
func (l *DependencyLevel) SubresourcesReadByMultipleQueues() []SubresourceName {
	return l.multiQueueReads
}

// QueuesReading returns the ascending queue indices that read s in this
// level when s is read by more than one queue, nil otherwise.
func (l *DependencyLevel) QueuesReading(s SubresourceName) []int {
	return l.multiQueueReadSets[s]
}

// IsReadByMultipleQueues reports whether s is read by more than one queue.
func (l *DependencyLevel) IsReadByMultipleQueues(s SubresourceName) bool {
	_, ok := l.multiQueueReadSets[s]
	return ok
}
