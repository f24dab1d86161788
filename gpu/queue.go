// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpu

import (
	"fmt"
	"strings"
)

// QueueType identifies the capability class of a hardware queue.
type QueueType uint8

// Queue types, ordered from most to least capable.
const (
	QueueGraphics QueueType = iota
	QueueCompute
	QueueCopy
)

const (
	computeStates = StateUnorderedAccess | StateNonPixelShaderResource |
		StateCopyDest | StateCopySource | StateVertexAndConstantBuffer |
		StateIndirectArgument | StateRaytracingAccelerationStructure

	copyStates = StateCopyDest | StateCopySource
)

// String returns the lower-case queue type name.
func (q QueueType) String() string {
	switch q {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	case QueueCopy:
		return "copy"
	default:
		return fmt.Sprintf("QueueType(%d)", uint8(q))
	}
}

// ParseQueueType parses a queue type name as produced by String.
func ParseQueueType(s string) (QueueType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "graphics", "direct":
		return QueueGraphics, nil
	case "compute", "async-compute", "async_compute":
		return QueueCompute, nil
	case "copy", "transfer":
		return QueueCopy, nil
	}
	return 0, fmt.Errorf("gpu: unknown queue type %q", s)
}

// SupportedStates returns every state a queue of this type may use in a
// barrier.
func (q QueueType) SupportedStates() ResourceState {
	switch q {
	case QueueGraphics:
		return ^ResourceState(0)
	case QueueCompute:
		return computeStates
	case QueueCopy:
		return copyStates
	default:
		return StateCommon
	}
}

// SupportsStates reports whether a queue of this type can transition
// resources into or out of every bit of s.
func (q QueueType) SupportsStates(s ResourceState) bool {
	return q.SupportedStates().Contains(s)
}

// SupportsTransition reports whether the queue can express a barrier from
// before to after.
func (q QueueType) SupportsTransition(before, after ResourceState) bool {
	return q.SupportsStates(before | after)
}

// Capability returns a rank where lower means more capable.
func (q QueueType) Capability() int {
	return int(q)
}
