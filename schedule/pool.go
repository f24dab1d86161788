// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package schedule

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpu"
)

type queueLists struct {
	lists []gpu.CommandList
	next  int
}

// CommandListPool recycles command lists per queue and frame slot. Lists
// handed out during frame N are reset and reused in frame N+FramesInFlight,
// once the caller has waited for frame N on the GPU.
//
// A CommandListPool is not safe for concurrent use.
type CommandListPool struct {
	device  gpu.Device
	slots   [][]queueLists
	slot    int
	created int
}

// NewCommandListPool creates a pool for framesInFlight frame slots.
func NewCommandListPool(device gpu.Device, framesInFlight int) *CommandListPool {
	p := &CommandListPool{device: device, slots: make([][]queueLists, max(framesInFlight, 1))}
	for i := range p.slots {
		p.slots[i] = make([]queueLists, len(device.Queues()))
	}
	return p
}

// BeginFrame makes the lists of frame's slot available again.
func (p *CommandListPool) BeginFrame(frame uint64) {
	p.slot = int(frame % uint64(len(p.slots)))
	for q := range p.slots[p.slot] {
		p.slots[p.slot][q].next = 0
	}
}

// EndFrame closes the frame. Lists stay owned by the slot until it comes
// around again.
func (p *CommandListPool) EndFrame(uint64) {}

// Acquire returns an open command list for queue labeled label.
func (p *CommandListPool) Acquire(queue int, label string) (gpu.CommandList, error) {
	if queue < 0 || queue >= len(p.slots[p.slot]) {
		return nil, errors.AssertionFailedf("schedule: command list for unknown queue %d", queue)
	}
	ql := &p.slots[p.slot][queue]
	if ql.next < len(ql.lists) {
		cl := ql.lists[ql.next]
		if err := cl.Reset(label); err != nil {
			return nil, errors.Wrapf(err, "schedule: reset command list %q", label)
		}
		ql.next++
		return cl, nil
	}
	cl, err := p.device.CreateCommandList(queue, label)
	if err != nil {
		return nil, errors.Wrapf(err, "schedule: create command list %q", label)
	}
	ql.lists = append(ql.lists, cl)
	ql.next++
	p.created++
	return cl, nil
}

// Created returns how many command lists the pool created in total.
func (p *CommandListPool) Created() int { return p.created }
