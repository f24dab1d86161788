// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package software

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpu"
)

// Op is a recorded command.
type Op uint8

const (
	OpBarrier Op = iota
	OpSetPipeline
	OpBindBuffer
	OpBindDescriptor
	OpSetRenderTargets
	OpClearRenderTarget
	OpClearDepth
	OpDraw
	OpDispatch
	OpDispatchRays
	OpCopy
	OpTimestamp
)

// Command is one recorded command.
type Command struct {
	Op       Op
	Barrier  gpu.Barrier
	Pipeline gpu.PipelineState
	Resource gpu.Resource
	Dst      gpu.Resource
	Offset   uint64
	Slot     uint32
	Color    [4]float32
	Args     [3]uint32
	Index    uint32
}

// CommandList records commands for later execution by Device.Submit.
type CommandList struct {
	kind     gpu.CommandListKind
	label    string
	closed   bool
	commands []Command
	pipeline gpu.PipelineState
	err      error
}

var _ gpu.CommandList = (*CommandList)(nil)

func (c *CommandList) Kind() gpu.CommandListKind { return c.kind }
func (c *CommandList) Label() string             { return c.label }

// Commands returns the recorded commands.
func (c *CommandList) Commands() []Command { return c.commands }

// Barriers returns every recorded barrier in order.
func (c *CommandList) Barriers() []gpu.Barrier {
	var out []gpu.Barrier
	for _, cmd := range c.commands {
		if cmd.Op == OpBarrier {
			out = append(out, cmd.Barrier)
		}
	}
	return out
}

func (c *CommandList) Reset(label string) error {
	c.label = label
	c.closed = false
	c.commands = c.commands[:0]
	c.pipeline = nil
	c.err = nil
	return nil
}

// Close finishes recording and returns the first recording error.
func (c *CommandList) Close() error {
	if c.closed {
		return errors.Newf("software: command list %q closed twice", c.label)
	}
	c.closed = true
	return c.err
}

func (c *CommandList) fail(format string, args ...any) {
	if c.err == nil {
		c.err = errors.Newf("software: %q: %s", c.label, fmt.Sprintf(format, args...))
	}
}

func (c *CommandList) push(cmd Command) {
	if c.closed {
		c.fail("recording into a closed list")
		return
	}
	c.commands = append(c.commands, cmd)
}

func (c *CommandList) InsertBarriers(b gpu.BarrierCollection) {
	for _, barrier := range b.Barriers() {
		if barrier.Kind == gpu.BarrierTransition {
			q := queueTypeOf(c.kind)
			if !q.SupportsTransition(barrier.StateBefore, barrier.StateAfter) {
				c.fail("%s list cannot express %v", c.kind, barrier)
			}
		}
		c.push(Command{Op: OpBarrier, Barrier: barrier})
	}
}

func queueTypeOf(k gpu.CommandListKind) gpu.QueueType {
	switch k {
	case gpu.CommandListCompute:
		return gpu.QueueCompute
	case gpu.CommandListCopy:
		return gpu.QueueCopy
	default:
		return gpu.QueueGraphics
	}
}

func (c *CommandList) SetPipelineState(p gpu.PipelineState) {
	if !c.kind.SupportsPipeline(gpu.PipelineKindOf(p)) {
		c.fail("%s pipeline %q on a %s list", gpu.PipelineKindOf(p), p.PipelineName(), c.kind)
	}
	c.pipeline = p
	c.push(Command{Op: OpSetPipeline, Pipeline: p})
}

func (c *CommandList) BindBuffer(slot uint32, r gpu.Resource, offset uint64) {
	c.push(Command{Op: OpBindBuffer, Slot: slot, Resource: r, Offset: offset})
}

func (c *CommandList) BindDescriptor(slot uint32, d gpu.Descriptor) {
	c.push(Command{Op: OpBindDescriptor, Slot: slot, Resource: d.Resource})
}

func (c *CommandList) SetRenderTargets(rts []gpu.Descriptor, ds *gpu.Descriptor) {
	if !c.kind.SupportsGraphics() {
		c.fail("render targets on a %s list", c.kind)
	}
	for i, rt := range rts {
		c.push(Command{Op: OpSetRenderTargets, Slot: uint32(i), Resource: rt.Resource})
	}
	if ds != nil {
		c.push(Command{Op: OpSetRenderTargets, Slot: ^uint32(0), Resource: ds.Resource})
	}
}

func (c *CommandList) ClearRenderTarget(rt gpu.Descriptor, color [4]float32) {
	if !c.kind.SupportsGraphics() {
		c.fail("clear on a %s list", c.kind)
	}
	c.push(Command{Op: OpClearRenderTarget, Resource: rt.Resource, Color: color})
}

func (c *CommandList) ClearDepth(ds gpu.Descriptor, depth float32) {
	if !c.kind.SupportsGraphics() {
		c.fail("depth clear on a %s list", c.kind)
	}
	c.push(Command{Op: OpClearDepth, Resource: ds.Resource, Color: [4]float32{depth}})
}

func (c *CommandList) requirePipeline(kind gpu.PipelineKind, op string) {
	if c.pipeline == nil || gpu.PipelineKindOf(c.pipeline) != kind {
		c.fail("%s without a %s pipeline", op, kind)
	}
}

func (c *CommandList) Draw(vertexCount, instanceCount uint32) {
	c.requirePipeline(gpu.PipelineGraphics, "draw")
	c.push(Command{Op: OpDraw, Args: [3]uint32{vertexCount, instanceCount}})
}

func (c *CommandList) Dispatch(x, y, z uint32) {
	c.requirePipeline(gpu.PipelineCompute, "dispatch")
	c.push(Command{Op: OpDispatch, Args: [3]uint32{x, y, z}})
}

func (c *CommandList) DispatchRays(w, h, d uint32) {
	c.requirePipeline(gpu.PipelineRayTracing, "ray dispatch")
	c.push(Command{Op: OpDispatchRays, Args: [3]uint32{w, h, d}})
}

func (c *CommandList) CopyResource(cp gpu.CopyCommand) {
	c.push(Command{Op: OpCopy, Resource: cp.Src, Dst: cp.Dst, Offset: cp.DstOffset})
}

func (c *CommandList) WriteTimestamp(index uint32) {
	c.push(Command{Op: OpTimestamp, Index: index})
}
