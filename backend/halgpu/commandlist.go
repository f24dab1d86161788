// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package halgpu

import (
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/gpu"
)

// CommandList records into a HAL command encoder.
//
// Pipelines are bound through their Handle: GraphicsPipeline.Handle must be
// a hal.RenderPipeline and ComputePipeline.Handle a hal.ComputePipeline.
// Descriptors whose Handle is a hal.BindGroup are bound at their slot.
// Recording errors are sticky and returned by Close.
type CommandList struct {
	device *Device
	kind   gpu.CommandListKind
	label  string

	encoder   hal.CommandEncoder
	buffer    hal.CommandBuffer
	recording bool
	retireAt  uint64

	pipeline     gpu.PipelineState
	bindGroups   map[uint32]hal.BindGroup
	vertexBufs   map[uint32]vertexBinding
	renderTarget []gpu.Descriptor
	depth        *gpu.Descriptor
	timestamps   []uint32
	err          error
}

type vertexBinding struct {
	buffer hal.Buffer
	offset uint64
}

var _ gpu.CommandList = (*CommandList)(nil)

func (c *CommandList) Kind() gpu.CommandListKind { return c.kind }
func (c *CommandList) Label() string             { return c.label }

func (c *CommandList) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Reset frees the previous command buffer once the GPU retired it and opens
// a new encoder.
func (c *CommandList) Reset(label string) error {
	d := c.device
	if c.buffer != nil {
		if err := d.retire(c.retireAt); err != nil {
			return err
		}
		d.device.FreeCommandBuffer(c.buffer)
		c.buffer = nil
	}
	if c.recording {
		c.encoder.DiscardEncoding()
		c.recording = false
	}

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return errors.Wrapf(err, "halgpu: create encoder %q", label)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return errors.Wrapf(err, "halgpu: begin encoding %q", label)
	}
	c.encoder = encoder
	c.label = label
	c.recording = true
	c.retireAt = 0
	c.pipeline = nil
	c.bindGroups = make(map[uint32]hal.BindGroup)
	c.vertexBufs = make(map[uint32]vertexBinding)
	c.renderTarget = nil
	c.depth = nil
	c.timestamps = c.timestamps[:0]
	c.err = nil
	return nil
}

func (c *CommandList) Close() error {
	if !c.recording {
		return errors.Newf("halgpu: close of closed command list %q", c.label)
	}
	c.recording = false
	if c.err != nil {
		c.encoder.DiscardEncoding()
		return c.err
	}
	buf, err := c.encoder.EndEncoding()
	if err != nil {
		return errors.Wrapf(err, "halgpu: end encoding %q", c.label)
	}
	c.buffer = buf
	return nil
}

func (c *CommandList) InsertBarriers(b gpu.BarrierCollection) {
	var transitions []hal.TextureBarrier
	skipped := 0
	for _, barrier := range b.Barriers() {
		res, _ := barrier.Resource.(*Resource)
		if barrier.Kind != gpu.BarrierTransition || res == nil || res.texture == nil {
			skipped++
			continue
		}
		// The HAL has no split barriers; the whole transition is issued
		// at the end half.
		if barrier.Split == gpu.SplitBeginOnly {
			continue
		}
		transitions = append(transitions, hal.TextureBarrier{
			Texture: res.texture,
			Usage: hal.TextureUsageTransition{
				OldUsage: textureUsage(barrier.StateBefore),
				NewUsage: textureUsage(barrier.StateAfter),
			},
		})
	}
	if len(transitions) > 0 {
		c.encoder.TransitionTextures(transitions)
	}
	if skipped > 0 {
		c.device.mu.Lock()
		c.device.skipped += skipped
		c.device.mu.Unlock()
	}
}

func (c *CommandList) SetPipelineState(p gpu.PipelineState) {
	if !c.kind.SupportsPipeline(gpu.PipelineKindOf(p)) {
		c.fail(errors.Newf("halgpu: %s pipeline %q bound on %s list %q",
			gpu.PipelineKindOf(p), p.PipelineName(), c.kind, c.label))
		return
	}
	c.pipeline = p
}

func (c *CommandList) BindBuffer(slot uint32, r gpu.Resource, offset uint64) {
	res, ok := r.(*Resource)
	if !ok || res.buffer == nil {
		c.fail(errors.Newf("halgpu: bind of non-buffer %v at slot %d", r, slot))
		return
	}
	c.vertexBufs[slot] = vertexBinding{buffer: res.buffer, offset: offset}
}

func (c *CommandList) BindDescriptor(slot uint32, d gpu.Descriptor) {
	if bg, ok := d.Handle.(hal.BindGroup); ok {
		c.bindGroups[slot] = bg
	}
}

func (c *CommandList) SetRenderTargets(rts []gpu.Descriptor, depthStencil *gpu.Descriptor) {
	if !c.kind.SupportsGraphics() {
		c.fail(errors.Newf("halgpu: render targets set on %s list %q", c.kind, c.label))
		return
	}
	c.renderTarget = append(c.renderTarget[:0], rts...)
	c.depth = depthStencil
}

func textureView(d gpu.Descriptor) (hal.TextureView, error) {
	v, ok := d.Handle.(hal.TextureView)
	if !ok {
		return nil, errors.Newf("halgpu: descriptor of %v is not a texture view", d.Resource)
	}
	return v, nil
}

func (c *CommandList) ClearRenderTarget(rt gpu.Descriptor, color [4]float32) {
	view, err := textureView(rt)
	if err != nil {
		c.fail(err)
		return
	}
	rp := c.encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: c.label + "-clear",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:    view,
			LoadOp:  gputypes.LoadOpClear,
			StoreOp: gputypes.StoreOpStore,
			ClearValue: gputypes.Color{
				R: float64(color[0]), G: float64(color[1]), B: float64(color[2]), A: float64(color[3]),
			},
		}},
	})
	rp.End()
}

func (c *CommandList) ClearDepth(ds gpu.Descriptor, depth float32) {
	view, err := textureView(ds)
	if err != nil {
		c.fail(err)
		return
	}
	rp := c.encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: c.label + "-clear-depth",
		DepthStencilAttachment: &hal.RenderPassDepthStencilAttachment{
			View:            view,
			DepthLoadOp:     gputypes.LoadOpClear,
			DepthStoreOp:    gputypes.StoreOpStore,
			DepthClearValue: depth,
			StencilLoadOp:   gputypes.LoadOpClear,
			StencilStoreOp:  gputypes.StoreOpStore,
		},
	})
	rp.End()
}

func (c *CommandList) Draw(vertexCount, instanceCount uint32) {
	g, ok := c.pipeline.(*gpu.GraphicsPipeline)
	if !ok {
		c.fail(errors.Newf("halgpu: draw without graphics pipeline in %q", c.label))
		return
	}
	pipeline, ok := g.Handle.(hal.RenderPipeline)
	if !ok {
		c.fail(errors.Newf("halgpu: pipeline %q has no HAL render pipeline", g.Name))
		return
	}
	desc := &hal.RenderPassDescriptor{Label: c.label}
	for _, rt := range c.renderTarget {
		view, err := textureView(rt)
		if err != nil {
			c.fail(err)
			return
		}
		desc.ColorAttachments = append(desc.ColorAttachments, hal.RenderPassColorAttachment{
			View:    view,
			LoadOp:  gputypes.LoadOpLoad,
			StoreOp: gputypes.StoreOpStore,
		})
	}
	if c.depth != nil {
		view, err := textureView(*c.depth)
		if err != nil {
			c.fail(err)
			return
		}
		desc.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
			View:           view,
			DepthLoadOp:    gputypes.LoadOpLoad,
			DepthStoreOp:   gputypes.StoreOpStore,
			StencilLoadOp:  gputypes.LoadOpLoad,
			StencilStoreOp: gputypes.StoreOpStore,
		}
	}

	rp := c.encoder.BeginRenderPass(desc)
	rp.SetPipeline(pipeline)
	for slot, bg := range c.bindGroups {
		rp.SetBindGroup(slot, bg, nil)
	}
	for slot, vb := range c.vertexBufs {
		rp.SetVertexBuffer(slot, vb.buffer, vb.offset)
	}
	rp.Draw(vertexCount, instanceCount, 0, 0)
	rp.End()
}

func (c *CommandList) Dispatch(x, y, z uint32) {
	cp, ok := c.pipeline.(*gpu.ComputePipeline)
	if !ok {
		c.fail(errors.Newf("halgpu: dispatch without compute pipeline in %q", c.label))
		return
	}
	pipeline, ok := cp.Handle.(hal.ComputePipeline)
	if !ok {
		c.fail(errors.Newf("halgpu: pipeline %q has no HAL compute pipeline", cp.Name))
		return
	}
	pass := c.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: c.label})
	pass.SetPipeline(pipeline)
	for slot, bg := range c.bindGroups {
		pass.SetBindGroup(slot, bg, nil)
	}
	pass.Dispatch(x, y, z)
	pass.End()
}

func (c *CommandList) DispatchRays(uint32, uint32, uint32) {
	c.fail(errors.Newf("halgpu: ray tracing is not supported (%q)", c.label))
}

func (c *CommandList) CopyResource(cmd gpu.CopyCommand) {
	src, sok := cmd.Src.(*Resource)
	dst, dok := cmd.Dst.(*Resource)
	if !sok || !dok || dst.buffer == nil {
		c.fail(errors.Newf("halgpu: copy %v -> %v needs a buffer destination", cmd.Src, cmd.Dst))
		return
	}
	if src.buffer != nil {
		c.encoder.CopyBufferToBuffer(src.buffer, dst.buffer, []hal.BufferCopy{
			{SrcOffset: 0, DstOffset: cmd.DstOffset, Size: src.desc.Size},
		})
		return
	}
	desc := src.desc
	height := max(desc.Height, 1)
	c.encoder.CopyTextureToBuffer(src.texture, dst.buffer, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: cmd.DstOffset, BytesPerRow: alignedBytesPerRow(desc), RowsPerImage: height},
		TextureBase:  hal.ImageCopyTexture{Texture: src.texture, MipLevel: 0},
		Size:         hal.Extent3D{Width: max(desc.Width, 1), Height: height, DepthOrArrayLayers: 1},
	}})
}

// WriteTimestamp records a query resolved to the host submit time.
func (c *CommandList) WriteTimestamp(index uint32) {
	c.timestamps = append(c.timestamps, index)
}
