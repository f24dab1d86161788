// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package framegraph

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpu"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/resource"
)

// RecordContext is handed to RenderPass.Render. It records into the pass's
// command list and checks every command against what the pass declared when
// it was scheduled.
//
// The first violation is kept and every later command becomes a no-op. The
// engine reports it when Render returns, so a pass may ignore errors
// returned by individual calls.
type RecordContext struct {
	engine   *Engine
	node     *graph.Node
	list     gpu.CommandList
	thread   int
	pipeline gpu.PipelineState
	err      error
}

func (c *RecordContext) fail(err error) error {
	if c.err == nil {
		c.err = err
	}
	return err
}

func (c *RecordContext) failf(format string, args ...any) {
	c.fail(errors.AssertionFailedf(format, args...))
}

// Pass returns the name of the pass being recorded.
func (c *RecordContext) Pass() string { return c.node.Name() }

// Queue returns the queue index the pass executes on.
func (c *RecordContext) Queue() int { return c.node.Queue() }

// ThreadIndex returns the index of the recording goroutine, in
// [0, recording threads). Passes use it to pick per-thread scratch state.
func (c *RecordContext) ThreadIndex() int { return c.thread }

// CommandList returns the command list of the pass. Commands recorded on it
// directly bypass validation.
func (c *RecordContext) CommandList() gpu.CommandList { return c.list }

// Err returns the first recording error.
func (c *RecordContext) Err() error { return c.err }

// ApplyPipelineState binds p. The pipeline kind must be supported by the
// pass's command list; ray tracing pipelines require UseRayTracing at
// scheduling time.
func (c *RecordContext) ApplyPipelineState(p gpu.PipelineState) {
	if c.err != nil {
		return
	}
	if p == nil {
		c.failf("framegraph: pass %q applies a nil pipeline state", c.Pass())
		return
	}
	kind := gpu.PipelineKindOf(p)
	if !c.list.Kind().SupportsPipeline(kind) {
		c.failf("framegraph: pass %q applies %s pipeline %q on a %s command list",
			c.Pass(), kind, p.PipelineName(), c.list.Kind())
		return
	}
	if kind == gpu.PipelineRayTracing && !c.node.UsesRayTracing() {
		c.failf("framegraph: pass %q applies ray tracing pipeline %q without scheduling ray tracing",
			c.Pass(), p.PipelineName())
		return
	}
	c.pipeline = p
	c.list.SetPipelineState(p)
}

func (c *RecordContext) requirePipeline(op string) bool {
	if c.err != nil {
		return false
	}
	if c.pipeline == nil {
		c.failf("framegraph: pass %q %s without a pipeline state", c.Pass(), op)
		return false
	}
	return true
}

func (c *RecordContext) requireKind(kind gpu.PipelineKind, op string) bool {
	if !c.requirePipeline(op) {
		return false
	}
	if got := gpu.PipelineKindOf(c.pipeline); got != kind {
		c.failf("framegraph: pass %q %s with %s pipeline %q applied", c.Pass(), op, got, c.pipeline.PipelineName())
		return false
	}
	return true
}

// Resource returns the GPU object of a resource the pass declared.
func (c *RecordContext) Resource(name string) (gpu.Resource, error) {
	if _, err := c.engine.storage.PassInfo(c.Pass(), name); err != nil {
		return nil, c.fail(err)
	}
	r, err := c.engine.storage.Resource(name)
	if err != nil {
		return nil, c.fail(err)
	}
	return r, nil
}

// Descriptor returns the view of kind the pass requested on name.
func (c *RecordContext) Descriptor(name string, kind gpu.DescriptorKind) (gpu.Descriptor, error) {
	d, err := c.engine.storage.Descriptor(c.Pass(), name, kind)
	if err != nil {
		return gpu.Descriptor{}, c.fail(err)
	}
	return d, nil
}

// BindBuffer binds a declared buffer to slot.
func (c *RecordContext) BindBuffer(slot uint32, name string, offset uint64) {
	if !c.requirePipeline("binds buffer " + name) {
		return
	}
	r, err := c.Resource(name)
	if err != nil {
		return
	}
	if r.Description().IsTexture() {
		c.failf("framegraph: pass %q binds texture %q as a buffer", c.Pass(), name)
		return
	}
	c.list.BindBuffer(slot, r, offset)
}

// BindExternalBuffer binds upload memory from ScheduleContext.UploadData.
func (c *RecordContext) BindExternalBuffer(slot uint32, a resource.DirectAllocation) {
	if !c.requirePipeline("binds an external buffer") {
		return
	}
	if a.Heap == nil {
		c.failf("framegraph: pass %q binds an empty direct allocation", c.Pass())
		return
	}
	c.list.BindBuffer(slot, a.Heap, a.Offset)
}

// BindDescriptor binds the view of kind on name to slot.
func (c *RecordContext) BindDescriptor(slot uint32, name string, kind gpu.DescriptorKind) {
	if !c.requirePipeline("binds " + name) {
		return
	}
	d, err := c.Descriptor(name, kind)
	if err != nil {
		return
	}
	c.list.BindDescriptor(slot, d)
}

// SetRenderTargets binds color targets and an optional depth target; an
// empty depth binds none.
func (c *RecordContext) SetRenderTargets(colors []string, depth string) {
	if c.err != nil {
		return
	}
	if !c.list.Kind().SupportsGraphics() {
		c.failf("framegraph: pass %q sets render targets on a %s command list", c.Pass(), c.list.Kind())
		return
	}
	rts := make([]gpu.Descriptor, 0, len(colors))
	for _, name := range colors {
		d, err := c.Descriptor(name, gpu.DescriptorRTV)
		if err != nil {
			return
		}
		rts = append(rts, d)
	}
	var ds *gpu.Descriptor
	if depth != "" {
		d, err := c.Descriptor(depth, gpu.DescriptorDSV)
		if err != nil {
			return
		}
		ds = &d
	}
	c.list.SetRenderTargets(rts, ds)
}

// SetRenderTarget binds a single color target.
func (c *RecordContext) SetRenderTarget(name string) { c.SetRenderTargets([]string{name}, "") }

// ClearRenderTarget clears a declared render target to color.
func (c *RecordContext) ClearRenderTarget(name string, color [4]float32) {
	if c.err != nil {
		return
	}
	if !c.list.Kind().SupportsGraphics() {
		c.failf("framegraph: pass %q clears %q on a %s command list", c.Pass(), name, c.list.Kind())
		return
	}
	d, err := c.Descriptor(name, gpu.DescriptorRTV)
	if err != nil {
		return
	}
	c.list.ClearRenderTarget(d, color)
}

// ClearDepth clears a declared depth target.
func (c *RecordContext) ClearDepth(name string, depth float32) {
	if c.err != nil {
		return
	}
	if !c.list.Kind().SupportsGraphics() {
		c.failf("framegraph: pass %q clears depth %q on a %s command list", c.Pass(), name, c.list.Kind())
		return
	}
	d, err := c.Descriptor(name, gpu.DescriptorDSV)
	if err != nil {
		return
	}
	c.list.ClearDepth(d, depth)
}

// Draw records a non-indexed draw with the applied graphics pipeline.
func (c *RecordContext) Draw(vertexCount, instanceCount uint32) {
	if c.requireKind(gpu.PipelineGraphics, "draws") {
		c.list.Draw(vertexCount, instanceCount)
	}
}

// Dispatch records a compute dispatch with the applied compute pipeline.
func (c *RecordContext) Dispatch(x, y, z uint32) {
	if c.requireKind(gpu.PipelineCompute, "dispatches") {
		c.list.Dispatch(x, y, z)
	}
}

// DispatchRays records a ray dispatch with the applied ray tracing pipeline.
func (c *RecordContext) DispatchRays(width, height, depth uint32) {
	if c.requireKind(gpu.PipelineRayTracing, "dispatches rays") {
		c.list.DispatchRays(width, height, depth)
	}
}
