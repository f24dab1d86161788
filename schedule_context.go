// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package framegraph

import (
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/gpu"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/resource"
)

// Usage declares how a pass uses a resource.
type Usage struct {
	Name  string
	State gpu.ResourceState
	// Write makes the pass the writer of the used subresources.
	Write       bool
	Descriptors []gpu.DescriptorKind
	// Subresources lists the used subresource indices; empty means all.
	Subresources []uint32
	// Format reinterprets a texture view; Undefined keeps the texture's.
	Format gputypes.TextureFormat
	// readState picks State from the pass's queue once scheduling ended.
	readState bool
}

type dependency struct {
	name  string
	write bool
	subs  []uint32
}

// ScheduleContext is handed to RenderPass.Schedule. It declares the queue,
// resources and dependencies of one pass.
//
// Every method returns its error and also records the first one; a pass may
// ignore the returned errors and the first will still abort the frame.
// Usages are resolved once every pass is scheduled, so a pass may use a
// resource declared by a pass scheduled after it. A usage of a resource
// already declared is checked at the call: subresource ranges and a second
// writer fail there. Usages of names no pass declared, and conflicts on
// resources declared later, fail when the frame's usages are resolved.
type ScheduleContext struct {
	engine *Engine
	node   *graph.Node
	usages []Usage
	deps   []dependency
	err    error
}

func (c *ScheduleContext) fail(err error) error {
	if err != nil && c.err == nil {
		c.err = err
	}
	return err
}

// Pass returns the name of the pass being scheduled.
func (c *ScheduleContext) Pass() string { return c.node.Name() }

// Frame returns the frame number being scheduled.
func (c *ScheduleContext) Frame() uint64 { return c.engine.frame }

// Queues returns the queue types by index.
func (c *ScheduleContext) Queues() []gpu.QueueType { return c.engine.queues }

// ExecuteOnQueue moves the pass to queue. Passes run on queue 0 by default.
func (c *ScheduleContext) ExecuteOnQueue(queue int) error {
	return c.fail(c.engine.graph.SetQueue(c.node, queue))
}

// UseRayTracing declares that the pass dispatches rays.
func (c *ScheduleContext) UseRayTracing() error {
	if !c.engine.caps.RayTracing {
		return c.fail(errors.AssertionFailedf("framegraph: pass %q uses ray tracing, device does not support it", c.Pass()))
	}
	c.engine.graph.UseRayTracing(c.node)
	return nil
}

// QueueResourceAllocationIfNeeded declares a resource for this frame. With a
// non-empty aliasSource, name becomes another name of aliasSource and props
// are ignored.
func (c *ScheduleContext) QueueResourceAllocationIfNeeded(name string, props resource.Properties, aliasSource string) error {
	err := c.engine.storage.QueueResourceAllocationIfNeeded(name, props, aliasSource)
	return c.fail(errors.Wrapf(err, "pass %q", c.Pass()))
}

// NewTexture declares a transient texture.
func (c *ScheduleContext) NewTexture(name string, desc gpu.ResourceDescription) error {
	if !desc.IsTexture() {
		return c.fail(errors.AssertionFailedf("framegraph: pass %q declares %q as a texture with a buffer description", c.Pass(), name))
	}
	return c.QueueResourceAllocationIfNeeded(name, resource.Properties{Description: desc}, "")
}

// NewBuffer declares a transient buffer.
func (c *ScheduleContext) NewBuffer(name string, desc gpu.ResourceDescription) error {
	if desc.IsTexture() {
		return c.fail(errors.AssertionFailedf("framegraph: pass %q declares %q as a buffer with a texture description", c.Pass(), name))
	}
	return c.QueueResourceAllocationIfNeeded(name, resource.Properties{Description: desc}, "")
}

// NewPersistent declares a resource that keeps its memory and contents
// across frames.
func (c *ScheduleContext) NewPersistent(name string, desc gpu.ResourceDescription) error {
	return c.QueueResourceAllocationIfNeeded(name, resource.Properties{Description: desc, Persistent: true}, "")
}

// Alias makes name another name of source for the rest of the frame.
func (c *ScheduleContext) Alias(name, source string) error {
	return c.QueueResourceAllocationIfNeeded(name, resource.Properties{}, source)
}

// UseResource declares a usage.
func (c *ScheduleContext) UseResource(u Usage) error {
	if u.Name == "" {
		return c.fail(errors.AssertionFailedf("framegraph: pass %q uses a resource without a name", c.Pass()))
	}
	if !u.readState && u.State == gpu.StateCommon {
		return c.fail(errors.AssertionFailedf("framegraph: pass %q uses %q without a state", c.Pass(), u.Name))
	}
	if u.Write && !u.State.IsWrite() {
		return c.fail(errors.AssertionFailedf("framegraph: pass %q writes %q in read-only state %s", c.Pass(), u.Name, u.State))
	}
	if err := c.claim(u.Name, u.Write, u.Subresources); err != nil {
		return c.fail(err)
	}
	c.usages = append(c.usages, u)
	return nil
}

// claim validates a usage of name against the resources declared and the
// writers claimed so far. Unknown names are left to resolve.
func (c *ScheduleContext) claim(name string, write bool, subs []uint32) error {
	st := c.engine.storage
	canonical, err := st.Canonical(name)
	if err != nil {
		return nil
	}
	desc, err := st.Description(canonical)
	if err != nil {
		return nil
	}
	count := desc.SubresourceCount()
	for _, s := range subs {
		if s >= count {
			return errors.AssertionFailedf("framegraph: pass %q uses subresource %d of %q which has %d",
				c.Pass(), s, name, count)
		}
	}
	if !write {
		return nil
	}
	indices := subs
	if len(indices) == 0 {
		indices = make([]uint32, count)
		for i := range indices {
			indices[i] = uint32(i)
		}
	}
	for _, i := range indices {
		k := graph.SubresourceName{Resource: canonical, Index: i}
		if w, ok := c.engine.writers[k]; ok && w != c.Pass() {
			return errors.AssertionFailedf("framegraph: subresource %s written by both %q and %q", k, w, c.Pass())
		}
	}
	for _, i := range indices {
		c.engine.writers[graph.SubresourceName{Resource: canonical, Index: i}] = c.Pass()
	}
	return nil
}

// ReadTexture samples subresources of a texture, all of them when none are
// given. Graphics passes read from every shader stage, compute passes from
// non-pixel stages.
func (c *ScheduleContext) ReadTexture(name string, subresources ...uint32) error {
	return c.UseResource(Usage{Name: name, Descriptors: []gpu.DescriptorKind{gpu.DescriptorSRV},
		Subresources: subresources, readState: true})
}

// ReadTextureAs samples a texture through a view of another format.
func (c *ScheduleContext) ReadTextureAs(name string, format gputypes.TextureFormat, subresources ...uint32) error {
	return c.UseResource(Usage{Name: name, Descriptors: []gpu.DescriptorKind{gpu.DescriptorSRV},
		Subresources: subresources, Format: format, readState: true})
}

// WriteTexture writes subresources of a texture as unordered access.
func (c *ScheduleContext) WriteTexture(name string, subresources ...uint32) error {
	return c.UseResource(Usage{Name: name, State: gpu.StateUnorderedAccess, Write: true,
		Descriptors: []gpu.DescriptorKind{gpu.DescriptorUAV}, Subresources: subresources})
}

// WriteRenderTarget renders into subresources of a texture.
func (c *ScheduleContext) WriteRenderTarget(name string, subresources ...uint32) error {
	return c.UseResource(Usage{Name: name, State: gpu.StateRenderTarget, Write: true,
		Descriptors: []gpu.DescriptorKind{gpu.DescriptorRTV}, Subresources: subresources})
}

// WriteDepthStencil renders depth into a texture.
func (c *ScheduleContext) WriteDepthStencil(name string, subresources ...uint32) error {
	return c.UseResource(Usage{Name: name, State: gpu.StateDepthWrite, Write: true,
		Descriptors: []gpu.DescriptorKind{gpu.DescriptorDSV}, Subresources: subresources})
}

// ReadDepthStencil binds a depth texture for depth testing without writes.
func (c *ScheduleContext) ReadDepthStencil(name string, subresources ...uint32) error {
	return c.UseResource(Usage{Name: name, State: gpu.StateDepthRead,
		Descriptors: []gpu.DescriptorKind{gpu.DescriptorDSV}, Subresources: subresources})
}

// ReadBuffer reads a buffer from shaders.
func (c *ScheduleContext) ReadBuffer(name string) error {
	return c.UseResource(Usage{Name: name, Descriptors: []gpu.DescriptorKind{gpu.DescriptorSRV}, readState: true})
}

// WriteBuffer writes a buffer as unordered access.
func (c *ScheduleContext) WriteBuffer(name string) error {
	return c.UseResource(Usage{Name: name, State: gpu.StateUnorderedAccess, Write: true,
		Descriptors: []gpu.DescriptorKind{gpu.DescriptorUAV}})
}

// WriteBackBuffer renders into the back buffer handed to RenderFrame. The
// back buffer is transitioned for presentation after the last pass writing
// it.
func (c *ScheduleContext) WriteBackBuffer() error {
	if !c.engine.hasBackBuffer {
		return c.fail(errors.AssertionFailedf("framegraph: pass %q writes the back buffer, frame has none", c.Pass()))
	}
	if err := c.WriteRenderTarget(BackBufferName); err != nil {
		return err
	}
	c.engine.graph.MarkBackBufferWrite(c.node)
	return nil
}

// AddReadDependency orders the pass after the writer of subresources of
// name without requesting any state.
func (c *ScheduleContext) AddReadDependency(name string, subresources ...uint32) {
	if c.fail(c.claim(name, false, subresources)) != nil {
		return
	}
	c.deps = append(c.deps, dependency{name: name, subs: subresources})
}

// AddWriteDependency makes the pass the writer of subresources of name
// without requesting any state.
func (c *ScheduleContext) AddWriteDependency(name string, subresources ...uint32) {
	if c.fail(c.claim(name, true, subresources)) != nil {
		return
	}
	c.deps = append(c.deps, dependency{name: name, write: true, subs: subresources})
}

// Export keeps name out of memory aliasing so its contents remain valid
// after the frame, for example for the next frame's temporal passes.
func (c *ScheduleContext) Export(name string) error {
	return c.fail(c.engine.storage.Export(name))
}

// RequestReadback copies name into CPU-visible memory after the pass. The
// bytes are available from Engine.Readback once the GPU finished the frame.
func (c *ScheduleContext) RequestReadback(name string) error {
	return c.fail(c.engine.storage.RequestReadback(c.Pass(), name))
}

// UploadData copies data into upload memory valid for this frame. Bind it
// with RecordContext.BindExternalBuffer.
func (c *ScheduleContext) UploadData(data []byte) (resource.DirectAllocation, error) {
	a, err := c.engine.storage.AllocateUpload(uint64(len(data)))
	if err != nil {
		return resource.DirectAllocation{}, c.fail(errors.Wrapf(err, "pass %q", c.Pass()))
	}
	c.engine.uploads = append(c.engine.uploads, a)
	if err := c.engine.storage.WriteUpload(a, data); err != nil {
		return resource.DirectAllocation{}, c.fail(errors.Wrapf(err, "pass %q", c.Pass()))
	}
	return a, nil
}

// readStateFor returns the read state of a usage on the pass's final queue.
func readStateFor(q gpu.QueueType, desc gpu.ResourceDescription) gpu.ResourceState {
	switch q {
	case gpu.QueueCopy:
		return gpu.StateCopySource
	case gpu.QueueGraphics:
		if desc.IsTexture() {
			return gpu.StateAnyShaderResource
		}
		return gpu.StateAnyShaderResource | gpu.StateVertexAndConstantBuffer
	}
	if !desc.IsTexture() {
		return gpu.StateNonPixelShaderResource | gpu.StateVertexAndConstantBuffer
	}
	return gpu.StateNonPixelShaderResource
}

func subresourceRange(subs []uint32, count uint32) []graph.SubresourceRange {
	if len(subs) == 0 {
		return []graph.SubresourceRange{graph.Range(0, count)}
	}
	out := make([]graph.SubresourceRange, len(subs))
	for i, s := range subs {
		out[i] = graph.Single(s)
	}
	return out
}

// resolve turns the recorded usages and dependencies into graph edges and
// storage usages. Every pass of the frame has been scheduled.
func (c *ScheduleContext) resolve() error {
	e := c.engine
	pass := c.Pass()
	queue := e.queues[c.node.Queue()]

	for _, d := range c.deps {
		canonical, desc, err := c.lookup(d.name)
		if err != nil {
			return err
		}
		if err := c.addEdges(canonical, d.write, subresourceRange(d.subs, desc.SubresourceCount())); err != nil {
			return err
		}
	}

	for _, u := range c.usages {
		canonical, desc, err := c.lookup(u.Name)
		if err != nil {
			return err
		}
		count := desc.SubresourceCount()
		for _, s := range u.Subresources {
			if s >= count {
				return errors.AssertionFailedf("framegraph: pass %q uses subresource %d of %q which has %d",
					pass, s, u.Name, count)
			}
		}
		st := u.State
		if u.readState {
			st = readStateFor(queue, desc)
		}
		if !queue.SupportsStates(st) {
			return errors.AssertionFailedf("framegraph: pass %q on %s queue %d cannot use %q in state %s",
				pass, queue, c.node.Queue(), u.Name, st)
		}
		if err := c.addEdges(canonical, u.Write, subresourceRange(u.Subresources, count)); err != nil {
			return err
		}
		indices := u.Subresources
		if len(indices) == 0 {
			indices = make([]uint32, count)
			for i := range indices {
				indices[i] = uint32(i)
			}
		}
		err = e.storage.QueueResourceUsage(pass, u.Name, func(p *resource.PassInfo) {
			p.RequestState(st, indices...)
			for _, k := range u.Descriptors {
				p.RequestDescriptor(k)
			}
			if u.Format != gputypes.TextureFormatUndefined {
				p.ReinterpretAs(u.Format)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *ScheduleContext) lookup(name string) (string, gpu.ResourceDescription, error) {
	canonical, err := c.engine.storage.Canonical(name)
	if err != nil {
		return "", gpu.ResourceDescription{}, errors.Wrapf(err, "pass %q", c.Pass())
	}
	desc, err := c.engine.storage.Description(canonical)
	if err != nil {
		return "", gpu.ResourceDescription{}, err
	}
	return canonical, desc, nil
}

func (c *ScheduleContext) addEdges(name string, write bool, ranges []graph.SubresourceRange) error {
	g := c.engine.graph
	for _, r := range ranges {
		if !write {
			g.AddReadDependency(c.node, name, r)
			continue
		}
		if err := g.AddWriteDependency(c.node, name, r); err != nil {
			return err
		}
	}
	return nil
}
