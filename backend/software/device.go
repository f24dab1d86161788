// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package software implements gpu.Device in memory.
//
// Work is executed synchronously at submission. Every submission, fence
// operation and resource creation is appended to a journal that tests and the
// demo inspect. A GPU-side wait on a fence value that no queue has signaled
// yet is reported as a deadlock.
package software

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/gpu"
	"github.com/gogpu/framegraph/internal/logging"
)

// ErrDeadlock is returned when a queue waits on a fence value that was never
// signaled before the wait.
var ErrDeadlock = errors.New("software: queue wait can never be satisfied")

// Options configure a software device.
type Options struct {
	// Queues lists queue types by index. Defaults to graphics + compute.
	Queues                 []gpu.QueueType
	UniversalAliasingHeaps bool
	RayTracing             bool
	Implicit               gpu.ImplicitTransitionRules
	// HeapAlignment defaults to 64 KiB.
	HeapAlignment uint64
}

// Device is an in-memory gpu.Device.
//
// Thread safety: all methods are safe for concurrent use.
type Device struct {
	mu      sync.Mutex
	opts    Options
	nextID  gpu.ResourceID
	heapID  int
	journal []Entry

	live       map[gpu.ResourceID]*Resource
	heaps      map[int]*Heap
	created    int
	timestamps map[uint32]uint64
	tick       uint64
	closed     bool
}

var _ gpu.Device = (*Device)(nil)

// New creates a software device.
func New(opts Options) *Device {
	if len(opts.Queues) == 0 {
		opts.Queues = []gpu.QueueType{gpu.QueueGraphics, gpu.QueueCompute}
	}
	if opts.HeapAlignment == 0 {
		opts.HeapAlignment = 64 << 10
	}
	return &Device{
		opts:       opts,
		live:       make(map[gpu.ResourceID]*Resource),
		heaps:      make(map[int]*Heap),
		timestamps: make(map[uint32]uint64),
	}
}

func (d *Device) Capabilities() gpu.Capabilities {
	return gpu.Capabilities{
		UniversalAliasingHeaps: d.opts.UniversalAliasingHeaps,
		RayTracing:             d.opts.RayTracing,
		PlacedResources:        true,
		Implicit:               d.opts.Implicit,
		HeapAlignment:          d.opts.HeapAlignment,
		TimestampFrequency:     1_000_000_000,
	}
}

func (d *Device) Queues() []gpu.QueueType { return d.opts.Queues }

func (d *Device) checkQueue(q int) error {
	if q < 0 || q >= len(d.opts.Queues) {
		return errors.Newf("software: queue %d out of range (%d queues)", q, len(d.opts.Queues))
	}
	return nil
}

func (d *Device) record(e Entry) {
	d.journal = append(d.journal, e)
}

// =============================================================================
// Fences
// =============================================================================

// Fence is a software fence. Signals complete as soon as they are executed.
type Fence struct {
	name      string
	mu        sync.Mutex
	completed uint64
}

func (f *Fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

func (f *Fence) Name() string { return f.name }

func (d *Device) CreateFence(name string) (gpu.FenceHandle, error) {
	return &Fence{name: name}, nil
}

func asFence(h gpu.FenceHandle) (*Fence, error) {
	f, ok := h.(*Fence)
	if !ok {
		return nil, errors.Newf("software: foreign fence %T", h)
	}
	return f, nil
}

func (d *Device) SignalFence(queue int, h gpu.FenceHandle, value uint64) error {
	f, err := asFence(h)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkQueue(queue); err != nil {
		return err
	}
	f.mu.Lock()
	if value > f.completed {
		f.completed = value
	}
	f.mu.Unlock()
	d.record(Entry{Kind: EntrySignal, Queue: queue, Fence: f.name, Value: value})
	return nil
}

func (d *Device) WaitFence(queue int, h gpu.FenceHandle, value uint64) error {
	f, err := asFence(h)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkQueue(queue); err != nil {
		return err
	}
	if f.CompletedValue() < value {
		return errors.Wrapf(ErrDeadlock, "queue %d waits on %s=%d, signaled %d", queue, f.name, value, f.CompletedValue())
	}
	d.record(Entry{Kind: EntryWait, Queue: queue, Fence: f.name, Value: value})
	return nil
}

func (d *Device) WaitFenceCPU(ctx context.Context, h gpu.FenceHandle, value uint64, timeout time.Duration) error {
	f, err := asFence(h)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.CompletedValue() < value {
		return errors.Wrapf(ErrDeadlock, "CPU wait on %s=%d (timeout %v), signaled %d", f.name, value, timeout, f.CompletedValue())
	}
	return nil
}

// =============================================================================
// Submission
// =============================================================================

func (d *Device) CreateCommandList(queue int, label string) (gpu.CommandList, error) {
	if err := d.checkQueue(queue); err != nil {
		return nil, err
	}
	return &CommandList{kind: gpu.CommandListKindFor(d.opts.Queues[queue]), label: label}, nil
}

func (d *Device) Submit(queue int, lists []gpu.CommandList) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkQueue(queue); err != nil {
		return err
	}
	want := gpu.CommandListKindFor(d.opts.Queues[queue])
	labels := make([]string, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		if !ok {
			return errors.Newf("software: foreign command list %T", l)
		}
		if !cl.closed {
			return errors.Newf("software: command list %q submitted while open", cl.label)
		}
		if cl.kind != want {
			return errors.Newf("software: %s list %q submitted to %s queue %d", cl.kind, cl.label, d.opts.Queues[queue], queue)
		}
		d.execute(cl)
		labels = append(labels, cl.label)
	}
	d.record(Entry{Kind: EntrySubmit, Queue: queue, Lists: labels})
	return nil
}

// execute runs the data-affecting commands of a list. d.mu is held.
func (d *Device) execute(cl *CommandList) {
	for _, c := range cl.commands {
		switch c.Op {
		case OpClearRenderTarget:
			if r, ok := c.Resource.(*Resource); ok {
				r.fill(c.Color)
			}
		case OpCopy:
			src, sok := c.Resource.(*Resource)
			dst, dok := c.Dst.(*Resource)
			if sok && dok {
				dst.copyFrom(src, c.Offset)
			}
		case OpTimestamp:
			d.tick++
			d.timestamps[c.Index] = d.tick * 1000
		}
	}
}

// Timestamps returns the tick recorded for every executed timestamp query.
func (d *Device) Timestamps() map[uint32]uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[uint32]uint64, len(d.timestamps))
	for k, v := range d.timestamps {
		out[k] = v
	}
	return out
}

// =============================================================================
// Resources
// =============================================================================

func alignUp(v, a uint64) uint64 {
	if a <= 1 {
		return v
	}
	return (v + a - 1) / a * a
}

func (d *Device) ResourceAllocationInfo(desc gpu.ResourceDescription) gpu.AllocationInfo {
	return gpu.AllocationInfo{
		Size:      alignUp(max(desc.EstimatedSize(), 1), d.opts.HeapAlignment),
		Alignment: d.opts.HeapAlignment,
	}
}

func (d *Device) CreateHeap(class gpu.AliasingClass, size uint64) (gpu.Heap, error) {
	if size == 0 {
		return nil, errors.New("software: zero-sized heap")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.heapID++
	h := &Heap{id: d.heapID, size: size, class: class}
	d.heaps[h.id] = h
	d.record(Entry{Kind: EntryCreateHeap, Heap: h.id, Value: size})
	return h, nil
}

func (d *Device) newResource(desc gpu.ResourceDescription, heap *Heap, offset uint64) *Resource {
	d.nextID++
	r := &Resource{id: d.nextID, desc: desc, heap: heap, offset: offset}
	if desc.Flags&(gpu.FlagHostUpload|gpu.FlagHostReadback) != 0 {
		r.data = make([]byte, desc.EstimatedSize())
	}
	d.live[r.id] = r
	d.created++
	heapID := 0
	if heap != nil {
		heapID = heap.id
	}
	d.record(Entry{Kind: EntryCreateResource, Resource: desc.Label, Heap: heapID, Offset: offset})
	return r
}

func (d *Device) CreateCommittedResource(desc gpu.ResourceDescription) (gpu.Resource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.newResource(desc, nil, 0), nil
}

func (d *Device) CreatePlacedResource(desc gpu.ResourceDescription, p gpu.Placement) (gpu.Resource, error) {
	h, ok := p.Heap.(*Heap)
	if !ok {
		return nil, errors.Newf("software: foreign heap %T", p.Heap)
	}
	info := d.ResourceAllocationInfo(desc)
	if p.Offset%info.Alignment != 0 {
		return nil, errors.Newf("software: %q placed at %d, not aligned to %d", desc.Label, p.Offset, info.Alignment)
	}
	if p.Offset+info.Size > h.size {
		return nil, errors.Newf("software: %q [%d, %d) exceeds heap %d of %d bytes",
			desc.Label, p.Offset, p.Offset+info.Size, h.id, h.size)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if h.released {
		return nil, errors.Newf("software: %q placed in released heap %d", desc.Label, h.id)
	}
	return d.newResource(desc, h, p.Offset), nil
}

func (d *Device) CreateDescriptor(r gpu.Resource, kind gpu.DescriptorKind, format gputypes.TextureFormat) (gpu.Descriptor, error) {
	if r == nil {
		return gpu.Descriptor{}, errors.New("software: descriptor for nil resource")
	}
	if format == gputypes.TextureFormatUndefined {
		format = r.Description().Format
	}
	return gpu.Descriptor{Kind: kind, Resource: r, Format: format, Handle: r.ID()}, nil
}

func (d *Device) WriteBuffer(r gpu.Resource, offset uint64, data []byte) error {
	res, ok := r.(*Resource)
	if !ok || res.data == nil {
		return errors.Newf("software: %v is not host visible", r)
	}
	if offset+uint64(len(data)) > uint64(len(res.data)) {
		return errors.Newf("software: write [%d, %d) past %d bytes", offset, offset+uint64(len(data)), len(res.data))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(res.data[offset:], data)
	return nil
}

func (d *Device) ReadBuffer(r gpu.Resource, offset uint64, dst []byte) error {
	res, ok := r.(*Resource)
	if !ok || res.data == nil {
		return errors.Newf("software: %v is not host visible", r)
	}
	if offset+uint64(len(dst)) > uint64(len(res.data)) {
		return errors.Newf("software: read [%d, %d) past %d bytes", offset, offset+uint64(len(dst)), len(res.data))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(dst, res.data[offset:])
	return nil
}

func (d *Device) ReleaseResource(r gpu.Resource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.live[r.ID()]; !ok {
		logging.Logger().Warn("software: release of unknown resource", "id", r.ID())
		return
	}
	delete(d.live, r.ID())
	d.record(Entry{Kind: EntryRelease, Resource: r.Description().Label})
}

func (d *Device) ReleaseHeap(h gpu.Heap) {
	sh, ok := h.(*Heap)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	sh.released = true
	delete(d.heaps, sh.id)
	d.record(Entry{Kind: EntryReleaseHeap, Heap: sh.id})
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if n := len(d.live); n > 0 {
		logging.Logger().Debug("software: closing with live resources", "count", n)
	}
	return nil
}

// Stats reports object counts.
type Stats struct {
	CreatedResources int
	LiveResources    int
	LiveHeaps        int
}

// Stats returns a snapshot of object counts.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{CreatedResources: d.created, LiveResources: len(d.live), LiveHeaps: len(d.heaps)}
}
