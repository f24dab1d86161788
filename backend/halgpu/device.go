// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package halgpu

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/framegraph/gpu"
	"github.com/gogpu/framegraph/internal/logging"
)

var (
	// ErrDeadlock is returned for a wait on a fence value that was not
	// submitted before it.
	ErrDeadlock = errors.New("halgpu: wait on a fence value that was never submitted")

	// ErrNoPlacedResources is returned by CreatePlacedResource.
	ErrNoPlacedResources = errors.New("halgpu: placed resources are not supported")

	// ErrNoHALProvider is returned when a provider does not expose HAL types.
	ErrNoHALProvider = errors.New("halgpu: provider does not expose HAL types")
)

// Options configure a HAL device.
type Options struct {
	// Queues lists the logical queues. Defaults to graphics + compute.
	Queues []gpu.QueueType
	// RecycleTimeout bounds the wait for a command buffer to retire before
	// it is reused. Defaults to 5s.
	RecycleTimeout time.Duration
}

// Device is a gpu.Device backed by a wgpu hal.Device and its single queue.
//
// Thread safety: all methods are safe for concurrent use.
type Device struct {
	mu      sync.Mutex
	opts    Options
	device  hal.Device
	queue   hal.Queue
	cleanup func()
	surface gputypes.TextureFormat
	epoch   time.Time

	nextID      gpu.ResourceID
	live        map[gpu.ResourceID]*Resource
	submitFence hal.Fence
	submitted   uint64
	timestamps  map[uint32]uint64
	skipped     int
	closed      bool
}

var _ gpu.Device = (*Device)(nil)

func newDevice(device hal.Device, queue hal.Queue, opts Options, cleanup func()) (*Device, error) {
	if len(opts.Queues) == 0 {
		opts.Queues = []gpu.QueueType{gpu.QueueGraphics, gpu.QueueCompute}
	}
	if opts.RecycleTimeout <= 0 {
		opts.RecycleTimeout = 5 * time.Second
	}
	fence, err := device.CreateFence()
	if err != nil {
		return nil, errors.Wrap(err, "halgpu: create submission fence")
	}
	return &Device{
		opts:        opts,
		device:      device,
		queue:       queue,
		cleanup:     cleanup,
		surface:     gputypes.TextureFormatBGRA8Unorm,
		epoch:       time.Now(),
		live:        make(map[gpu.ResourceID]*Resource),
		submitFence: fence,
		timestamps:  make(map[uint32]uint64),
	}, nil
}

// NewNoop opens a device on the wgpu noop adapter. It needs no GPU.
func NewNoop(opts Options) (*Device, error) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, errors.Wrap(err, "halgpu: create noop instance")
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, errors.New("halgpu: noop instance has no adapters")
	}
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, errors.Wrap(err, "halgpu: open noop adapter")
	}
	d, err := newDevice(openDev.Device, openDev.Queue, opts, func() {
		openDev.Device.Destroy()
		instance.Destroy()
	})
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	return d, nil
}

// NewFromProvider shares the device of a host application. The provider
// must also implement HalDevice() any and HalQueue() any returning
// hal.Device and hal.Queue. The device is not destroyed by Close.
func NewFromProvider(provider gpucontext.DeviceProvider, opts Options) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHALProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, errors.Wrap(ErrNoHALProvider, "HalDevice is not a hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, errors.Wrap(ErrNoHALProvider, "HalQueue is not a hal.Queue")
	}
	d, err := newDevice(device, queue, opts, nil)
	if err != nil {
		return nil, err
	}
	if f := provider.SurfaceFormat(); f != gputypes.TextureFormatUndefined {
		d.surface = f
	}
	return d, nil
}

// SurfaceFormat returns the format back buffers should be created with.
func (d *Device) SurfaceFormat() gputypes.TextureFormat { return d.surface }

func (d *Device) Capabilities() gpu.Capabilities {
	return gpu.Capabilities{
		PlacedResources:    false,
		HeapAlignment:      copyPitchAlignment,
		TimestampFrequency: uint64(time.Second),
	}
}

func (d *Device) Queues() []gpu.QueueType { return d.opts.Queues }

func (d *Device) checkQueue(q int) error {
	if q < 0 || q >= len(d.opts.Queues) {
		return errors.Newf("halgpu: queue %d out of range [0, %d)", q, len(d.opts.Queues))
	}
	return nil
}

// =============================================================================
// Fences
// =============================================================================

// Fence is a HAL fence with the last submitted signal value.
type Fence struct {
	device    *Device
	name      string
	fence     hal.Fence
	submitted uint64
	completed uint64
}

// CompletedValue polls the HAL fence for the last submitted value.
func (f *Fence) CompletedValue() uint64 {
	f.device.mu.Lock()
	defer f.device.mu.Unlock()
	if f.completed < f.submitted {
		if ok, err := f.device.device.Wait(f.fence, f.submitted, 0); err == nil && ok {
			f.completed = f.submitted
		}
	}
	return f.completed
}

// Name returns the debug name.
func (f *Fence) Name() string { return f.name }

func (d *Device) CreateFence(name string) (gpu.FenceHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fence, err := d.device.CreateFence()
	if err != nil {
		return nil, errors.Wrapf(err, "halgpu: create fence %q", name)
	}
	return &Fence{device: d, name: name, fence: fence}, nil
}

func (d *Device) asFence(h gpu.FenceHandle) (*Fence, error) {
	f, ok := h.(*Fence)
	if !ok || f.device != d {
		return nil, errors.Newf("halgpu: foreign fence %T", h)
	}
	return f, nil
}

func (d *Device) SignalFence(queue int, h gpu.FenceHandle, value uint64) error {
	if err := d.checkQueue(queue); err != nil {
		return err
	}
	f, err := d.asFence(h)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if value <= f.submitted {
		return errors.Newf("halgpu: fence %q signaled with %d after %d", f.name, value, f.submitted)
	}
	if err := d.queue.Submit(nil, f.fence, value); err != nil {
		return errors.Wrapf(err, "halgpu: signal %q to %d", f.name, value)
	}
	f.submitted = value
	return nil
}

// WaitFence checks that the signal was submitted earlier. The single HAL
// queue executes in submission order, so no GPU-side wait is needed.
func (d *Device) WaitFence(queue int, h gpu.FenceHandle, value uint64) error {
	if err := d.checkQueue(queue); err != nil {
		return err
	}
	f, err := d.asFence(h)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if f.submitted < value {
		return errors.Wrapf(ErrDeadlock, "queue %d waits for %q >= %d, submitted %d", queue, f.name, value, f.submitted)
	}
	return nil
}

// waitStep bounds each HAL wait so that ctx cancellation is observed.
const waitStep = 10 * time.Millisecond

func (d *Device) WaitFenceCPU(ctx context.Context, h gpu.FenceHandle, value uint64, timeout time.Duration) error {
	f, err := d.asFence(h)
	if err != nil {
		return err
	}
	d.mu.Lock()
	submitted := f.submitted
	d.mu.Unlock()
	if submitted < value {
		return errors.Wrapf(ErrDeadlock, "cpu waits for %q >= %d, submitted %d", f.name, value, submitted)
	}

	deadline := time.Now().Add(timeout)
	for {
		if f.CompletedValue() >= value {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "halgpu: wait for %q >= %d", f.name, value)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errors.Newf("halgpu: timeout after %v waiting for %q >= %d", timeout, f.name, value)
		}
		if _, err := d.device.Wait(f.fence, value, min(remaining, waitStep)); err != nil {
			return errors.Wrapf(err, "halgpu: wait for %q >= %d", f.name, value)
		}
	}
}

// =============================================================================
// Submission
// =============================================================================

func (d *Device) CreateCommandList(queue int, label string) (gpu.CommandList, error) {
	if err := d.checkQueue(queue); err != nil {
		return nil, err
	}
	cl := &CommandList{device: d, kind: gpu.CommandListKindFor(d.opts.Queues[queue])}
	if err := cl.Reset(label); err != nil {
		return nil, err
	}
	return cl, nil
}

func (d *Device) Submit(queue int, lists []gpu.CommandList) error {
	if err := d.checkQueue(queue); err != nil {
		return err
	}
	want := gpu.CommandListKindFor(d.opts.Queues[queue])
	bufs := make([]hal.CommandBuffer, 0, len(lists))
	owners := make([]*CommandList, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		if !ok || cl.device != d {
			return errors.Newf("halgpu: foreign command list %T", l)
		}
		if cl.recording || cl.buffer == nil {
			return errors.Newf("halgpu: command list %q submitted while open", cl.label)
		}
		if cl.kind != want {
			return errors.Newf("halgpu: %s list %q submitted to %s queue %d", cl.kind, cl.label, d.opts.Queues[queue], queue)
		}
		bufs = append(bufs, cl.buffer)
		owners = append(owners, cl)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitted++
	if err := d.queue.Submit(bufs, d.submitFence, d.submitted); err != nil {
		return errors.Wrapf(err, "halgpu: submit %d lists to queue %d", len(bufs), queue)
	}
	now := uint64(time.Since(d.epoch))
	for _, cl := range owners {
		cl.retireAt = d.submitted
		for _, idx := range cl.timestamps {
			d.timestamps[idx] = now
		}
	}
	return nil
}

// retire waits until submission value v has completed.
func (d *Device) retire(v uint64) error {
	if v == 0 {
		return nil
	}
	ok, err := d.device.Wait(d.submitFence, v, d.opts.RecycleTimeout)
	if err != nil {
		return errors.Wrap(err, "halgpu: wait for command buffer")
	}
	if !ok {
		return errors.Newf("halgpu: command buffer not retired after %v", d.opts.RecycleTimeout)
	}
	return nil
}

// Timestamps returns the host time in nanoseconds at which each written
// timestamp query was submitted.
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

func (d *Device) ResourceAllocationInfo(desc gpu.ResourceDescription) gpu.AllocationInfo {
	return gpu.AllocationInfo{
		Size:      alignUp(max(desc.EstimatedSize(), 1), copyPitchAlignment),
		Alignment: copyPitchAlignment,
	}
}

// CreateHeap returns a bookkeeping heap. Nothing can be placed in it.
func (d *Device) CreateHeap(class gpu.AliasingClass, size uint64) (gpu.Heap, error) {
	if size == 0 {
		return nil, errors.New("halgpu: zero-sized heap")
	}
	return &Heap{size: size, class: class}, nil
}

func (d *Device) CreateCommittedResource(desc gpu.ResourceDescription) (gpu.Resource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.Newf("halgpu: create %q on closed device", desc.Label)
	}

	d.nextID++
	r := &Resource{id: d.nextID, desc: desc}
	if desc.Kind == gpu.ResourceBuffer {
		buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
			Label: desc.Label,
			Size:  max(desc.Size, 4),
			Usage: bufferCreateUsage(desc),
		})
		if err != nil {
			return nil, errors.Wrapf(err, "halgpu: create buffer %q", desc.Label)
		}
		r.buffer = buf
	} else {
		tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
			Label: desc.Label,
			Size: hal.Extent3D{
				Width:              max(desc.Width, 1),
				Height:             max(desc.Height, 1),
				DepthOrArrayLayers: max(desc.DepthOrArrayLayers, 1),
			},
			MipLevelCount: max(desc.MipLevels, 1),
			SampleCount:   max(desc.SampleCount, 1),
			Dimension:     textureDimension(desc),
			Format:        desc.Format,
			Usage:         textureCreateUsage(desc),
		})
		if err != nil {
			return nil, errors.Wrapf(err, "halgpu: create texture %q", desc.Label)
		}
		r.texture = tex
	}
	d.live[r.id] = r
	return r, nil
}

func (d *Device) CreatePlacedResource(desc gpu.ResourceDescription, _ gpu.Placement) (gpu.Resource, error) {
	return nil, errors.Wrapf(ErrNoPlacedResources, "resource %q", desc.Label)
}

// CreateDescriptor returns a texture view for textures and the buffer
// itself for buffers.
func (d *Device) CreateDescriptor(r gpu.Resource, kind gpu.DescriptorKind, format gputypes.TextureFormat) (gpu.Descriptor, error) {
	res, ok := r.(*Resource)
	if !ok {
		return gpu.Descriptor{}, errors.Newf("halgpu: descriptor for foreign resource %T", r)
	}
	if format == gputypes.TextureFormatUndefined {
		format = res.desc.Format
	}
	desc := gpu.Descriptor{Kind: kind, Resource: r, Format: format}
	if res.buffer != nil {
		desc.Handle = res.buffer
		return desc, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	view, err := d.device.CreateTextureView(res.texture, &hal.TextureViewDescriptor{
		Label: res.desc.Label + "-" + kind.String(),
	})
	if err != nil {
		return gpu.Descriptor{}, errors.Wrapf(err, "halgpu: %s view of %q", kind, res.desc.Label)
	}
	res.views = append(res.views, view)
	desc.Handle = view
	return desc, nil
}

func (d *Device) hostBuffer(r gpu.Resource, offset, n uint64) (*Resource, error) {
	res, ok := r.(*Resource)
	if !ok || res.buffer == nil || res.desc.Flags&(gpu.FlagHostUpload|gpu.FlagHostReadback) == 0 {
		return nil, errors.Newf("halgpu: %v is not a host visible buffer", r)
	}
	if offset+n > res.desc.Size {
		return nil, errors.Newf("halgpu: access [%d, %d) past %d bytes", offset, offset+n, res.desc.Size)
	}
	return res, nil
}

func (d *Device) WriteBuffer(r gpu.Resource, offset uint64, data []byte) error {
	res, err := d.hostBuffer(r, offset, uint64(len(data)))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue.WriteBuffer(res.buffer, offset, data)
	return nil
}

func (d *Device) ReadBuffer(r gpu.Resource, offset uint64, dst []byte) error {
	res, err := d.hostBuffer(r, offset, uint64(len(dst)))
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.queue.ReadBuffer(res.buffer, offset, dst); err != nil {
		return errors.Wrapf(err, "halgpu: read %q", res.desc.Label)
	}
	return nil
}

func (d *Device) ReleaseResource(r gpu.Resource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, ok := d.live[r.ID()]
	if !ok {
		logging.Logger().Warn("halgpu: release of unknown resource", "id", r.ID())
		return
	}
	delete(d.live, r.ID())
	d.destroy(res)
}

// destroy frees the HAL objects of res. d.mu is held.
func (d *Device) destroy(res *Resource) {
	for _, v := range res.views {
		d.device.DestroyTextureView(v)
	}
	res.views = nil
	if res.texture != nil {
		d.device.DestroyTexture(res.texture)
	}
	if res.buffer != nil {
		d.device.DestroyBuffer(res.buffer)
	}
}

func (d *Device) ReleaseHeap(gpu.Heap) {}

// Close destroys every live resource and, for devices opened by this
// package, the HAL device itself.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if n := len(d.live); n > 0 {
		logging.Logger().Debug("halgpu: closing with live resources", "count", n)
	}
	for id, res := range d.live {
		d.destroy(res)
		delete(d.live, id)
	}
	d.device.DestroyFence(d.submitFence)
	if d.cleanup != nil {
		d.cleanup()
	}
	return nil
}

// Stats reports object counts.
type Stats struct {
	LiveResources   int
	Submissions     uint64
	SkippedBarriers int
}

// Stats returns a snapshot of object counts.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{LiveResources: len(d.live), Submissions: d.submitted, SkippedBarriers: d.skipped}
}
