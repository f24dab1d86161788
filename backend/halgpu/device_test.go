// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package halgpu

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/gpu"
)

func newNoopDevice(t *testing.T) *Device {
	t.Helper()
	d, err := NewNoop(Options{})
	if err != nil {
		t.Fatalf("NewNoop: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// =============================================================================
// Device
// =============================================================================

func TestCapabilities(t *testing.T) {
	d := newNoopDevice(t)
	caps := d.Capabilities()
	if caps.PlacedResources {
		t.Error("HAL device must not report placed resources")
	}
	if got := len(d.Queues()); got != 2 {
		t.Errorf("queues = %d, want 2", got)
	}
	if _, err := d.CreatePlacedResource(gpu.Buffer("b", 64, 0), gpu.Placement{}); !errors.Is(err, ErrNoPlacedResources) {
		t.Errorf("CreatePlacedResource = %v", err)
	}
}

func TestRegistered(t *testing.T) {
	if !backend.IsRegistered(backend.BackendNoop) {
		t.Fatal("noop backend not registered")
	}
	d, err := backend.Open(backend.BackendNoop, backend.Options{Queues: []gpu.QueueType{gpu.QueueGraphics}})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if len(d.Queues()) != 1 {
		t.Errorf("queues = %v", d.Queues())
	}
}

func TestFenceOrdering(t *testing.T) {
	d := newNoopDevice(t)
	h, err := d.CreateFence("graphics0")
	if err != nil {
		t.Fatal(err)
	}

	if err := d.WaitFence(1, h, 1); !errors.Is(err, ErrDeadlock) {
		t.Errorf("wait before signal = %v, want ErrDeadlock", err)
	}
	if err := d.SignalFence(0, h, 1); err != nil {
		t.Fatal(err)
	}
	if err := d.SignalFence(0, h, 1); err == nil {
		t.Error("repeated signal value accepted")
	}
	if err := d.WaitFence(1, h, 1); err != nil {
		t.Errorf("wait after signal = %v", err)
	}
	if err := d.WaitFenceCPU(context.Background(), h, 1, time.Second); err != nil {
		t.Errorf("WaitFenceCPU = %v", err)
	}
	if got := h.CompletedValue(); got != 1 {
		t.Errorf("CompletedValue = %d, want 1", got)
	}
	if err := d.WaitFenceCPU(context.Background(), h, 2, time.Second); !errors.Is(err, ErrDeadlock) {
		t.Errorf("WaitFenceCPU unsubmitted = %v, want ErrDeadlock", err)
	}
}

// =============================================================================
// Recording
// =============================================================================

func TestRecordAndSubmit(t *testing.T) {
	d := newNoopDevice(t)

	rtDesc := gpu.Texture2D("color", 64, 64, gputypes.TextureFormatRGBA8Unorm, 1)
	rtDesc.Flags = gpu.FlagAllowRenderTarget
	rt, err := d.CreateCommittedResource(rtDesc)
	if err != nil {
		t.Fatal(err)
	}
	readback, err := d.CreateCommittedResource(gpu.ResourceDescription{
		Kind: gpu.ResourceBuffer, Label: "readback", Size: 256 * 64, Flags: gpu.FlagHostReadback,
	})
	if err != nil {
		t.Fatal(err)
	}
	view, err := d.CreateDescriptor(rt, gpu.DescriptorRTV, gputypes.TextureFormatUndefined)
	if err != nil {
		t.Fatal(err)
	}
	if view.Format != gputypes.TextureFormatRGBA8Unorm {
		t.Errorf("view format = %v", view.Format)
	}

	cl, err := d.CreateCommandList(0, "frame")
	if err != nil {
		t.Fatal(err)
	}
	var barriers gpu.BarrierCollection
	barriers.Add(
		gpu.TransitionBarrier(rt, gpu.AllSubresources, gpu.StateCommon, gpu.StateRenderTarget),
		gpu.UAVBarrier(readback),
	)
	cl.InsertBarriers(barriers)
	cl.ClearRenderTarget(view, [4]float32{1, 0, 0, 1})
	var toCopy gpu.BarrierCollection
	toCopy.Add(gpu.TransitionBarrier(rt, gpu.AllSubresources, gpu.StateRenderTarget, gpu.StateCopySource))
	cl.InsertBarriers(toCopy)
	cl.CopyResource(gpu.CopyCommand{Dst: readback, Src: rt})
	cl.WriteTimestamp(3)
	if err := cl.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Submit(0, []gpu.CommandList{cl}); err != nil {
		t.Fatal(err)
	}

	stats := d.Stats()
	if stats.Submissions != 1 {
		t.Errorf("submissions = %d, want 1", stats.Submissions)
	}
	if stats.SkippedBarriers != 1 {
		t.Errorf("skipped barriers = %d, want 1 (uav)", stats.SkippedBarriers)
	}
	if _, ok := d.Timestamps()[3]; !ok {
		t.Error("timestamp 3 not resolved")
	}

	// Reuse waits for the previous submission to retire.
	if err := cl.Reset("frame-2"); err != nil {
		t.Fatal(err)
	}
	if cl.Label() != "frame-2" {
		t.Errorf("label = %q", cl.Label())
	}
}

func TestRecordingErrors(t *testing.T) {
	d := newNoopDevice(t)

	tests := []struct {
		name   string
		queue  int
		record func(gpu.CommandList)
	}{
		{"dispatch without pipeline", 1, func(cl gpu.CommandList) { cl.Dispatch(1, 1, 1) }},
		{"pipeline without handle", 1, func(cl gpu.CommandList) {
			cl.SetPipelineState(&gpu.ComputePipeline{Name: "cs"})
			cl.Dispatch(1, 1, 1)
		}},
		{"graphics pipeline on compute", 1, func(cl gpu.CommandList) {
			cl.SetPipelineState(&gpu.GraphicsPipeline{Name: "ps"})
		}},
		{"render targets on compute", 1, func(cl gpu.CommandList) { cl.SetRenderTargets(nil, nil) }},
		{"ray tracing", 0, func(cl gpu.CommandList) { cl.DispatchRays(1, 1, 1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cl, err := d.CreateCommandList(tt.queue, tt.name)
			if err != nil {
				t.Fatal(err)
			}
			tt.record(cl)
			if err := cl.Close(); err == nil {
				t.Error("Close succeeded, want recording error")
			}
		})
	}
}

func TestSubmitValidation(t *testing.T) {
	d := newNoopDevice(t)
	cl, err := d.CreateCommandList(1, "compute")
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Submit(1, []gpu.CommandList{cl}); err == nil {
		t.Error("open list submitted")
	}
	if err := cl.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Submit(0, []gpu.CommandList{cl}); err == nil {
		t.Error("compute list accepted by graphics queue")
	}
	if _, err := d.CreateCommandList(5, "x"); err == nil {
		t.Error("out of range queue accepted")
	}
}

func TestHostBuffers(t *testing.T) {
	d := newNoopDevice(t)
	upload, err := d.CreateCommittedResource(gpu.ResourceDescription{
		Kind: gpu.ResourceBuffer, Label: "upload", Size: 16, Flags: gpu.FlagHostUpload,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.WriteBuffer(upload, 0, make([]byte, 16)); err != nil {
		t.Errorf("WriteBuffer = %v", err)
	}
	if err := d.WriteBuffer(upload, 8, make([]byte, 16)); err == nil {
		t.Error("write past end accepted")
	}

	plain, err := d.CreateCommittedResource(gpu.Buffer("plain", 16, 4))
	if err != nil {
		t.Fatal(err)
	}
	if err := d.ReadBuffer(plain, 0, make([]byte, 4)); err == nil {
		t.Error("read of device-local buffer accepted")
	}

	d.ReleaseResource(upload)
	d.ReleaseResource(plain)
	if got := d.Stats().LiveResources; got != 0 {
		t.Errorf("live resources = %d, want 0", got)
	}
}

// =============================================================================
// Provider
// =============================================================================

type plainProvider struct{}

func (plainProvider) Device() gpucontext.Device   { return nil }
func (plainProvider) Queue() gpucontext.Queue     { return nil }
func (plainProvider) Adapter() gpucontext.Adapter { return nil }
func (plainProvider) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatUndefined
}

type halProvider struct {
	plainProvider
	device, queue any
}

func (p halProvider) HalDevice() any { return p.device }
func (p halProvider) HalQueue() any  { return p.queue }

func (halProvider) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatRGBA8Unorm
}

func TestNewFromProvider(t *testing.T) {
	if _, err := NewFromProvider(plainProvider{}, Options{}); !errors.Is(err, ErrNoHALProvider) {
		t.Errorf("plain provider = %v, want ErrNoHALProvider", err)
	}
	if _, err := NewFromProvider(halProvider{device: 1, queue: 2}, Options{}); !errors.Is(err, ErrNoHALProvider) {
		t.Errorf("wrong HAL types = %v, want ErrNoHALProvider", err)
	}

	owner := newNoopDevice(t)
	shared, err := NewFromProvider(halProvider{device: owner.device, queue: owner.queue}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if shared.SurfaceFormat() != gputypes.TextureFormatRGBA8Unorm {
		t.Errorf("surface format = %v", shared.SurfaceFormat())
	}
	// Closing the shared device leaves the owner usable.
	if err := shared.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := owner.CreateFence("after"); err != nil {
		t.Errorf("owner unusable after shared Close: %v", err)
	}
}
