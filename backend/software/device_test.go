// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package software

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/gpu"
)

func closedList(t *testing.T, d *Device, queue int, label string, record func(gpu.CommandList)) gpu.CommandList {
	t.Helper()
	cl, err := d.CreateCommandList(queue, label)
	if err != nil {
		t.Fatalf("CreateCommandList: %v", err)
	}
	if record != nil {
		record(cl)
	}
	if err := cl.Close(); err != nil {
		t.Fatalf("Close(%s): %v", label, err)
	}
	return cl
}

// =============================================================================
// Fences
// =============================================================================

func TestWaitBeforeSignalIsDeadlock(t *testing.T) {
	d := New(Options{})
	f, _ := d.CreateFence("compute")

	if err := d.WaitFence(0, f, 1); !errors.Is(err, ErrDeadlock) {
		t.Fatalf("WaitFence before signal = %v, want ErrDeadlock", err)
	}
	if err := d.SignalFence(1, f, 1); err != nil {
		t.Fatal(err)
	}
	if err := d.WaitFence(0, f, 1); err != nil {
		t.Fatalf("WaitFence after signal: %v", err)
	}
	if got := f.CompletedValue(); got != 1 {
		t.Errorf("CompletedValue = %d, want 1", got)
	}

	got := d.JournalFor(EntrySignal, EntryWait)
	if len(got) != 2 || got[0].Kind != EntrySignal || got[1].Kind != EntryWait {
		t.Errorf("journal = %v", got)
	}
}

func TestWaitFenceCPU(t *testing.T) {
	d := New(Options{})
	f, _ := d.CreateFence("frame")
	if err := d.WaitFenceCPU(context.Background(), f, 1, time.Second); !errors.Is(err, ErrDeadlock) {
		t.Errorf("unsignaled CPU wait = %v, want ErrDeadlock", err)
	}
	_ = d.SignalFence(0, f, 3)
	if err := d.WaitFenceCPU(context.Background(), f, 2, time.Second); err != nil {
		t.Errorf("CPU wait: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.WaitFenceCPU(ctx, f, 1, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled wait = %v", err)
	}
}

// =============================================================================
// Submission
// =============================================================================

func TestSubmitValidation(t *testing.T) {
	d := New(Options{})

	open, _ := d.CreateCommandList(0, "open")
	if err := d.Submit(0, []gpu.CommandList{open}); err == nil {
		t.Error("submitting an open list must fail")
	}

	compute := closedList(t, d, 1, "compute", nil)
	if err := d.Submit(0, []gpu.CommandList{compute}); err == nil {
		t.Error("submitting a compute list to the graphics queue must fail")
	}
	if err := d.Submit(1, []gpu.CommandList{compute}); err != nil {
		t.Errorf("Submit: %v", err)
	}
	if err := d.Submit(5, nil); err == nil {
		t.Error("out of range queue must fail")
	}
}

func TestCommandListValidation(t *testing.T) {
	tests := []struct {
		name   string
		queue  int
		record func(gpu.CommandList)
	}{
		{"draw without pipeline", 0, func(cl gpu.CommandList) { cl.Draw(3, 1) }},
		{"dispatch with graphics pipeline", 0, func(cl gpu.CommandList) {
			cl.SetPipelineState(&gpu.GraphicsPipeline{Name: "g"})
			cl.Dispatch(1, 1, 1)
		}},
		{"graphics pipeline on compute list", 1, func(cl gpu.CommandList) {
			cl.SetPipelineState(&gpu.GraphicsPipeline{Name: "g"})
		}},
		{"clear on compute list", 1, func(cl gpu.CommandList) {
			cl.ClearRenderTarget(gpu.Descriptor{}, [4]float32{})
		}},
		{"render target transition on compute list", 1, func(cl gpu.CommandList) {
			var b gpu.BarrierCollection
			b.Add(gpu.TransitionBarrier(nil, gpu.AllSubresources, gpu.StateCommon, gpu.StateRenderTarget))
			cl.InsertBarriers(b)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(Options{})
			cl, _ := d.CreateCommandList(tt.queue, tt.name)
			tt.record(cl)
			if err := cl.Close(); err == nil {
				t.Error("Close succeeded, want validation error")
			}
		})
	}
}

func TestClearCopyAndTimestamps(t *testing.T) {
	d := New(Options{})
	tex, _ := d.CreateCommittedResource(gpu.Texture2D("tex", 2, 2, gputypes.TextureFormatRGBA8Unorm, 1))
	desc := gpu.Buffer("readback", 64, 0)
	desc.Flags |= gpu.FlagHostReadback
	buf, _ := d.CreateCommittedResource(desc)

	cl := closedList(t, d, 0, "work", func(cl gpu.CommandList) {
		cl.WriteTimestamp(0)
		cl.ClearRenderTarget(gpu.Descriptor{Kind: gpu.DescriptorRTV, Resource: tex}, [4]float32{0, 1, 0, 1})
		cl.CopyResource(gpu.CopyCommand{Dst: buf, DstOffset: 16, Src: tex})
		cl.WriteTimestamp(1)
	})
	if err := d.Submit(0, []gpu.CommandList{cl}); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, 4)
	if err := d.ReadBuffer(buf, 16, got); err != nil {
		t.Fatal(err)
	}
	if want := []byte{0, 255, 0, 255}; string(got) != string(want) {
		t.Errorf("texel = %v, want %v", got, want)
	}
	ts := d.Timestamps()
	if ts[1] <= ts[0] {
		t.Errorf("timestamps not increasing: %v", ts)
	}
}

// =============================================================================
// Memory
// =============================================================================

func TestPlacedResources(t *testing.T) {
	d := New(Options{HeapAlignment: 256})
	h, err := d.CreateHeap(gpu.AliasingBuffers, 1024)
	if err != nil {
		t.Fatal(err)
	}
	desc := gpu.Buffer("b", 256, 0)

	if _, err := d.CreatePlacedResource(desc, gpu.Placement{Heap: h, Offset: 768}); err != nil {
		t.Errorf("in-bounds placement: %v", err)
	}
	if _, err := d.CreatePlacedResource(desc, gpu.Placement{Heap: h, Offset: 1024}); err == nil {
		t.Error("out-of-bounds placement must fail")
	}
	if _, err := d.CreatePlacedResource(desc, gpu.Placement{Heap: h, Offset: 100}); err == nil {
		t.Error("misaligned placement must fail")
	}
	d.ReleaseHeap(h)
	if _, err := d.CreatePlacedResource(desc, gpu.Placement{Heap: h, Offset: 0}); err == nil {
		t.Error("placement in a released heap must fail")
	}

	creates := d.JournalFor(EntryCreateResource)
	if len(creates) != 1 || creates[0].Offset != 768 {
		t.Errorf("creates = %v", creates)
	}
}

func TestReleaseAndStats(t *testing.T) {
	d := New(Options{})
	r, _ := d.CreateCommittedResource(gpu.Buffer("b", 16, 0))
	if st := d.Stats(); st.LiveResources != 1 || st.CreatedResources != 1 {
		t.Fatalf("stats = %+v", st)
	}
	d.ReleaseResource(r)
	d.ReleaseResource(r)
	if st := d.Stats(); st.LiveResources != 0 {
		t.Errorf("live = %d after release", st.LiveResources)
	}
	if got := len(d.JournalFor(EntryRelease)); got != 1 {
		t.Errorf("release entries = %d, want 1", got)
	}
}

func TestHostBufferBounds(t *testing.T) {
	d := New(Options{})
	desc := gpu.Buffer("upload", 8, 0)
	desc.Flags |= gpu.FlagHostUpload
	r, _ := d.CreateCommittedResource(desc)
	if err := d.WriteBuffer(r, 4, []byte{1, 2, 3, 4, 5}); err == nil {
		t.Error("write past the end must fail")
	}
	dev, _ := d.CreateCommittedResource(gpu.Buffer("device", 8, 0))
	if err := d.WriteBuffer(dev, 0, []byte{1}); err == nil {
		t.Error("write into a device-local buffer must fail")
	}
}
