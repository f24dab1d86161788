// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package framegraph

// BackBufferName is the resource name the back buffer handed to
// Engine.RenderFrame is imported under.
const BackBufferName = "backbuffer"

// RenderPass is one unit of GPU work in a frame.
//
// Schedule runs on the scheduling goroutine and declares the pass's queue,
// resources and dependencies. Render runs after the frame's blueprint is
// built, possibly on a recording goroutine, and records commands. A pass
// object may be reused across frames; the contexts it receives are only valid
// during the call.
type RenderPass interface {
	Name() string
	Schedule(ctx *ScheduleContext) error
	Render(ctx *RecordContext) error
}

// Pass adapts a pair of functions to RenderPass.
//
// Example:
//
//	blur := &framegraph.Pass{
//	    PassName: "Blur",
//	    ScheduleFunc: func(sc *framegraph.ScheduleContext) error {
//	        sc.ExecuteOnQueue(1)
//	        sc.ReadTexture("color")
//	        return sc.WriteTexture("blurred")
//	    },
//	    RenderFunc: func(rc *framegraph.RecordContext) error {
//	        rc.ApplyPipelineState(blurPipeline)
//	        rc.BindDescriptor(0, "color", gpu.DescriptorSRV)
//	        rc.Dispatch(w/8, h/8, 1)
//	        return nil
//	    },
//	}
type Pass struct {
	PassName     string
	ScheduleFunc func(*ScheduleContext) error
	// RenderFunc may be nil for passes that only order or transition
	// resources.
	RenderFunc func(*RecordContext) error
}

func (p *Pass) Name() string { return p.PassName }

func (p *Pass) Schedule(ctx *ScheduleContext) error {
	if p.ScheduleFunc == nil {
		return nil
	}
	return p.ScheduleFunc(ctx)
}

func (p *Pass) Render(ctx *RecordContext) error {
	if p.RenderFunc == nil {
		return nil
	}
	return p.RenderFunc(ctx)
}
