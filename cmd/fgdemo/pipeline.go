// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package main

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/gpu"
)

var (
	gbufferPipeline  = &gpu.GraphicsPipeline{Name: "gbuffer"}
	ssaoPipeline     = &gpu.ComputePipeline{Name: "ssao"}
	lightingPipeline = &gpu.ComputePipeline{Name: "lighting"}
	tonemapPipeline  = &gpu.GraphicsPipeline{Name: "tonemap"}
)

func target(name string, w, h uint32, format gputypes.TextureFormat, flags gpu.ResourceFlags) gpu.ResourceDescription {
	d := gpu.Texture2D(name, w, h, format, 1)
	d.Flags |= flags
	return d
}

// deferredPipeline returns a deferred renderer: a G-buffer pass on graphics,
// ambient occlusion and lighting on the async compute queue when there is
// one, and a tonemap pass writing the back buffer.
func deferredPipeline(width, height uint32, asyncQueue int, readback bool) []framegraph.RenderPass {
	rt := gpu.FlagAllowRenderTarget
	uav := gpu.FlagAllowUnorderedAccess
	return []framegraph.RenderPass{
		&framegraph.Pass{
			PassName: "GBuffer",
			ScheduleFunc: func(sc *framegraph.ScheduleContext) error {
				sc.NewTexture("albedo", target("albedo", width, height, gputypes.TextureFormatRGBA8Unorm, rt))
				sc.NewTexture("normal", target("normal", width, height, gputypes.TextureFormatRGBA8Unorm, rt))
				sc.NewTexture("depth", target("depth", width, height, gputypes.TextureFormatDepth24PlusStencil8, gpu.FlagAllowDepthStencil))
				sc.WriteRenderTarget("albedo")
				sc.WriteRenderTarget("normal")
				return sc.WriteDepthStencil("depth")
			},
			RenderFunc: func(rc *framegraph.RecordContext) error {
				rc.ClearRenderTarget("albedo", [4]float32{0.2, 0.3, 0.4, 1})
				rc.ClearRenderTarget("normal", [4]float32{0.5, 0.5, 1, 1})
				rc.ClearDepth("depth", 1)
				rc.ApplyPipelineState(gbufferPipeline)
				rc.SetRenderTargets([]string{"albedo", "normal"}, "depth")
				rc.Draw(36, 64)
				return nil
			},
		},
		&framegraph.Pass{
			PassName: "SSAO",
			ScheduleFunc: func(sc *framegraph.ScheduleContext) error {
				sc.ExecuteOnQueue(asyncQueue)
				sc.NewTexture("ao", target("ao", width, height, gputypes.TextureFormatR8Unorm, uav))
				sc.ReadTexture("depth")
				sc.ReadTexture("normal")
				return sc.WriteTexture("ao")
			},
			RenderFunc: func(rc *framegraph.RecordContext) error {
				rc.ApplyPipelineState(ssaoPipeline)
				rc.BindDescriptor(0, "depth", gpu.DescriptorSRV)
				rc.BindDescriptor(1, "normal", gpu.DescriptorSRV)
				rc.BindDescriptor(2, "ao", gpu.DescriptorUAV)
				rc.Dispatch((width+7)/8, (height+7)/8, 1)
				return nil
			},
		},
		&framegraph.Pass{
			PassName: "Lighting",
			ScheduleFunc: func(sc *framegraph.ScheduleContext) error {
				sc.ExecuteOnQueue(asyncQueue)
				sc.NewTexture("lit", target("lit", width, height, gputypes.TextureFormatRGBA8Unorm, uav))
				sc.ReadTexture("albedo")
				sc.ReadTexture("normal")
				sc.ReadTexture("ao")
				if readback {
					sc.RequestReadback("lit")
				}
				return sc.WriteTexture("lit")
			},
			RenderFunc: func(rc *framegraph.RecordContext) error {
				rc.ApplyPipelineState(lightingPipeline)
				rc.BindDescriptor(0, "albedo", gpu.DescriptorSRV)
				rc.BindDescriptor(1, "normal", gpu.DescriptorSRV)
				rc.BindDescriptor(2, "ao", gpu.DescriptorSRV)
				rc.BindDescriptor(3, "lit", gpu.DescriptorUAV)
				rc.Dispatch((width+7)/8, (height+7)/8, 1)
				return nil
			},
		},
		&framegraph.Pass{
			PassName: "Tonemap",
			ScheduleFunc: func(sc *framegraph.ScheduleContext) error {
				sc.ReadTexture("lit")
				return sc.WriteBackBuffer()
			},
			RenderFunc: func(rc *framegraph.RecordContext) error {
				rc.ApplyPipelineState(tonemapPipeline)
				rc.SetRenderTarget(framegraph.BackBufferName)
				rc.BindDescriptor(0, "lit", gpu.DescriptorSRV)
				rc.Draw(3, 1)
				return nil
			},
		},
	}
}
