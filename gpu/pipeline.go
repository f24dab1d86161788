// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpu

import "github.com/gogpu/gputypes"

// PipelineKind enumerates the pipeline state variants.
type PipelineKind uint8

const (
	PipelineCompute PipelineKind = iota
	PipelineGraphics
	PipelineRayTracing
)

func (k PipelineKind) String() string {
	switch k {
	case PipelineCompute:
		return "compute"
	case PipelineGraphics:
		return "graphics"
	default:
		return "ray-tracing"
	}
}

// PipelineState is a compiled pipeline. The set of implementations is closed:
// ComputePipeline, GraphicsPipeline and RayTracingPipeline.
type PipelineState interface {
	PipelineName() string
	isPipelineState()
}

// ComputePipeline is a compute shader pipeline.
type ComputePipeline struct {
	Name   string
	Handle any
}

// GraphicsPipeline is a rasterization pipeline.
type GraphicsPipeline struct {
	Name                string
	Handle              any
	RenderTargetFormats []gputypes.TextureFormat
	DepthStencilFormat  gputypes.TextureFormat
}

// RayTracingPipeline is a ray tracing state object.
type RayTracingPipeline struct {
	Name              string
	Handle            any
	MaxRecursionDepth uint32
}

func (p *ComputePipeline) PipelineName() string    { return p.Name }
func (p *GraphicsPipeline) PipelineName() string   { return p.Name }
func (p *RayTracingPipeline) PipelineName() string { return p.Name }

func (*ComputePipeline) isPipelineState()    {}
func (*GraphicsPipeline) isPipelineState()   {}
func (*RayTracingPipeline) isPipelineState() {}

// PipelineKindOf returns the variant of p.
func PipelineKindOf(p PipelineState) PipelineKind {
	switch p.(type) {
	case *ComputePipeline:
		return PipelineCompute
	case *GraphicsPipeline:
		return PipelineGraphics
	case *RayTracingPipeline:
		return PipelineRayTracing
	}
	panic("gpu: unknown pipeline state type")
}
