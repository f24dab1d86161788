// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpu

import "github.com/gogpu/gputypes"

// CommandListKind is the capability class of a command list.
type CommandListKind uint8

const (
	CommandListGraphics CommandListKind = iota
	CommandListCompute
	CommandListCopy
)

// CommandListKindFor returns the list kind recorded for queue type q.
func CommandListKindFor(q QueueType) CommandListKind {
	switch q {
	case QueueCompute:
		return CommandListCompute
	case QueueCopy:
		return CommandListCopy
	default:
		return CommandListGraphics
	}
}

// SupportsGraphics reports whether draws and render targets may be recorded.
func (k CommandListKind) SupportsGraphics() bool { return k == CommandListGraphics }

// SupportsCompute reports whether dispatches may be recorded.
func (k CommandListKind) SupportsCompute() bool { return k != CommandListCopy }

// SupportsRayTracing reports whether ray dispatches may be recorded.
func (k CommandListKind) SupportsRayTracing() bool { return k != CommandListCopy }

// SupportsPipeline reports whether a pipeline of kind p can be bound.
func (k CommandListKind) SupportsPipeline(p PipelineKind) bool {
	switch p {
	case PipelineGraphics:
		return k.SupportsGraphics()
	case PipelineCompute:
		return k.SupportsCompute()
	default:
		return k.SupportsRayTracing()
	}
}

func (k CommandListKind) String() string {
	return [...]string{"graphics", "compute", "copy"}[k]
}

// DescriptorKind is the type of view a pass requests on a resource.
type DescriptorKind uint8

const (
	DescriptorSRV DescriptorKind = iota
	DescriptorUAV
	DescriptorRTV
	DescriptorDSV
)

func (k DescriptorKind) String() string {
	return [...]string{"srv", "uav", "rtv", "dsv"}[k]
}

// Descriptor is a view of a resource created by a Device.
type Descriptor struct {
	Kind     DescriptorKind
	Resource Resource
	// Format is the view format; Undefined means the resource's own format.
	Format gputypes.TextureFormat
	Handle any
}

// CopyCommand copies all of Src into Dst starting at DstOffset bytes.
type CopyCommand struct {
	Dst       Resource
	DstOffset uint64
	Src       Resource
}

// CommandList records GPU commands for one queue.
//
// A CommandList is owned by exactly one recording goroutine between Reset
// and Close.
type CommandList interface {
	Kind() CommandListKind
	Label() string

	// Reset reopens the list for recording.
	Reset(label string) error
	// Close finishes recording. Closed lists are submitted by the device.
	Close() error

	InsertBarriers(b BarrierCollection)
	SetPipelineState(p PipelineState)
	BindBuffer(slot uint32, r Resource, offset uint64)
	BindDescriptor(slot uint32, d Descriptor)
	SetRenderTargets(rts []Descriptor, depthStencil *Descriptor)
	ClearRenderTarget(rt Descriptor, color [4]float32)
	ClearDepth(ds Descriptor, depth float32)
	Draw(vertexCount, instanceCount uint32)
	Dispatch(x, y, z uint32)
	DispatchRays(width, height, depth uint32)
	CopyResource(c CopyCommand)
	WriteTimestamp(index uint32)
}
