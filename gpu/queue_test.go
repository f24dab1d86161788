// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpu

import "testing"

func TestQueueType_SupportsStates(t *testing.T) {
	tests := []struct {
		name  string
		queue QueueType
		state ResourceState
		want  bool
	}{
		{"graphics render target", QueueGraphics, StateRenderTarget, true},
		{"graphics present", QueueGraphics, StatePresent, true},
		{"compute uav", QueueCompute, StateUnorderedAccess, true},
		{"compute non-pixel srv", QueueCompute, StateNonPixelShaderResource, true},
		{"compute pixel srv", QueueCompute, StatePixelShaderResource, false},
		{"compute render target", QueueCompute, StateRenderTarget, false},
		{"compute common", QueueCompute, StateCommon, true},
		{"copy dest", QueueCopy, StateCopyDest, true},
		{"copy uav", QueueCopy, StateUnorderedAccess, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.queue.SupportsStates(tt.state); got != tt.want {
				t.Errorf("%v.SupportsStates(%v) = %v, want %v", tt.queue, tt.state, got, tt.want)
			}
		})
	}
}

func TestQueueType_SupportsTransition(t *testing.T) {
	if QueueCompute.SupportsTransition(StatePixelShaderResource, StateUnorderedAccess) {
		t.Error("compute queue cannot leave a pixel shader state")
	}
	if !QueueCompute.SupportsTransition(StateUnorderedAccess, StateNonPixelShaderResource) {
		t.Error("compute queue should transition UAV -> non-pixel SRV")
	}
}

func TestParseQueueType(t *testing.T) {
	for in, want := range map[string]QueueType{
		"graphics":      QueueGraphics,
		"direct":        QueueGraphics,
		"compute":       QueueCompute,
		"async-compute": QueueCompute,
		"copy":          QueueCopy,
	} {
		got, err := ParseQueueType(in)
		if err != nil {
			t.Fatalf("ParseQueueType(%q) error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseQueueType(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseQueueType("video"); err == nil {
		t.Error("expected error for unknown queue type")
	}
}

func TestCommandListKind_Capabilities(t *testing.T) {
	gfx := CommandListKindFor(QueueGraphics)
	cmp := CommandListKindFor(QueueCompute)
	cpy := CommandListKindFor(QueueCopy)

	if !gfx.SupportsGraphics() || !gfx.SupportsCompute() {
		t.Error("graphics lists support draws and dispatches")
	}
	if cmp.SupportsGraphics() || !cmp.SupportsCompute() || !cmp.SupportsRayTracing() {
		t.Error("compute lists support dispatches and rays only")
	}
	if cpy.SupportsCompute() || cpy.SupportsPipeline(PipelineCompute) {
		t.Error("copy lists support no pipelines")
	}
	if cmp.SupportsPipeline(PipelineGraphics) {
		t.Error("compute list must reject graphics pipelines")
	}
}
