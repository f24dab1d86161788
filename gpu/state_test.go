// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpu

import "testing"

func TestResourceState_IsReadOnly(t *testing.T) {
	tests := []struct {
		state ResourceState
		want  bool
	}{
		{StateCommon, false},
		{StatePixelShaderResource, true},
		{StateAnyShaderResource | StateCopySource, true},
		{StateDepthRead | StateNonPixelShaderResource, true},
		{StateRenderTarget, false},
		{StateUnorderedAccess | StateNonPixelShaderResource, false},
		{StatePresent, true},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.IsReadOnly(); got != tt.want {
				t.Errorf("IsReadOnly() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResourceState_IsRedundantTransitionTo(t *testing.T) {
	tests := []struct {
		name       string
		from, to   ResourceState
		wantNoCost bool
	}{
		{"same write state", StateRenderTarget, StateRenderTarget, true},
		{"same common", StateCommon, StateCommon, true},
		{"read subset", StateAnyShaderResource, StatePixelShaderResource, true},
		{"read superset requested", StatePixelShaderResource, StateAnyShaderResource, false},
		{"write to read", StateRenderTarget, StatePixelShaderResource, false},
		{"read to common", StateAnyShaderResource, StateCommon, false},
		{"write containing is not enough", StateUnorderedAccess | StateCopyDest, StateCopyDest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.IsRedundantTransitionTo(tt.to); got != tt.wantNoCost {
				t.Errorf("%v -> %v redundant = %v, want %v", tt.from, tt.to, got, tt.wantNoCost)
			}
		})
	}
}

func TestResourceState_String(t *testing.T) {
	if got := StateCommon.String(); got != "Common" {
		t.Errorf("Common.String() = %q", got)
	}
	if got := (StateRenderTarget | StateCopySource).String(); got != "RenderTarget|CopySource" {
		t.Errorf("String() = %q, want RenderTarget|CopySource", got)
	}
	if got := StatePresent.String(); got != "Present" {
		t.Errorf("Present.String() = %q", got)
	}
}
