// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpu

// FenceHandle is the backend object behind a Fence.
type FenceHandle interface {
	// CompletedValue returns the last value the GPU has signaled.
	CompletedValue() uint64
}

// Fence pairs a backend fence with the CPU-side expected value counter.
//
// The expected value only moves forward through Increment. The scheduler
// resolves every signal value exactly once per frame, so the counter never
// needs to be rolled back.
type Fence struct {
	name     string
	handle   FenceHandle
	expected uint64
}

// NewFence wraps a backend fence.
func NewFence(name string, h FenceHandle) *Fence {
	return &Fence{name: name, handle: h}
}

// Name returns the debug name of the fence.
func (f *Fence) Name() string { return f.name }

// Handle returns the backend fence.
func (f *Fence) Handle() FenceHandle { return f.handle }

// Increment advances and returns the expected value.
func (f *Fence) Increment() uint64 {
	f.expected++
	return f.expected
}

// ExpectedValue returns the most recently issued value.
func (f *Fence) ExpectedValue() uint64 { return f.expected }

// CompletedValue returns the value the GPU has reached so far.
func (f *Fence) CompletedValue() uint64 {
	if f.handle == nil {
		return f.expected
	}
	return f.handle.CompletedValue()
}

// IsCompleted reports whether the GPU has reached value v.
func (f *Fence) IsCompleted(v uint64) bool { return f.CompletedValue() >= v }
