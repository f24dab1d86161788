// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package resource

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpu"
	"github.com/gogpu/framegraph/internal/logging"
	"github.com/gogpu/framegraph/memory"
)

// DirectAllocation is a slot of CPU-visible memory. Heap is the backing host
// buffer and Offset the slot start within it.
type DirectAllocation struct {
	memory.Allocation[gpu.Resource]
	readback bool
}

// Readback is a pending copy of a resource into CPU-visible memory made
// after Pass.
type Readback struct {
	Pass     string
	Resource string
	Frame    uint64
	// Size is the number of bytes copied.
	Size       uint64
	Allocation DirectAllocation
}

// ReadbackResult holds the bytes of a completed readback.
type ReadbackResult struct {
	Frame uint64
	Data  []byte
}

func (s *Storage) directHeapFactory(label string, flag gpu.ResourceFlags) memory.HeapFactory[gpu.Resource] {
	return func(slotSize uint64, slots int) (gpu.Resource, error) {
		desc := gpu.Buffer(fmt.Sprintf("%s-%d", label, slotSize), slotSize*uint64(slots), 0)
		desc.Flags |= flag
		return s.device.CreateCommittedResource(desc)
	}
}

// AllocateUpload returns size bytes of upload memory valid until released.
func (s *Storage) AllocateUpload(size uint64) (DirectAllocation, error) {
	a, err := s.upload.Allocate(size)
	if err != nil {
		return DirectAllocation{}, errors.Wrapf(err, "resource: upload allocation of %d bytes", size)
	}
	return DirectAllocation{Allocation: a}, nil
}

// AllocateReadback returns size bytes of readback memory valid until
// released.
func (s *Storage) AllocateReadback(size uint64) (DirectAllocation, error) {
	a, err := s.readback.Allocate(size)
	if err != nil {
		return DirectAllocation{}, errors.Wrapf(err, "resource: readback allocation of %d bytes", size)
	}
	return DirectAllocation{Allocation: a, readback: true}, nil
}

// WriteUpload copies data into an upload allocation.
func (s *Storage) WriteUpload(a DirectAllocation, data []byte) error {
	if a.readback {
		return errors.AssertionFailedf("resource: write into a readback allocation")
	}
	if uint64(len(data)) > a.Size {
		return errors.AssertionFailedf("resource: %d bytes do not fit a %d byte upload slot", len(data), a.Size)
	}
	return s.device.WriteBuffer(a.Heap, a.Offset, data)
}

// ReleaseDirectAccess returns a to its pool once the GPU can no longer be
// using it.
func (s *Storage) ReleaseDirectAccess(a DirectAllocation) {
	pool := s.upload
	if a.readback {
		pool = s.readback
	}
	s.retire(func() {
		if err := pool.Release(a.Allocation); err != nil {
			logging.Logger().Warn("resource: direct access release", "err", err)
		}
	})
}

// allocateReadbacks reserves readback slots for this frame's requests.
func (s *Storage) allocateReadbacks() error {
	for _, req := range s.readbackRequests {
		c, err := s.Canonical(req.name)
		if err != nil {
			return errors.Wrapf(err, "readback after %q", req.pass)
		}
		if _, ok := s.infos[c].passes[req.pass]; !ok {
			return errors.AssertionFailedf("resource: readback of %q after pass %q which does not use it", req.name, req.pass)
		}
		size := s.infos[c].Description.EstimatedSize()
		a, err := s.AllocateReadback(size)
		if err != nil {
			return err
		}
		s.readbacks = append(s.readbacks, &Readback{Pass: req.pass, Resource: c, Frame: s.frame, Size: size, Allocation: a})
	}
	return nil
}

// ReadbacksFor returns the readbacks to record after pass this frame.
func (s *Storage) ReadbacksFor(pass string) []*Readback {
	var out []*Readback
	for _, rb := range s.readbacks {
		if rb.Pass == pass {
			out = append(out, rb)
		}
	}
	return out
}

// Readbacks returns every readback scheduled this frame.
func (s *Storage) Readbacks() []*Readback { return s.readbacks }

// LatestReadback returns the most recent completed readback of name.
func (s *Storage) LatestReadback(name string) (ReadbackResult, bool) {
	r, ok := s.results[name]
	return r, ok
}

func (s *Storage) completeReadbacks(all bool) {
	for f, list := range s.inflight {
		if !s.isComplete(f, all) {
			continue
		}
		for _, rb := range list {
			a := rb.Allocation
			data := make([]byte, rb.Size)
			if err := s.device.ReadBuffer(a.Heap, a.Offset, data); err != nil {
				logging.Logger().Warn("resource: readback failed", "resource", rb.Resource, "frame", rb.Frame, "err", err)
			} else if prev, ok := s.results[rb.Resource]; !ok || prev.Frame <= rb.Frame {
				s.results[rb.Resource] = ReadbackResult{Frame: rb.Frame, Data: data}
			}
			if err := s.readback.Release(a.Allocation); err != nil {
				logging.Logger().Warn("resource: readback release", "err", err)
			}
		}
		delete(s.inflight, f)
	}
}
