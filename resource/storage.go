// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package resource owns the GPU resources of the frame graph.
//
// Every frame passes declare the resources they need between
// StartResourceScheduling and EndResourceScheduling. The storage then
// compares the frame's resource set with the previous frame's. An identical
// set reuses every object untouched. Any added or removed resource
// invalidates the memory layout: aliasable resources are repacked into
// shared heaps and recreated.
package resource

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/gpu"
	"github.com/gogpu/framegraph/memory"
	"github.com/gogpu/framegraph/state"
)

// Config configures a Storage.
type Config struct {
	// FramesInFlight delays the release of replaced objects.
	FramesInFlight int
	// Aliasing enables memory aliasing of transient resources.
	Aliasing bool
	// CreateConcurrency bounds concurrent object creation; 0 means 4.
	CreateConcurrency int
	// DirectAccess configures the upload and readback pools.
	DirectAccess memory.PoolConfig
}

// DefaultConfig returns two frames in flight with aliasing enabled.
func DefaultConfig() Config {
	return Config{
		FramesInFlight:    2,
		Aliasing:          true,
		CreateConcurrency: 4,
		DirectAccess:      memory.DefaultPoolConfig(),
	}
}

type usageKey struct {
	pass string
	name string
}

type descriptorKey struct {
	kind   gpu.DescriptorKind
	format gputypes.TextureFormat
}

// object is a live GPU resource owned by the storage.
type object struct {
	resource gpu.Resource
	desc     gpu.ResourceDescription
	heap     *heapEntry
	offset   uint64
	external bool

	mu          sync.Mutex
	descriptors map[descriptorKey]gpu.Descriptor
}

type heapEntry struct {
	heap  gpu.Heap
	class gpu.AliasingClass
	size  uint64
}

type deferred struct {
	retiredAt uint64
	release   func()
}

// Storage owns frame graph resources across frames.
//
// Scheduling methods are called from the scheduling goroutine only. Resource
// and Descriptor may be called concurrently from recording goroutines.
type Storage struct {
	device  gpu.Device
	tracker *state.Tracker
	cfg     Config
	caps    gpu.Capabilities

	frame      uint64
	scheduling bool

	infos      map[string]*SchedulingInfo
	aliasOf    map[string]string
	usages     map[usageKey]*PassInfo
	usageOrder []usageKey
	byPass     map[string][]*PassInfo
	exports    map[string]bool

	objects     map[string]*object
	prevEntries []DiffEntry
	heaps       map[gpu.AliasingClass]*heapEntry
	layouts     map[gpu.AliasingClass]memory.AliasLayout
	retired     []deferred

	upload   *memory.SegregatedPools[gpu.Resource]
	readback *memory.SegregatedPools[gpu.Resource]

	readbackRequests []usageKey
	readbacks        []*Readback
	inflight         map[uint64][]*Readback
	results          map[string]ReadbackResult

	reallocations int
	created       int
}

// New creates a storage allocating from device and registering objects with
// tracker.
func New(device gpu.Device, tracker *state.Tracker, cfg Config) (*Storage, error) {
	if cfg.FramesInFlight <= 0 {
		return nil, errors.Newf("resource: FramesInFlight must be positive, got %d", cfg.FramesInFlight)
	}
	if cfg.CreateConcurrency <= 0 {
		cfg.CreateConcurrency = 4
	}
	s := &Storage{
		device:   device,
		tracker:  tracker,
		cfg:      cfg,
		caps:     device.Capabilities(),
		objects:  make(map[string]*object),
		heaps:    make(map[gpu.AliasingClass]*heapEntry),
		layouts:  make(map[gpu.AliasingClass]memory.AliasLayout),
		inflight: make(map[uint64][]*Readback),
		results:  make(map[string]ReadbackResult),
	}
	var err error
	s.upload, err = memory.NewSegregatedPools(cfg.DirectAccess, s.directHeapFactory("upload", gpu.FlagHostUpload), device.ReleaseResource)
	if err != nil {
		return nil, errors.Wrap(err, "resource: upload pool")
	}
	s.readback, err = memory.NewSegregatedPools(cfg.DirectAccess, s.directHeapFactory("readback", gpu.FlagHostReadback), device.ReleaseResource)
	if err != nil {
		return nil, errors.Wrap(err, "resource: readback pool")
	}
	s.resetScheduling()
	return s, nil
}

func (s *Storage) resetScheduling() {
	s.infos = make(map[string]*SchedulingInfo)
	s.aliasOf = make(map[string]string)
	s.usages = make(map[usageKey]*PassInfo)
	s.usageOrder = s.usageOrder[:0]
	s.byPass = make(map[string][]*PassInfo)
	s.exports = make(map[string]bool)
	s.readbackRequests = s.readbackRequests[:0]
	s.readbacks = nil
}

// BeginFrame starts frame. The caller guarantees that the GPU finished every
// frame up to frame - FramesInFlight.
func (s *Storage) BeginFrame(frame uint64) {
	s.frame = frame
	s.releaseRetired(false)
	s.completeReadbacks(false)
}

// EndFrame hands this frame's readbacks to the GPU timeline.
func (s *Storage) EndFrame(frame uint64) {
	if len(s.readbacks) > 0 {
		s.inflight[frame] = append(s.inflight[frame], s.readbacks...)
		s.readbacks = nil
	}
}

func (s *Storage) isComplete(f uint64, all bool) bool {
	return all || f+uint64(s.cfg.FramesInFlight) <= s.frame
}

func (s *Storage) retire(release func()) {
	s.retired = append(s.retired, deferred{retiredAt: s.frame, release: release})
}

func (s *Storage) releaseRetired(all bool) {
	kept := s.retired[:0]
	for _, d := range s.retired {
		if s.isComplete(d.retiredAt, all) {
			d.release()
			continue
		}
		kept = append(kept, d)
	}
	s.retired = kept
}

// StartResourceScheduling opens the scheduling phase of the current frame.
func (s *Storage) StartResourceScheduling() error {
	if s.scheduling {
		return errors.AssertionFailedf("resource: scheduling already started for frame %d", s.frame)
	}
	s.resetScheduling()
	s.scheduling = true
	return nil
}

// AbortResourceScheduling discards the declarations of a scheduling phase
// that failed. Objects of the previous frame stay alive.
func (s *Storage) AbortResourceScheduling() {
	s.scheduling = false
	s.resetScheduling()
}

func (s *Storage) requireScheduling(op string) error {
	if !s.scheduling {
		return errors.AssertionFailedf("resource: %s called outside the scheduling phase", op)
	}
	return nil
}

// QueueResourceAllocationIfNeeded declares a resource for this frame.
//
// With a non-empty aliasSource, name becomes another name for aliasSource
// and props are ignored. Declaring the same name twice with equal
// properties is a no-op.
func (s *Storage) QueueResourceAllocationIfNeeded(name string, props Properties, aliasSource string) error {
	if err := s.requireScheduling("QueueResourceAllocationIfNeeded"); err != nil {
		return err
	}
	if aliasSource != "" {
		if _, own := s.infos[name]; own {
			return errors.AssertionFailedf("resource: %q is allocated and cannot alias %q", name, aliasSource)
		}
		if prev, ok := s.aliasOf[name]; ok && prev != aliasSource {
			return errors.AssertionFailedf("resource: %q aliases both %q and %q", name, prev, aliasSource)
		}
		s.aliasOf[name] = aliasSource
		return nil
	}
	if _, alias := s.aliasOf[name]; alias {
		return errors.AssertionFailedf("resource: %q is an alias and cannot be allocated", name)
	}
	desc := props.Description
	if desc.Label == "" {
		desc.Label = name
	}
	if info, ok := s.infos[name]; ok {
		if info.Description != desc || info.Persistent != props.Persistent {
			return errors.AssertionFailedf("resource: %q declared twice with different properties", name)
		}
		return nil
	}
	s.infos[name] = &SchedulingInfo{
		Name:        name,
		Description: desc,
		Persistent:  props.Persistent,
		passes:      make(map[string]*PassInfo),
	}
	return nil
}

// ImportResource registers an externally owned resource such as a swap
// chain image. Imported resources are never aliased nor released.
func (s *Storage) ImportResource(name string, r gpu.Resource) error {
	if err := s.requireScheduling("ImportResource"); err != nil {
		return err
	}
	if r == nil {
		return errors.AssertionFailedf("resource: nil resource imported as %q", name)
	}
	s.infos[name] = &SchedulingInfo{
		Name:        name,
		Description: r.Description(),
		External:    true,
		passes:      make(map[string]*PassInfo),
	}
	obj := s.objects[name]
	if obj == nil || obj.resource.ID() != r.ID() {
		if obj != nil && !obj.external {
			return errors.AssertionFailedf("resource: imported %q shadows an owned resource", name)
		}
		if obj != nil {
			s.tracker.StopTracking(obj.resource)
		}
		s.objects[name] = &object{resource: r, desc: r.Description(), external: true}
	}
	if !s.tracker.IsTracked(r) {
		s.tracker.StartTracking(r)
	}
	return nil
}

// QueueResourceUsage records what pass needs from name. configure runs
// immediately on the pass's usage record.
func (s *Storage) QueueResourceUsage(pass, name string, configure func(*PassInfo)) error {
	if err := s.requireScheduling("QueueResourceUsage"); err != nil {
		return err
	}
	key := usageKey{pass: pass, name: name}
	p, ok := s.usages[key]
	if !ok {
		p = newPassInfo(pass, name)
		s.usages[key] = p
		s.usageOrder = append(s.usageOrder, key)
	}
	if configure != nil {
		configure(p)
	}
	return nil
}

// Export keeps name out of aliasing so its contents stay valid after the
// frame.
func (s *Storage) Export(name string) error {
	if err := s.requireScheduling("Export"); err != nil {
		return err
	}
	s.exports[name] = true
	return nil
}

// RequestReadback copies name to CPU-visible memory after pass runs.
func (s *Storage) RequestReadback(pass, name string) error {
	if err := s.requireScheduling("RequestReadback"); err != nil {
		return err
	}
	s.readbackRequests = append(s.readbackRequests, usageKey{pass: pass, name: name})
	return nil
}

// Canonical follows alias links from name to the allocated resource name.
func (s *Storage) Canonical(name string) (string, error) {
	seen := 0
	cur := name
	for {
		src, ok := s.aliasOf[cur]
		if !ok {
			break
		}
		if seen++; seen > len(s.aliasOf) {
			return "", errors.AssertionFailedf("resource: alias cycle through %q", name)
		}
		cur = src
	}
	if _, ok := s.infos[cur]; !ok {
		if cur != name {
			return "", errors.AssertionFailedf("resource: %q aliases unscheduled resource %q", name, cur)
		}
		return "", errors.AssertionFailedf("resource: %q was not scheduled this frame", name)
	}
	return cur, nil
}

// Description returns the description of name or of the resource it
// aliases.
func (s *Storage) Description(name string) (gpu.ResourceDescription, error) {
	c, err := s.Canonical(name)
	if err != nil {
		return gpu.ResourceDescription{}, err
	}
	return s.infos[c].Description, nil
}

// SchedulingInfo returns the frame metadata of name.
func (s *Storage) SchedulingInfo(name string) (*SchedulingInfo, error) {
	c, err := s.Canonical(name)
	if err != nil {
		return nil, err
	}
	return s.infos[c], nil
}

// PassInfo returns what pass needs from name.
func (s *Storage) PassInfo(pass, name string) (*PassInfo, error) {
	info, err := s.SchedulingInfo(name)
	if err != nil {
		return nil, err
	}
	p, ok := info.passes[pass]
	if !ok {
		return nil, errors.AssertionFailedf("resource: pass %q did not schedule a usage of %q", pass, name)
	}
	return p, nil
}

// PassUsages returns the resources pass uses, one record per canonical
// resource in declaration order. Valid after EndResourceScheduling.
func (s *Storage) PassUsages(pass string) []*PassInfo { return s.byPass[pass] }

// Resource returns the GPU object backing name.
func (s *Storage) Resource(name string) (gpu.Resource, error) {
	c, err := s.Canonical(name)
	if err != nil {
		return nil, err
	}
	obj, ok := s.objects[c]
	if !ok {
		return nil, errors.AssertionFailedf("resource: %q has no GPU object, was EndResourceScheduling called?", name)
	}
	return obj.resource, nil
}

// Exported returns a resource exported in the most recent frame.
func (s *Storage) Exported(name string) (gpu.Resource, bool) {
	info, ok := s.infos[name]
	if !ok || !info.Exported {
		return nil, false
	}
	obj, ok := s.objects[name]
	if !ok {
		return nil, false
	}
	return obj.resource, true
}

// Names returns every canonical resource scheduled this frame.
func (s *Storage) Names() []string {
	out := make([]string, 0, len(s.infos))
	for n := range s.infos {
		out = append(out, n)
	}
	return out
}

// Stats summarizes storage state.
type Stats struct {
	Objects       int
	Heaps         int
	HeapBytes     uint64
	Reallocations int
	Created       int
	PendingFrees  int
}

// Stats returns a snapshot of storage state.
func (s *Storage) Stats() Stats {
	st := Stats{
		Objects:       len(s.objects),
		Heaps:         len(s.heaps),
		Reallocations: s.reallocations,
		Created:       s.created,
		PendingFrees:  len(s.retired),
	}
	for _, h := range s.heaps {
		st.HeapBytes += h.size
	}
	return st
}

// ReallocationCount returns how many frames invalidated the layout.
func (s *Storage) ReallocationCount() int { return s.reallocations }

// Close releases every owned object immediately. The caller guarantees the
// GPU is idle.
func (s *Storage) Close() {
	s.releaseRetired(true)
	s.completeReadbacks(true)
	for name, obj := range s.objects {
		if !obj.external {
			s.tracker.StopTracking(obj.resource)
			s.device.ReleaseResource(obj.resource)
		}
		delete(s.objects, name)
	}
	for class, h := range s.heaps {
		s.device.ReleaseHeap(h.heap)
		delete(s.heaps, class)
	}
	s.upload.Reset()
	s.readback.Reset()
}

func (s *Storage) String() string {
	st := s.Stats()
	return fmt.Sprintf("resource.Storage{objects: %d, heaps: %d (%d bytes), reallocations: %d}",
		st.Objects, st.Heaps, st.HeapBytes, st.Reallocations)
}
