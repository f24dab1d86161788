// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package resource

import (
	"cmp"
	"maps"
	"slices"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/framegraph/gpu"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/internal/diff"
	"github.com/gogpu/framegraph/internal/logging"
	"github.com/gogpu/framegraph/memory"
)

// EndResourceScheduling closes the scheduling phase. It resolves aliases,
// computes lifetimes from g's dependency levels, diffs the frame against the
// previous one and creates whatever objects the diff requires.
func (s *Storage) EndResourceScheduling(g *graph.Graph) error {
	if err := s.requireScheduling("EndResourceScheduling"); err != nil {
		return err
	}
	s.scheduling = false
	if !g.IsBuilt() {
		return errors.AssertionFailedf("resource: EndResourceScheduling needs a built graph")
	}

	if err := s.resolveUsages(g); err != nil {
		return err
	}
	if err := s.computeLifetimes(g); err != nil {
		return err
	}
	s.finalizeInfos()

	entries := s.diffEntries()
	script := diff.Func(s.prevEntries, entries, func(a, b DiffEntry) bool { return a == b })
	if _, err := s.TransferPreviousFrameResources(entries, script); err != nil {
		return err
	}
	s.prevEntries = entries
	return s.allocateReadbacks()
}

func (s *Storage) resolveUsages(g *graph.Graph) error {
	for _, key := range s.usageOrder {
		p := s.usages[key]
		if _, ok := g.Node(key.pass); !ok {
			return errors.AssertionFailedf("resource: usage of %q by unscheduled pass %q", key.name, key.pass)
		}
		c, err := s.Canonical(key.name)
		if err != nil {
			return errors.Wrapf(err, "pass %q", key.pass)
		}
		info := s.infos[c]
		p.Resource = c
		if existing, ok := info.passes[key.pass]; ok {
			existing.merge(p)
		} else {
			info.passes[key.pass] = p
			s.byPass[key.pass] = append(s.byPass[key.pass], p)
		}
		info.StateMask |= p.States()
	}
	for alias := range s.aliasOf {
		c, err := s.Canonical(alias)
		if err != nil {
			return err
		}
		s.infos[c].Aliases = append(s.infos[c].Aliases, alias)
	}
	for name := range s.exports {
		c, err := s.Canonical(name)
		if err != nil {
			return errors.Wrap(err, "export")
		}
		s.infos[c].Exported = true
	}
	return nil
}

// computeLifetimes spans every resource over the dependency levels of the
// passes touching it or any of its aliases.
func (s *Storage) computeLifetimes(g *graph.Graph) error {
	touched := make(map[string]bool, len(s.infos))
	for _, n := range g.NodesInGlobalExecutionOrder() {
		level := n.DependencyLevelIndex()
		for _, sub := range n.AllSubresources() {
			c, err := s.Canonical(sub.Resource)
			if err != nil {
				return errors.Wrapf(err, "pass %q", n.Name())
			}
			info := s.infos[c]
			if !touched[c] {
				info.Lifetime = memory.Lifetime{First: level, Last: level}
				touched[c] = true
				continue
			}
			info.Lifetime = info.Lifetime.Union(memory.Lifetime{First: level, Last: level})
		}
	}
	whole := memory.Lifetime{First: 0, Last: max(len(g.DependencyLevels())-1, 0)}
	for name, info := range s.infos {
		if !touched[name] {
			info.Lifetime = whole
		}
	}
	return nil
}

func (s *Storage) aliasingEnabled() bool {
	return s.cfg.Aliasing && s.caps.PlacedResources
}

func (s *Storage) finalizeInfos() {
	for _, info := range s.infos {
		slices.Sort(info.Aliases)
		if info.External {
			continue
		}
		info.Aliasable = s.aliasingEnabled() && !info.Persistent && !info.Exported
		info.Allocation = s.device.ResourceAllocationInfo(info.Description)
		info.Class = info.Description.AliasingClass()
		if s.caps.UniversalAliasingHeaps {
			info.Class = gpu.AliasingUniversal
		}
	}
}

func (s *Storage) diffEntries() []DiffEntry {
	entries := make([]DiffEntry, 0, len(s.infos))
	for _, info := range s.infos {
		if !info.External {
			entries = append(entries, info.diffEntry())
		}
	}
	slices.SortFunc(entries, func(a, b DiffEntry) int { return cmp.Compare(a.Name, b.Name) })
	return entries
}

type createJob struct {
	name   string
	desc   gpu.ResourceDescription
	heap   *heapEntry
	offset uint64
	result gpu.Resource
}

// TransferPreviousFrameResources applies the edit script between the
// previous and current DiffEntry lists. Without adds or deletes every object
// carries over and it returns false. Otherwise persistent objects carry over,
// aliasable resources are repacked, and it returns true.
func (s *Storage) TransferPreviousFrameResources(entries []DiffEntry, script diff.Script) (bool, error) {
	if !script.HasChanges() {
		for _, e := range entries {
			if _, ok := s.objects[e.Name]; !ok {
				return false, errors.AssertionFailedf("resource: %q carried over without an object", e.Name)
			}
		}
		return false, nil
	}

	s.reallocations++
	logging.Logger().Info("resource: memory layout invalidated",
		"frame", s.frame, "added", script.Count(diff.Add), "removed", script.Count(diff.Delete))

	for _, e := range script {
		if e.Op == diff.Delete {
			s.retireObject(s.prevEntries[e.OldIndex].Name)
		}
	}
	// Objects of resources dropped from the frame by name but kept alive
	// as external are left alone.
	var jobs []*createJob
	for _, e := range script {
		if e.Op == diff.Delete {
			continue
		}
		cur := entries[e.NewIndex]
		info := s.infos[cur.Name]
		if info.Aliasable {
			continue
		}
		obj := s.objects[cur.Name]
		if e.Op == diff.Common && obj != nil && obj.heap == nil {
			continue
		}
		s.retireObject(cur.Name)
		jobs = append(jobs, &createJob{name: cur.Name, desc: info.Description})
	}

	placed, err := s.repack()
	if err != nil {
		return true, err
	}
	jobs = append(jobs, placed...)
	return true, s.create(jobs)
}

// repack recomputes the aliasing layout of every heap class and returns the
// objects that must be (re)created.
func (s *Storage) repack() ([]*createJob, error) {
	byClass := make(map[gpu.AliasingClass][]memory.AliasRequest)
	for _, info := range s.infos {
		if !info.Aliasable {
			continue
		}
		byClass[info.Class] = append(byClass[info.Class], memory.AliasRequest{
			Name:      info.Name,
			Size:      info.Allocation.Size,
			Alignment: info.Allocation.Alignment,
			Lifetime:  info.Lifetime,
		})
	}

	for class, h := range s.heaps {
		if _, used := byClass[class]; !used {
			s.retireHeap(h)
			delete(s.heaps, class)
			delete(s.layouts, class)
		}
	}

	var jobs []*createJob
	classes := slices.Sorted(maps.Keys(byClass))
	for _, class := range classes {
		layout := memory.Pack(byClass[class])
		s.layouts[class] = layout

		h := s.heaps[class]
		if h == nil || h.size < layout.HeapSize {
			if h != nil {
				s.retireHeap(h)
			}
			heap, err := s.device.CreateHeap(class, layout.HeapSize)
			if err != nil {
				return nil, errors.Wrapf(err, "resource: create %s heap of %d bytes", class, layout.HeapSize)
			}
			h = &heapEntry{heap: heap, class: class, size: layout.HeapSize}
			s.heaps[class] = h
			logging.Logger().Debug("resource: aliasing heap", "class", class.String(), "bytes", layout.HeapSize)
		}

		for _, p := range layout.Placements {
			info := s.infos[p.Name]
			if obj := s.objects[p.Name]; obj != nil {
				if obj.heap == h && obj.offset == p.Offset && obj.desc == info.Description {
					continue
				}
				s.retireObject(p.Name)
			}
			jobs = append(jobs, &createJob{name: p.Name, desc: info.Description, heap: h, offset: p.Offset})
		}
	}
	return jobs, nil
}

// create makes the objects of jobs concurrently and starts tracking them.
func (s *Storage) create(jobs []*createJob) error {
	var eg errgroup.Group
	eg.SetLimit(s.cfg.CreateConcurrency)
	for _, job := range jobs {
		eg.Go(func() error {
			var err error
			if job.heap != nil {
				job.result, err = s.device.CreatePlacedResource(job.desc, gpu.Placement{Heap: job.heap.heap, Offset: job.offset})
			} else {
				job.result, err = s.device.CreateCommittedResource(job.desc)
			}
			return errors.Wrapf(err, "resource: create %q", job.name)
		})
	}
	err := eg.Wait()

	for _, job := range jobs {
		if job.result == nil {
			continue
		}
		if err != nil {
			s.device.ReleaseResource(job.result)
			continue
		}
		s.objects[job.name] = &object{
			resource: job.result,
			desc:     job.desc,
			heap:     job.heap,
			offset:   job.offset,
		}
		s.tracker.StartTracking(job.result)
		s.created++
	}
	return err
}

func (s *Storage) retireObject(name string) {
	obj, ok := s.objects[name]
	if !ok || obj.external {
		return
	}
	delete(s.objects, name)
	s.tracker.StopTracking(obj.resource)
	r := obj.resource
	s.retire(func() { s.device.ReleaseResource(r) })
}

func (s *Storage) retireHeap(h *heapEntry) {
	for name, obj := range s.objects {
		if obj.heap == h {
			s.retireObject(name)
		}
	}
	heap := h.heap
	s.retire(func() { s.device.ReleaseHeap(heap) })
}

// AliasingInfo reports whether name shares memory with another resource of
// the frame and which resources occupied its bytes earlier in the frame,
// latest first.
func (s *Storage) AliasingInfo(name string) (shared bool, predecessors []string) {
	info, ok := s.infos[name]
	if !ok || !info.Aliasable {
		return false, nil
	}
	layout := s.layouts[info.Class]
	p, ok := layout.Placement(name)
	if !ok {
		return false, nil
	}
	for _, o := range layout.Placements {
		if o.Name != name && o.BytesOverlap(p) {
			shared = true
			break
		}
	}
	for _, pred := range layout.Predecessors(name) {
		predecessors = append(predecessors, pred.Name)
	}
	return shared, predecessors
}
