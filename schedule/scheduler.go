// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package schedule turns a built render pass graph into a frame blueprint:
// per-queue ordered events carrying barriers, fence waits and signals, and
// submits it.
//
// A blueprint is rebuilt from scratch every frame. Only the fence counters
// owned by the Scheduler, the queues that used each resource in the last
// submitted frame and the state tracker survive between frames.
package schedule

import (
	"fmt"
	"maps"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpu"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/internal/logging"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/framegraph/state"
)

// Config controls barrier placement.
type Config struct {
	// SplitBarriers enables begin/end split transitions between
	// non-adjacent passes of a queue.
	SplitBarriers bool
}

// Frame is the input of Build.
type Frame struct {
	Number  uint64
	Graph   *graph.Graph
	Storage *resource.Storage
	Tracker *state.Tracker
	// BackBuffer names the imported resource presented after the frame,
	// empty when nothing is presented.
	BackBuffer string
}

// Scheduler builds and submits frame blueprints for one device.
type Scheduler struct {
	device     gpu.Device
	queues     []gpu.QueueType
	fences     []*gpu.Fence
	frameFence *gpu.Fence
	cfg        Config
	// tail describes the submitted frames.
	tail *frameTail
}

// frameTail is what the next frame needs to order its first uses on
// secondary queues after the submitted frames.
type frameTail struct {
	used        map[string]uint64
	aliasQueues uint64
	// ends holds the last signal of every queue. The primary queue's is
	// the frame fence.
	ends []*Signal
}

// New creates a scheduler with one fence per device queue plus the frame
// fence.
func New(device gpu.Device, cfg Config) (*Scheduler, error) {
	queues := device.Queues()
	if len(queues) == 0 {
		return nil, errors.New("schedule: device exposes no queues")
	}
	if queues[0] != gpu.QueueGraphics {
		return nil, errors.Newf("schedule: primary queue must be graphics, got %s", queues[0])
	}
	s := &Scheduler{device: device, queues: queues, cfg: cfg}
	for i, q := range queues {
		name := fmt.Sprintf("%s%d", q, i)
		h, err := device.CreateFence(name)
		if err != nil {
			return nil, errors.Wrapf(err, "schedule: fence for queue %d", i)
		}
		s.fences = append(s.fences, gpu.NewFence(name, h))
	}
	h, err := device.CreateFence("frame")
	if err != nil {
		return nil, errors.Wrap(err, "schedule: frame fence")
	}
	s.frameFence = gpu.NewFence("frame", h)
	return s, nil
}

// Queues returns the queue types by index.
func (s *Scheduler) Queues() []gpu.QueueType { return s.queues }

// Fence returns the fence signaled by queue.
func (s *Scheduler) Fence(queue int) *gpu.Fence { return s.fences[queue] }

// FrameFence returns the fence signaled once per frame on the primary queue.
func (s *Scheduler) FrameFence() *gpu.Fence { return s.frameFence }

// MostCompetentQueue returns the lowest-index queue able to hold every state
// in states.
func (s *Scheduler) MostCompetentQueue(states gpu.ResourceState) (int, bool) {
	for i, q := range s.queues {
		if q.SupportsStates(states) {
			return i, true
		}
	}
	return 0, false
}

// Blueprint is the executable plan of one frame.
type Blueprint struct {
	Frame  uint64
	queues [][]*Event
	all    []*Event
	byNode map[string]*Event
	// used has a bit per queue that touched a resource. aliasQueues has a
	// bit per queue that touched aliasable memory.
	used        map[string]uint64
	aliasQueues uint64
	// propagated is set once fence values are assigned.
	propagated bool
}

func (b *Blueprint) useOn(name string, queue int, aliasable bool) {
	b.used[name] |= 1 << queue
	if aliasable {
		b.aliasQueues |= 1 << queue
	}
}

// QueuesUsing returns the indices of the queues that used name.
func (b *Blueprint) QueuesUsing(name string) []int {
	var out []int
	for q := range b.queues {
		if b.used[name]&(1<<q) != 0 {
			out = append(out, q)
		}
	}
	return out
}

// tail merges bp into the description of the previous submitted frame.
// Resources bp did not touch and queues without events keep what prev
// recorded for them.
func (b *Blueprint) tail(prev *frameTail, frameFence *gpu.Fence, value uint64) *frameTail {
	t := &frameTail{
		used:        make(map[string]uint64, len(b.used)),
		aliasQueues: b.aliasQueues,
		ends:        make([]*Signal, len(b.queues)),
	}
	if prev != nil {
		maps.Copy(t.used, prev.used)
		t.aliasQueues |= prev.aliasQueues
		copy(t.ends, prev.ends)
	}
	maps.Copy(t.used, b.used)
	t.ends[0] = &Signal{Queue: 0, Fence: frameFence, Value: value}
	for q := 1; q < len(b.queues); q++ {
		if events := b.queues[q]; len(events) > 0 {
			t.ends[q] = events[len(events)-1].Signal
		}
	}
	return t
}

// Events returns the ordered events of queue.
func (b *Blueprint) Events(queue int) []*Event { return b.queues[queue] }

// AllEvents returns every event in creation order.
func (b *Blueprint) AllEvents() []*Event { return b.all }

// QueueCount returns the number of queues.
func (b *Blueprint) QueueCount() int { return len(b.queues) }

// EventFor returns the render pass event of pass.
func (b *Blueprint) EventFor(pass string) (*Event, bool) {
	e, ok := b.byNode[pass]
	return e, ok
}

func (b *Blueprint) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "frame %d\n", b.Frame)
	for q, events := range b.queues {
		fmt.Fprintf(&sb, "  queue %d:\n", q)
		for _, e := range events {
			fmt.Fprintf(&sb, "    #%d %s\n", e.BatchIndex, e)
		}
	}
	return sb.String()
}

// Build produces the blueprint of f and assigns its fence values. The graph
// must be built and resource scheduling ended.
func (s *Scheduler) Build(f Frame) (*Blueprint, error) {
	if f.Graph == nil || !f.Graph.IsBuilt() {
		return nil, errors.AssertionFailedf("schedule: frame %d needs a built graph", f.Number)
	}
	if f.Graph.QueueCount() > len(s.queues) {
		return nil, errors.AssertionFailedf("schedule: graph uses %d queues, device has %d", f.Graph.QueueCount(), len(s.queues))
	}
	b := newBuilder(s, f)
	for _, lvl := range f.Graph.DependencyLevels() {
		if err := b.level(lvl); err != nil {
			return nil, errors.Wrapf(err, "dependency level %d", lvl.Index())
		}
	}
	if err := b.finish(); err != nil {
		return nil, err
	}
	s.PropagateFenceUpdates(b.bp)
	logging.Logger().Debug("schedule: blueprint built",
		"frame", f.Number, "events", len(b.bp.all), "levels", len(f.Graph.DependencyLevels()))
	return b.bp, nil
}

// PropagateFenceUpdates assigns fence values to every signal of bp in
// creation order, resolves waits to one target per fence and numbers the
// submission batches of every queue. It runs once per blueprint.
func (s *Scheduler) PropagateFenceUpdates(bp *Blueprint) {
	if bp.propagated {
		return
	}
	bp.propagated = true
	for _, e := range bp.all {
		if e.Signal != nil {
			e.Signal.Value = e.Signal.Fence.Increment()
		}
	}
	for _, events := range bp.queues {
		batch := 0
		for i, e := range events {
			if e.Wait != nil {
				e.Wait.resolve()
				if i > 0 && events[i-1].Signal == nil {
					batch++
				}
			}
			e.BatchIndex = batch
			if e.Signal != nil {
				batch++
			}
		}
	}
}
