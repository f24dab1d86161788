// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package state tracks the usage state of every GPU subresource and computes
// the barriers needed to move between states.
package state

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpu"
	"github.com/gogpu/framegraph/internal/logging"
)

// Request asks for one subresource (or gpu.AllSubresources) of a resource to
// be in State.
type Request struct {
	Resource    gpu.Resource
	Subresource uint32
	State       gpu.ResourceState
}

type subresource struct {
	state gpu.ResourceState
	// lastUse is the command list epoch of the last recorded use.
	lastUse uint64
	// promotedOn is the queue index + 1 that implicitly promoted the
	// subresource, or 0 when the state was set by an explicit barrier.
	promotedOn int
}

type tracked struct {
	res  gpu.Resource
	desc gpu.ResourceDescription
	subs []subresource
}

// Tracker is the authoritative record of subresource states.
//
// A Tracker is not safe for concurrent use. It belongs to the scheduling
// goroutine.
type Tracker struct {
	rules     gpu.ImplicitTransitionRules
	resources map[gpu.ResourceID]*tracked
	pending   []Request

	epoch uint64
	queue int
}

// New creates a tracker. A nil rules value disables implicit transitions.
func New(rules gpu.ImplicitTransitionRules) *Tracker {
	if rules == nil {
		rules = gpu.NoImplicitTransitions{}
	}
	return &Tracker{
		rules:     rules,
		resources: make(map[gpu.ResourceID]*tracked),
		epoch:     1,
	}
}

// StartTracking seeds every subresource of r with its initial state.
// Tracking an already tracked resource resets it.
func (t *Tracker) StartTracking(r gpu.Resource) {
	desc := r.Description()
	subs := make([]subresource, desc.SubresourceCount())
	for i := range subs {
		subs[i].state = desc.InitialState
	}
	t.resources[r.ID()] = &tracked{res: r, desc: desc, subs: subs}
}

// StopTracking forgets r.
func (t *Tracker) StopTracking(r gpu.Resource) {
	delete(t.resources, r.ID())
}

// IsTracked reports whether r is tracked.
func (t *Tracker) IsTracked(r gpu.Resource) bool {
	_, ok := t.resources[r.ID()]
	return ok
}

// TrackedCount returns the number of tracked resources.
func (t *Tracker) TrackedCount() int { return len(t.resources) }

func (t *Tracker) lookup(r gpu.Resource) (*tracked, error) {
	if r == nil {
		return nil, errors.AssertionFailedf("state: transition requested for a nil resource")
	}
	tr, ok := t.resources[r.ID()]
	if !ok {
		return nil, errors.AssertionFailedf("state: resource %q (#%d) is used before StartTracking",
			r.Description().Label, r.ID())
	}
	return tr, nil
}

// CurrentState returns the committed state of one subresource.
func (t *Tracker) CurrentState(r gpu.Resource, sub uint32) (gpu.ResourceState, error) {
	tr, err := t.lookup(r)
	if err != nil {
		return 0, err
	}
	if sub == gpu.AllSubresources {
		sub = 0
	}
	if int(sub) >= len(tr.subs) {
		return 0, errors.AssertionFailedf("state: subresource %d out of range for %q", sub, tr.desc.Label)
	}
	return tr.subs[sub].state, nil
}

// RequestTransition queues a transition applied by ApplyRequestedTransitions.
func (t *Tracker) RequestTransition(r gpu.Resource, sub uint32, s gpu.ResourceState) error {
	return t.RequestTransitions(Request{Resource: r, Subresource: sub, State: s})
}

// RequestTransitions queues several transitions.
func (t *Tracker) RequestTransitions(reqs ...Request) error {
	for _, req := range reqs {
		if _, err := t.lookup(req.Resource); err != nil {
			return err
		}
	}
	t.pending = append(t.pending, reqs...)
	return nil
}

// HasPendingTransitions reports whether requests are waiting to be applied.
func (t *Tracker) HasPendingTransitions() bool { return len(t.pending) > 0 }

// ApplyRequestedTransitions commits every queued request in order and
// returns the barriers they need.
func (t *Tracker) ApplyRequestedTransitions() (gpu.BarrierCollection, error) {
	reqs := t.pending
	t.pending = nil
	return t.TransitionToStatesImmediately(reqs)
}

// TransitionToStateImmediately commits one request.
func (t *Tracker) TransitionToStateImmediately(r gpu.Resource, sub uint32, s gpu.ResourceState) (gpu.BarrierCollection, error) {
	return t.TransitionToStatesImmediately([]Request{{Resource: r, Subresource: sub, State: s}})
}

// TransitionToStatesImmediately commits requests in order and returns the
// minimal barrier set.
func (t *Tracker) TransitionToStatesImmediately(reqs []Request) (gpu.BarrierCollection, error) {
	var out gpu.BarrierCollection
	for _, req := range reqs {
		tr, err := t.lookup(req.Resource)
		if err != nil {
			return out, err
		}
		if req.Subresource == gpu.AllSubresources {
			t.transitionAll(tr, req.State, &out)
			continue
		}
		if int(req.Subresource) >= len(tr.subs) {
			return out, errors.AssertionFailedf("state: subresource %d out of range for %q (%d subresources)",
				req.Subresource, tr.desc.Label, len(tr.subs))
		}
		if b, ok := t.transition(tr, req.Subresource, req.State); ok {
			out.Add(b)
		}
	}
	return out, nil
}

// transitionAll emits one whole-resource barrier when every subresource moves
// between the same pair of states, per-subresource barriers otherwise.
func (t *Tracker) transitionAll(tr *tracked, s gpu.ResourceState, out *gpu.BarrierCollection) {
	uniform := true
	first := tr.subs[0].state
	for i := range tr.subs {
		sub := &tr.subs[i]
		if sub.state != first || sub.state.IsRedundantTransitionTo(s) || t.promotes(tr, sub, s) {
			uniform = false
			break
		}
	}
	if uniform {
		for i := range tr.subs {
			tr.subs[i].state = s
			tr.subs[i].lastUse = t.epoch
			tr.subs[i].promotedOn = 0
		}
		out.Add(gpu.TransitionBarrier(tr.res, gpu.AllSubresources, first, s))
		return
	}
	for i := range tr.subs {
		if b, ok := t.transition(tr, uint32(i), s); ok {
			out.Add(b)
		}
	}
}

func (t *Tracker) promotes(tr *tracked, sub *subresource, s gpu.ResourceState) bool {
	return sub.state == gpu.StateCommon && sub.lastUse != t.epoch && t.rules.CanPromote(tr.desc, s)
}

func (t *Tracker) transition(tr *tracked, index uint32, s gpu.ResourceState) (gpu.Barrier, bool) {
	sub := &tr.subs[index]
	defer func() { sub.lastUse = t.epoch }()

	if sub.state.IsRedundantTransitionTo(s) {
		return gpu.Barrier{}, false
	}
	if t.promotes(tr, sub, s) {
		sub.state = s
		sub.promotedOn = 0
		if t.rules.Decays(tr.desc, s) {
			sub.promotedOn = t.queue + 1
		}
		return gpu.Barrier{}, false
	}
	before := sub.state
	sub.state = s
	sub.promotedOn = 0
	return gpu.TransitionBarrier(tr.res, index, before, s), true
}

// BeginCommandList starts a new recording epoch on queue. Subresources not
// yet used in the epoch are eligible for implicit promotion.
func (t *Tracker) BeginCommandList(queue int) {
	t.epoch++
	t.queue = queue
}

// DecayImplicitStates returns subresources implicitly promoted on queue to
// gpu.StateCommon, as happens when the queue finishes a submission. It
// returns the number of decayed subresources.
func (t *Tracker) DecayImplicitStates(queue int) int {
	n := 0
	for _, tr := range t.resources {
		for i := range tr.subs {
			if tr.subs[i].promotedOn == queue+1 {
				tr.subs[i].state = gpu.StateCommon
				tr.subs[i].promotedOn = 0
				n++
			}
		}
	}
	if n > 0 {
		logging.Logger().Debug("state: implicit decay", "queue", queue, "subresources", n)
	}
	return n
}
