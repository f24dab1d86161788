// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package schedule

import (
	"fmt"
	"maps"
	"math/bits"
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpu"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/resource"
)

type subKey struct {
	name  string
	index uint32
}

// lastUse records the events that used a subresource in the most recent
// dependency level touching it.
type lastUse struct {
	level  int
	events []*Event
}

// use is one state request of one pass, either for a single subresource or
// for the whole resource.
type use struct {
	ev    *Event
	pass  *resource.PassInfo
	info  *resource.SchedulingInfo
	res   gpu.Resource
	sub   uint32
	keys  []subKey
	state gpu.ResourceState
}

type builder struct {
	s  *Scheduler
	f  Frame
	bp *Blueprint

	last    map[subKey]*lastUse
	lastRes map[string]*lastUse
	active  map[string]bool
	// carried has a bit per queue already ordered after the previous
	// frame's uses of a resource.
	carried map[string]uint64
}

func newBuilder(s *Scheduler, f Frame) *builder {
	return &builder{
		s: s,
		f: f,
		bp: &Blueprint{
			Frame:  f.Number,
			queues: make([][]*Event, len(s.queues)),
			byNode: make(map[string]*Event),
			used:   make(map[string]uint64),
		},
		last:    make(map[subKey]*lastUse),
		lastRes: make(map[string]*lastUse),
		active:  make(map[string]bool),
		carried: make(map[string]uint64),
	}
}

func (b *builder) append(e *Event) {
	e.seq = len(b.bp.all)
	b.bp.all = append(b.bp.all, e)
	b.bp.queues[e.Queue] = append(b.bp.queues[e.Queue], e)
}

func (b *builder) ensureSignal(e *Event) *Signal {
	if e.Signal == nil {
		e.Signal = &Signal{Queue: e.Queue, Fence: b.s.fences[e.Queue]}
	}
	return e.Signal
}

// syncAfter makes e wait for every event of prev running on another queue.
func (b *builder) syncAfter(e *Event, prev []*Event) {
	for _, p := range prev {
		if p.Queue != e.Queue {
			e.waitOn(b.ensureSignal(p))
		}
	}
}

// afterPreviousFrame makes the first use of a resource on a secondary queue
// wait for the latest submitted work of every other queue that used it in
// an earlier frame. Aliasable resources also wait for every queue that used
// aliasable memory. The primary queue ended the previous frame after
// waiting for all others and needs nothing.
func (b *builder) afterPreviousFrame(u *use) {
	q := u.ev.Queue
	prev := b.s.tail
	if q == 0 || prev == nil {
		return
	}
	name := u.info.Name
	if b.carried[name]&(1<<q) != 0 {
		return
	}
	b.carried[name] |= 1 << q
	mask := prev.used[name]
	if u.info.Aliasable {
		mask |= prev.aliasQueues
	}
	for p, end := range prev.ends {
		if p != q && end != nil && mask&(1<<p) != 0 {
			u.ev.waitOn(end)
		}
	}
}

func (b *builder) previousUsers(keys []subKey) []*Event {
	var out []*Event
	for _, k := range keys {
		if lu := b.last[k]; lu != nil {
			for _, e := range lu.events {
				if !slices.Contains(out, e) {
					out = append(out, e)
				}
			}
		}
	}
	return out
}

func markUsed(m map[subKey]*lastUse, k subKey, level int, e *Event) {
	lu := m[k]
	if lu == nil || lu.level != level {
		lu = &lastUse{level: level}
		m[k] = lu
	}
	if !slices.Contains(lu.events, e) {
		lu.events = append(lu.events, e)
	}
}

func (b *builder) markResourceUsed(name string, level int, e *Event) {
	lu := b.lastRes[name]
	if lu == nil || lu.level != level {
		lu = &lastUse{level: level}
		b.lastRes[name] = lu
	}
	if !slices.Contains(lu.events, e) {
		lu.events = append(lu.events, e)
	}
}

// levelState is the per-level scratch of barrier placement.
type levelState struct {
	lvl        *graph.DependencyLevel
	readMask   map[subKey]gpu.ResourceState
	readQueues map[subKey]uint64
	rerouted   map[int]*Event
	reroutedBy map[subKey]*Event
	uavDone    map[*Event]map[gpu.ResourceID]bool
}

func (b *builder) level(lvl *graph.DependencyLevel) error {
	events := make([]*Event, 0, len(lvl.Nodes()))
	for _, n := range lvl.Nodes() {
		ev := &Event{Kind: EventRenderPass, Queue: n.Queue(), Label: n.Name(), Node: n, Level: lvl.Index()}
		for _, d := range n.NodesToSyncWith() {
			dep, ok := b.bp.byNode[d.Name()]
			if !ok {
				return errors.AssertionFailedf("schedule: %q synchronizes with %q which has no event", n.Name(), d.Name())
			}
			ev.waitOn(b.ensureSignal(dep))
		}
		if n.SyncSignalRequired() {
			b.ensureSignal(ev)
		}
		b.bp.byNode[n.Name()] = ev
		events = append(events, ev)
	}

	uses, err := b.collect(events)
	if err != nil {
		return err
	}
	for i := range uses {
		b.afterPreviousFrame(&uses[i])
	}
	ls := &levelState{
		lvl:        lvl,
		readMask:   make(map[subKey]gpu.ResourceState),
		readQueues: make(map[subKey]uint64),
		rerouted:   make(map[int]*Event),
		reroutedBy: make(map[subKey]*Event),
		uavDone:    make(map[*Event]map[gpu.ResourceID]bool),
	}
	for _, u := range uses {
		if !u.state.IsReadOnly() {
			continue
		}
		for _, k := range u.keys {
			ls.readMask[k] |= u.state
			ls.readQueues[k] |= 1 << u.ev.Queue
		}
	}

	var cur *Event
	for i := range uses {
		u := &uses[i]
		if u.ev != cur {
			cur = u.ev
			if cur.Wait != nil {
				b.f.Tracker.DecayImplicitStates(cur.Queue)
			}
			b.f.Tracker.BeginCommandList(cur.Queue)
		}
		if err := b.place(ls, u); err != nil {
			return errors.Wrapf(err, "pass %q", u.ev.Label)
		}
	}

	// Consumers of rerouted subresources wait for the rerouted barriers.
	for i := range uses {
		u := &uses[i]
		for _, k := range u.keys {
			if rr := ls.reroutedBy[k]; rr != nil && rr.Queue != u.ev.Queue {
				u.ev.waitOn(b.ensureSignal(rr))
			}
		}
	}

	if err := b.readbacks(events); err != nil {
		return err
	}

	for _, q := range slices.Sorted(maps.Keys(ls.rerouted)) {
		b.append(ls.rerouted[q])
	}
	for _, ev := range events {
		b.append(ev)
		if ev.Signal != nil {
			b.f.Tracker.DecayImplicitStates(ev.Queue)
		}
	}
	for i := range uses {
		u := &uses[i]
		for _, k := range u.keys {
			markUsed(b.last, k, lvl.Index(), u.ev)
		}
		b.markResourceUsed(u.info.Name, lvl.Index(), u.ev)
		b.bp.useOn(u.info.Name, u.ev.Queue, u.info.Aliasable)
	}
	return nil
}

// collect gathers the state requests of events' passes in node order.
func (b *builder) collect(events []*Event) ([]use, error) {
	st := b.f.Storage
	var uses []use
	for _, ev := range events {
		for _, p := range st.PassUsages(ev.Label) {
			info, err := st.SchedulingInfo(p.Resource)
			if err != nil {
				return nil, err
			}
			res, err := st.Resource(p.Resource)
			if err != nil {
				return nil, err
			}
			subs := p.Subresources()
			if len(subs) == 0 {
				continue
			}
			count := info.Description.SubresourceCount()
			base := use{ev: ev, pass: p, info: info, res: res}

			first, _ := p.State(subs[0])
			uniform := uint32(len(subs)) == count
			for _, i := range subs {
				if i >= count {
					return nil, errors.AssertionFailedf("schedule: pass %q requests subresource %d of %q which has %d",
						ev.Label, i, p.Resource, count)
				}
				if s, _ := p.State(i); s != first {
					uniform = false
				}
			}
			if uniform {
				u := base
				u.sub = gpu.AllSubresources
				u.state = first
				for _, i := range subs {
					u.keys = append(u.keys, subKey{name: p.Resource, index: i})
				}
				uses = append(uses, u)
				continue
			}
			for _, i := range subs {
				u := base
				u.sub = i
				u.state, _ = p.State(i)
				u.keys = []subKey{{name: p.Resource, index: i}}
				uses = append(uses, u)
			}
		}
	}
	return uses, nil
}

func (ls *levelState) readByMultipleQueues(u *use) bool {
	for _, k := range u.keys {
		if bits.OnesCount64(ls.readQueues[k]) > 1 {
			return true
		}
		if ls.lvl.IsReadByMultipleQueues(graph.SubresourceName{Resource: u.info.Name, Index: k.index}) {
			return true
		}
	}
	return false
}

// place computes the barriers of one use and puts them on the pass, on a
// rerouted event or split around earlier work.
func (b *builder) place(ls *levelState, u *use) error {
	tracker := b.f.Tracker
	target := u.state
	multi := false
	if target.IsReadOnly() {
		for _, k := range u.keys {
			target |= ls.readMask[k]
		}
		multi = ls.readByMultipleQueues(u)
	}
	prev := b.previousUsers(u.keys)

	if err := b.activate(u); err != nil {
		return err
	}

	before, err := tracker.CurrentState(u.res, u.keys[0].index)
	if err != nil {
		return err
	}
	barriers, err := tracker.TransitionToStateImmediately(u.res, u.sub, target)
	if err != nil {
		return err
	}

	if barriers.IsEmpty() {
		if target&gpu.StateUnorderedAccess != 0 && before&gpu.StateUnorderedAccess != 0 && len(prev) > 0 {
			done := ls.uavDone[u.ev]
			if done == nil {
				done = make(map[gpu.ResourceID]bool)
				ls.uavDone[u.ev] = done
			}
			if !done[u.res.ID()] {
				done[u.res.ID()] = true
				u.ev.PreWork.Add(gpu.UAVBarrier(u.res))
				b.syncAfter(u.ev, prev)
			}
		}
		return nil
	}

	q := b.s.queues[u.ev.Queue]
	for _, bar := range barriers.Barriers() {
		if multi || !q.SupportsTransition(bar.StateBefore, bar.StateAfter) {
			rr, err := b.rerouteEvent(ls, bar)
			if err != nil {
				return err
			}
			rr.PreWork.Add(bar)
			b.syncAfter(rr, prev)
			b.bp.useOn(u.info.Name, rr.Queue, u.info.Aliasable)
			for _, k := range u.keys {
				ls.reroutedBy[k] = rr
			}
			continue
		}
		if p := b.splitCandidate(u, prev); p != nil {
			begin, end := bar.SplitHalves()
			p.PostWork.Add(begin)
			u.ev.PreWork.Add(end)
			continue
		}
		u.ev.PreWork.Add(bar)
		b.syncAfter(u.ev, prev)
	}
	return nil
}

// activate emits the aliasing barrier on the first use of a resource that
// shares memory with others, after waiting for the previous occupants.
func (b *builder) activate(u *use) error {
	name := u.info.Name
	if b.active[name] {
		return nil
	}
	b.active[name] = true
	if !u.info.Aliasable {
		return nil
	}
	shared, preds := b.f.Storage.AliasingInfo(name)
	if !shared {
		return nil
	}
	var before gpu.Resource
	if len(preds) == 1 {
		r, err := b.f.Storage.Resource(preds[0])
		if err != nil {
			return err
		}
		before = r
	}
	u.ev.PreWork.Add(gpu.AliasingBarrier(before, u.res))
	for _, p := range preds {
		if lu := b.lastRes[p]; lu != nil {
			b.syncAfter(u.ev, lu.events)
		}
	}
	return nil
}

func (b *builder) rerouteEvent(ls *levelState, bar gpu.Barrier) (*Event, error) {
	qi, ok := b.s.MostCompetentQueue(bar.StateBefore | bar.StateAfter)
	if !ok {
		return nil, errors.AssertionFailedf("schedule: no queue can express %v", bar)
	}
	rr := ls.rerouted[qi]
	if rr == nil {
		rr = &Event{
			Kind:  EventReroutedTransitions,
			Queue: qi,
			Label: fmt.Sprintf("rerouted-L%d", ls.lvl.Index()),
			Level: ls.lvl.Index(),
		}
		ls.rerouted[qi] = rr
	}
	return rr, nil
}

// splitCandidate returns the previous user that can hold the Begin half of
// a split transition for u, or nil.
func (b *builder) splitCandidate(u *use, prev []*Event) *Event {
	if !b.s.cfg.SplitBarriers || len(prev) != 1 {
		return nil
	}
	p := prev[0]
	if p.Kind != EventRenderPass || p.Queue != u.ev.Queue || len(p.Copies) > 0 {
		return nil
	}
	for _, k := range u.keys {
		lu := b.last[k]
		if lu == nil || len(lu.events) != 1 || lu.events[0] != p {
			return nil
		}
	}
	if u.ev.Node.LocalToQueueExecutionIndex()-p.Node.LocalToQueueExecutionIndex() <= 1 {
		return nil
	}
	return p
}

// readbacks appends copy-source transitions and readback copies to the
// post-work of events.
func (b *builder) readbacks(events []*Event) error {
	st := b.f.Storage
	for _, ev := range events {
		for _, rb := range st.ReadbacksFor(ev.Label) {
			res, err := st.Resource(rb.Resource)
			if err != nil {
				return err
			}
			bars, err := b.f.Tracker.TransitionToStateImmediately(res, gpu.AllSubresources, gpu.StateCopySource)
			if err != nil {
				return err
			}
			q := b.s.queues[ev.Queue]
			for _, bar := range bars.Barriers() {
				if !q.SupportsTransition(bar.StateBefore, bar.StateAfter) {
					return errors.AssertionFailedf("schedule: readback of %q after %q needs %v which the %s queue cannot express",
						rb.Resource, ev.Label, bar, q)
				}
			}
			ev.PostWork.Merge(bars)
			ev.Copies = append(ev.Copies, gpu.CopyCommand{
				Dst:       rb.Allocation.Heap,
				DstOffset: rb.Allocation.Offset,
				Src:       res,
			})
			for i := range res.Description().SubresourceCount() {
				markUsed(b.last, subKey{name: rb.Resource, index: i}, ev.Level, ev)
			}
			b.bp.useOn(rb.Resource, ev.Queue, false)
		}
	}
	return nil
}

// finish drains unconsumed queues into the primary queue and presents the
// back buffer.
func (b *builder) finish() error {
	var drain []*Event
	for q := 1; q < len(b.bp.queues); q++ {
		events := b.bp.queues[q]
		if len(events) == 0 {
			continue
		}
		if last := events[len(events)-1]; !b.consumedByPrimary(last) {
			drain = append(drain, last)
		}
	}

	var present gpu.BarrierCollection
	if name := b.f.BackBuffer; name != "" {
		res, err := b.f.Storage.Resource(name)
		if err != nil {
			return errors.Wrap(err, "back buffer")
		}
		present, err = b.f.Tracker.TransitionToStateImmediately(res, gpu.AllSubresources, gpu.StatePresent)
		if err != nil {
			return err
		}
		b.bp.useOn(name, 0, false)
	}

	primary := b.bp.queues[0]
	switch {
	case len(drain) == 0 && len(primary) > 0:
		last := primary[len(primary)-1]
		if last.Kind == EventRenderPass {
			last.PostWork.Merge(present)
		} else {
			last.PreWork.Merge(present)
		}
	case len(drain) > 0 || !present.IsEmpty():
		end := &Event{
			Kind:  EventReroutedTransitions,
			Queue: 0,
			Label: "frame-end",
			Level: len(b.f.Graph.DependencyLevels()),
		}
		end.PreWork.Merge(present)
		for _, e := range drain {
			end.waitOn(b.ensureSignal(e))
		}
		b.append(end)
	}

	for q := range b.s.queues {
		b.f.Tracker.DecayImplicitStates(q)
	}
	return nil
}

func (b *builder) consumedByPrimary(e *Event) bool {
	if e.Signal == nil {
		return false
	}
	for _, p := range b.bp.queues[0] {
		if p.seq > e.seq && p.Wait.Waits(e.Signal) {
			return true
		}
	}
	return false
}
