// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package schedule

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/gogpu/framegraph/gpu"
	"github.com/gogpu/framegraph/graph"
)

// EventKind distinguishes blueprint events.
type EventKind uint8

const (
	// EventRenderPass carries the pre-work barriers, work and post-work of a
	// graph node.
	EventRenderPass EventKind = iota
	// EventReroutedTransitions only carries barriers moved off the queue of
	// the passes that need them.
	EventReroutedTransitions
)

func (k EventKind) String() string {
	if k == EventReroutedTransitions {
		return "rerouted"
	}
	return "pass"
}

// Signal is a fence signal issued on Queue after the event's command lists.
// Value is assigned by PropagateFenceUpdates.
type Signal struct {
	Queue int
	Fence *gpu.Fence
	Value uint64
}

// FenceValue is one resolved wait target.
type FenceValue struct {
	Queue int
	Fence *gpu.Fence
	Value uint64
}

// Wait makes a queue wait for signals before the event's command lists.
type Wait struct {
	signals []*Signal
	// Fences holds one target per fence, the largest value waited on,
	// ordered by queue. Filled by PropagateFenceUpdates.
	Fences []FenceValue
}

func (w *Wait) on(s *Signal) {
	if !slices.Contains(w.signals, s) {
		w.signals = append(w.signals, s)
	}
}

// Waits reports whether w includes s.
func (w *Wait) Waits(s *Signal) bool { return w != nil && slices.Contains(w.signals, s) }

func (w *Wait) resolve() {
	best := make(map[*gpu.Fence]FenceValue, len(w.signals))
	for _, s := range w.signals {
		if cur, ok := best[s.Fence]; !ok || s.Value > cur.Value {
			best[s.Fence] = FenceValue{Queue: s.Queue, Fence: s.Fence, Value: s.Value}
		}
	}
	w.Fences = w.Fences[:0]
	for _, fv := range best {
		w.Fences = append(w.Fences, fv)
	}
	slices.SortFunc(w.Fences, func(a, b FenceValue) int { return cmp.Compare(a.Queue, b.Queue) })
}

// Event is one entry of a queue's ordered blueprint.
type Event struct {
	Kind  EventKind
	Queue int
	Label string
	// Node is nil for rerouted transitions.
	Node  *graph.Node
	Level int

	// PreWork holds the barriers recorded before the work. For rerouted
	// events it holds every barrier of the event.
	PreWork gpu.BarrierCollection
	// PostWork barriers and Copies are recorded after the work.
	PostWork gpu.BarrierCollection
	Copies   []gpu.CopyCommand

	Wait   *Wait
	Signal *Signal
	// BatchIndex numbers the submission batch on Queue.
	BatchIndex int

	// Command lists, filled by PrepareCommandLists. Pre and Post stay nil
	// when there is nothing to record in them.
	Pre, Work, Post gpu.CommandList

	seq int
}

func (e *Event) waitOn(s *Signal) {
	if e.Wait == nil {
		e.Wait = &Wait{}
	}
	e.Wait.on(s)
}

// CommandLists returns the prepared lists of e in submission order.
func (e *Event) CommandLists() []gpu.CommandList {
	out := make([]gpu.CommandList, 0, 3)
	for _, cl := range []gpu.CommandList{e.Pre, e.Work, e.Post} {
		if cl != nil {
			out = append(out, cl)
		}
	}
	return out
}

func (e *Event) String() string {
	var b strings.Builder
	if e.Wait != nil {
		b.WriteString("wait(")
		for i, fv := range e.Wait.Fences {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%d", fv.Fence.Name(), fv.Value)
		}
		b.WriteString(") ")
	}
	fmt.Fprintf(&b, "%s[%s]", e.Kind, e.Label)
	if n := e.PreWork.Len() + e.PostWork.Len(); n > 0 {
		fmt.Fprintf(&b, " barriers=%d", n)
	}
	if len(e.Copies) > 0 {
		fmt.Fprintf(&b, " copies=%d", len(e.Copies))
	}
	if e.Signal != nil {
		fmt.Fprintf(&b, " signal(%s=%d)", e.Signal.Fence.Name(), e.Signal.Value)
	}
	return b.String()
}
