// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package profiler measures GPU pass durations with timestamp queries.
//
// Each frame slot owns a fixed budget of events. Recording goroutines
// allocate events concurrently; results are resolved once the GPU finished
// the frame.
package profiler

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// TimestampWriter is the part of a command list the profiler records into.
type TimestampWriter interface {
	WriteTimestamp(index uint32)
}

// EventID identifies an event within its frame.
type EventID int

// Config configures a Profiler.
type Config struct {
	FramesInFlight    int
	MaxEventsPerFrame int
	// Frequency is the number of timestamp ticks per second.
	Frequency uint64
}

// Result is the measured duration of one event.
type Result struct {
	Name     string
	Queue    int
	Start    time.Duration
	Duration time.Duration
}

type event struct {
	name  string
	queue int
	ended bool
}

type slot struct {
	frame  uint64
	events []event
}

// Profiler allocates timestamp query pairs per frame slot.
//
// Thread safety: all methods are safe for concurrent use.
type Profiler struct {
	mu      sync.Mutex
	cfg     Config
	slots   []slot
	current int
	results map[uint64][]Result
}

// New creates a profiler.
func New(cfg Config) (*Profiler, error) {
	if cfg.FramesInFlight <= 0 || cfg.MaxEventsPerFrame <= 0 {
		return nil, errors.Newf("profiler: invalid budget %d events x %d frames", cfg.MaxEventsPerFrame, cfg.FramesInFlight)
	}
	if cfg.Frequency == 0 {
		cfg.Frequency = uint64(time.Second)
	}
	p := &Profiler{
		cfg:     cfg,
		slots:   make([]slot, cfg.FramesInFlight),
		results: make(map[uint64][]Result),
	}
	for i := range p.slots {
		p.slots[i].events = make([]event, 0, cfg.MaxEventsPerFrame)
	}
	return p, nil
}

// QueryCount returns the number of timestamp queries the profiler uses.
func (p *Profiler) QueryCount() int { return 2 * p.cfg.MaxEventsPerFrame * p.cfg.FramesInFlight }

func (p *Profiler) query(slotIndex int, id EventID, end bool) uint32 {
	q := 2 * (slotIndex*p.cfg.MaxEventsPerFrame + int(id))
	if end {
		q++
	}
	return uint32(q)
}

// BeginFrame claims the slot of frame, dropping whatever it held.
func (p *Profiler) BeginFrame(frame uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = int(frame % uint64(len(p.slots)))
	s := &p.slots[p.current]
	s.frame = frame
	s.events = s.events[:0]
	for f := range p.results {
		if f+uint64(2*len(p.slots)) < frame {
			delete(p.results, f)
		}
	}
}

// BeginEvent allocates an event of the current frame and writes its start
// timestamp into w. Exceeding the frame budget is an assertion failure.
func (p *Profiler) BeginEvent(w TimestampWriter, queue int, name string) (EventID, error) {
	p.mu.Lock()
	s := &p.slots[p.current]
	if len(s.events) >= p.cfg.MaxEventsPerFrame {
		p.mu.Unlock()
		return 0, errors.AssertionFailedf("profiler: frame %d exceeds %d events at %q", s.frame, p.cfg.MaxEventsPerFrame, name)
	}
	id := EventID(len(s.events))
	s.events = append(s.events, event{name: name, queue: queue})
	q := p.query(p.current, id, false)
	p.mu.Unlock()

	w.WriteTimestamp(q)
	return id, nil
}

// EndEvent writes the end timestamp of id into w.
func (p *Profiler) EndEvent(w TimestampWriter, id EventID) error {
	p.mu.Lock()
	s := &p.slots[p.current]
	if int(id) < 0 || int(id) >= len(s.events) {
		p.mu.Unlock()
		return errors.AssertionFailedf("profiler: unknown event %d in frame %d", id, s.frame)
	}
	if s.events[id].ended {
		p.mu.Unlock()
		return errors.AssertionFailedf("profiler: event %q ended twice", s.events[id].name)
	}
	s.events[id].ended = true
	q := p.query(p.current, id, true)
	p.mu.Unlock()

	w.WriteTimestamp(q)
	return nil
}

// Resolve converts the timestamps of a completed frame into results.
// timestamps maps query index to tick.
func (p *Profiler) Resolve(frame uint64, timestamps map[uint32]uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	si := int(frame % uint64(len(p.slots)))
	s := &p.slots[si]
	if s.frame != frame {
		return errors.Newf("profiler: frame %d was overwritten by frame %d", frame, s.frame)
	}
	var origin uint64
	found := false
	for id := range s.events {
		if t, ok := timestamps[p.query(si, EventID(id), false)]; ok && (!found || t < origin) {
			origin, found = t, true
		}
	}
	out := make([]Result, 0, len(s.events))
	for id, e := range s.events {
		if !e.ended {
			return errors.AssertionFailedf("profiler: event %q of frame %d never ended", e.name, frame)
		}
		begin, bok := timestamps[p.query(si, EventID(id), false)]
		end, eok := timestamps[p.query(si, EventID(id), true)]
		if !bok || !eok {
			continue
		}
		out = append(out, Result{
			Name:     e.name,
			Queue:    e.queue,
			Start:    p.ticks(begin - origin),
			Duration: p.ticks(end - begin),
		})
	}
	slices.SortStableFunc(out, func(a, b Result) int { return cmp.Compare(a.Start, b.Start) })
	p.results[frame] = out
	return nil
}

func (p *Profiler) ticks(t uint64) time.Duration {
	return time.Duration(t * uint64(time.Second) / p.cfg.Frequency)
}

// Results returns the resolved results of frame.
func (p *Profiler) Results(frame uint64) ([]Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.results[frame]
	return r, ok
}
