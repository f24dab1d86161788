// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package schedule

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpu"
	"github.com/gogpu/framegraph/internal/logging"
)

// PrepareCommandLists acquires the command lists of every event from pool.
// Barrier and copy lists are recorded and closed; Work lists of render pass
// events are left open for the pass to record into.
func (bp *Blueprint) PrepareCommandLists(pool *CommandListPool) error {
	for _, e := range bp.all {
		if e.Kind == EventReroutedTransitions {
			cl, err := pool.Acquire(e.Queue, e.Label)
			if err != nil {
				return err
			}
			cl.InsertBarriers(e.PreWork)
			if err := cl.Close(); err != nil {
				return errors.Wrapf(err, "schedule: %s", e)
			}
			e.Pre = cl
			continue
		}

		if !e.PreWork.IsEmpty() {
			cl, err := pool.Acquire(e.Queue, e.Label+"/pre")
			if err != nil {
				return err
			}
			cl.InsertBarriers(e.PreWork)
			if err := cl.Close(); err != nil {
				return errors.Wrapf(err, "schedule: pre-work of %q", e.Label)
			}
			e.Pre = cl
		}

		cl, err := pool.Acquire(e.Queue, e.Label)
		if err != nil {
			return err
		}
		e.Work = cl

		if !e.PostWork.IsEmpty() || len(e.Copies) > 0 {
			cl, err := pool.Acquire(e.Queue, e.Label+"/post")
			if err != nil {
				return err
			}
			cl.InsertBarriers(e.PostWork)
			for _, c := range e.Copies {
				cl.CopyResource(c)
			}
			if err := cl.Close(); err != nil {
				return errors.Wrapf(err, "schedule: post-work of %q", e.Label)
			}
			e.Post = cl
		}
	}
	return nil
}

// Traverse submits the prepared blueprint. Each queue batches consecutive
// command lists and flushes before a wait and before a signal. Events are
// visited in creation order, so every wait targets a signal already
// submitted. The frame fence is signaled on the primary queue last and its
// value returned. The next blueprint built orders its secondary queues
// after this one.
func (s *Scheduler) Traverse(bp *Blueprint) (uint64, error) {
	s.PropagateFenceUpdates(bp)
	pending := make([][]gpu.CommandList, len(s.queues))
	flush := func(q int) error {
		if len(pending[q]) == 0 {
			return nil
		}
		err := s.device.Submit(q, pending[q])
		pending[q] = nil
		return errors.Wrapf(err, "schedule: submit on queue %d", q)
	}

	for _, e := range bp.all {
		q := e.Queue
		if e.Wait != nil {
			if err := flush(q); err != nil {
				return 0, err
			}
			for _, fv := range e.Wait.Fences {
				if err := s.device.WaitFence(q, fv.Fence.Handle(), fv.Value); err != nil {
					return 0, errors.Wrapf(err, "schedule: %s waits on %s=%d", e.Label, fv.Fence.Name(), fv.Value)
				}
			}
		}
		lists := e.CommandLists()
		if len(lists) == 0 {
			return 0, errors.AssertionFailedf("schedule: event %s has no command lists; call PrepareCommandLists first", e.Label)
		}
		pending[q] = append(pending[q], lists...)
		if e.Signal != nil {
			if err := flush(q); err != nil {
				return 0, err
			}
			if err := s.device.SignalFence(q, e.Signal.Fence.Handle(), e.Signal.Value); err != nil {
				return 0, errors.Wrapf(err, "schedule: signal %s=%d", e.Signal.Fence.Name(), e.Signal.Value)
			}
		}
	}
	for q := len(pending) - 1; q >= 0; q-- {
		if err := flush(q); err != nil {
			return 0, err
		}
	}

	v := s.frameFence.Increment()
	if err := s.device.SignalFence(0, s.frameFence.Handle(), v); err != nil {
		return 0, errors.Wrap(err, "schedule: frame fence")
	}
	s.tail = bp.tail(s.tail, s.frameFence, v)
	logging.Logger().Debug("schedule: frame submitted", "frame", bp.Frame, "fence", v)
	return v, nil
}
