// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package parallel runs command list recording on a fixed set of workers.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// ErrClosed is returned by ExecuteIndexed after Close.
var ErrClosed = errors.New("parallel: pool closed")

// task is one unit of indexed work.
type task struct {
	index int
	fn    func(worker, index int) error
	errs  []error
	wg    *sync.WaitGroup
}

func (t task) run(worker int) {
	defer t.wg.Done()
	t.errs[t.index] = t.fn(worker, t.index)
}

// WorkerPool is a fixed set of recording goroutines.
//
// Each worker pulls from its own queue and steals from the others when its
// queue is empty. Work functions receive the index of the worker that runs
// them, so callers can keep per-worker scratch state without locking.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	workers    int
	workQueues []chan task
	done       chan struct{}
	wg         sync.WaitGroup
	running    atomic.Bool
	executed   atomic.Int64
}

// NewWorkerPool creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	queueSize := max(workers*4, 8)

	p := &WorkerPool{
		workers:    workers,
		workQueues: make([]chan task, workers),
		done:       make(chan struct{}),
	}
	for i := range workers {
		p.workQueues[i] = make(chan task, queueSize)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	myQueue := p.workQueues[id]

	for {
		select {
		case <-p.done:
			p.drainQueue(id, myQueue)
			return
		case t := <-myQueue:
			p.execute(id, t)
		default:
			if t, ok := p.steal(id); ok {
				p.execute(id, t)
				continue
			}
			select {
			case <-p.done:
				p.drainQueue(id, myQueue)
				return
			case t := <-myQueue:
				p.execute(id, t)
			}
		}
	}
}

func (p *WorkerPool) execute(id int, t task) {
	t.run(id)
	p.executed.Add(1)
}

func (p *WorkerPool) drainQueue(id int, queue chan task) {
	for {
		select {
		case t := <-queue:
			p.execute(id, t)
		default:
			return
		}
	}
}

// steal takes a task from another worker's queue.
func (p *WorkerPool) steal(myID int) (task, bool) {
	for i := range p.workers {
		if i == myID {
			continue
		}
		select {
		case t := <-p.workQueues[i]:
			return t, true
		default:
		}
	}
	return task{}, false
}

// ExecuteIndexed runs fn for every index in [0, n) and waits for all of
// them. The returned error joins the errors of every failing index in index
// order.
func (p *WorkerPool) ExecuteIndexed(n int, fn func(worker, index int) error) error {
	if n <= 0 {
		return nil
	}
	if !p.running.Load() {
		return ErrClosed
	}

	var wg sync.WaitGroup
	wg.Add(n)
	errs := make([]error, n)
	for i := range n {
		t := task{index: i, fn: fn, errs: errs, wg: &wg}
		select {
		case p.workQueues[i%p.workers] <- t:
		case <-p.done:
			errs[i] = ErrClosed
			wg.Done()
		}
	}
	wg.Wait()

	var combined error
	for _, err := range errs {
		if err != nil {
			combined = errors.CombineErrors(combined, err)
		}
	}
	return combined
}

// Close stops the workers after the queued work has run.
// Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int { return p.workers }

// IsRunning reports whether the pool accepts work.
func (p *WorkerPool) IsRunning() bool { return p.running.Load() }

// Executed returns the number of tasks run since creation.
func (p *WorkerPool) Executed() int64 { return p.executed.Load() }
