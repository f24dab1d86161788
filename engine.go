// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package framegraph

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpu"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/internal/logging"
	"github.com/gogpu/framegraph/profiler"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/framegraph/schedule"
	"github.com/gogpu/framegraph/state"
)

// ErrClosed is returned when rendering with a closed Engine.
var ErrClosed = errors.New("framegraph: engine closed")

// timestampSource is implemented by devices that expose executed timestamp
// queries.
type timestampSource interface {
	Timestamps() map[uint32]uint64
}

// inflightFrame is a submitted frame and the frame fence value signaled
// after it.
type inflightFrame struct {
	frame uint64
	fence uint64
}

// Engine drives the per-frame lifecycle of a frame graph on one device:
// scheduling passes, building the dependency graph, allocating and aliasing
// resources, building the blueprint, recording and submitting.
//
// RenderFrame, WaitIdle and Close must be called from one goroutine.
type Engine struct {
	cfg       Config
	device    gpu.Device
	caps      gpu.Capabilities
	queues    []gpu.QueueType
	tracker   *state.Tracker
	storage   *resource.Storage
	graph     *graph.Graph
	scheduler *schedule.Scheduler
	lists     *schedule.CommandListPool
	profiler  *profiler.Profiler
	pool      *RecordingPool
	ownsPool  bool

	frame         uint64
	rendered      bool
	hasBackBuffer bool
	uploads       []resource.DirectAllocation
	inflight      []inflightFrame
	blueprint     *schedule.Blueprint
	frames        uint64
	closed        bool

	// writers maps the subresources claimed for writing this frame to the
	// claiming pass.
	writers map[graph.SubresourceName]string
}

// NewEngine creates an engine on device. The device queues must match
// cfg.Queues. The engine does not take ownership of device.
func NewEngine(device gpu.Device, cfg Config, opts ...EngineOption) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		SetLogger(o.logger)
	}
	if device == nil {
		return nil, errors.New("framegraph: nil device")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	queues, err := cfg.QueueTypes()
	if err != nil {
		return nil, err
	}
	if got := device.Queues(); !slices.Equal(got, queues) {
		return nil, errors.Newf("framegraph: device queues %v do not match configured queues %v", got, queues)
	}

	caps := device.Capabilities()
	var rules gpu.ImplicitTransitionRules = gpu.NoImplicitTransitions{}
	if cfg.ImplicitTransitions {
		rules = caps.ImplicitRules()
	}
	e := &Engine{
		cfg:     cfg,
		device:  device,
		caps:    caps,
		queues:  queues,
		tracker: state.New(rules),
		graph:   graph.New(len(queues)),
		lists:   schedule.NewCommandListPool(device, cfg.FramesInFlight),
	}
	e.storage, err = resource.New(device, e.tracker, resource.Config{
		FramesInFlight: cfg.FramesInFlight,
		Aliasing:       cfg.Aliasing,
		DirectAccess:   cfg.poolConfig(),
	})
	if err != nil {
		return nil, err
	}
	e.scheduler, err = schedule.New(device, schedule.Config{SplitBarriers: cfg.SplitBarriers})
	if err != nil {
		e.storage.Close()
		return nil, err
	}
	if cfg.Profiler.Enabled {
		e.profiler, err = profiler.New(profiler.Config{
			FramesInFlight:    cfg.FramesInFlight,
			MaxEventsPerFrame: cfg.Profiler.MaxEventsPerFrame,
			Frequency:         caps.TimestampFrequency,
		})
		if err != nil {
			e.storage.Close()
			return nil, err
		}
	}
	switch {
	case o.pool != nil:
		e.pool = o.pool
	case cfg.RecordingThreads > 1:
		e.pool = NewRecordingPool(cfg.RecordingThreads)
		e.ownsPool = true
	}

	Logger().Info("framegraph: engine created",
		"queues", cfg.Queues,
		"framesInFlight", cfg.FramesInFlight,
		"aliasing", cfg.Aliasing,
		"recordingThreads", e.RecordingThreads())
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Device returns the device the engine renders on.
func (e *Engine) Device() gpu.Device { return e.device }

// RecordingThreads returns the number of goroutines recording passes.
func (e *Engine) RecordingThreads() int {
	if e.pool == nil {
		return 1
	}
	return e.pool.Workers()
}

// Storage returns the resource storage.
func (e *Engine) Storage() *resource.Storage { return e.storage }

// Blueprint returns the blueprint of the last submitted frame.
func (e *Engine) Blueprint() *schedule.Blueprint { return e.blueprint }

// Readback returns the latest completed readback of name and the frame it
// was taken in.
func (e *Engine) Readback(name string) ([]byte, uint64, bool) {
	r, ok := e.storage.LatestReadback(name)
	return r.Data, r.Frame, ok
}

// ProfilerResults returns the pass timings of frame once the GPU finished
// it. It reports false when profiling is disabled.
func (e *Engine) ProfilerResults(frame uint64) ([]profiler.Result, bool) {
	if e.profiler == nil {
		return nil, false
	}
	return e.profiler.Results(frame)
}

// Stats summarizes the engine state.
type Stats struct {
	Frames           uint64
	InFlight         int
	CommandLists     int
	TrackedResources int
	Storage          resource.Stats
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Frames:           e.frames,
		InFlight:         len(e.inflight),
		CommandLists:     e.lists.Created(),
		TrackedResources: e.tracker.TrackedCount(),
		Storage:          e.storage.Stats(),
	}
}

// =============================================================================
// Frame lifecycle
// =============================================================================

// RenderFrame schedules, records and submits passes as frame number frame.
// Frame numbers must increase. backBuffer may be nil when nothing is
// presented; otherwise it is imported as BackBufferName.
//
// Before reusing resources of an earlier frame, RenderFrame waits on the CPU
// until the GPU finished every frame at least FramesInFlight frames older.
//
// Authoring errors abort the frame before anything is submitted and are
// assertion failures (errors.HasAssertionFailure). When recording fails the
// frame's barriers are still submitted, with empty pass work, so the state
// tracker keeps matching the GPU.
func (e *Engine) RenderFrame(ctx context.Context, frame uint64, passes []RenderPass, backBuffer gpu.Resource) error {
	if e.closed {
		return ErrClosed
	}
	if e.rendered && frame <= e.frame {
		return errors.AssertionFailedf("framegraph: frame %d rendered after frame %d", frame, e.frame)
	}
	if err := e.pace(ctx, frame); err != nil {
		return err
	}

	e.frame = frame
	e.rendered = true
	e.storage.BeginFrame(frame)
	e.lists.BeginFrame(frame)
	if e.profiler != nil {
		e.profiler.BeginFrame(frame)
	}

	byName, err := e.scheduleFrame(passes, backBuffer)
	if err != nil {
		e.releaseUploads()
		return errors.Wrapf(err, "frame %d", frame)
	}

	bp, err := e.scheduler.Build(schedule.Frame{
		Number:     frame,
		Graph:      e.graph,
		Storage:    e.storage,
		Tracker:    e.tracker,
		BackBuffer: e.backBufferWriter(),
	})
	if err != nil {
		e.releaseUploads()
		return errors.Wrapf(err, "frame %d", frame)
	}
	if err := bp.PrepareCommandLists(e.lists); err != nil {
		e.releaseUploads()
		return errors.Wrapf(err, "frame %d", frame)
	}

	recordErr := e.record(bp, byName)
	if recordErr != nil {
		e.discardWork(bp)
	}

	fence, err := e.scheduler.Traverse(bp)
	if err != nil {
		e.releaseUploads()
		return errors.Wrapf(errors.CombineErrors(recordErr, err), "frame %d", frame)
	}
	e.inflight = append(e.inflight, inflightFrame{frame: frame, fence: fence})
	e.storage.EndFrame(frame)
	e.lists.EndFrame(frame)
	e.releaseUploads()
	e.blueprint = bp
	e.frames++

	logging.Logger().Debug("framegraph: frame submitted",
		"frame", frame,
		"passes", len(passes),
		"events", len(bp.AllEvents()),
		"fence", fence)
	if recordErr != nil {
		return errors.Wrapf(recordErr, "frame %d", frame)
	}
	return nil
}

// scheduleFrame runs the scheduling phase: every pass's Schedule, usage
// resolution, graph build and resource allocation.
func (e *Engine) scheduleFrame(passes []RenderPass, backBuffer gpu.Resource) (map[string]RenderPass, error) {
	if err := e.storage.StartResourceScheduling(); err != nil {
		return nil, err
	}
	byName, err := e.schedulePasses(passes, backBuffer)
	if err != nil {
		e.storage.AbortResourceScheduling()
		return nil, err
	}
	if err := e.storage.EndResourceScheduling(e.graph); err != nil {
		return nil, err
	}
	return byName, nil
}

func (e *Engine) schedulePasses(passes []RenderPass, backBuffer gpu.Resource) (map[string]RenderPass, error) {
	e.graph.Reset()
	e.hasBackBuffer = backBuffer != nil
	e.writers = make(map[graph.SubresourceName]string)
	if backBuffer != nil {
		if err := e.storage.ImportResource(BackBufferName, backBuffer); err != nil {
			return nil, err
		}
	}

	byName := make(map[string]RenderPass, len(passes))
	contexts := make([]*ScheduleContext, 0, len(passes))
	for _, p := range passes {
		node, err := e.graph.AddPass(p.Name(), 0)
		if err != nil {
			return nil, err
		}
		sc := &ScheduleContext{engine: e, node: node}
		err = p.Schedule(sc)
		if err == nil {
			err = sc.err
		}
		if err != nil {
			return nil, errors.Wrapf(err, "schedule %q", p.Name())
		}
		byName[p.Name()] = p
		contexts = append(contexts, sc)
	}
	for _, sc := range contexts {
		if err := sc.resolve(); err != nil {
			return nil, err
		}
	}
	if err := e.graph.Build(); err != nil {
		return nil, err
	}
	logging.Logger().Debug("framegraph: graph built",
		"frame", e.frame,
		"passes", len(passes),
		"levels", len(e.graph.DependencyLevels()))
	return byName, nil
}

func (e *Engine) backBufferWriter() string {
	for _, n := range e.graph.Nodes() {
		if n.WritesToBackBuffer() {
			return BackBufferName
		}
	}
	return ""
}

// record runs Render for every pass event of bp, on the recording pool
// when there is one.
func (e *Engine) record(bp *schedule.Blueprint, byName map[string]RenderPass) error {
	var events []*schedule.Event
	for _, ev := range bp.AllEvents() {
		if ev.Kind == schedule.EventRenderPass {
			events = append(events, ev)
		}
	}
	recordOne := func(thread, i int) error {
		ev := events[i]
		return e.recordPass(thread, ev, byName[ev.Label])
	}
	if e.pool != nil && len(events) > 1 {
		return e.pool.workers.ExecuteIndexed(len(events), recordOne)
	}
	var errs error
	for i := range events {
		errs = errors.CombineErrors(errs, recordOne(0, i))
	}
	return errs
}

func (e *Engine) recordPass(thread int, ev *schedule.Event, pass RenderPass) error {
	if pass == nil {
		return errors.AssertionFailedf("framegraph: no render pass for event %q", ev.Label)
	}
	rc := &RecordContext{engine: e, node: ev.Node, list: ev.Work, thread: thread}

	var (
		id      profiler.EventID
		errs    error
		profile bool
	)
	if e.profiler != nil {
		var err error
		id, err = e.profiler.BeginEvent(ev.Work, ev.Queue, ev.Label)
		errs = err
		profile = err == nil
	}
	err := pass.Render(rc)
	if err == nil {
		err = rc.err
	}
	if err != nil {
		errs = errors.CombineErrors(errs, errors.Wrapf(err, "render %q", ev.Label))
	}
	if profile {
		errs = errors.CombineErrors(errs, e.profiler.EndEvent(ev.Work, id))
	}
	if err := ev.Work.Close(); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrapf(err, "close %q", ev.Label))
	}
	return errs
}

// discardWork replaces every pass's recorded work with an empty list.
func (e *Engine) discardWork(bp *schedule.Blueprint) {
	for _, ev := range bp.AllEvents() {
		if ev.Work == nil {
			continue
		}
		if err := ev.Work.Reset(ev.Label); err != nil {
			logging.Logger().Warn("framegraph: discard work", "pass", ev.Label, "err", err)
			continue
		}
		if err := ev.Work.Close(); err != nil {
			logging.Logger().Warn("framegraph: discard work", "pass", ev.Label, "err", err)
		}
	}
}

func (e *Engine) releaseUploads() {
	for _, a := range e.uploads {
		e.storage.ReleaseDirectAccess(a)
	}
	e.uploads = e.uploads[:0]
}

// pace waits until every frame at least FramesInFlight frames older than
// frame completed on the GPU and resolves their profiler events.
func (e *Engine) pace(ctx context.Context, frame uint64) error {
	n := uint64(e.cfg.FramesInFlight)
	kept := e.inflight[:0]
	var waitErr error
	for _, f := range e.inflight {
		if waitErr != nil || f.frame+n > frame {
			kept = append(kept, f)
			continue
		}
		if err := e.waitFrame(ctx, f); err != nil {
			waitErr = err
			kept = append(kept, f)
		}
	}
	e.inflight = kept
	return waitErr
}

func (e *Engine) waitFrame(ctx context.Context, f inflightFrame) error {
	fence := e.scheduler.FrameFence()
	if err := e.device.WaitFenceCPU(ctx, fence.Handle(), f.fence, e.cfg.FenceTimeout); err != nil {
		return errors.Wrapf(err, "framegraph: wait for frame %d", f.frame)
	}
	if e.profiler == nil {
		return nil
	}
	ts, ok := e.device.(timestampSource)
	if !ok {
		return nil
	}
	if err := e.profiler.Resolve(f.frame, ts.Timestamps()); err != nil {
		logging.Logger().Warn("framegraph: profiler resolve", "frame", f.frame, "err", err)
	}
	return nil
}

// WaitIdle blocks until the GPU finished every submitted frame.
func (e *Engine) WaitIdle(ctx context.Context) error {
	for len(e.inflight) > 0 {
		if err := e.waitFrame(ctx, e.inflight[0]); err != nil {
			return err
		}
		e.inflight = e.inflight[1:]
	}
	return nil
}

// Close waits for the GPU and releases every resource the engine owns. The
// device stays open. It is safe to call Close multiple times.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	err := e.WaitIdle(context.Background())
	if err != nil {
		logging.Logger().Warn("framegraph: close without idle GPU", "err", err)
	}
	e.storage.Close()
	if e.ownsPool {
		e.pool.Close()
	}
	return err
}
