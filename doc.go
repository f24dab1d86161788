// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package framegraph schedules render passes across GPU queues.
//
// # Overview
//
// Every frame the caller hands the Engine a list of RenderPass values. Each
// pass declares, in its Schedule method, which queue it runs on and which
// resources it creates, reads and writes. From those declarations the engine
// builds a dependency graph, decides which passes need cross-queue fences,
// computes the minimal set of resource barriers and packs transient resources
// with disjoint lifetimes into shared memory. Passes then record their GPU
// commands in Render, possibly on several goroutines, and the engine submits
// everything in an order where every wait targets an earlier signal.
//
// # Quick Start
//
//	dev, _ := backend.Open(backend.BackendSoftware, backend.Options{})
//	engine, _ := framegraph.NewEngine(dev, framegraph.DefaultConfig())
//	defer engine.Close()
//
//	for frame := uint64(1); running; frame++ {
//	    if err := engine.RenderFrame(ctx, frame, passes, backBuffer); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Resource Lifetime
//
// Resources are named. A frame whose resource set equals the previous
// frame's reuses every GPU object. Adding or removing a resource repacks the
// aliasing heaps once; objects the GPU may still use are released after
// FramesInFlight frames.
//
// # Errors
//
// Declaring something impossible (two writers of one subresource, a
// dependency cycle, a draw without a pipeline, reading an undeclared
// resource) is an authoring error. Authoring errors are assertion failures
// from github.com/cockroachdb/errors; detect them with
// errors.HasAssertionFailure. They abort the current frame.
//
// # Configuration
//
// Config is usually loaded from YAML with LoadConfigFile; DefaultConfigYAML
// documents every key. Functional options such as WithRecordingPool adjust
// what the configuration does not cover.
//
// # Architecture
//
// The engine drives these packages:
//   - graph: pass DAG, topological order, dependency levels, sync culling
//   - state: per-subresource state tracking and barrier computation
//   - resource: cross-frame resource storage, aliasing, descriptors, readback
//   - schedule: blueprint build, barrier placement, fences, submission
//   - profiler: per-frame GPU timestamp events
//   - backend: device registry; backend/software and backend/halgpu devices
package framegraph

// Version is the current version of the library.
const Version = "0.1.0"
