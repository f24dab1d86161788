// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package main

import (
	"strings"
	"testing"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/gpu"
)

func TestRun(t *testing.T) {
	for _, name := range []string{backend.BackendSoftware, backend.BackendNoop} {
		t.Run(name, func(t *testing.T) {
			cfg := framegraph.DefaultConfig()
			cfg.Profiler.Enabled = true
			queues, err := cfg.QueueTypes()
			if err != nil {
				t.Fatal(err)
			}
			dev, err := backend.Open(name, backend.Options{Queues: queues})
			if err != nil {
				t.Skipf("%s backend unavailable: %v", name, err)
			}
			defer dev.Close()
			if err := run(dev, cfg, 4, 64, 32, true); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestReport(t *testing.T) {
	cfg := framegraph.DefaultConfig()
	dev, err := backend.Open(backend.BackendSoftware, backend.Options{Queues: []gpu.QueueType{gpu.QueueGraphics, gpu.QueueCompute}})
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()
	engine, err := framegraph.NewEngine(dev, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	passes := deferredPipeline(64, 32, 1, false)[:3]
	if err := engine.RenderFrame(t.Context(), 1, passes, nil); err != nil {
		t.Fatal(err)
	}
	out := renderReport(engine, 1, false)
	for _, want := range []string{"queue 0", "queue 1", "GBuffer", "SSAO", "Lighting", "reallocations"} {
		if !strings.Contains(out, want) {
			t.Errorf("report lacks %q:\n%s", want, out)
		}
	}
}
