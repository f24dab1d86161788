// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Command fgdemo renders a deferred pipeline through the frame graph and
// prints the blueprint of the last frame.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"slices"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/backend"
	_ "github.com/gogpu/framegraph/backend/halgpu"
	_ "github.com/gogpu/framegraph/backend/software"
	"github.com/gogpu/framegraph/gpu"
)

func main() {
	var (
		backendName = flag.String("backend", backend.BackendSoftware, "device backend: software or noop")
		configPath  = flag.String("config", "", "YAML configuration file (defaults when empty)")
		frames      = flag.Uint64("frames", 3, "number of frames to render")
		width       = flag.Uint("width", 320, "render width")
		height      = flag.Uint("height", 180, "render height")
		threads     = flag.Int("threads", 0, "recording goroutines, overrides the configuration when > 0")
		readback    = flag.Bool("readback", false, "read the lit image back to the CPU")
		profile     = flag.Bool("profile", false, "enable the GPU profiler")
		verbose     = flag.Bool("v", false, "debug logging")
		printConfig = flag.Bool("print-config", false, "print the default configuration and exit")
	)
	flag.Parse()

	if *printConfig {
		fmt.Print(framegraph.DefaultConfigYAML)
		return
	}
	if *verbose {
		framegraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg := framegraph.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = framegraph.LoadConfigFile(*configPath); err != nil {
			log.Fatal(err)
		}
	}
	if *threads > 0 {
		cfg.RecordingThreads = *threads
	}
	if *profile {
		cfg.Profiler.Enabled = true
	}
	if *backendName == backend.BackendNoop && len(cfg.Queues) > 1 {
		// The hal backend runs every logical queue on one hardware queue.
		log.Printf("note: %s backend serializes %d logical queues", *backendName, len(cfg.Queues))
	}

	queues, err := cfg.QueueTypes()
	if err != nil {
		log.Fatal(err)
	}
	dev, err := backend.Open(*backendName, backend.Options{Queues: queues, Label: "fgdemo"})
	if err != nil {
		log.Fatalf("open %s backend: %v (available: %v)", *backendName, err, backend.Available())
	}
	defer dev.Close()

	if err := run(dev, cfg, *frames, uint32(*width), uint32(*height), *readback); err != nil {
		log.Fatal(err)
	}
}

func run(dev gpu.Device, cfg framegraph.Config, frames uint64, width, height uint32, readback bool) error {
	engine, err := framegraph.NewEngine(dev, cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	format, err := cfg.BackBufferTextureFormat()
	if err != nil {
		return err
	}
	bbDesc := gpu.Texture2D("swapchain", width, height, format, 1)
	bbDesc.Flags |= gpu.FlagAllowRenderTarget
	backBuffer, err := dev.CreateCommittedResource(bbDesc)
	if err != nil {
		return err
	}
	defer dev.ReleaseResource(backBuffer)

	asyncQueue := 0
	if i := slices.Index(dev.Queues(), gpu.QueueCompute); i > 0 {
		asyncQueue = i
	}
	passes := deferredPipeline(width, height, asyncQueue, readback)

	ctx := context.Background()
	for f := uint64(1); f <= frames; f++ {
		if err := engine.RenderFrame(ctx, f, passes, backBuffer); err != nil {
			return err
		}
	}
	if err := engine.WaitIdle(ctx); err != nil {
		return err
	}

	fmt.Println(renderReport(engine, frames, readback))
	return nil
}
