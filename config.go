// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package framegraph

import (
	"os"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/framegraph/gpu"
	"github.com/gogpu/framegraph/memory"
)

// DefaultConfigYAML documents every configuration key with its default.
const DefaultConfigYAML = `# framegraph engine configuration

# Frames the CPU may run ahead of the GPU.
frames_in_flight: 2

# Queues by index. Index 0 must be graphics and is the primary queue.
queues: [graphics, compute]

# Goroutines recording passes. 0 or 1 records on the calling goroutine.
recording_threads: 1

# Pack transient resources with disjoint lifetimes into shared heaps.
aliasing: true

# Begin transitions early on the same queue when passes are not adjacent.
split_barriers: true

# Let the device promote resources out of the common state implicitly.
implicit_transitions: true

# Longest CPU wait for a frame slot to become free.
fence_timeout: 5s

# CPU-visible upload and readback pools.
direct_access:
  min_slot_size: 256
  max_slot_size: 67108864
  grow_slots: 8

profiler:
  enabled: false
  max_events_per_frame: 256

back_buffer_format: bgra8unorm
`

// DirectAccessConfig sizes the upload and readback pools.
type DirectAccessConfig struct {
	MinSlotSize uint64 `yaml:"min_slot_size"`
	MaxSlotSize uint64 `yaml:"max_slot_size"`
	GrowSlots   int    `yaml:"grow_slots"`
}

// ProfilerConfig controls GPU timestamp events.
type ProfilerConfig struct {
	Enabled           bool `yaml:"enabled"`
	MaxEventsPerFrame int  `yaml:"max_events_per_frame"`
}

// Config configures an Engine.
type Config struct {
	FramesInFlight      int                `yaml:"frames_in_flight"`
	Queues              []string           `yaml:"queues"`
	RecordingThreads    int                `yaml:"recording_threads"`
	Aliasing            bool               `yaml:"aliasing"`
	SplitBarriers       bool               `yaml:"split_barriers"`
	ImplicitTransitions bool               `yaml:"implicit_transitions"`
	FenceTimeout        time.Duration      `yaml:"fence_timeout"`
	DirectAccess        DirectAccessConfig `yaml:"direct_access"`
	Profiler            ProfilerConfig     `yaml:"profiler"`
	BackBufferFormat    string             `yaml:"back_buffer_format"`
}

// DefaultConfig returns the configuration described by DefaultConfigYAML.
func DefaultConfig() Config {
	pools := memory.DefaultPoolConfig()
	return Config{
		FramesInFlight:      2,
		Queues:              []string{"graphics", "compute"},
		RecordingThreads:    1,
		Aliasing:            true,
		SplitBarriers:       true,
		ImplicitTransitions: true,
		FenceTimeout:        5 * time.Second,
		DirectAccess: DirectAccessConfig{
			MinSlotSize: pools.MinSlotSize,
			MaxSlotSize: pools.MaxSlotSize,
			GrowSlots:   pools.GrowSlots,
		},
		Profiler:         ProfilerConfig{MaxEventsPerFrame: 256},
		BackBufferFormat: "bgra8unorm",
	}
}

// ParseConfigYAML decodes data over DefaultConfig and validates the result.
// Keys missing from data keep their default.
func ParseConfigYAML(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "framegraph: parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile reads and parses a YAML configuration file.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "framegraph: read config %s", path)
	}
	cfg, err := ParseConfigYAML(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.FramesInFlight < 1 {
		return errors.Newf("framegraph: frames_in_flight must be at least 1, got %d", c.FramesInFlight)
	}
	if _, err := c.QueueTypes(); err != nil {
		return err
	}
	if c.RecordingThreads < 0 {
		return errors.Newf("framegraph: recording_threads must not be negative, got %d", c.RecordingThreads)
	}
	if c.FenceTimeout <= 0 {
		return errors.Newf("framegraph: fence_timeout must be positive, got %v", c.FenceTimeout)
	}
	da := c.DirectAccess
	if da.MinSlotSize == 0 || da.MaxSlotSize < da.MinSlotSize {
		return errors.Newf("framegraph: direct_access slot sizes [%d, %d] are invalid", da.MinSlotSize, da.MaxSlotSize)
	}
	if da.GrowSlots < 1 {
		return errors.Newf("framegraph: direct_access.grow_slots must be at least 1, got %d", da.GrowSlots)
	}
	if c.Profiler.Enabled && c.Profiler.MaxEventsPerFrame < 1 {
		return errors.Newf("framegraph: profiler.max_events_per_frame must be at least 1, got %d", c.Profiler.MaxEventsPerFrame)
	}
	if _, err := c.BackBufferTextureFormat(); err != nil {
		return err
	}
	return nil
}

// QueueTypes parses Queues.
func (c Config) QueueTypes() ([]gpu.QueueType, error) {
	if len(c.Queues) == 0 {
		return nil, errors.New("framegraph: at least one queue is required")
	}
	out := make([]gpu.QueueType, len(c.Queues))
	for i, name := range c.Queues {
		q, err := gpu.ParseQueueType(name)
		if err != nil {
			return nil, errors.Wrapf(err, "framegraph: queues[%d]", i)
		}
		out[i] = q
	}
	if out[0] != gpu.QueueGraphics {
		return nil, errors.Newf("framegraph: queues[0] must be graphics, got %s", out[0])
	}
	return out, nil
}

var backBufferFormats = map[string]gputypes.TextureFormat{
	"bgra8unorm": gputypes.TextureFormatBGRA8Unorm,
	"rgba8unorm": gputypes.TextureFormatRGBA8Unorm,
}

// BackBufferTextureFormat parses BackBufferFormat.
func (c Config) BackBufferTextureFormat() (gputypes.TextureFormat, error) {
	f, ok := backBufferFormats[strings.ToLower(c.BackBufferFormat)]
	if !ok {
		known := make([]string, 0, len(backBufferFormats))
		for k := range backBufferFormats {
			known = append(known, k)
		}
		slices.Sort(known)
		return gputypes.TextureFormatUndefined, errors.Newf("framegraph: unknown back_buffer_format %q (known: %s)",
			c.BackBufferFormat, strings.Join(known, ", "))
	}
	return f, nil
}

func (c Config) poolConfig() memory.PoolConfig {
	return memory.PoolConfig{
		MinSlotSize: c.DirectAccess.MinSlotSize,
		MaxSlotSize: c.DirectAccess.MaxSlotSize,
		GrowSlots:   c.DirectAccess.GrowSlots,
	}
}
