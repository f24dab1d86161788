// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package backend

import (
	"slices"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpu"
)

// registry holds registered device factories.
var (
	registryMu sync.RWMutex
	factories  = make(map[string]DeviceFactory)
	// Priority order for Default (first available wins).
	backendPriority = []string{BackendSoftware, BackendNoop}
)

// Register registers a device factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it is replaced.
func Register(name string, factory DeviceFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
}

// Available returns the registered backend names, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Open opens a device from the backend registered as name.
func Open(name string, opts Options) (gpu.Device, error) {
	registryMu.RLock()
	factory, ok := factories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrBackendNotAvailable, "%q (registered: %v)", name, Available())
	}
	d, err := factory(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "backend: open %q", name)
	}
	return d, nil
}

// Default opens the best available backend by priority, falling back to
// any registered one.
func Default(opts Options) (gpu.Device, error) {
	names := Available()
	ordered := make([]string, 0, len(names))
	for _, name := range backendPriority {
		if slices.Contains(names, name) {
			ordered = append(ordered, name)
		}
	}
	for _, name := range names {
		if !slices.Contains(ordered, name) {
			ordered = append(ordered, name)
		}
	}

	var errs error
	for _, name := range ordered {
		d, err := Open(name, opts)
		if err == nil {
			return d, nil
		}
		errs = errors.CombineErrors(errs, err)
	}
	if errs != nil {
		return nil, errs
	}
	return nil, ErrBackendNotAvailable
}
