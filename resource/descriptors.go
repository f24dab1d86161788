// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/gpu"
)

// Descriptor returns the view of kind the pass requested for name, creating
// and caching it on first use. It is safe for concurrent use by recording
// goroutines once scheduling ended.
func (s *Storage) Descriptor(pass, name string, kind gpu.DescriptorKind) (gpu.Descriptor, error) {
	p, err := s.PassInfo(pass, name)
	if err != nil {
		return gpu.Descriptor{}, err
	}
	if !p.NeedsDescriptor(kind) {
		return gpu.Descriptor{}, errors.AssertionFailedf("resource: pass %q did not request a %s of %q", pass, kind, name)
	}
	obj, ok := s.objects[p.Resource]
	if !ok {
		return gpu.Descriptor{}, errors.AssertionFailedf("resource: %q has no GPU object", name)
	}

	format := p.Format()
	if format == gputypes.TextureFormatUndefined {
		format = obj.desc.Format
	}
	key := descriptorKey{kind: kind, format: format}

	obj.mu.Lock()
	defer obj.mu.Unlock()
	if d, ok := obj.descriptors[key]; ok {
		return d, nil
	}
	d, err := s.device.CreateDescriptor(obj.resource, kind, format)
	if err != nil {
		return gpu.Descriptor{}, errors.Wrapf(err, "resource: %s of %q", kind, name)
	}
	if obj.descriptors == nil {
		obj.descriptors = make(map[descriptorKey]gpu.Descriptor)
	}
	obj.descriptors[key] = d
	return d, nil
}
