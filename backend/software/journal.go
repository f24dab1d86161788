// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package software

import (
	"fmt"
	"strings"
)

// EntryKind is the kind of a journal entry.
type EntryKind uint8

const (
	EntrySubmit EntryKind = iota
	EntrySignal
	EntryWait
	EntryCreateHeap
	EntryCreateResource
	EntryRelease
	EntryReleaseHeap
)

func (k EntryKind) String() string {
	return [...]string{"submit", "signal", "wait", "create-heap", "create", "release", "release-heap"}[k]
}

// Entry is one journaled device operation.
type Entry struct {
	Kind     EntryKind
	Queue    int
	Fence    string
	Value    uint64
	Lists    []string
	Resource string
	Heap     int
	Offset   uint64
}

func (e Entry) String() string {
	switch e.Kind {
	case EntrySubmit:
		return fmt.Sprintf("q%d submit [%s]", e.Queue, strings.Join(e.Lists, " "))
	case EntrySignal, EntryWait:
		return fmt.Sprintf("q%d %s %s=%d", e.Queue, e.Kind, e.Fence, e.Value)
	case EntryCreateHeap, EntryReleaseHeap:
		return fmt.Sprintf("%s #%d", e.Kind, e.Heap)
	default:
		return fmt.Sprintf("%s %s heap=%d offset=%d", e.Kind, e.Resource, e.Heap, e.Offset)
	}
}

// Journal returns a copy of every journaled operation.
func (d *Device) Journal() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Entry, len(d.journal))
	copy(out, d.journal)
	return out
}

// JournalFor returns journaled entries of the given kinds.
func (d *Device) JournalFor(kinds ...EntryKind) []Entry {
	var out []Entry
	for _, e := range d.Journal() {
		for _, k := range kinds {
			if e.Kind == k {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// ResetJournal drops every journaled entry.
func (d *Device) ResetJournal() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.journal = d.journal[:0]
}
