// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package diff computes minimal edit scripts between two sequences with the
// Myers O((N+M)D) algorithm.
package diff

import "slices"

// Op is the kind of an edit.
type Op uint8

const (
	// Common elements appear in both sequences.
	Common Op = iota
	// Add elements appear only in the new sequence.
	Add
	// Delete elements appear only in the old sequence.
	Delete
)

func (o Op) String() string {
	switch o {
	case Add:
		return "+"
	case Delete:
		return "-"
	default:
		return "="
	}
}

// Edit is one step of an edit script. OldIndex is -1 for Add and NewIndex is
// -1 for Delete.
type Edit struct {
	Op       Op
	OldIndex int
	NewIndex int
}

// Script is an ordered edit script turning the old sequence into the new one.
type Script []Edit

// HasChanges reports whether the script contains an Add or Delete.
func (s Script) HasChanges() bool {
	for _, e := range s {
		if e.Op != Common {
			return true
		}
	}
	return false
}

// Count returns the number of edits of kind op.
func (s Script) Count(op Op) int {
	n := 0
	for _, e := range s {
		if e.Op == op {
			n++
		}
	}
	return n
}

// Slices computes the script between comparable sequences.
func Slices[T comparable](from, to []T) Script {
	return Func(from, to, func(a, b T) bool { return a == b })
}

// Func computes a shortest edit script from one sequence to another using eq
// to compare elements. The script only depends on the inputs.
func Func[T any](from, to []T, eq func(a, b T) bool) Script {
	n, m := len(from), len(to)
	limit := n + m
	offset := limit + 1
	v := make([]int, 2*limit+3)

	var trace [][]int
	found := false
	for d := 0; d <= limit && !found; d++ {
		trace = append(trace, slices.Clone(v))
		for k := -d; k <= d; k += 2 {
			var x int
			if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
				x = v[offset+k+1]
			} else {
				x = v[offset+k-1] + 1
			}
			y := x - k
			for x < n && y < m && eq(from[x], to[y]) {
				x++
				y++
			}
			v[offset+k] = x
			if x >= n && y >= m {
				found = true
				break
			}
		}
	}
	return backtrack(trace, offset, n, m)
}

func backtrack(trace [][]int, offset, n, m int) Script {
	script := make(Script, 0, max(n, m))
	x, y := n, m
	for d := len(trace) - 1; d >= 0; d-- {
		v := trace[d]
		k := x - y
		var prevK int
		if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := v[offset+prevK]
		prevY := prevX - prevK

		for x > prevX && y > prevY {
			x--
			y--
			script = append(script, Edit{Op: Common, OldIndex: x, NewIndex: y})
		}
		if d > 0 {
			if x == prevX {
				script = append(script, Edit{Op: Add, OldIndex: -1, NewIndex: prevY})
			} else {
				script = append(script, Edit{Op: Delete, OldIndex: prevX, NewIndex: -1})
			}
		}
		x, y = prevX, prevY
	}
	slices.Reverse(script)
	return script
}
