// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diff parses single-file unified diffs into hunks, applies hunks to
// a document with bounded fuzzy re-anchoring, and generates or prints unified
// diffs for previews.
//
// Everything in this package is pure: no I/O, no logging, no shared state.
// Callers are free to invoke any function from any goroutine.
package diff

import (
	"fmt"
)

// =============================================================================
// LINE OPERATIONS
// =============================================================================

// Op is the role of a single line inside a hunk body.
//
// Serialised as "context", "add" or "remove".
type Op int

const (
	// OpContext is an unchanged line present on both sides (' ' prefix).
	OpContext Op = iota

	// OpAdd is a line present only on the new side ('+' prefix).
	OpAdd

	// OpRemove is a line present only on the original side ('-' prefix).
	OpRemove
)

var opNames = [...]string{
	OpContext: "context",
	OpAdd:     "add",
	OpRemove:  "remove",
}

// String returns the wire name of the operation.
func (o Op) String() string {
	if o < 0 || int(o) >= len(opNames) {
		return fmt.Sprintf("Op(%d)", int(o))
	}
	return opNames[o]
}

// Prefix returns the unified diff prefix byte for the operation.
func (o Op) Prefix() byte {
	switch o {
	case OpAdd:
		return '+'
	case OpRemove:
		return '-'
	default:
		return ' '
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Op) MarshalText() ([]byte, error) {
	if o < 0 || int(o) >= len(opNames) {
		return nil, fmt.Errorf("diff: invalid op %d", int(o))
	}
	return []byte(opNames[o]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Op) UnmarshalText(text []byte) error {
	for i, name := range opNames {
		if name == string(text) {
			*o = Op(i)
			return nil
		}
	}
	return fmt.Errorf("diff: unknown op %q", string(text))
}

// =============================================================================
// HUNKS
// =============================================================================

// Line is one body line of a hunk.
//
// Text never contains the trailing "\n". A carriage return that was part of
// the patch line is kept, so CRLF documents compare byte for byte.
type Line struct {
	Op   Op     `json:"op"`
	Text string `json:"text"`

	// NoNewline is set when the patch marked this line with
	// "\ No newline at end of file".
	NoNewline bool `json:"noNewline,omitempty"`
}

// raw returns the line as it appears in a document, terminator included.
func (l Line) raw() string {
	if l.NoNewline {
		return l.Text
	}
	return l.Text + "\n"
}

// Hunk is a contiguous change region of a unified diff.
//
// OrigStart and NewStart are 1-based. When a count is zero the start names the
// line after which the region sits, following the unified diff convention.
type Hunk struct {
	OrigStart int    `json:"origStart"`
	OrigCount int    `json:"origCount"`
	NewStart  int    `json:"newStart"`
	NewCount  int    `json:"newCount"`
	Section   string `json:"section,omitempty"`
	Lines     []Line `json:"lines"`
}

// origSide returns the hunk's context and removed lines in order, as
// document lines with terminators.
func (h Hunk) origSide() []string {
	out := make([]string, 0, len(h.Lines))
	for _, l := range h.Lines {
		if l.Op != OpAdd {
			out = append(out, l.raw())
		}
	}
	return out
}

// newSide returns the hunk's context and added lines in order.
func (h Hunk) newSide() []string {
	out := make([]string, 0, len(h.Lines))
	for _, l := range h.Lines {
		if l.Op != OpRemove {
			out = append(out, l.raw())
		}
	}
	return out
}

// hasRemovals reports whether the hunk deletes anything.
func (h Hunk) hasRemovals() bool {
	for _, l := range h.Lines {
		if l.Op == OpRemove {
			return true
		}
	}
	return false
}

// anchor returns the 0-based index of the first original-side line.
func (h Hunk) anchor() int {
	if h.OrigCount == 0 {
		return h.OrigStart
	}
	return h.OrigStart - 1
}

// Counts returns the number of original-side and new-side lines in the body.
//
// For a parsed hunk these always equal OrigCount and NewCount.
func (h Hunk) Counts() (orig, updated int) {
	for _, l := range h.Lines {
		switch l.Op {
		case OpContext:
			orig++
			updated++
		case OpAdd:
			updated++
		case OpRemove:
			orig++
		}
	}
	return orig, updated
}
