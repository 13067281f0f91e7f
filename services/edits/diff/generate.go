// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diff

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultContextLines is the number of unchanged lines kept around each change.
const DefaultContextLines = 3

// Generate computes unified diff hunks that turn oldText into newText.
//
// # Description
//
// Lines are compared with their terminators, so a change in the presence of
// the final newline is reported as a changed last line carrying a NoNewline
// flag. Hunks are built from difflib grouped opcodes, which keep up to
// contextLines unchanged lines around each change and merge nearby changes.
//
// # Inputs
//
//   - oldText: Original document.
//   - newText: Updated document.
//   - contextLines: Context size. Negative values use DefaultContextLines.
//
// # Outputs
//
//   - []Hunk: Hunks in order, nil when the texts are equal.
//
// # Thread Safety
//
// Pure function, safe for concurrent use.
func Generate(oldText, newText string, contextLines int) []Hunk {
	if oldText == newText {
		return nil
	}
	if contextLines < 0 {
		contextLines = DefaultContextLines
	}

	a, b := SplitLines(oldText), SplitLines(newText)
	m := difflib.NewMatcher(a, b)

	var hunks []Hunk
	for _, group := range m.GetGroupedOpCodes(contextLines) {
		first, last := group[0], group[len(group)-1]
		h := Hunk{
			OrigStart: unifiedStart(first.I1, last.I2),
			OrigCount: last.I2 - first.I1,
			NewStart:  unifiedStart(first.J1, last.J2),
			NewCount:  last.J2 - first.J1,
		}

		changed := false
		for _, op := range group {
			switch op.Tag {
			case 'e':
				for _, l := range a[op.I1:op.I2] {
					h.Lines = append(h.Lines, docLine(OpContext, l))
				}
			case 'r', 'd', 'i':
				changed = true
				for _, l := range a[op.I1:op.I2] {
					h.Lines = append(h.Lines, docLine(OpRemove, l))
				}
				for _, l := range b[op.J1:op.J2] {
					h.Lines = append(h.Lines, docLine(OpAdd, l))
				}
			}
		}
		if changed {
			hunks = append(hunks, h)
		}
	}
	return hunks
}

// unifiedStart converts a 0-based half-open range to a unified diff start.
func unifiedStart(lo, hi int) int {
	if hi == lo {
		return lo
	}
	return lo + 1
}

// docLine converts a document line with its terminator into a hunk line.
func docLine(op Op, raw string) Line {
	text, ok := strings.CutSuffix(raw, "\n")
	return Line{Op: op, Text: text, NoNewline: !ok}
}
