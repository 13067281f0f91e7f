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
	"fmt"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

const noNewlineLine = "\\ No newline at end of file\n"

// Format renders hunks as a single-file unified diff.
//
// # Description
//
// The "---"/"+++" header uses "a/<path>" and "b/<path>". When path is empty
// only the hunks are printed. Lines flagged NoNewline are followed by the
// "\ No newline at end of file" marker, so Parse(Format(p, h)) returns h.
//
// # Inputs
//
//   - path: Display path, relative to the workspace root.
//   - hunks: Hunks to render.
//
// # Outputs
//
//   - string: Unified diff text. Empty when hunks is empty.
//   - error: Non-nil if the printer fails.
func Format(path string, hunks []Hunk) (string, error) {
	if len(hunks) == 0 {
		return "", nil
	}

	gh := make([]*godiff.Hunk, 0, len(hunks))
	for _, h := range hunks {
		gh = append(gh, toGoDiffHunk(h))
	}

	if path == "" {
		out, err := godiff.PrintHunks(gh)
		if err != nil {
			return "", fmt.Errorf("print hunks: %w", err)
		}
		return string(out), nil
	}

	fd := &godiff.FileDiff{
		OrigName: "a/" + path,
		NewName:  "b/" + path,
		Hunks:    gh,
	}
	out, err := godiff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("print file diff: %w", err)
	}
	return string(out), nil
}

// Unified is Generate followed by Format.
func Unified(path, oldText, newText string, contextLines int) (string, error) {
	return Format(path, Generate(oldText, newText, contextLines))
}

func toGoDiffHunk(h Hunk) *godiff.Hunk {
	var body strings.Builder
	for _, l := range h.Lines {
		body.WriteByte(l.Op.Prefix())
		body.WriteString(l.Text)
		body.WriteByte('\n')
		if l.NoNewline {
			body.WriteString(noNewlineLine)
		}
	}
	return &godiff.Hunk{
		OrigStartLine: int32(h.OrigStart),
		OrigLines:     int32(h.OrigCount),
		NewStartLine:  int32(h.NewStart),
		NewLines:      int32(h.NewCount),
		Section:       h.Section,
		Body:          []byte(body.String()),
	}
}

// Stats counts added and removed lines across hunks.
func Stats(hunks []Hunk) (added, removed int) {
	for _, h := range hunks {
		for _, l := range h.Lines {
			switch l.Op {
			case OpAdd:
				added++
			case OpRemove:
				removed++
			}
		}
	}
	return added, removed
}
