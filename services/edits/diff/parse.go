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
	"regexp"
	"strconv"
	"strings"
)

// hunkHeaderRe matches "@@ -a[,b] +c[,d] @@ [section]".
var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@(.*)$`)

// noNewlineMarker prefixes the "\ No newline at end of file" annotation.
const noNewlineMarker = `\`

// Parse reads a single-file unified diff and returns its hunks in order.
//
// # Description
//
// Accepted input is an optional preamble ("diff --git", "index", free text),
// an optional "--- " / "+++ " file header pair, and one or more hunks. Hunk
// bodies are read by count: a hunk ends exactly when its header counts are
// consumed, so body lines that begin with "---" or "+++" are ordinary
// removals and additions.
//
// An empty line inside an unfinished hunk is read as an empty context line,
// since many editors strip the single leading space. Trailing empty lines
// after the last hunk are ignored.
//
// # Inputs
//
//   - patch: Unified diff text for exactly one file.
//
// # Outputs
//
//   - []Hunk: Hunks in patch order. Never empty on success.
//   - error: *ParseError with reason malformed-header, count-mismatch or truncated.
//
// # Thread Safety
//
// Pure function, safe for concurrent use.
func Parse(patch string) ([]Hunk, error) {
	lines := strings.Split(patch, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var (
		hunks      []Hunk
		fileHeader bool
	)

	for i := 0; i < len(lines); {
		line := lines[i]
		lineNo := i + 1

		switch {
		case strings.HasPrefix(line, "@@"):
			h, err := parseHunkHeader(line, lineNo)
			if err != nil {
				return nil, err
			}
			next, err := parseHunkBody(lines, i+1, &h)
			if err != nil {
				return nil, err
			}
			hunks = append(hunks, h)
			i = next

		case strings.HasPrefix(line, "--- "):
			if fileHeader || len(hunks) > 0 {
				return nil, parseErr(ReasonMalformedHeader, lineNo, "second file header: multi-file patches are not supported")
			}
			if i+1 >= len(lines) {
				return nil, parseErr(ReasonTruncated, lineNo, "file header without \"+++\" line")
			}
			if !strings.HasPrefix(lines[i+1], "+++ ") {
				return nil, parseErr(ReasonMalformedHeader, lineNo+1, "expected \"+++\" after \"---\", got %q", truncate(lines[i+1]))
			}
			fileHeader = true
			i += 2

		case len(hunks) == 0:
			// Preamble before the first hunk.
			if strings.HasPrefix(line, "+++ ") {
				return nil, parseErr(ReasonMalformedHeader, lineNo, "\"+++\" without preceding \"---\"")
			}
			i++

		case strings.TrimSpace(line) == "" && allBlank(lines[i:]):
			i = len(lines)

		case strings.HasPrefix(line, "diff "):
			return nil, parseErr(ReasonMalformedHeader, lineNo, "second file section: multi-file patches are not supported")

		default:
			return nil, parseErr(ReasonCountMismatch, lineNo, "line outside any hunk: %q", truncate(line))
		}
	}

	if len(hunks) == 0 {
		return nil, parseErr(ReasonMalformedHeader, max(len(lines), 1), "no hunks found")
	}
	return hunks, nil
}

// parseHunkHeader reads the ranges and section of an "@@" line.
func parseHunkHeader(line string, lineNo int) (Hunk, error) {
	m := hunkHeaderRe.FindStringSubmatch(line)
	if m == nil {
		return Hunk{}, parseErr(ReasonMalformedHeader, lineNo, "invalid hunk header %q", truncate(line))
	}

	var h Hunk
	var err error
	if h.OrigStart, h.OrigCount, err = parseRange(m[1], m[2]); err != nil {
		return Hunk{}, parseErr(ReasonMalformedHeader, lineNo, "invalid original range: %v", err)
	}
	if h.NewStart, h.NewCount, err = parseRange(m[3], m[4]); err != nil {
		return Hunk{}, parseErr(ReasonMalformedHeader, lineNo, "invalid new range: %v", err)
	}
	if h.OrigStart == 0 && h.OrigCount > 0 {
		return Hunk{}, parseErr(ReasonMalformedHeader, lineNo, "original range starts at 0 with %d lines", h.OrigCount)
	}
	if h.NewStart == 0 && h.NewCount > 0 {
		return Hunk{}, parseErr(ReasonMalformedHeader, lineNo, "new range starts at 0 with %d lines", h.NewCount)
	}
	h.Section = strings.TrimSpace(m[5])
	return h, nil
}

// parseRange reads "start" and an optional "count" (defaulting to 1).
func parseRange(start, count string) (int, int, error) {
	s, err := strconv.Atoi(start)
	if err != nil {
		return 0, 0, err
	}
	if count == "" {
		return s, 1, nil
	}
	c, err := strconv.Atoi(count)
	if err != nil {
		return 0, 0, err
	}
	return s, c, nil
}

// parseHunkBody consumes body lines until the header counts are satisfied.
//
// Returns the index of the first line after the hunk.
func parseHunkBody(lines []string, i int, h *Hunk) (int, error) {
	origLeft, newLeft := h.OrigCount, h.NewCount
	h.Lines = make([]Line, 0, max(h.OrigCount, h.NewCount))

	for origLeft > 0 || newLeft > 0 {
		if i >= len(lines) {
			return i, parseErr(ReasonTruncated, len(lines), "hunk ended with %d original and %d new lines outstanding", origLeft, newLeft)
		}
		line := lines[i]
		lineNo := i + 1

		if strings.HasPrefix(line, noNewlineMarker) {
			if len(h.Lines) == 0 {
				return i, parseErr(ReasonCountMismatch, lineNo, "newline marker before any hunk line")
			}
			h.Lines[len(h.Lines)-1].NoNewline = true
			i++
			continue
		}

		var op Op
		var text string
		switch {
		case line == "":
			op = OpContext
		case line[0] == ' ':
			op, text = OpContext, line[1:]
		case line[0] == '+':
			op, text = OpAdd, line[1:]
		case line[0] == '-':
			op, text = OpRemove, line[1:]
		default:
			return i, parseErr(ReasonCountMismatch, lineNo, "hunk body ended early with %d original and %d new lines outstanding", origLeft, newLeft)
		}

		switch op {
		case OpContext:
			if origLeft == 0 || newLeft == 0 {
				return i, parseErr(ReasonCountMismatch, lineNo, "context line exceeds hunk counts")
			}
			origLeft--
			newLeft--
		case OpAdd:
			if newLeft == 0 {
				return i, parseErr(ReasonCountMismatch, lineNo, "added line exceeds new count %d", h.NewCount)
			}
			newLeft--
		case OpRemove:
			if origLeft == 0 {
				return i, parseErr(ReasonCountMismatch, lineNo, "removed line exceeds original count %d", h.OrigCount)
			}
			origLeft--
		}
		h.Lines = append(h.Lines, Line{Op: op, Text: text})
		i++
	}

	if i < len(lines) && strings.HasPrefix(lines[i], noNewlineMarker) && len(h.Lines) > 0 {
		h.Lines[len(h.Lines)-1].NoNewline = true
		i++
	}
	return i, nil
}

func allBlank(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}

// truncate shortens a line for inclusion in an error message.
func truncate(s string) string {
	const limit = 60
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
