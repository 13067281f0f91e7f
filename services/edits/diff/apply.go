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
)

// DefaultFuzzWindow is the default number of lines searched on each side of
// a hunk's anchor.
const DefaultFuzzWindow = 3

// ApplyOptions configures hunk placement.
type ApplyOptions struct {
	// FuzzWindow is how many lines above and below the anchor are searched
	// when the hunk does not match at the anchor. Zero disables the search.
	FuzzWindow int `json:"fuzz_window" yaml:"fuzz_window"`

	// IgnoreTrailingWhitespace makes the fuzzy comparison ignore trailing
	// spaces, tabs and carriage returns. Content is otherwise exact.
	IgnoreTrailingWhitespace bool `json:"ignore_trailing_whitespace" yaml:"ignore_trailing_whitespace"`
}

// DefaultApplyOptions returns a ±3 line window with trailing whitespace ignored.
func DefaultApplyOptions() ApplyOptions {
	return ApplyOptions{
		FuzzWindow:               DefaultFuzzWindow,
		IgnoreTrailingWhitespace: true,
	}
}

// HunkOutcome records what Apply did with one hunk.
type HunkOutcome string

const (
	// OutcomeApplied means the hunk was spliced into the document.
	OutcomeApplied HunkOutcome = "applied"

	// OutcomeAlreadyApplied means the hunk's new side was already present.
	OutcomeAlreadyApplied HunkOutcome = "already-applied"
)

// HunkResult describes the placement of one hunk.
type HunkResult struct {
	// Index is the 0-based hunk index.
	Index int `json:"index"`

	// Outcome is applied or already-applied.
	Outcome HunkOutcome `json:"outcome"`

	// Line is the 1-based line of the input document where the hunk matched.
	Line int `json:"line"`

	// Offset is how far the match was from the expected anchor, in lines.
	Offset int `json:"offset"`
}

// ApplyResult is the detailed output of ApplyDetailed.
type ApplyResult struct {
	// Text is the patched document.
	Text string `json:"text"`

	// Hunks has one entry per input hunk, in order.
	Hunks []HunkResult `json:"hunks"`
}

// Changed reports whether any hunk was spliced in.
func (r *ApplyResult) Changed() bool {
	for _, h := range r.Hunks {
		if h.Outcome == OutcomeApplied {
			return true
		}
	}
	return false
}

// Apply applies hunks to original and returns the patched text.
//
// # Description
//
// Hunks are placed in order. Each hunk is expected at its declared original
// line shifted by the drift accumulated from earlier hunks. When it is not
// found there, a window of opts.FuzzWindow lines on either side is searched,
// nearest position first and upward before downward at equal distance. The
// search runs with exact comparison first and, when that finds nothing and
// opts.IgnoreTrailingWhitespace is set, again ignoring trailing whitespace.
// No hunk may match before the end of the previous hunk.
//
// A hunk whose new side is already present, and whose original side is not,
// is skipped, so applying a patch to its own output returns that output
// unchanged. When both sides are found, the side that matches exactly at the
// anchor wins. If both match there the original side is applied, unless only
// the new side runs to the end of the document. A hunk with removed lines
// whose sides both match only away from the anchor is ambiguous and fails
// with already-applied-conflict.
//
// # Inputs
//
//   - original: Document text.
//   - hunks: Hunks in patch order, usually from Parse.
//   - opts: Placement options. See DefaultApplyOptions.
//
// # Outputs
//
//   - string: The patched text. Empty when err is non-nil.
//   - error: *ApplyError for the first hunk that cannot be placed.
//
// # Thread Safety
//
// Pure function, safe for concurrent use.
func Apply(original string, hunks []Hunk, opts ApplyOptions) (string, error) {
	res, err := ApplyDetailed(original, hunks, opts)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// ApplyDetailed is Apply with a per-hunk placement report.
func ApplyDetailed(original string, hunks []Hunk, opts ApplyOptions) (*ApplyResult, error) {
	doc := SplitLines(original)
	out := make([]string, 0, len(doc))
	results := make([]HunkResult, 0, len(hunks))

	// cursor is the first input line not yet copied or consumed.
	// drift shifts declared positions onto input positions. Positions index
	// the input document, so applied hunks contribute only their fuzzy
	// displacement; skipped hunks also contribute their length change,
	// because the input already holds their new side.
	cursor, drift := 0, 0

	for idx, h := range hunks {
		origSide, newSide := h.origSide(), h.newSide()
		anchor := h.anchor() + drift

		p := placer{doc: doc, cursor: cursor, anchor: anchor, window: max(opts.FuzzWindow, 0)}
		pl := p.place(h, origSide, newSide, exactEqual)
		if !pl.found && !pl.conflict && opts.IgnoreTrailingWhitespace {
			pl = p.place(h, origSide, newSide, trailingEqual)
		}
		if !pl.found && !pl.conflict && len(newSide) == 0 {
			// Nothing to add and nothing left to remove.
			pl = placement{found: true, outcome: OutcomeAlreadyApplied, pos: min(max(anchor, cursor), len(doc))}
		}
		switch {
		case pl.conflict:
			return nil, &ApplyError{Kind: KindAlreadyAppliedConflict, HunkIndex: idx, Anchor: anchor + 1}
		case !pl.found:
			return nil, &ApplyError{Kind: KindContextMismatch, HunkIndex: idx, Anchor: anchor + 1}
		}
		outcome, pos := pl.outcome, pl.pos

		out = append(out, doc[cursor:pos]...)
		if outcome == OutcomeAlreadyApplied {
			out = append(out, doc[pos:pos+len(newSide)]...)
			cursor = pos + len(newSide)
			drift += pos - anchor + len(newSide) - len(origSide)
		} else {
			j := pos
			for _, l := range h.Lines {
				switch l.Op {
				case OpContext:
					out = append(out, doc[j])
					j++
				case OpRemove:
					j++
				case OpAdd:
					out = append(out, l.raw())
				}
			}
			cursor = j
			drift += pos - anchor
		}

		results = append(results, HunkResult{
			Index:   idx,
			Outcome: outcome,
			Line:    pos + 1,
			Offset:  pos - anchor,
		})
	}

	out = append(out, doc[cursor:]...)
	return &ApplyResult{Text: strings.Join(out, ""), Hunks: results}, nil
}

// placer searches for a hunk around an anchor.
type placer struct {
	doc    []string
	cursor int
	anchor int
	window int
}

// placement is the decision for one hunk under one comparator.
type placement struct {
	found    bool
	conflict bool
	outcome  HunkOutcome
	pos      int
}

// place locates both sides of a hunk and decides whether to apply it, skip it
// as already applied, or reject it as ambiguous.
func (p placer) place(h Hunk, origSide, newSide []string, eq equalFunc) placement {
	origPos, origOK := p.find(origSide, eq)
	newPos, newOK := p.find(newSide, eq)
	if len(newSide) == 0 {
		// An empty new side matches everywhere and proves nothing.
		newOK = false
	}

	switch {
	case origOK && newOK:
		// Without any context the inserted lines must sit exactly at the
		// anchor to count as applied.
		if len(origSide) == 0 {
			if newPos == p.anchor {
				return placement{found: true, outcome: OutcomeAlreadyApplied, pos: newPos}
			}
			return placement{found: true, outcome: OutcomeApplied, pos: origPos}
		}
		switch {
		case origPos == p.anchor && newPos == p.anchor:
			// One side is a prefix of the other. Only the new side may end
			// the document when the original side does not.
			if newPos+len(newSide) == len(p.doc) && origPos+len(origSide) != len(p.doc) {
				return placement{found: true, outcome: OutcomeAlreadyApplied, pos: newPos}
			}
			return placement{found: true, outcome: OutcomeApplied, pos: origPos}
		case origPos == p.anchor:
			return placement{found: true, outcome: OutcomeApplied, pos: origPos}
		case newPos == p.anchor:
			return placement{found: true, outcome: OutcomeAlreadyApplied, pos: newPos}
		case h.hasRemovals():
			// Both sides only match away from the anchor.
			return placement{conflict: true}
		}
		// Pure insertions: the original side is only context, so prefer
		// whichever side sits closer to the anchor.
		if abs(newPos-p.anchor) <= abs(origPos-p.anchor) {
			return placement{found: true, outcome: OutcomeAlreadyApplied, pos: newPos}
		}
		return placement{found: true, outcome: OutcomeApplied, pos: origPos}
	case newOK:
		return placement{found: true, outcome: OutcomeAlreadyApplied, pos: newPos}
	case origOK:
		return placement{found: true, outcome: OutcomeApplied, pos: origPos}
	}
	return placement{}
}

// find returns the first position where want matches, searching the anchor
// first and then outward, upward before downward at equal distance.
func (p placer) find(want []string, eq equalFunc) (int, bool) {
	for dist := 0; dist <= p.window; dist++ {
		for _, pos := range [2]int{p.anchor - dist, p.anchor + dist} {
			if pos >= p.cursor && matchAt(p.doc, pos, want, eq) {
				return pos, true
			}
			if dist == 0 {
				break
			}
		}
	}
	return 0, false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// ApplyRawPatch parses patch and applies it to original.
func ApplyRawPatch(original, patch string, opts ApplyOptions) (string, error) {
	hunks, err := Parse(patch)
	if err != nil {
		return "", err
	}
	return Apply(original, hunks, opts)
}
