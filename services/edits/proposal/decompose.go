// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package proposal

import (
	"strconv"
	"strings"

	"github.com/AleutianAI/editkit/services/edits/diff"
	"github.com/google/uuid"
)

// changeNamespace seeds the name-based UUIDs used as change ids.
var changeNamespace = uuid.MustParse("6f1c2a7e-3b8d-5e4f-9a0b-1c2d3e4f5a6b")

// region is a maximal run of changed lines: a[aLo:aHi] becomes b[bLo:bHi].
type region struct {
	aLo, aHi int
	bLo, bHi int
}

// Decompose splits the rewrite of oldText into newText into minimal
// line-granular changes.
//
// # Description
//
// The common leading and trailing lines are fixed first, then a Myers
// shortest edit script aligns the remaining middle. Adjacent changed lines
// are coalesced into one change. Offsets are byte positions in oldText and
// include line terminators, so applying every change in Start order to
// oldText reproduces newText exactly.
//
// Ids are derived from each change's position and content, so the same
// pair of texts always yields the same changes with the same ids.
//
// # Inputs
//
//   - oldText: Baseline document.
//   - newText: Proposed document.
//
// # Outputs
//
//   - []ProposedChange: Changes in ascending Start order. Empty when the
//     texts are equal.
//
// # Thread Safety
//
// Pure function, safe for concurrent use.
func Decompose(oldText, newText string) []ProposedChange {
	if oldText == newText {
		return []ProposedChange{}
	}

	a, b := diff.SplitLines(oldText), diff.SplitLines(newText)

	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix &&
		a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	midA := a[prefix : len(a)-suffix]
	midB := b[prefix : len(b)-suffix]
	regions := coalesce(shortestEdit(midA, midB), prefix)

	offsets := lineOffsets(a)
	changes := make([]ProposedChange, 0, len(regions))
	for i, r := range regions {
		c := ProposedChange{
			SegmentIndex: i,
			Start:        offsets[r.aLo],
			End:          offsets[r.aHi],
			OldText:      strings.Join(a[r.aLo:r.aHi], ""),
			NewText:      strings.Join(b[r.bLo:r.bHi], ""),
		}
		c.ID = ChangeID(c)
		changes = append(changes, c)
	}
	return changes
}

// coalesce groups consecutive non-equal operations into regions, shifting
// indexes by base.
func coalesce(ops []editOp, base int) []region {
	var (
		regions []region
		cur     *region
		ai, bi  = base, base
	)
	flush := func() {
		if cur != nil {
			regions = append(regions, *cur)
			cur = nil
		}
	}

	for _, op := range ops {
		switch op.kind {
		case opEqual:
			flush()
			ai++
			bi++
		case opDelete:
			if cur == nil {
				cur = &region{aLo: ai, aHi: ai, bLo: bi, bHi: bi}
			}
			ai++
			cur.aHi = ai
		case opInsert:
			if cur == nil {
				cur = &region{aLo: ai, aHi: ai, bLo: bi, bHi: bi}
			}
			bi++
			cur.bHi = bi
		}
	}
	flush()
	return regions
}

// lineOffsets returns the byte offset of the start of every line, plus the
// total length as a final entry.
func lineOffsets(lines []string) []int {
	offsets := make([]int, len(lines)+1)
	for i, l := range lines {
		offsets[i+1] = offsets[i] + len(l)
	}
	return offsets
}

// ChangeID returns the deterministic id for a change's position and content.
func ChangeID(c ProposedChange) string {
	var key strings.Builder
	key.WriteString(strconv.Itoa(c.SegmentIndex))
	key.WriteByte(':')
	key.WriteString(strconv.Itoa(c.Start))
	key.WriteByte(':')
	key.WriteString(strconv.Itoa(c.End))
	key.WriteByte(0)
	key.WriteString(c.OldText)
	key.WriteByte(0)
	key.WriteString(c.NewText)
	return uuid.NewSHA1(changeNamespace, []byte(key.String())).String()
}

// Splice applies changes to text in (Start, End) order without validation.
//
// Used to preview the result of a decomposition or a selection.
func Splice(text string, changes []ProposedChange) string {
	f := ProposedFile{OldText: text, Changes: changes}
	var b strings.Builder
	pos := 0
	for _, i := range f.Ordered() {
		c := changes[i]
		if c.Start < pos || c.End > len(text) {
			continue
		}
		b.WriteString(text[pos:c.Start])
		b.WriteString(c.NewText)
		pos = c.End
	}
	b.WriteString(text[pos:])
	return b.String()
}
