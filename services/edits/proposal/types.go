// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package proposal models the edits proposed for a file and decomposes a
// whole-file rewrite into minimal, independently applicable changes.
//
// # Offsets
//
// ProposedChange.Start and End are byte offsets into the owning file's
// OldText baseline. They are never rewritten. Once some changes have been
// applied, the position of any other change in the evolving document is
// derived with ProposedFile.EffectiveRange.
package proposal

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// =============================================================================
// FILE STATUS
// =============================================================================

// FileStatus is the planning state of a ProposedFile.
//
// Serialised as "planning", "changed", "unchanged", "skipped" or "error".
type FileStatus int

const (
	// StatusPlanning is the initial state of every planning cycle.
	StatusPlanning FileStatus = iota

	// StatusChanged means planning produced at least one live change.
	StatusChanged

	// StatusUnchanged means planning produced no changes.
	StatusUnchanged

	// StatusSkipped means an external decision excluded the file.
	StatusSkipped

	// StatusError means planning failed; Message holds the reason.
	StatusError
)

var statusNames = [...]string{
	StatusPlanning:  "planning",
	StatusChanged:   "changed",
	StatusUnchanged: "unchanged",
	StatusSkipped:   "skipped",
	StatusError:     "error",
}

// String returns the wire name of the status.
func (s FileStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("FileStatus(%d)", int(s))
	}
	return statusNames[s]
}

// Terminal reports whether the status ends a planning cycle.
func (s FileStatus) Terminal() bool {
	return s != StatusPlanning
}

// MarshalText implements encoding.TextMarshaler.
func (s FileStatus) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(statusNames) {
		return nil, fmt.Errorf("proposal: invalid status %d", int(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *FileStatus) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = FileStatus(i)
			return nil
		}
	}
	return fmt.Errorf("proposal: unknown status %q", string(text))
}

// =============================================================================
// RECORDS
// =============================================================================

// ProposedChange is one independently applicable edit against a baseline.
//
// OldText must equal baseline[Start:End]. Only Applied and Discarded change
// after creation.
type ProposedChange struct {
	ID           string `json:"id"`
	SegmentIndex int    `json:"segmentIndex"`
	Start        int    `json:"start"`
	End          int    `json:"end"`
	OldText      string `json:"oldText"`
	NewText      string `json:"newText"`
	Applied      bool   `json:"applied"`
	Discarded    bool   `json:"discarded"`
	Message      string `json:"message,omitempty"`
}

// Delta is the length change the edit introduces.
func (c ProposedChange) Delta() int {
	return len(c.NewText) - len(c.OldText)
}

// Live reports whether the change still takes part in checks.
func (c ProposedChange) Live() bool {
	return !c.Discarded
}

// Pending reports whether the change can still be applied.
func (c ProposedChange) Pending() bool {
	return !c.Discarded && !c.Applied
}

// Overlaps reports whether two half-open ranges intersect.
//
// Two empty ranges at the same offset do not intersect.
func (c ProposedChange) Overlaps(o ProposedChange) bool {
	return c.Start < o.End && o.Start < c.End
}

// ProposedFile holds the baseline snapshot and proposed changes for one file.
type ProposedFile struct {
	URI     string           `json:"uri"`
	Rel     string           `json:"rel"`
	Status  FileStatus       `json:"status"`
	Message string           `json:"message,omitempty"`
	OldText string           `json:"oldText"`
	Changes []ProposedChange `json:"changes"`
}

// Clone returns a deep copy of the file.
func (f *ProposedFile) Clone() *ProposedFile {
	if f == nil {
		return nil
	}
	cp := *f
	cp.Changes = slices.Clone(f.Changes)
	return &cp
}

// Change returns the change with the given id.
func (f *ProposedFile) Change(id string) (*ProposedChange, bool) {
	for i := range f.Changes {
		if f.Changes[i].ID == id {
			return &f.Changes[i], true
		}
	}
	return nil, false
}

// Ordered returns indexes into Changes sorted stably by (Start, End).
func (f *ProposedFile) Ordered() []int {
	idx := make([]int, len(f.Changes))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ca, cb := f.Changes[idx[a]], f.Changes[idx[b]]
		if ca.Start != cb.Start {
			return ca.Start < cb.Start
		}
		return ca.End < cb.End
	})
	return idx
}

// LiveCount returns the number of non-discarded changes.
func (f *ProposedFile) LiveCount() int {
	n := 0
	for _, c := range f.Changes {
		if c.Live() {
			n++
		}
	}
	return n
}

// AppliedIDs returns the ids of applied changes in (Start, End) order.
func (f *ProposedFile) AppliedIDs() []string {
	var ids []string
	for _, i := range f.Ordered() {
		if f.Changes[i].Applied {
			ids = append(ids, f.Changes[i].ID)
		}
	}
	return ids
}

// EffectiveRange maps the stored range of change i onto the document that
// results from splicing every applied change into the baseline.
//
// Applied changes that precede the change in (Start, End) order and end at
// or before its start shift it by their length delta. The change itself is
// never counted.
func (f *ProposedFile) EffectiveRange(i int) (start, end int) {
	c := f.Changes[i]
	shift := 0
	for _, j := range f.Ordered() {
		if j == i {
			break
		}
		a := f.Changes[j]
		if a.Applied && !a.Discarded && a.End <= c.Start {
			shift += a.Delta()
		}
	}
	return c.Start + shift, c.End + shift
}

// ExpectedText returns the baseline with every applied change spliced in,
// which is what the document must contain for further applies to be valid.
//
// ok is false when the applied changes do not fit the baseline.
func (f *ProposedFile) ExpectedText() (text string, ok bool) {
	var b strings.Builder
	b.Grow(len(f.OldText))
	pos := 0
	for _, i := range f.Ordered() {
		c := f.Changes[i]
		if !c.Applied || c.Discarded {
			continue
		}
		if c.Start < pos || c.End > len(f.OldText) || c.Start > c.End {
			return "", false
		}
		if f.OldText[c.Start:c.End] != c.OldText {
			return "", false
		}
		b.WriteString(f.OldText[pos:c.Start])
		b.WriteString(c.NewText)
		pos = c.End
	}
	b.WriteString(f.OldText[pos:])
	return b.String(), true
}

// ApplyStepFile is the audit record of one successful apply on one file.
type ApplyStepFile struct {
	URI              string   `json:"uri"`
	Rel              string   `json:"rel"`
	BeforeText       string   `json:"beforeText"`
	AfterText        string   `json:"afterText"`
	AppliedChangeIDs []string `json:"appliedChangeIds"`
}

// Changed reports whether the step altered the text.
func (s *ApplyStepFile) Changed() bool {
	return s.BeforeText != s.AfterText
}
