// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package consistency decides whether a proposed file can still be applied
// to the document as it exists now.
package consistency

import (
	"fmt"

	"github.com/AleutianAI/editkit/services/edits/proposal"
)

// Check validates file against currentText and returns every issue found.
//
// # Description
//
// Rules, each adding error-severity issues with source "apply":
//
//   - stale-baseline: currentText differs from the expected current text,
//     which is OldText with the already applied changes spliced in. One issue.
//   - overlapping-changes: one issue per pair of non-discarded changes whose
//     [Start, End) ranges intersect.
//   - baseline-mismatch: one issue per pending change whose OldText does not
//     match the baseline at its stored range, or does not match currentText
//     at its effective range.
//
// Advisory issues are appended after the rule issues with warn severity, so
// they never block.
//
// # Inputs
//
//   - file: The proposed file. Not modified.
//   - currentText: The document as read now. Not modified.
//   - advisories: Upstream findings to surface.
//
// # Outputs
//
//   - []Issue: All issues, rule issues first. Empty when the file is consistent.
//
// # Thread Safety
//
// Pure function, safe for concurrent use on distinct or unshared files.
func Check(file *proposal.ProposedFile, currentText string, advisories ...Issue) []Issue {
	var issues []Issue
	if file == nil {
		return issues
	}

	issues = append(issues, checkStale(file, currentText)...)
	issues = append(issues, checkOverlaps(file)...)
	issues = append(issues, checkBaseline(file, currentText)...)

	for _, a := range advisories {
		a.Severity = SeverityWarn
		if a.Rel == "" {
			a.Rel = file.Rel
		}
		issues = append(issues, a)
	}
	return issues
}

func checkStale(file *proposal.ProposedFile, currentText string) []Issue {
	expected, ok := file.ExpectedText()
	if !ok {
		return []Issue{{
			Severity:   SeverityError,
			Rel:        file.Rel,
			Message:    "applied changes no longer fit the planning baseline",
			Suggestion: "re-plan the file against its current content",
			Source:     SourceApply,
			Code:       CodeStaleBaseline,
		}}
	}
	if expected == currentText {
		return nil
	}
	return []Issue{{
		Severity:   SeverityError,
		Rel:        file.Rel,
		Message:    fmt.Sprintf("file changed since planning (expected %d bytes, found %d)", len(expected), len(currentText)),
		Suggestion: "re-plan the file against its current content",
		Source:     SourceApply,
		Code:       CodeStaleBaseline,
	}}
}

func checkOverlaps(file *proposal.ProposedFile) []Issue {
	var issues []Issue
	order := file.Ordered()
	for x := 0; x < len(order); x++ {
		a := file.Changes[order[x]]
		if !a.Live() {
			continue
		}
		for y := x + 1; y < len(order); y++ {
			b := file.Changes[order[y]]
			if !b.Live() {
				continue
			}
			if b.Start >= a.End && a.Start < a.End {
				// Sorted by start: nothing later can reach back into a.
				break
			}
			if a.Overlaps(b) {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Rel:      file.Rel,
					Message: fmt.Sprintf("changes %s [%d,%d) and %s [%d,%d) overlap",
						a.ID, a.Start, a.End, b.ID, b.Start, b.End),
					Suggestion: "discard one of the overlapping changes",
					Source:     SourceApply,
					Code:       CodeOverlappingChanges,
				})
			}
		}
	}
	return issues
}

func checkBaseline(file *proposal.ProposedFile, currentText string) []Issue {
	var issues []Issue
	for i, c := range file.Changes {
		if !c.Pending() {
			continue
		}

		if c.Start < 0 || c.Start > c.End || c.End > len(file.OldText) || file.OldText[c.Start:c.End] != c.OldText {
			issues = append(issues, mismatch(file, fmt.Sprintf(
				"change %s does not match the planning baseline at [%d,%d)", c.ID, c.Start, c.End)))
			continue
		}

		start, end := file.EffectiveRange(i)
		if start < 0 || end > len(currentText) {
			issues = append(issues, mismatch(file, fmt.Sprintf(
				"change %s range [%d,%d) is outside the current text (%d bytes)", c.ID, start, end, len(currentText))))
			continue
		}
		if currentText[start:end] != c.OldText {
			issues = append(issues, mismatch(file, fmt.Sprintf(
				"change %s expects %q at [%d,%d) but found %q", c.ID, clip(c.OldText), start, end, clip(currentText[start:end]))))
		}
	}
	return issues
}

func mismatch(file *proposal.ProposedFile, msg string) Issue {
	return Issue{
		Severity:   SeverityError,
		Rel:        file.Rel,
		Message:    msg,
		Suggestion: "re-plan the file or discard the change",
		Source:     SourceApply,
		Code:       CodeBaselineMismatch,
	}
}

// clip shortens text quoted in messages.
func clip(s string) string {
	const limit = 40
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
