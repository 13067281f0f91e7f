// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package coordinate applies a selection of proposed changes to a document
// as one all-or-nothing step.
package coordinate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/editkit/services/edits/consistency"
	"github.com/AleutianAI/editkit/services/edits/proposal"
)

var (
	// ErrUnknownChange is returned when a selected id is not in the file.
	ErrUnknownChange = errors.New("unknown change id")

	// ErrNoChangesSelected is returned for an empty selection.
	ErrNoChangesSelected = errors.New("no changes selected")
)

// UnknownChangeError lists selected ids that the file does not contain.
type UnknownChangeError struct {
	IDs []string
}

// Error implements the error interface.
func (e *UnknownChangeError) Error() string {
	return fmt.Sprintf("unknown change id(s): %s", strings.Join(e.IDs, ", "))
}

// Unwrap returns ErrUnknownChange.
func (e *UnknownChangeError) Unwrap() error {
	return ErrUnknownChange
}

// ApplySelected applies the selected changes of file to currentText.
//
// # Description
//
// The consistency checker runs first; any error-severity issue aborts with a
// *consistency.Error and nothing is modified. The selection is then walked
// in (Start, End) order together with the changes applied in earlier steps.
// Each selected change is spliced at its stored range shifted by the running
// delta d of every change before it, and d grows by len(NewText)-len(OldText).
// Every splice re-validates its range against the working text; a failure
// aborts with a baseline-mismatch *consistency.Error.
//
// Discarded and already applied ids are ignored. Applied flags are set only
// after the whole walk succeeded.
//
// # Inputs
//
//   - file: The proposed file. Only the Applied flags of selected changes change.
//   - ids: Selected change ids.
//   - currentText: The document as read now.
//
// # Outputs
//
//   - *proposal.ApplyStepFile: The audit record of the step on success.
//   - error: ErrNoChangesSelected, *UnknownChangeError or *consistency.Error.
//
// # Thread Safety
//
// Mutates file. Callers serialise calls per file.
func ApplySelected(file *proposal.ProposedFile, ids []string, currentText string) (*proposal.ApplyStepFile, error) {
	if file == nil {
		return nil, proposal.ErrNilFile
	}
	if len(ids) == 0 {
		return nil, ErrNoChangesSelected
	}

	selected := make(map[string]bool, len(ids))
	var unknown []string
	for _, id := range ids {
		c, ok := file.Change(id)
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		if c.Pending() {
			selected[id] = true
		}
	}
	if len(unknown) > 0 {
		return nil, &UnknownChangeError{IDs: unknown}
	}

	if cerr := consistency.NewError(consistency.Check(file, currentText)); cerr != nil {
		return nil, cerr
	}

	afterText, appliedIDs, err := walk(file, selected, currentText)
	if err != nil {
		return nil, err
	}

	for _, id := range appliedIDs {
		c, _ := file.Change(id)
		c.Applied = true
	}

	return &proposal.ApplyStepFile{
		URI:              file.URI,
		Rel:              file.Rel,
		BeforeText:       currentText,
		AfterText:        afterText,
		AppliedChangeIDs: appliedIDs,
	}, nil
}

// walk splices the selected changes into text without touching file.
func walk(file *proposal.ProposedFile, selected map[string]bool, text string) (string, []string, error) {
	appliedIDs := make([]string, 0, len(selected))
	d := 0

	for _, i := range file.Ordered() {
		c := file.Changes[i]
		switch {
		case c.Discarded:
			continue
		case c.Applied:
			// Already part of text; only shifts what follows.
			d += c.Delta()
			continue
		case !selected[c.ID]:
			continue
		}

		start, end := c.Start+d, c.End+d
		if start < 0 || end > len(text) || start > end || text[start:end] != c.OldText {
			return "", nil, &consistency.Error{Issues: []consistency.Issue{{
				Severity:   consistency.SeverityError,
				Rel:        file.Rel,
				Message:    fmt.Sprintf("change %s no longer matches the text at [%d,%d)", c.ID, start, end),
				Suggestion: "re-plan the file",
				Source:     consistency.SourceApply,
				Code:       consistency.CodeBaselineMismatch,
			}}}
		}

		text = text[:start] + c.NewText + text[end:]
		d += c.Delta()
		appliedIDs = append(appliedIDs, c.ID)
	}
	return text, appliedIDs, nil
}
