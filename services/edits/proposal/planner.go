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
	"errors"
	"fmt"

	"github.com/AleutianAI/editkit/services/edits/diff"
)

var (
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the file's current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNilFile is returned when a nil file is passed.
	ErrNilFile = errors.New("proposed file is nil")
)

// TransitionError describes a rejected status transition.
type TransitionError struct {
	From FileStatus
	To   FileStatus
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move proposed file from %s to %s", e.From, e.To)
}

// Unwrap returns ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Planner drives the planning state machine of a ProposedFile.
//
// # Description
//
// A cycle starts in planning with a baseline snapshot and ends in exactly one
// terminal status:
//
//	planning -> changed    at least one live change
//	planning -> unchanged  no changes
//	planning -> error      parse, apply or baseline read failure
//	any      -> skipped    explicit external decision, via MarkSkipped
//
// Replan starts a new cycle from any status with a fresh baseline.
//
// # Thread Safety
//
// Planner holds only immutable options and is safe for concurrent use.
// A ProposedFile is not; callers serialise access per file.
type Planner struct {
	opts diff.ApplyOptions
}

// NewPlanner creates a planner that applies raw patches with opts.
func NewPlanner(opts diff.ApplyOptions) *Planner {
	return &Planner{opts: opts}
}

// Begin starts a planning cycle for a file whose baseline was just read.
func (p *Planner) Begin(uri, rel, baseline string) *ProposedFile {
	return &ProposedFile{
		URI:     uri,
		Rel:     rel,
		Status:  StatusPlanning,
		OldText: baseline,
		Changes: []ProposedChange{},
	}
}

// BeginFailed records a planning cycle whose baseline could not be read.
func (p *Planner) BeginFailed(uri, rel string, readErr error) *ProposedFile {
	f := p.Begin(uri, rel, "")
	f.Status = StatusError
	f.Message = fmt.Sprintf("read baseline: %v", readErr)
	return f
}

// PlanText completes the cycle from a proposed full-file rewrite.
func (p *Planner) PlanText(f *ProposedFile, newText string) error {
	if err := checkPlanning(f); err != nil {
		return err
	}
	finish(f, Decompose(f.OldText, newText))
	return nil
}

// PlanPatch completes the cycle from a unified diff against the baseline.
//
// A parse or apply failure moves the file to error and is returned.
func (p *Planner) PlanPatch(f *ProposedFile, patch string) error {
	if err := checkPlanning(f); err != nil {
		return err
	}
	newText, err := diff.ApplyRawPatch(f.OldText, patch, p.opts)
	if err != nil {
		f.Status = StatusError
		f.Message = err.Error()
		f.Changes = []ProposedChange{}
		return err
	}
	finish(f, Decompose(f.OldText, newText))
	return nil
}

// Fail ends the cycle with an error status.
func (p *Planner) Fail(f *ProposedFile, cause error) error {
	if err := checkPlanning(f); err != nil {
		return err
	}
	f.Status = StatusError
	f.Message = cause.Error()
	return nil
}

// MarkSkipped records an external decision to leave the file alone.
func MarkSkipped(f *ProposedFile, reason string) error {
	if f == nil {
		return ErrNilFile
	}
	if f.Status == StatusSkipped {
		return &TransitionError{From: f.Status, To: StatusSkipped}
	}
	f.Status = StatusSkipped
	f.Message = reason
	return nil
}

// Replan resets the file to planning against a fresh baseline.
//
// Existing changes are dropped; their offsets refer to the old baseline.
func Replan(f *ProposedFile, baseline string) error {
	if f == nil {
		return ErrNilFile
	}
	f.Status = StatusPlanning
	f.Message = ""
	f.OldText = baseline
	f.Changes = []ProposedChange{}
	return nil
}

// Refresh recomputes the terminal status after changes were discarded.
//
// Only changed and unchanged files are affected.
func Refresh(f *ProposedFile) {
	if f.Status != StatusChanged && f.Status != StatusUnchanged {
		return
	}
	if f.LiveCount() > 0 {
		f.Status = StatusChanged
	} else {
		f.Status = StatusUnchanged
	}
}

func checkPlanning(f *ProposedFile) error {
	if f == nil {
		return ErrNilFile
	}
	if f.Status != StatusPlanning {
		return &TransitionError{From: f.Status, To: StatusChanged}
	}
	return nil
}

func finish(f *ProposedFile, changes []ProposedChange) {
	f.Changes = changes
	f.Message = ""
	if f.LiveCount() > 0 {
		f.Status = StatusChanged
	} else {
		f.Status = StatusUnchanged
	}
}
