// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package edits turns AI-proposed edits into tracked, selectively applied
// file mutations.
//
// # Layers
//
// Engine is the pure facade over the diff, proposal, consistency and
// coordinate packages. It performs no I/O and holds only immutable options.
//
// Service adds the caller responsibilities around the Engine: reading
// baselines, per-file serialisation, atomic commits, the proposal store,
// apply history, drift detection, logging and metrics.
//
// Handlers expose the Engine and Service over HTTP with gin.
package edits

import (
	"github.com/AleutianAI/editkit/services/edits/consistency"
	"github.com/AleutianAI/editkit/services/edits/coordinate"
	"github.com/AleutianAI/editkit/services/edits/diff"
	"github.com/AleutianAI/editkit/services/edits/proposal"
)

// Engine is the side-effect-free patch engine.
//
// # Thread Safety
//
// Engine is immutable and safe for concurrent use. The ProposedFile values
// passed to it are not; callers serialise access per file.
type Engine struct {
	opts    diff.ApplyOptions
	planner *proposal.Planner
}

// NewEngine creates an engine that places hunks with opts.
func NewEngine(opts diff.ApplyOptions) *Engine {
	return &Engine{opts: opts, planner: proposal.NewPlanner(opts)}
}

// Options returns the applier options.
func (e *Engine) Options() diff.ApplyOptions {
	return e.opts
}

// Planner returns the planner bound to the engine's options.
func (e *Engine) Planner() *proposal.Planner {
	return e.planner
}

// Decompose splits a whole-file rewrite into minimal changes against oldText.
func (e *Engine) Decompose(oldText, newText string) []proposal.ProposedChange {
	return proposal.Decompose(oldText, newText)
}

// CheckConsistency validates file against the current document text.
//
// advisories follow the engine's own issues. They are always downgraded to
// warn, and those without a Rel take the file's.
func (e *Engine) CheckConsistency(file *proposal.ProposedFile, currentText string, advisories ...consistency.Issue) []consistency.Issue {
	return consistency.Check(file, currentText, advisories...)
}

// ApplySelected applies the chosen pending changes of file to currentText.
//
// # Description
//
// See coordinate.ApplySelected. On success the selected changes are marked
// applied on file. On failure file is left untouched.
//
// # Outputs
//
//   - *proposal.ApplyStepFile: The audit record of the step.
//   - error: *consistency.Error when a blocking issue exists, or a selection error.
func (e *Engine) ApplySelected(file *proposal.ProposedFile, ids []string, currentText string) (*proposal.ApplyStepFile, error) {
	return coordinate.ApplySelected(file, ids, currentText)
}

// ApplyRawPatch parses a single-file unified diff and applies it to original.
func (e *Engine) ApplyRawPatch(original, patch string) (string, error) {
	return diff.ApplyRawPatch(original, patch, e.opts)
}

// ApplyRawPatchDetailed is ApplyRawPatch with the parsed hunks and a
// per-hunk placement report.
func (e *Engine) ApplyRawPatchDetailed(original, patch string) (*diff.ApplyResult, []diff.Hunk, error) {
	hunks, err := diff.Parse(patch)
	if err != nil {
		return nil, nil, err
	}
	res, err := diff.ApplyDetailed(original, hunks, e.opts)
	if err != nil {
		return nil, hunks, err
	}
	return res, hunks, nil
}

// Preview renders the unified diff that turns oldText into newText.
func (e *Engine) Preview(path, oldText, newText string, contextLines int) (string, error) {
	if contextLines < 0 {
		contextLines = diff.DefaultContextLines
	}
	return diff.Unified(path, oldText, newText, contextLines)
}
