// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package edits

import (
	"fmt"

	"github.com/AleutianAI/editkit/services/edits/consistency"
	"github.com/AleutianAI/editkit/services/edits/diff"
	"github.com/AleutianAI/editkit/services/edits/proposal"
	"github.com/AleutianAI/editkit/services/edits/store"
)

// =============================================================================
// SERVICE TYPES
// =============================================================================

// PlanRequest asks for a planning cycle on one file.
//
// Exactly one of NewText and Patch is set. NewText is a full-file rewrite;
// Patch is a single-file unified diff against the current content.
type PlanRequest struct {
	URI     string  `json:"uri" binding:"required"`
	NewText *string `json:"newText,omitempty"`
	Patch   string  `json:"patch,omitempty"`
}

func (r PlanRequest) validate() error {
	if r.URI == "" {
		return fmt.Errorf("%w: uri is required", ErrInvalidRequest)
	}
	if (r.NewText == nil) == (r.Patch == "") {
		return fmt.Errorf("%w: exactly one of newText and patch is required", ErrInvalidRequest)
	}
	return nil
}

// ApplyRequest selects changes of one planned file.
type ApplyRequest struct {
	URI       string   `json:"uri" binding:"required"`
	ChangeIDs []string `json:"changeIds" binding:"required,min=1"`
}

// ApplyResult is the outcome of a successful Service.Apply.
type ApplyResult struct {
	File *proposal.ProposedFile `json:"file"`
	Step store.StepRecord       `json:"step"`
}

// ProgressPhase is the stage of one file in ApplyBatch.
type ProgressPhase string

const (
	PhaseStarted ProgressPhase = "started"
	PhaseApplied ProgressPhase = "applied"
	PhaseFailed  ProgressPhase = "failed"
)

// ProgressEvent reports batch progress. Index is 0-based.
type ProgressEvent struct {
	URI     string        `json:"uri"`
	Index   int           `json:"index"`
	Total   int           `json:"total"`
	Phase   ProgressPhase `json:"phase"`
	Applied int           `json:"applied,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// BatchResult is the outcome for one file of ApplyBatch.
type BatchResult struct {
	URI    string       `json:"uri"`
	Result *ApplyResult `json:"result,omitempty"`
	Err    error        `json:"-"`
	Error  string       `json:"error,omitempty"`
}

// =============================================================================
// HTTP TYPES
// =============================================================================

// DecomposeRequest is the body of POST /v1/edits/decompose.
type DecomposeRequest struct {
	OldText string `json:"oldText"`
	NewText string `json:"newText"`
}

// DecomposeResponse lists the minimal changes.
type DecomposeResponse struct {
	Changes []proposal.ProposedChange `json:"changes"`
}

// CheckRequest is the body of POST /v1/edits/check.
type CheckRequest struct {
	File        *proposal.ProposedFile `json:"file" binding:"required"`
	CurrentText string                 `json:"currentText"`
	Advisories  []consistency.Issue    `json:"advisories,omitempty"`
}

// CheckResponse lists the issues found.
type CheckResponse struct {
	Issues   []consistency.Issue `json:"issues"`
	Blocking bool                `json:"blocking"`
}

// ApplySelectedRequest is the body of POST /v1/edits/apply-selected.
type ApplySelectedRequest struct {
	File        *proposal.ProposedFile `json:"file" binding:"required"`
	ChangeIDs   []string               `json:"changeIds" binding:"required,min=1"`
	CurrentText string                 `json:"currentText"`
}

// ApplySelectedResponse carries the step and the updated file.
type ApplySelectedResponse struct {
	Step proposal.ApplyStepFile `json:"step"`
	File *proposal.ProposedFile `json:"file"`
}

// ApplyPatchRequest is the body of POST /v1/edits/apply-patch.
type ApplyPatchRequest struct {
	Original string `json:"original"`
	Patch    string `json:"patch" binding:"required"`
}

// ApplyPatchResponse carries the patched text and hunk placements.
type ApplyPatchResponse struct {
	Text  string            `json:"text"`
	Hunks []diff.HunkResult `json:"hunks"`
}

// PreviewRequest is the body of POST /v1/edits/preview.
type PreviewRequest struct {
	Path         string `json:"path"`
	OldText      string `json:"oldText"`
	NewText      string `json:"newText"`
	ContextLines *int   `json:"contextLines,omitempty" binding:"omitempty,gte=0,lte=100"`
}

// PreviewResponse carries the unified diff.
type PreviewResponse struct {
	Diff    string `json:"diff"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
}

// DiscardRequest is the body of POST /v1/edits/files/discard.
type DiscardRequest struct {
	URI       string   `json:"uri" binding:"required"`
	ChangeIDs []string `json:"changeIds" binding:"required,min=1"`
}

// SkipRequest is the body of POST /v1/edits/files/skip.
type SkipRequest struct {
	URI    string `json:"uri" binding:"required"`
	Reason string `json:"reason"`
}

// ApplyBatchRequest is the body of POST /v1/edits/files/apply-batch and the
// first message of the apply-batch stream.
type ApplyBatchRequest struct {
	Files []ApplyRequest `json:"files" binding:"required,min=1,dive"`
}

// StreamMessage is one message sent on the apply-batch stream.
//
// Action is "progress" with Event set, then a single "done" with Results,
// or "error" with Error when the request is rejected.
type StreamMessage struct {
	Action  string         `json:"action"`
	Event   *ProgressEvent `json:"event,omitempty"`
	Results []BatchResult  `json:"results,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// URIRequest names one file.
type URIRequest struct {
	URI string `json:"uri" binding:"required"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error  string              `json:"error"`
	Code   string              `json:"code"`
	Issues []consistency.Issue `json:"issues,omitempty"`
}

// HealthResponse is the body of GET /v1/edits/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
