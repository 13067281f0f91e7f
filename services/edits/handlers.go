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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/editkit/services/edits/commit"
	"github.com/AleutianAI/editkit/services/edits/consistency"
	"github.com/AleutianAI/editkit/services/edits/coordinate"
	"github.com/AleutianAI/editkit/services/edits/diff"
	"github.com/AleutianAI/editkit/services/edits/lock"
	"github.com/AleutianAI/editkit/services/edits/proposal"
	"github.com/AleutianAI/editkit/services/edits/store"
)

// ServiceVersion is the edits service version.
const ServiceVersion = "0.1.0"

// Handlers contains the HTTP handlers for the edits API.
//
// The stateless engine endpoints work on request payloads only. The /files
// endpoints need a Service and answer 503 without one.
type Handlers struct {
	engine *Engine
	svc    *Service
}

// NewHandlers creates handlers for the given engine.
func NewHandlers(engine *Engine) *Handlers {
	return &Handlers{engine: engine}
}

// WithService enables the /files endpoints.
func (h *Handlers) WithService(svc *Service) *Handlers {
	h.svc = svc
	return h
}

// =============================================================================
// ENGINE ENDPOINTS
// =============================================================================

// HandleDecompose handles POST /v1/edits/decompose.
//
// Response:
//
//	200 OK: DecomposeResponse
//	400 Bad Request: Invalid body
func (h *Handlers) HandleDecompose(c *gin.Context) {
	logger := requestLogger(c, "HandleDecompose")

	var req DecomposeRequest
	if !bind(c, logger, &req) {
		return
	}
	c.JSON(http.StatusOK, DecomposeResponse{Changes: h.engine.Decompose(req.OldText, req.NewText)})
}

// HandleCheck handles POST /v1/edits/check.
//
// Response:
//
//	200 OK: CheckResponse, also when issues are blocking
//	400 Bad Request: Invalid body
func (h *Handlers) HandleCheck(c *gin.Context) {
	logger := requestLogger(c, "HandleCheck")

	var req CheckRequest
	if !bind(c, logger, &req) {
		return
	}
	issues := h.engine.CheckConsistency(req.File, req.CurrentText, req.Advisories...)
	recordIssues(c.Request.Context(), issues)
	if issues == nil {
		issues = []consistency.Issue{}
	}
	c.JSON(http.StatusOK, CheckResponse{Issues: issues, Blocking: consistency.Blocking(issues)})
}

// HandleApplySelected handles POST /v1/edits/apply-selected.
//
// # Description
//
// Applies the chosen changes of the posted file to the posted current text.
// Nothing is written to disk; the response carries the step and the file
// with its applied flags updated.
//
// Response:
//
//	200 OK: ApplySelectedResponse
//	400 Bad Request: Invalid body or unknown change ids
//	409 Conflict: Blocking consistency issues, with the issues
func (h *Handlers) HandleApplySelected(c *gin.Context) {
	logger := requestLogger(c, "HandleApplySelected")

	var req ApplySelectedRequest
	if !bind(c, logger, &req) {
		return
	}
	step, err := h.engine.ApplySelected(req.File, req.ChangeIDs, req.CurrentText)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ApplySelectedResponse{Step: *step, File: req.File})
}

// HandleApplyPatch handles POST /v1/edits/apply-patch.
//
// Response:
//
//	200 OK: ApplyPatchResponse
//	400 Bad Request: Invalid body
//	422 Unprocessable Entity: Patch does not parse or apply
func (h *Handlers) HandleApplyPatch(c *gin.Context) {
	logger := requestLogger(c, "HandleApplyPatch")

	var req ApplyPatchRequest
	if !bind(c, logger, &req) {
		return
	}
	res, _, err := h.engine.ApplyRawPatchDetailed(req.Original, req.Patch)
	if err != nil {
		var applyErr *diff.ApplyError
		if errors.As(err, &applyErr) {
			recordHunkFailure(c.Request.Context(), applyErr.Kind)
		}
		writeError(c, logger, err)
		return
	}
	recordHunks(c.Request.Context(), res)
	c.JSON(http.StatusOK, ApplyPatchResponse{Text: res.Text, Hunks: res.Hunks})
}

// HandlePreview handles POST /v1/edits/preview.
func (h *Handlers) HandlePreview(c *gin.Context) {
	logger := requestLogger(c, "HandlePreview")

	var req PreviewRequest
	if !bind(c, logger, &req) {
		return
	}
	n := diff.DefaultContextLines
	if req.ContextLines != nil {
		n = *req.ContextLines
	}
	path := req.Path
	if path == "" {
		path = "file"
	}

	hunks := diff.Generate(req.OldText, req.NewText, n)
	out, err := diff.Format(path, hunks)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	added, removed := diff.Stats(hunks)
	c.JSON(http.StatusOK, PreviewResponse{Diff: out, Added: added, Removed: removed})
}

// HandleHealth handles GET /v1/edits/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// =============================================================================
// FILE ENDPOINTS
// =============================================================================

// HandlePlan handles POST /v1/edits/files/plan.
//
// Response:
//
//	200 OK: proposal.ProposedFile, whatever its status
//	400 Bad Request: Invalid body or path
func (h *Handlers) HandlePlan(c *gin.Context) {
	logger := requestLogger(c, "HandlePlan")
	if !h.requireService(c) {
		return
	}

	var req PlanRequest
	if !bind(c, logger, &req) {
		return
	}
	file, err := h.svc.Plan(c.Request.Context(), req)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

// HandleListFiles handles GET /v1/edits/files.
func (h *Handlers) HandleListFiles(c *gin.Context) {
	logger := requestLogger(c, "HandleListFiles")
	if !h.requireService(c) {
		return
	}

	files, err := h.svc.List(c.Request.Context())
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if files == nil {
		files = []*proposal.ProposedFile{}
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

// HandleGetFile handles GET /v1/edits/files/get?uri=.
func (h *Handlers) HandleGetFile(c *gin.Context) {
	logger := requestLogger(c, "HandleGetFile")
	if !h.requireService(c) {
		return
	}

	file, err := h.svc.Get(c.Request.Context(), c.Query("uri"))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

// HandleHistory handles GET /v1/edits/files/history?uri=.
func (h *Handlers) HandleHistory(c *gin.Context) {
	logger := requestLogger(c, "HandleHistory")
	if !h.requireService(c) {
		return
	}

	steps, err := h.svc.History(c.Request.Context(), c.Query("uri"))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if steps == nil {
		steps = []store.StepRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"steps": steps})
}

// HandleFileCheck handles POST /v1/edits/files/check.
func (h *Handlers) HandleFileCheck(c *gin.Context) {
	logger := requestLogger(c, "HandleFileCheck")
	if !h.requireService(c) {
		return
	}

	var req URIRequest
	if !bind(c, logger, &req) {
		return
	}
	issues, err := h.svc.Check(c.Request.Context(), req.URI)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if issues == nil {
		issues = []consistency.Issue{}
	}
	c.JSON(http.StatusOK, CheckResponse{Issues: issues, Blocking: consistency.Blocking(issues)})
}

// HandleApply handles POST /v1/edits/files/apply.
//
// Response:
//
//	200 OK: ApplyResult
//	400 Bad Request: Invalid body or unknown change ids
//	404 Not Found: File was never planned
//	409 Conflict: Blocking issues, or the file changed during commit
//	423 Locked: Another process holds the file
func (h *Handlers) HandleApply(c *gin.Context) {
	logger := requestLogger(c, "HandleApply")
	if !h.requireService(c) {
		return
	}

	var req ApplyRequest
	if !bind(c, logger, &req) {
		return
	}
	res, err := h.svc.Apply(c.Request.Context(), req.URI, req.ChangeIDs)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleApplyBatch handles POST /v1/edits/files/apply-batch.
//
// The response lists per-file results and the progress events in order.
// Per-file failures do not fail the request.
func (h *Handlers) HandleApplyBatch(c *gin.Context) {
	logger := requestLogger(c, "HandleApplyBatch")
	if !h.requireService(c) {
		return
	}

	var req ApplyBatchRequest
	if !bind(c, logger, &req) {
		return
	}

	progress := make(chan ProgressEvent)
	events := make([]ProgressEvent, 0, 2*len(req.Files))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range progress {
			events = append(events, ev)
		}
	}()

	results := h.svc.ApplyBatch(c.Request.Context(), req.Files, progress)
	<-done
	c.JSON(http.StatusOK, gin.H{"results": results, "events": events})
}

// HandleDiscard handles POST /v1/edits/files/discard.
func (h *Handlers) HandleDiscard(c *gin.Context) {
	logger := requestLogger(c, "HandleDiscard")
	if !h.requireService(c) {
		return
	}

	var req DiscardRequest
	if !bind(c, logger, &req) {
		return
	}
	file, err := h.svc.Discard(c.Request.Context(), req.URI, req.ChangeIDs)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

// HandleSkip handles POST /v1/edits/files/skip.
func (h *Handlers) HandleSkip(c *gin.Context) {
	logger := requestLogger(c, "HandleSkip")
	if !h.requireService(c) {
		return
	}

	var req SkipRequest
	if !bind(c, logger, &req) {
		return
	}
	file, err := h.svc.Skip(c.Request.Context(), req.URI, req.Reason)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

// HandleRevert handles POST /v1/edits/files/revert.
func (h *Handlers) HandleRevert(c *gin.Context) {
	logger := requestLogger(c, "HandleRevert")
	if !h.requireService(c) {
		return
	}

	var req URIRequest
	if !bind(c, logger, &req) {
		return
	}
	rec, err := h.svc.Revert(c.Request.Context(), req.URI)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handlers) requireService(c *gin.Context) bool {
	if h.svc != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error: "file operations are not enabled",
		Code:  "SERVICE_UNAVAILABLE",
	})
	return false
}

func bind(c *gin.Context, logger *slog.Logger, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return false
	}
	return true
}

// writeError maps err onto a status code and error code.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	var issues []consistency.Issue

	var cerr *consistency.Error
	switch {
	case errors.As(err, &cerr):
		status, code = http.StatusConflict, "INCONSISTENT"
		issues = cerr.Issues
	case errors.Is(err, diff.ErrMalformedHeader), errors.Is(err, diff.ErrCountMismatch), errors.Is(err, diff.ErrTruncated):
		status, code = http.StatusUnprocessableEntity, "PATCH_PARSE_FAILED"
	case errors.Is(err, diff.ErrContextMismatch), errors.Is(err, diff.ErrAlreadyAppliedConflict):
		status, code = http.StatusUnprocessableEntity, "PATCH_APPLY_FAILED"
	case errors.Is(err, coordinate.ErrUnknownChange), errors.Is(err, coordinate.ErrNoChangesSelected),
		errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrDuplicateFile), errors.Is(err, proposal.ErrNilFile):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, commit.ErrPathEscapes), errors.Is(err, commit.ErrUnsupportedURI):
		status, code = http.StatusBadRequest, "INVALID_PATH"
	case errors.Is(err, store.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ErrNothingToRevert):
		status, code = http.StatusNotFound, "NOTHING_TO_REVERT"
	case errors.Is(err, commit.ErrConflict):
		status, code = http.StatusConflict, "FILE_CHANGED"
	case errors.Is(err, ErrChangeApplied), errors.Is(err, proposal.ErrInvalidTransition):
		status, code = http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, lock.ErrFileLocked):
		status, code = http.StatusLocked, "FILE_LOCKED"
	case errors.Is(err, commit.ErrReadTimeout):
		status, code = http.StatusGatewayTimeout, "READ_TIMEOUT"
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "error", err)
	} else {
		logger.Warn("Request rejected", "error", err, "code", code)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code, Issues: issues})
}

func requestLogger(c *gin.Context, handler string) *slog.Logger {
	return slog.With("request_id", getOrCreateRequestID(c), "handler", handler)
}

func getOrCreateRequestID(c *gin.Context) string {
	if id, ok := c.Get(requestIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDKey, requestID)
	c.Header("X-Request-ID", requestID)
	return requestID
}

const requestIDKey = "edits.request_id"
