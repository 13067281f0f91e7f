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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/editkit/services/edits/commit"
	"github.com/AleutianAI/editkit/services/edits/consistency"
	"github.com/AleutianAI/editkit/services/edits/coordinate"
	"github.com/AleutianAI/editkit/services/edits/diff"
	"github.com/AleutianAI/editkit/services/edits/lock"
	"github.com/AleutianAI/editkit/services/edits/proposal"
	"github.com/AleutianAI/editkit/services/edits/store"
	"github.com/AleutianAI/editkit/services/edits/syntax"
	"github.com/AleutianAI/editkit/services/edits/telemetry"
)

// ServiceConfig wires a Service.
type ServiceConfig struct {
	// Engine defaults to NewEngine(diff.DefaultApplyOptions()).
	Engine *Engine

	// Store, Locks and Committer are required. The Service does not close them.
	Store     store.Store
	Locks     *lock.Manager
	Committer *commit.Committer

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// WatchFiles starts a drift watch on every planned file.
	WatchFiles bool

	// PlanConcurrency bounds PlanAll. Default 8.
	PlanConcurrency int

	// DriftTimeout bounds the verification of one external change. Default 5s.
	DriftTimeout time.Duration

	// Syntax adds syntax advisories to Check. Nil disables them.
	Syntax *syntax.Checker
}

// Service runs the proposed-edit workflow against real files.
//
// # Description
//
// Every operation on a file runs under the lock.Manager lock of its URI, so
// check, apply, commit and the store update form one transaction per file.
// Files are identified by their file URI; request URIs may also be paths,
// which are resolved against the Committer root.
//
// When WatchFiles is set, an external modification of a planned file is
// verified against the file's expected text once the lock is free. A real
// divergence is logged, counted, and reported by Drifted and Check until the
// file is planned again.
//
// # Thread Safety
//
// Safe for concurrent use.
type Service struct {
	engine    *Engine
	store     store.Store
	locks     *lock.Manager
	committer *commit.Committer
	logger    *slog.Logger
	syntax    *syntax.Checker

	watch        bool
	planLimit    int
	driftTimeout time.Duration

	mu      sync.Mutex
	closed  bool
	watches map[string]func()
	drift   map[string]lock.ExternalChangeEvent
	wg      sync.WaitGroup

	bg     context.Context
	cancel context.CancelFunc
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil || cfg.Locks == nil || cfg.Committer == nil {
		return nil, fmt.Errorf("%w: store, locks and committer are required", ErrInvalidRequest)
	}
	if cfg.Engine == nil {
		cfg.Engine = NewEngine(diff.DefaultApplyOptions())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PlanConcurrency <= 0 {
		cfg.PlanConcurrency = 8
	}
	if cfg.DriftTimeout <= 0 {
		cfg.DriftTimeout = 5 * time.Second
	}

	bg, cancel := context.WithCancel(context.Background())
	return &Service{
		engine:       cfg.Engine,
		store:        cfg.Store,
		locks:        cfg.Locks,
		committer:    cfg.Committer,
		logger:       cfg.Logger.With("component", "edits"),
		syntax:       cfg.Syntax,
		watch:        cfg.WatchFiles,
		planLimit:    cfg.PlanConcurrency,
		driftTimeout: cfg.DriftTimeout,
		watches:      make(map[string]func()),
		drift:        make(map[string]lock.ExternalChangeEvent),
		bg:           bg,
		cancel:       cancel,
	}, nil
}

// Engine returns the pure engine used by the Service.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Close stops drift watches and waits for pending drift checks.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stops := make([]func(), 0, len(s.watches))
	for _, stop := range s.watches {
		stops = append(stops, stop)
	}
	s.watches = map[string]func(){}
	s.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	s.cancel()
	s.wg.Wait()
	return nil
}

// =============================================================================
// PLANNING
// =============================================================================

// Plan reads the baseline of one file, plans the request against it, and
// stores the result.
//
// # Description
//
// A missing file plans against an empty baseline, so a proposal can create
// it. A baseline that cannot be read, and a patch that does not parse or
// apply, are planning outcomes: the stored file has status error and the
// call succeeds. Planning replaces any earlier proposal for the file and
// clears its drift flag.
//
// # Outputs
//
//   - *proposal.ProposedFile: The stored file.
//   - error: ErrInvalidRequest, a resolve error, ctx.Err() or a store error.
func (s *Service) Plan(ctx context.Context, req PlanRequest) (file *proposal.ProposedFile, err error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	path, rel, uri, err := s.resolve(req.URI)
	if err != nil {
		return nil, err
	}

	ctx, span := startSpan(ctx, "Service.Plan", uri)
	defer func() { telemetry.EndSpan(span, err) }()
	logger := telemetry.LoggerWithFile(ctx, s.logger, uri)

	release, err := s.locks.Acquire(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer release()

	planner := s.engine.Planner()
	baseline, readErr := s.readCurrent(ctx, path)
	switch {
	case readErr == nil:
		file = planner.Begin(uri, rel, baseline)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		file = planner.BeginFailed(uri, rel, readErr)
		logger.Warn("Baseline read failed", "error", readErr)
	}

	if file.Status == proposal.StatusPlanning {
		if req.NewText != nil {
			err = planner.PlanText(file, *req.NewText)
		} else {
			err = planner.PlanPatch(file, req.Patch)
		}
		var applyErr *diff.ApplyError
		if errors.As(err, &applyErr) {
			recordHunkFailure(ctx, applyErr.Kind)
		}
		if err != nil {
			logger.Warn("Patch did not plan", "error", err)
			err = nil
		}
	}

	if err = s.store.PutFile(ctx, file); err != nil {
		return nil, fmt.Errorf("storing %s: %w", uri, err)
	}
	s.clearDrift(uri)
	s.ensureWatch(uri, path)

	span.SetAttributes(
		attribute.String("edits.status", file.Status.String()),
		attribute.Int("edits.changes", len(file.Changes)),
	)
	recordPlan(ctx, file.Status.String())
	logger.Info("Planned file", "status", file.Status.String(), "changes", len(file.Changes))
	return file, nil
}

// PlanAll plans distinct files in parallel.
//
// The first failure cancels the rest. Results are in request order.
func (s *Service) PlanAll(ctx context.Context, reqs []PlanRequest) ([]*proposal.ProposedFile, error) {
	seen := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		_, _, uri, err := s.resolve(r.URI)
		if err != nil {
			return nil, err
		}
		if seen[uri] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateFile, uri)
		}
		seen[uri] = true
	}

	out := make([]*proposal.ProposedFile, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.planLimit)
	for i, r := range reqs {
		g.Go(func() error {
			f, err := s.Plan(gctx, r)
			if err != nil {
				return fmt.Errorf("planning %s: %w", r.URI, err)
			}
			out[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the stored proposal for a file.
func (s *Service) Get(ctx context.Context, ref string) (*proposal.ProposedFile, error) {
	_, _, uri, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	return s.store.GetFile(ctx, uri)
}

// List returns every stored proposal ordered by URI.
func (s *Service) List(ctx context.Context) ([]*proposal.ProposedFile, error) {
	return s.store.ListFiles(ctx)
}

// History returns the apply steps of a file, oldest first.
func (s *Service) History(ctx context.Context, ref string) ([]store.StepRecord, error) {
	_, _, uri, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	return s.store.Steps(ctx, uri)
}

// Check validates the stored proposal of a file against its content on disk.
//
// Syntax errors the live changes would introduce are reported as warnings
// when the Service has a syntax checker. An unverified drift event adds a
// warning when the checker itself found no stale baseline.
func (s *Service) Check(ctx context.Context, ref string, advisories ...consistency.Issue) (issues []consistency.Issue, err error) {
	path, _, uri, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	ctx, span := startSpan(ctx, "Service.Check", uri)
	defer func() { telemetry.EndSpan(span, err) }()

	file, err := s.store.GetFile(ctx, uri)
	if err != nil {
		return nil, err
	}
	current, err := s.readCurrent(ctx, path)
	if err != nil {
		return nil, err
	}

	advisories = append(slices.Clip(advisories), s.syntaxAdvisories(ctx, path, file)...)
	issues = s.engine.CheckConsistency(file, current, advisories...)
	if ev, ok := s.Drifted(uri); ok && len(consistency.WithCode(issues, consistency.CodeStaleBaseline)) == 0 {
		issues = append(issues, consistency.Issue{
			Severity:   consistency.SeverityWarn,
			Rel:        file.Rel,
			Message:    fmt.Sprintf("file had an external %s at %s", ev.Type, ev.At.Format(time.RFC3339)),
			Suggestion: "re-plan the file if its content is not what you expect",
			Source:     consistency.SourceTool,
		})
	}
	recordIssues(ctx, issues)
	span.SetAttributes(attribute.Int("edits.issues", len(issues)))
	return issues, nil
}

// syntaxAdvisories checks the baseline with every live change spliced in.
// Parse failures are logged and otherwise ignored.
func (s *Service) syntaxAdvisories(ctx context.Context, path string, file *proposal.ProposedFile) []consistency.Issue {
	if s.syntax == nil || file.Status != proposal.StatusChanged {
		return nil
	}
	live := make([]proposal.ProposedChange, 0, len(file.Changes))
	for _, c := range file.Changes {
		if c.Live() {
			live = append(live, c)
		}
	}
	issues, err := s.syntax.Advisories(ctx, path, file.Rel, file.OldText, proposal.Splice(file.OldText, live))
	if err != nil {
		telemetry.LoggerWithFile(ctx, s.logger, file.URI).Debug("Syntax check failed", "error", err)
		return nil
	}
	return issues
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Apply applies the selected changes of a planned file to the file on disk.
//
// # Description
//
// Under the file lock: reads the current content, runs the Apply
// Coordinator, commits the result atomically, then stores the updated
// proposal and appends the step to the file's history. ctx is checked
// before the commit; once the commit happened the result is final and the
// store updates run without ctx cancellation. A selection without any
// pending change fails with coordinate.ErrNoChangesSelected. Files that are
// skipped, failed or unchanged are rejected with
// proposal.ErrInvalidTransition.
//
// # Outputs
//
//   - *ApplyResult: The updated file and the recorded step.
//   - error: *consistency.Error when blocked, a selection error, a
//     *commit.ConflictError, ctx.Err() or a store error.
func (s *Service) Apply(ctx context.Context, ref string, ids []string) (res *ApplyResult, err error) {
	start := time.Now()
	path, _, uri, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}

	ctx, span := startSpan(ctx, "Service.Apply", uri)
	span.SetAttributes(attribute.Int("edits.selected", len(ids)))
	status, applied := "error", 0
	defer func() {
		recordApply(ctx, status, time.Since(start), applied)
		telemetry.EndSpan(span, err)
	}()
	logger := telemetry.LoggerWithFile(ctx, s.logger, uri)

	release, err := s.locks.Acquire(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer release()

	file, err := s.store.GetFile(ctx, uri)
	if err != nil {
		return nil, err
	}
	if file.Status != proposal.StatusChanged {
		err = fmt.Errorf("%w: %s is %s, only changed files can be applied", proposal.ErrInvalidTransition, file.Rel, file.Status)
		return nil, err
	}
	current, err := s.readCurrent(ctx, path)
	if err != nil {
		return nil, err
	}

	step, err := s.engine.ApplySelected(file, ids, current)
	if err != nil {
		var cerr *consistency.Error
		if errors.As(err, &cerr) {
			status = "blocked"
			recordIssues(ctx, cerr.Issues)
		}
		logger.Warn("Apply rejected", "error", err)
		return nil, err
	}
	if len(step.AppliedChangeIDs) == 0 {
		status = "noop"
		err = fmt.Errorf("%w: every selected change is applied or discarded", coordinate.ErrNoChangesSelected)
		return nil, err
	}

	if err = ctx.Err(); err != nil {
		status = "cancelled"
		return nil, err
	}
	if step.Changed() {
		if err = s.committer.Write(ctx, path, current, step.AfterText); err != nil {
			if errors.Is(err, commit.ErrConflict) {
				status = "conflict"
			}
			logger.Warn("Commit failed", "error", err)
			return nil, fmt.Errorf("committing %s: %w", uri, err)
		}
	}

	persist := context.WithoutCancel(ctx)
	if err = s.store.PutFile(persist, file); err != nil {
		logger.Error("File committed but proposal not stored", "error", err)
		return nil, fmt.Errorf("storing %s: %w", uri, err)
	}
	rec, err := s.store.AppendStep(persist, *step)
	if err != nil {
		logger.Error("File committed but step not recorded", "error", err)
		return nil, fmt.Errorf("recording step for %s: %w", uri, err)
	}

	status, applied = "applied", len(step.AppliedChangeIDs)
	logger.Info("Applied changes", "changes", applied, "sequence", rec.Sequence)
	return &ApplyResult{File: file, Step: rec}, nil
}

// ApplyBatch applies several files in order.
//
// # Description
//
// Files are independent: a failure is recorded in that file's BatchResult
// and the batch continues. When progress is non-nil, a started event and
// then an applied or failed event are sent for every file, and progress is
// closed when the batch ends. Sends give up when ctx is done.
func (s *Service) ApplyBatch(ctx context.Context, reqs []ApplyRequest, progress chan<- ProgressEvent) []BatchResult {
	if progress != nil {
		defer close(progress)
	}
	emit := func(ev ProgressEvent) {
		if progress == nil {
			return
		}
		select {
		case progress <- ev:
		case <-ctx.Done():
		}
	}

	results := make([]BatchResult, len(reqs))
	for i, req := range reqs {
		emit(ProgressEvent{URI: req.URI, Index: i, Total: len(reqs), Phase: PhaseStarted})

		res, err := s.Apply(ctx, req.URI, req.ChangeIDs)
		results[i] = BatchResult{URI: req.URI, Result: res, Err: err}
		if err != nil {
			results[i].Error = err.Error()
			emit(ProgressEvent{URI: req.URI, Index: i, Total: len(reqs), Phase: PhaseFailed, Error: err.Error()})
			continue
		}
		emit(ProgressEvent{
			URI:     req.URI,
			Index:   i,
			Total:   len(reqs),
			Phase:   PhaseApplied,
			Applied: len(res.Step.Step.AppliedChangeIDs),
		})
	}
	return results
}

// Discard marks pending changes as discarded.
//
// Already discarded changes are accepted. Applied changes are rejected with
// ErrChangeApplied and nothing is modified.
func (s *Service) Discard(ctx context.Context, ref string, ids []string) (*proposal.ProposedFile, error) {
	if len(ids) == 0 {
		return nil, coordinate.ErrNoChangesSelected
	}
	return s.mutate(ctx, ref, "Service.Discard", func(file *proposal.ProposedFile) error {
		var unknown []string
		for _, id := range ids {
			c, ok := file.Change(id)
			switch {
			case !ok:
				unknown = append(unknown, id)
			case c.Applied:
				return fmt.Errorf("%w: %s", ErrChangeApplied, id)
			}
		}
		if len(unknown) > 0 {
			return &coordinate.UnknownChangeError{IDs: unknown}
		}
		for _, id := range ids {
			c, _ := file.Change(id)
			c.Discarded = true
		}
		proposal.Refresh(file)
		return nil
	})
}

// Skip records a decision to leave a file alone.
func (s *Service) Skip(ctx context.Context, ref, reason string) (*proposal.ProposedFile, error) {
	return s.mutate(ctx, ref, "Service.Skip", func(file *proposal.ProposedFile) error {
		return proposal.MarkSkipped(file, reason)
	})
}

// Revert undoes the latest apply step of a file.
//
// # Description
//
// The file on disk must still equal the step's AfterText; otherwise a
// *commit.ConflictError is returned and nothing changes. On success the
// step's BeforeText is restored, the step's changes are marked pending
// again, and the step is removed from history.
func (s *Service) Revert(ctx context.Context, ref string) (rec store.StepRecord, err error) {
	start := time.Now()
	path, _, uri, err := s.resolve(ref)
	if err != nil {
		return store.StepRecord{}, err
	}

	ctx, span := startSpan(ctx, "Service.Revert", uri)
	status := "error"
	defer func() {
		recordApply(ctx, status, time.Since(start), 0)
		telemetry.EndSpan(span, err)
	}()
	logger := telemetry.LoggerWithFile(ctx, s.logger, uri)

	release, err := s.locks.Acquire(ctx, uri)
	if err != nil {
		return store.StepRecord{}, err
	}
	defer release()

	rec, err = s.store.LastStep(ctx, uri)
	if errors.Is(err, store.ErrNotFound) {
		return store.StepRecord{}, fmt.Errorf("%w: %s", ErrNothingToRevert, uri)
	}
	if err != nil {
		return store.StepRecord{}, err
	}
	file, err := s.store.GetFile(ctx, uri)
	if err != nil {
		return store.StepRecord{}, err
	}

	if err = s.committer.Write(ctx, path, rec.Step.AfterText, rec.Step.BeforeText); err != nil {
		if errors.Is(err, commit.ErrConflict) {
			status = "conflict"
		}
		return store.StepRecord{}, fmt.Errorf("reverting %s: %w", uri, err)
	}

	restored := 0
	for _, id := range rec.Step.AppliedChangeIDs {
		if c, ok := file.Change(id); ok && c.Applied {
			c.Applied = false
			restored++
		}
	}
	if restored != len(rec.Step.AppliedChangeIDs) {
		logger.Warn("Reverted step does not match the current proposal", "restored", restored)
	}

	persist := context.WithoutCancel(ctx)
	if err = s.store.PutFile(persist, file); err != nil {
		return store.StepRecord{}, fmt.Errorf("storing %s: %w", uri, err)
	}
	if _, err = s.store.PopStep(persist, uri); err != nil {
		return store.StepRecord{}, fmt.Errorf("popping step for %s: %w", uri, err)
	}

	status = "reverted"
	logger.Info("Reverted apply step", "sequence", rec.Sequence, "changes", restored)
	return rec, nil
}

// mutate runs fn on the stored file under the file lock and stores the
// result when fn succeeds.
func (s *Service) mutate(ctx context.Context, ref, op string, fn func(*proposal.ProposedFile) error) (file *proposal.ProposedFile, err error) {
	_, _, uri, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	ctx, span := startSpan(ctx, op, uri)
	defer func() { telemetry.EndSpan(span, err) }()

	release, err := s.locks.Acquire(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer release()

	file, err = s.store.GetFile(ctx, uri)
	if err != nil {
		return nil, err
	}
	if err = fn(file); err != nil {
		return nil, err
	}
	if err = s.store.PutFile(ctx, file); err != nil {
		return nil, fmt.Errorf("storing %s: %w", uri, err)
	}
	return file, nil
}

// =============================================================================
// DRIFT
// =============================================================================

// Drifted reports the last verified external change of a file since it was
// planned.
func (s *Service) Drifted(ref string) (lock.ExternalChangeEvent, bool) {
	_, _, uri, err := s.resolve(ref)
	if err != nil {
		return lock.ExternalChangeEvent{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.drift[uri]
	return ev, ok
}

func (s *Service) clearDrift(uri string) {
	s.mu.Lock()
	delete(s.drift, uri)
	s.mu.Unlock()
}

func (s *Service) ensureWatch(uri, path string) {
	if !s.watch {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.watches[uri]; ok {
		return
	}
	stop, err := s.locks.Watch(path, func(ev lock.ExternalChangeEvent) {
		s.onExternalChange(uri, path, ev)
	})
	if err != nil {
		s.logger.Warn("Cannot watch file", "uri", uri, "error", err)
		return
	}
	s.watches[uri] = stop
}

// onExternalChange runs on the watcher goroutine and must not block it.
func (s *Service) onExternalChange(uri, path string, ev lock.ExternalChangeEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.verifyDrift(uri, path, ev)
	}()
}

// verifyDrift compares the file with its expected text once no transaction
// holds the file. Commits made by the Service itself leave the two equal.
func (s *Service) verifyDrift(uri, path string, ev lock.ExternalChangeEvent) {
	ctx, cancel := context.WithTimeout(s.bg, s.driftTimeout)
	defer cancel()

	release, err := s.locks.Acquire(ctx, uri)
	if err != nil {
		return
	}
	defer release()

	file, err := s.store.GetFile(ctx, uri)
	if err != nil {
		return
	}
	current, err := s.readCurrent(ctx, path)
	if err != nil {
		return
	}
	if expected, ok := file.ExpectedText(); ok && expected == current {
		return
	}

	s.mu.Lock()
	s.drift[uri] = ev
	s.mu.Unlock()

	recordExternalChange(ctx, ev)
	s.logger.Warn("Tracked file changed on disk",
		"uri", uri,
		"type", ev.Type.String(),
		"at", ev.At)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) resolve(ref string) (path, rel, uri string, err error) {
	if ref == "" {
		return "", "", "", fmt.Errorf("%w: uri is required", ErrInvalidRequest)
	}
	path, rel, err = s.committer.Resolve(ref)
	if err != nil {
		return "", "", "", err
	}
	return path, rel, commit.URI(path), nil
}

// readCurrent reads a file, treating a missing file as empty.
func (s *Service) readCurrent(ctx context.Context, path string) (string, error) {
	text, err := s.committer.Read(ctx, path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	return text, err
}
