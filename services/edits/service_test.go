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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/editkit/services/edits/commit"
	"github.com/AleutianAI/editkit/services/edits/consistency"
	"github.com/AleutianAI/editkit/services/edits/coordinate"
	"github.com/AleutianAI/editkit/services/edits/diff"
	"github.com/AleutianAI/editkit/services/edits/lock"
	"github.com/AleutianAI/editkit/services/edits/proposal"
	"github.com/AleutianAI/editkit/services/edits/store"
	"github.com/AleutianAI/editkit/services/edits/syntax"
)

const (
	fiveLines   = "one\ntwo\nthree\nfour\nfive\n"
	fiveRewrite = "ONE\ntwo\nthree\nfour\nFIVE\n"
)

func newTestService(t *testing.T, watch bool) (*Service, string) {
	t.Helper()
	return newTestServiceWith(t, func(cfg *ServiceConfig) { cfg.WatchFiles = watch })
}

func newTestServiceWith(t *testing.T, configure func(*ServiceConfig)) (*Service, string) {
	t.Helper()
	root := t.TempDir()

	locks, err := lock.NewManager(lock.Config{})
	require.NoError(t, err)
	committer, err := commit.New(commit.Config{Root: root})
	require.NoError(t, err)
	st := store.NewMemory()

	cfg := ServiceConfig{
		Engine:       NewEngine(diff.DefaultApplyOptions()),
		Store:        st,
		Locks:        locks,
		Committer:    committer,
		DriftTimeout: time.Second,
	}
	configure(&cfg)
	svc, err := NewService(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		svc.Close()
		locks.Close()
		st.Close()
	})
	return svc, root
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func planText(t *testing.T, svc *Service, ref, newText string) *proposal.ProposedFile {
	t.Helper()
	file, err := svc.Plan(context.Background(), PlanRequest{URI: ref, NewText: &newText})
	require.NoError(t, err)
	return file
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_PlanApplyRevert(t *testing.T) {
	ctx := context.Background()
	svc, root := newTestService(t, false)
	path := writeFile(t, root, "pkg/a.txt", fiveLines)

	file := planText(t, svc, "pkg/a.txt", fiveRewrite)
	assert.Equal(t, proposal.StatusChanged, file.Status)
	assert.Equal(t, commit.URI(path), file.URI)
	assert.Equal(t, "pkg/a.txt", file.Rel)
	require.Len(t, file.Changes, 2)
	first, last := file.Changes[0].ID, file.Changes[1].ID

	// The later change first; the earlier one must still land where planned.
	res, err := svc.Apply(ctx, file.URI, []string{last})
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\nfour\nFIVE\n", readFile(t, path))
	assert.Equal(t, uint64(1), res.Step.Sequence)
	assert.Equal(t, []string{last}, res.Step.Step.AppliedChangeIDs)

	_, err = svc.Apply(ctx, path, []string{first})
	require.NoError(t, err)
	assert.Equal(t, fiveRewrite, readFile(t, path))

	stored, err := svc.Get(ctx, file.URI)
	require.NoError(t, err)
	assert.Equal(t, []string{first, last}, stored.AppliedIDs())

	steps, err := svc.History(ctx, file.URI)
	require.NoError(t, err)
	assert.Len(t, steps, 2)

	rec, err := svc.Revert(ctx, file.URI)
	require.NoError(t, err)
	assert.Equal(t, []string{first}, rec.Step.AppliedChangeIDs)
	assert.Equal(t, "one\ntwo\nthree\nfour\nFIVE\n", readFile(t, path))

	stored, err = svc.Get(ctx, file.URI)
	require.NoError(t, err)
	assert.Equal(t, []string{last}, stored.AppliedIDs())

	_, err = svc.Revert(ctx, file.URI)
	require.NoError(t, err)
	assert.Equal(t, fiveLines, readFile(t, path))

	_, err = svc.Revert(ctx, file.URI)
	assert.ErrorIs(t, err, ErrNothingToRevert)

	// Every change is pending again and applies cleanly.
	_, err = svc.Apply(ctx, file.URI, []string{first, last})
	require.NoError(t, err)
	assert.Equal(t, fiveRewrite, readFile(t, path))
}

func TestService_Plan(t *testing.T) {
	ctx := context.Background()
	svc, root := newTestService(t, false)

	t.Run("patch", func(t *testing.T) {
		writeFile(t, root, "p.txt", "a\nb\nc\n")
		file, err := svc.Plan(ctx, PlanRequest{URI: "p.txt", Patch: "@@ -1,3 +1,3 @@\n a\n-b\n+B\n c\n"})
		require.NoError(t, err)
		assert.Equal(t, proposal.StatusChanged, file.Status)
		require.Len(t, file.Changes, 1)
		assert.Equal(t, "B\n", file.Changes[0].NewText)
	})

	t.Run("patch that does not apply is stored as error", func(t *testing.T) {
		writeFile(t, root, "q.txt", "a\nb\nc\n")
		file, err := svc.Plan(ctx, PlanRequest{URI: "q.txt", Patch: "@@ -1,1 +1,1 @@\n-zzz\n+yyy\n"})
		require.NoError(t, err)
		assert.Equal(t, proposal.StatusError, file.Status)
		assert.NotEmpty(t, file.Message)

		stored, err := svc.Get(ctx, "q.txt")
		require.NoError(t, err)
		assert.Equal(t, proposal.StatusError, stored.Status)
	})

	t.Run("identical rewrite is unchanged", func(t *testing.T) {
		writeFile(t, root, "same.txt", "x\n")
		file := planText(t, svc, "same.txt", "x\n")
		assert.Equal(t, proposal.StatusUnchanged, file.Status)
		assert.Empty(t, file.Changes)
	})

	t.Run("missing file is created", func(t *testing.T) {
		file := planText(t, svc, "new/dir/c.txt", "hello\n")
		require.Equal(t, proposal.StatusChanged, file.Status)
		require.Len(t, file.Changes, 1)

		_, err := svc.Apply(ctx, "new/dir/c.txt", []string{file.Changes[0].ID})
		require.NoError(t, err)
		assert.Equal(t, "hello\n", readFile(t, filepath.Join(root, "new/dir/c.txt")))
	})

	t.Run("invalid requests", func(t *testing.T) {
		text := "x"
		for _, req := range []PlanRequest{
			{},
			{URI: "a.txt"},
			{URI: "a.txt", NewText: &text, Patch: "@@ -1 +1 @@\n-a\n+b\n"},
		} {
			_, err := svc.Plan(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		}
	})

	t.Run("path outside root", func(t *testing.T) {
		text := "x"
		_, err := svc.Plan(ctx, PlanRequest{URI: "../escape.txt", NewText: &text})
		assert.ErrorIs(t, err, commit.ErrPathEscapes)
	})
}

func TestService_PlanAll(t *testing.T) {
	ctx := context.Background()
	svc, root := newTestService(t, false)

	var reqs []PlanRequest
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		writeFile(t, root, name, "old "+name+"\n")
		text := "new " + name + "\n"
		reqs = append(reqs, PlanRequest{URI: name, NewText: &text})
	}

	files, err := svc.PlanAll(ctx, reqs)
	require.NoError(t, err)
	require.Len(t, files, 3)
	for i, f := range files {
		assert.Equal(t, reqs[i].URI, f.Rel)
		assert.Equal(t, proposal.StatusChanged, f.Status)
	}

	listed, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 3)

	_, err = svc.PlanAll(ctx, []PlanRequest{reqs[0], {URI: filepath.Join(root, "a.txt"), NewText: reqs[0].NewText}})
	assert.ErrorIs(t, err, ErrDuplicateFile)
}

func TestService_ApplyStale(t *testing.T) {
	ctx := context.Background()
	svc, root := newTestService(t, false)
	path := writeFile(t, root, "a.txt", fiveLines)
	file := planText(t, svc, "a.txt", fiveRewrite)

	require.NoError(t, os.WriteFile(path, []byte("edited elsewhere\n"), 0o644))

	issues, err := svc.Check(ctx, "a.txt")
	require.NoError(t, err)
	assert.NotEmpty(t, consistency.WithCode(issues, consistency.CodeStaleBaseline))

	_, err = svc.Apply(ctx, "a.txt", []string{file.Changes[0].ID})
	assert.ErrorIs(t, err, consistency.ErrStaleBaseline)
	assert.Equal(t, "edited elsewhere\n", readFile(t, path))

	stored, err := svc.Get(ctx, "a.txt")
	require.NoError(t, err)
	assert.Empty(t, stored.AppliedIDs())

	steps, err := svc.History(ctx, "a.txt")
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestService_RevertConflict(t *testing.T) {
	ctx := context.Background()
	svc, root := newTestService(t, false)
	path := writeFile(t, root, "a.txt", fiveLines)
	file := planText(t, svc, "a.txt", fiveRewrite)

	_, err := svc.Apply(ctx, "a.txt", []string{file.Changes[0].ID})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("edited elsewhere\n"), 0o644))

	_, err = svc.Revert(ctx, "a.txt")
	assert.ErrorIs(t, err, commit.ErrConflict)
	assert.Equal(t, "edited elsewhere\n", readFile(t, path))

	steps, err := svc.History(ctx, "a.txt")
	require.NoError(t, err)
	assert.Len(t, steps, 1)
}

func TestService_CheckSyntax(t *testing.T) {
	ctx := context.Background()
	svc, root := newTestServiceWith(t, func(cfg *ServiceConfig) { cfg.Syntax = syntax.NewChecker(0) })
	src := "package a\n\nfunc f() int {\n\treturn 1\n}\n"
	writeFile(t, root, "a.go", src)

	file := planText(t, svc, "a.go", "package a\n\nfunc f() int {\n\treturn 1 +\n}\n")
	require.Equal(t, proposal.StatusChanged, file.Status)

	issues, err := svc.Check(ctx, "a.go")
	require.NoError(t, err)
	found := consistency.WithCode(issues, syntax.CodeSyntaxError)
	require.NotEmpty(t, found)
	assert.False(t, consistency.Blocking(issues), "syntax advice never blocks")

	ids := make([]string, 0, len(file.Changes))
	for _, c := range file.Changes {
		ids = append(ids, c.ID)
	}
	_, err = svc.Discard(ctx, "a.go", ids)
	require.NoError(t, err)
	issues, err = svc.Check(ctx, "a.go")
	require.NoError(t, err)
	assert.Empty(t, consistency.WithCode(issues, syntax.CodeSyntaxError), "discarded changes are not checked")
}

func TestService_DiscardAndSkip(t *testing.T) {
	ctx := context.Background()
	svc, root := newTestService(t, false)
	writeFile(t, root, "a.txt", fiveLines)
	file := planText(t, svc, "a.txt", fiveRewrite)
	first, last := file.Changes[0].ID, file.Changes[1].ID

	t.Run("errors leave the file untouched", func(t *testing.T) {
		_, err := svc.Discard(ctx, "a.txt", nil)
		assert.ErrorIs(t, err, coordinate.ErrNoChangesSelected)

		_, err = svc.Discard(ctx, "a.txt", []string{first, "nope"})
		assert.ErrorIs(t, err, coordinate.ErrUnknownChange)

		stored, err := svc.Get(ctx, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, 2, stored.LiveCount())
	})

	t.Run("discard refreshes status", func(t *testing.T) {
		f, err := svc.Discard(ctx, "a.txt", []string{first})
		require.NoError(t, err)
		assert.Equal(t, proposal.StatusChanged, f.Status)

		_, err = svc.Apply(ctx, "a.txt", []string{first})
		assert.ErrorIs(t, err, coordinate.ErrNoChangesSelected)

		_, err = svc.Apply(ctx, "a.txt", []string{last})
		require.NoError(t, err)

		_, err = svc.Discard(ctx, "a.txt", []string{last})
		assert.ErrorIs(t, err, ErrChangeApplied)
	})

	t.Run("skip", func(t *testing.T) {
		writeFile(t, root, "b.txt", "b\n")
		planText(t, svc, "b.txt", "B\n")

		f, err := svc.Skip(ctx, "b.txt", "not relevant")
		require.NoError(t, err)
		assert.Equal(t, proposal.StatusSkipped, f.Status)
		assert.Equal(t, "not relevant", f.Message)

		_, err = svc.Skip(ctx, "b.txt", "again")
		assert.ErrorIs(t, err, proposal.ErrInvalidTransition)

		_, err = svc.Apply(ctx, "b.txt", []string{f.Changes[0].ID})
		assert.ErrorIs(t, err, proposal.ErrInvalidTransition, "a skipped file stays skipped")
		assert.Equal(t, "b\n", readFile(t, filepath.Join(root, "b.txt")))
	})

	t.Run("unknown file", func(t *testing.T) {
		_, err := svc.Skip(ctx, "never.txt", "")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestService_ConcurrentApplies(t *testing.T) {
	ctx := context.Background()
	svc, root := newTestService(t, false)
	path := writeFile(t, root, "a.txt", fiveLines)
	file := planText(t, svc, "a.txt", fiveRewrite)

	var wg sync.WaitGroup
	errs := make([]error, len(file.Changes))
	for i, c := range file.Changes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Apply(ctx, "a.txt", []string{c.ID})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, fiveRewrite, readFile(t, path))

	steps, err := svc.History(ctx, "a.txt")
	require.NoError(t, err)
	assert.Len(t, steps, 2)
}

func TestService_ApplyCancelled(t *testing.T) {
	svc, root := newTestService(t, false)
	path := writeFile(t, root, "a.txt", fiveLines)
	file := planText(t, svc, "a.txt", fiveRewrite)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Apply(ctx, "a.txt", []string{file.Changes[0].ID})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, fiveLines, readFile(t, path))
}

func TestService_ApplyBatch(t *testing.T) {
	ctx := context.Background()
	svc, root := newTestService(t, false)
	writeFile(t, root, "a.txt", "a\n")
	writeFile(t, root, "b.txt", "b\n")
	fa := planText(t, svc, "a.txt", "A\n")
	fb := planText(t, svc, "b.txt", "B\n")

	reqs := []ApplyRequest{
		{URI: "a.txt", ChangeIDs: []string{fa.Changes[0].ID}},
		{URI: "b.txt", ChangeIDs: []string{"unknown"}},
		{URI: "b.txt", ChangeIDs: []string{fb.Changes[0].ID}},
	}

	progress := make(chan ProgressEvent, 16)
	results := svc.ApplyBatch(ctx, reqs, progress)

	var events []ProgressEvent
	for ev := range progress {
		events = append(events, ev)
	}

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, coordinate.ErrUnknownChange)
	assert.NotEmpty(t, results[1].Error)
	assert.NoError(t, results[2].Err)

	require.Len(t, events, 6)
	phases := make([]ProgressPhase, len(events))
	for i, ev := range events {
		phases[i] = ev.Phase
		assert.Equal(t, 3, ev.Total)
	}
	assert.Equal(t, []ProgressPhase{
		PhaseStarted, PhaseApplied,
		PhaseStarted, PhaseFailed,
		PhaseStarted, PhaseApplied,
	}, phases)
	assert.Equal(t, 1, events[1].Applied)

	assert.Equal(t, "A\n", readFile(t, filepath.Join(root, "a.txt")))
	assert.Equal(t, "B\n", readFile(t, filepath.Join(root, "b.txt")))

	// A nil channel is allowed.
	assert.Len(t, svc.ApplyBatch(ctx, reqs[:1], nil), 1)
}

func TestService_Drift(t *testing.T) {
	ctx := context.Background()
	svc, root := newTestService(t, true)

	t.Run("external write is flagged", func(t *testing.T) {
		path := writeFile(t, root, "a.txt", fiveLines)
		planText(t, svc, "a.txt", fiveRewrite)

		require.NoError(t, os.WriteFile(path, []byte("someone else\n"), 0o644))
		assert.Eventually(t, func() bool {
			_, ok := svc.Drifted("a.txt")
			return ok
		}, 3*time.Second, 20*time.Millisecond)

		planText(t, svc, "a.txt", fiveRewrite)
		_, ok := svc.Drifted("a.txt")
		assert.False(t, ok, "planning again clears drift")
	})

	t.Run("own commits are not drift", func(t *testing.T) {
		writeFile(t, root, "b.txt", fiveLines)
		file := planText(t, svc, "b.txt", fiveRewrite)

		_, err := svc.Apply(ctx, "b.txt", []string{file.Changes[0].ID})
		require.NoError(t, err)
		assert.Never(t, func() bool {
			_, ok := svc.Drifted("b.txt")
			return ok
		}, 300*time.Millisecond, 20*time.Millisecond)
	})
}

func TestEngine(t *testing.T) {
	e := NewEngine(diff.DefaultApplyOptions())

	changes := e.Decompose(fiveLines, fiveRewrite)
	require.Len(t, changes, 2)
	assert.Equal(t, fiveRewrite, proposal.Splice(fiveLines, changes))

	file := &proposal.ProposedFile{URI: "file:///a", Rel: "a", Status: proposal.StatusChanged, OldText: fiveLines, Changes: changes}
	assert.Empty(t, e.CheckConsistency(file, fiveLines))

	advisory := consistency.Issue{Severity: consistency.SeverityError, Message: "lint", Source: consistency.SourceTool}
	issues := e.CheckConsistency(file, fiveLines, advisory)
	require.Len(t, issues, 1)
	assert.Equal(t, consistency.SeverityWarn, issues[0].Severity)
	assert.Equal(t, "a", issues[0].Rel)
	assert.False(t, consistency.Blocking(issues))

	step, err := e.ApplySelected(file, []string{changes[1].ID}, fiveLines)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\nfour\nFIVE\n", step.AfterText)

	out, err := e.ApplyRawPatch("a\nb\n", "@@ -1,2 +1,2 @@\n a\n-b\n+c\n")
	require.NoError(t, err)
	assert.Equal(t, "a\nc\n", out)

	res, hunks, err := e.ApplyRawPatchDetailed("a\nc\n", "@@ -1,2 +1,2 @@\n a\n-b\n+c\n")
	require.NoError(t, err)
	assert.Len(t, hunks, 1)
	assert.False(t, res.Changed(), "reapplying is a no-op")

	_, _, err = e.ApplyRawPatchDetailed("a\n", "@@ -1,2 +1,2 @@\n a\n")
	assert.ErrorIs(t, err, diff.ErrTruncated)

	preview, err := e.Preview("a.txt", "a\n", "b\n", -1)
	require.NoError(t, err)
	assert.Contains(t, preview, "-a\n+b\n")
}

func writeFileErr(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
