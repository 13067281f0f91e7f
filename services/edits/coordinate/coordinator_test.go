// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coordinate

import (
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/editkit/services/edits/consistency"
	"github.com/AleutianAI/editkit/services/edits/diff"
	"github.com/AleutianAI/editkit/services/edits/proposal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func remapFile() (*proposal.ProposedFile, string) {
	base := strings.Repeat("0123456789", 5)
	return &proposal.ProposedFile{
		URI:     "file:///w/a.txt",
		Rel:     "a.txt",
		Status:  proposal.StatusChanged,
		OldText: base,
		Changes: []proposal.ProposedChange{
			{ID: "A", Start: 10, End: 20, OldText: base[10:20], NewText: base[10:20] + "+++++"},
			{ID: "B", Start: 30, End: 40, OldText: base[30:40], NewText: "B"},
		},
	}, base
}

func planned(t *testing.T, oldText, newText string) *proposal.ProposedFile {
	t.Helper()
	p := proposal.NewPlanner(diff.DefaultApplyOptions())
	f := p.Begin("file:///w/doc.txt", "doc.txt", oldText)
	require.NoError(t, p.PlanText(f, newText))
	return f
}

func ids(f *proposal.ProposedFile) []string {
	out := make([]string, 0, len(f.Changes))
	for _, c := range f.Changes {
		out = append(out, c.ID)
	}
	return out
}

func TestApplySelected_OffsetRemapping(t *testing.T) {
	t.Run("two steps", func(t *testing.T) {
		f, base := remapFile()

		step1, err := ApplySelected(f, []string{"A"}, base)
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, step1.AppliedChangeIDs)
		assert.Equal(t, base[:20]+"+++++"+base[20:], step1.AfterText)

		start, end := f.EffectiveRange(1)
		assert.Equal(t, 35, start)
		assert.Equal(t, 45, end)

		step2, err := ApplySelected(f, []string{"B"}, step1.AfterText)
		require.NoError(t, err)
		assert.Equal(t, step1.AfterText, step2.BeforeText)
		assert.Equal(t, base[:20]+"+++++"+base[20:30]+"B"+base[40:], step2.AfterText)
		assert.Equal(t, []string{"A", "B"}, f.AppliedIDs())
	})

	t.Run("one step", func(t *testing.T) {
		f, base := remapFile()

		step, err := ApplySelected(f, []string{"B", "A"}, base)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B"}, step.AppliedChangeIDs, "ids follow document order")
		assert.Equal(t, base[:20]+"+++++"+base[20:30]+"B"+base[40:], step.AfterText)
	})
}

func TestApplySelected_Decomposed(t *testing.T) {
	oldText := "package main\n\nfunc a() {}\n\nfunc b() {}\n\nfunc c() {}\n"
	newText := "package main\n\nfunc A() {}\n\nfunc b() {}\n\nfunc C() {}\nfunc d() {}\n"

	t.Run("all at once", func(t *testing.T) {
		f := planned(t, oldText, newText)
		require.Len(t, f.Changes, 2)

		step, err := ApplySelected(f, ids(f), oldText)
		require.NoError(t, err)
		assert.Equal(t, newText, step.AfterText)
		assert.True(t, step.Changed())
	})

	t.Run("successive in reverse order", func(t *testing.T) {
		f := planned(t, oldText, newText)
		current := oldText
		for i := len(f.Changes) - 1; i >= 0; i-- {
			step, err := ApplySelected(f, []string{f.Changes[i].ID}, current)
			require.NoError(t, err)
			current = step.AfterText
		}
		assert.Equal(t, newText, current)
	})
}

func TestApplySelected_SkipsAppliedAndDiscarded(t *testing.T) {
	f, base := remapFile()
	f.Changes[1].Discarded = true

	step, err := ApplySelected(f, []string{"A", "B"}, base)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, step.AppliedChangeIDs)
	assert.False(t, f.Changes[1].Applied)

	again, err := ApplySelected(f, []string{"A"}, step.AfterText)
	require.NoError(t, err)
	assert.Empty(t, again.AppliedChangeIDs)
	assert.False(t, again.Changed())
}

func TestApplySelected_Stale(t *testing.T) {
	f, base := remapFile()
	before := f.Clone()

	step, err := ApplySelected(f, []string{"A"}, "x"+base)
	require.Error(t, err)
	assert.Nil(t, step)
	assert.ErrorIs(t, err, consistency.ErrStaleBaseline)
	assert.Equal(t, before, f, "a refused apply leaves the file untouched")

	var cerr *consistency.Error
	require.True(t, errors.As(err, &cerr))
	assert.True(t, cerr.Has(consistency.CodeStaleBaseline))
}

func TestApplySelected_Overlap(t *testing.T) {
	f := &proposal.ProposedFile{
		OldText: "abcdehello!!world",
		Changes: []proposal.ProposedChange{
			{ID: "c1", Start: 5, End: 10, OldText: "hello", NewText: "hi"},
			{ID: "c2", Start: 5, End: 12, OldText: "hello!!", NewText: "hey"},
		},
	}

	_, err := ApplySelected(f, []string{"c1"}, f.OldText)
	assert.ErrorIs(t, err, consistency.ErrOverlappingChanges)
	assert.False(t, f.Changes[0].Applied)
}

func TestApplySelected_Selection(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		f, base := remapFile()
		_, err := ApplySelected(f, nil, base)
		assert.ErrorIs(t, err, ErrNoChangesSelected)
	})

	t.Run("unknown", func(t *testing.T) {
		f, base := remapFile()
		_, err := ApplySelected(f, []string{"A", "nope"}, base)
		assert.ErrorIs(t, err, ErrUnknownChange)

		var uerr *UnknownChangeError
		require.True(t, errors.As(err, &uerr))
		assert.Equal(t, []string{"nope"}, uerr.IDs)
		assert.False(t, f.Changes[0].Applied)
	})

	t.Run("nil file", func(t *testing.T) {
		_, err := ApplySelected(nil, []string{"A"}, "")
		assert.ErrorIs(t, err, proposal.ErrNilFile)
	})
}

func TestWalk_Revalidates(t *testing.T) {
	f, base := remapFile()

	_, _, err := walk(f, map[string]bool{"B": true}, base[:32])
	require.Error(t, err)
	assert.ErrorIs(t, err, consistency.ErrBaselineMismatch)

	_, _, err = walk(f, map[string]bool{"A": true}, strings.Repeat("z", 50))
	assert.ErrorIs(t, err, consistency.ErrBaselineMismatch)
	assert.False(t, f.Changes[0].Applied)
}
