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
	"fmt"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecompose(t *testing.T) {
	t.Run("equal texts", func(t *testing.T) {
		changes := Decompose("a\nb\n", "a\nb\n")
		assert.NotNil(t, changes)
		assert.Empty(t, changes)
	})

	t.Run("single replaced line", func(t *testing.T) {
		changes := Decompose("a\nb\nc\n", "a\nB\nc\n")
		require.Len(t, changes, 1)

		c := changes[0]
		assert.Equal(t, 0, c.SegmentIndex)
		assert.Equal(t, 2, c.Start)
		assert.Equal(t, 4, c.End)
		assert.Equal(t, "b\n", c.OldText)
		assert.Equal(t, "B\n", c.NewText)
		assert.False(t, c.Applied)
		assert.False(t, c.Discarded)
		assert.NotEmpty(t, c.ID)
	})

	t.Run("pure insertion", func(t *testing.T) {
		changes := Decompose("a\nc\n", "a\nb\nc\n")
		require.Len(t, changes, 1)
		assert.Equal(t, 2, changes[0].Start)
		assert.Equal(t, 2, changes[0].End)
		assert.Empty(t, changes[0].OldText)
		assert.Equal(t, "b\n", changes[0].NewText)
	})

	t.Run("adjacent lines coalesce", func(t *testing.T) {
		changes := Decompose("a\nb\nc\nd\n", "a\nX\nY\nd\n")
		require.Len(t, changes, 1)
		assert.Equal(t, "b\nc\n", changes[0].OldText)
		assert.Equal(t, "X\nY\n", changes[0].NewText)
	})

	t.Run("separated edits stay separate", func(t *testing.T) {
		changes := Decompose("a\nb\nc\nd\ne\n", "a\nc\nd\nE\ne\n")
		require.Len(t, changes, 2)
		assert.Equal(t, "b\n", changes[0].OldText)
		assert.Empty(t, changes[0].NewText)
		assert.Equal(t, 2, changes[0].Start)
		assert.Empty(t, changes[1].OldText)
		assert.Equal(t, "E\n", changes[1].NewText)
		assert.Equal(t, 1, changes[1].SegmentIndex)
		assert.Less(t, changes[0].Start, changes[1].Start)
	})

	t.Run("ties prefer the common prefix", func(t *testing.T) {
		changes := Decompose("a\na\n", "a\na\na\n")
		require.Len(t, changes, 1)
		assert.Equal(t, 4, changes[0].Start)
		assert.Equal(t, 4, changes[0].End)
	})

	t.Run("final newline change", func(t *testing.T) {
		changes := Decompose("a\nb", "a\nb\n")
		require.Len(t, changes, 1)
		assert.Equal(t, "b", changes[0].OldText)
		assert.Equal(t, "b\n", changes[0].NewText)
	})
}

func TestDecompose_Reproduces(t *testing.T) {
	pairs := [][2]string{
		{"", "hello\n"},
		{"hello\n", ""},
		{"a\nb\nc\n", "c\nb\na\n"},
		{"one\ntwo\nthree\nfour\nfive\n", "one\n2\nthree\nfour\n4.5\nfive\nsix\n"},
		{"x\r\ny\r\n", "x\r\nY\r\n"},
		{"no newline", "no newline at all"},
		{strings.Repeat("same\n", 50), strings.Repeat("same\n", 25) + "diff\n" + strings.Repeat("same\n", 25)},
	}

	for _, p := range pairs {
		changes := Decompose(p[0], p[1])
		assert.Equal(t, p[1], Splice(p[0], changes), "old %q new %q", p[0], p[1])

		for i, c := range changes {
			assert.Equal(t, c.OldText, p[0][c.Start:c.End])
			if i > 0 {
				assert.LessOrEqual(t, changes[i-1].End, c.Start)
			}
		}
	}
}

func TestDecompose_Deterministic(t *testing.T) {
	oldText := "a\nb\nc\nd\ne\nf\n"
	newText := "a\nc\nB\nd\nf\ng\n"

	first := Decompose(oldText, newText)
	second := Decompose(oldText, newText)
	assert.Equal(t, first, second)

	seen := make(map[string]bool)
	for _, c := range first {
		assert.False(t, seen[c.ID], "duplicate id %s", c.ID)
		seen[c.ID] = true
		assert.Equal(t, ChangeID(c), c.ID)
	}
}

func TestShortestEdit_Minimal(t *testing.T) {
	a := []string{"a", "b", "c", "a", "b", "b", "a"}
	b := []string{"c", "b", "a", "b", "a", "c"}

	ops := shortestEdit(a, b)
	edits := 0
	for _, op := range ops {
		if op.kind != opEqual {
			edits++
		}
	}
	// The classic Myers example has an edit distance of 5.
	assert.Equal(t, 5, edits)
}

func TestDecompose_FullRewriteMemory(t *testing.T) {
	const n = 4000
	var oldText, newText strings.Builder
	for i := range n {
		fmt.Fprintf(&oldText, "old line %d\n", i)
		fmt.Fprintf(&newText, "new line %d\n", i)
	}
	a, b := oldText.String(), newText.String()

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	changes := Decompose(a, b)
	runtime.ReadMemStats(&after)

	require.Len(t, changes, 1)
	assert.Equal(t, a, changes[0].OldText)
	assert.Equal(t, b, changes[0].NewText)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(16<<20),
		"decomposing two unrelated %d line documents", n)
}
