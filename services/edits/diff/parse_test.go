// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diff

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("single hunk with file header", func(t *testing.T) {
		patch := "--- a/notes.txt\n+++ b/notes.txt\n@@ -1,3 +1,3 @@\n line1\n-line2\n+line2-edited\n line3\n"

		hunks, err := Parse(patch)
		require.NoError(t, err)
		require.Len(t, hunks, 1)

		h := hunks[0]
		assert.Equal(t, 1, h.OrigStart)
		assert.Equal(t, 3, h.OrigCount)
		assert.Equal(t, 1, h.NewStart)
		assert.Equal(t, 3, h.NewCount)
		assert.Equal(t, []Line{
			{Op: OpContext, Text: "line1"},
			{Op: OpRemove, Text: "line2"},
			{Op: OpAdd, Text: "line2-edited"},
			{Op: OpContext, Text: "line3"},
		}, h.Lines)
	})

	t.Run("git preamble is ignored", func(t *testing.T) {
		patch := "diff --git a/x.go b/x.go\nindex 83db48f..bf269f4 100644\n--- a/x.go\n+++ b/x.go\n@@ -2,1 +2,1 @@ func main() {\n-\tfoo()\n+\tbar()\n"

		hunks, err := Parse(patch)
		require.NoError(t, err)
		require.Len(t, hunks, 1)
		assert.Equal(t, "func main() {", hunks[0].Section)
		assert.Equal(t, "\tbar()", hunks[0].Lines[1].Text)
	})

	t.Run("omitted counts default to one", func(t *testing.T) {
		hunks, err := Parse("@@ -4 +4 @@\n-old\n+new\n")
		require.NoError(t, err)
		require.Len(t, hunks, 1)
		assert.Equal(t, 1, hunks[0].OrigCount)
		assert.Equal(t, 1, hunks[0].NewCount)
	})

	t.Run("multiple hunks", func(t *testing.T) {
		patch := "@@ -1,2 +1,2 @@\n-a\n+A\n b\n@@ -10,2 +10,3 @@\n x\n+y\n z\n"

		hunks, err := Parse(patch)
		require.NoError(t, err)
		require.Len(t, hunks, 2)
		assert.Equal(t, 10, hunks[1].OrigStart)
		assert.Equal(t, 3, hunks[1].NewCount)
	})

	t.Run("body lines that look like file headers", func(t *testing.T) {
		hunks, err := Parse("@@ -1 +1 @@\n--- old\n+++ new\n")
		require.NoError(t, err)
		require.Len(t, hunks, 1)
		assert.Equal(t, []Line{
			{Op: OpRemove, Text: "-- old"},
			{Op: OpAdd, Text: "++ new"},
		}, hunks[0].Lines)
	})

	t.Run("no newline markers", func(t *testing.T) {
		patch := "@@ -1 +1 @@\n-last\n\\ No newline at end of file\n+last\n"

		hunks, err := Parse(patch)
		require.NoError(t, err)
		require.Len(t, hunks[0].Lines, 2)
		assert.True(t, hunks[0].Lines[0].NoNewline)
		assert.False(t, hunks[0].Lines[1].NoNewline)
	})

	t.Run("trailing marker after final line", func(t *testing.T) {
		patch := "@@ -1 +1 @@\n-a\n+b\n\\ No newline at end of file\n"

		hunks, err := Parse(patch)
		require.NoError(t, err)
		assert.True(t, hunks[0].Lines[1].NoNewline)
	})

	t.Run("empty line inside hunk is context", func(t *testing.T) {
		hunks, err := Parse("@@ -1,3 +1,3 @@\n a\n\n-b\n+c\n")
		require.NoError(t, err)
		assert.Equal(t, Line{Op: OpContext, Text: ""}, hunks[0].Lines[1])
	})

	t.Run("trailing blank lines are ignored", func(t *testing.T) {
		hunks, err := Parse("@@ -1 +1 @@\n-a\n+b\n\n\n")
		require.NoError(t, err)
		assert.Len(t, hunks, 1)
	})

	t.Run("carriage returns are kept", func(t *testing.T) {
		hunks, err := Parse("@@ -1 +1 @@\r\n-a\r\n+b\r\n")
		require.NoError(t, err)
		assert.Empty(t, hunks[0].Section)
		assert.Equal(t, "a\r", hunks[0].Lines[0].Text)
		assert.Equal(t, "b\r", hunks[0].Lines[1].Text)
	})
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		patch    string
		reason   ParseReason
		sentinel error
		line     int
	}{
		{
			name:     "empty patch",
			patch:    "",
			reason:   ReasonMalformedHeader,
			sentinel: ErrMalformedHeader,
			line:     1,
		},
		{
			name:     "non-numeric range",
			patch:    "@@ -a,1 +1,1 @@\n-x\n+y\n",
			reason:   ReasonMalformedHeader,
			sentinel: ErrMalformedHeader,
			line:     1,
		},
		{
			name:     "missing plus header",
			patch:    "--- a/x\n@@ -1 +1 @@\n-x\n+y\n",
			reason:   ReasonMalformedHeader,
			sentinel: ErrMalformedHeader,
			line:     2,
		},
		{
			name:     "multiple files",
			patch:    "--- a/x\n+++ b/x\n@@ -1 +1 @@\n-x\n+y\n--- a/z\n+++ b/z\n@@ -1 +1 @@\n-x\n+y\n",
			reason:   ReasonMalformedHeader,
			sentinel: ErrMalformedHeader,
			line:     6,
		},
		{
			name:     "truncated mid hunk",
			patch:    "@@ -1,3 +1,3 @@\n line1\n-line2\n",
			reason:   ReasonTruncated,
			sentinel: ErrTruncated,
			line:     3,
		},
		{
			name:     "extra body line",
			patch:    "@@ -1,1 +1,1 @@\n-a\n+b\n+c\n",
			reason:   ReasonCountMismatch,
			sentinel: ErrCountMismatch,
			line:     4,
		},
		{
			name:     "header arrives before counts are met",
			patch:    "@@ -1,2 +1,2 @@\n a\n@@ -5 +5 @@\n-x\n+y\n",
			reason:   ReasonCountMismatch,
			sentinel: ErrCountMismatch,
			line:     3,
		},
		{
			name:     "too many removals",
			patch:    "@@ -1,1 +1,2 @@\n-a\n-b\n+c\n",
			reason:   ReasonCountMismatch,
			sentinel: ErrCountMismatch,
			line:     3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.patch)
			require.Error(t, err)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.reason, perr.Reason)
			assert.Equal(t, tt.line, perr.Line)
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func TestHunk_JSON(t *testing.T) {
	h := Hunk{
		OrigStart: 1, OrigCount: 1, NewStart: 1, NewCount: 1,
		Lines: []Line{{Op: OpRemove, Text: "a"}, {Op: OpAdd, Text: "b"}},
	}

	data, err := json.Marshal(h)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"origStart":1,"origCount":1,"newStart":1,"newCount":1,"lines":[{"op":"remove","text":"a"},{"op":"add","text":"b"}]}`,
		string(data))

	var bad Line
	assert.Error(t, json.Unmarshal([]byte(`{"op":"replace","text":"x"}`), &bad))
}
