// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/editkit/services/edits/proposal"
)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemory()
		},
		"badger": func(t *testing.T) Store {
			cfg := DefaultBadgerConfig()
			cfg.InMemory = true
			cfg.SyncWrites = false
			b, err := OpenBadger(cfg)
			require.NoError(t, err)
			return b
		},
	}
}

func sampleFile(uri string) *proposal.ProposedFile {
	return &proposal.ProposedFile{
		URI:     uri,
		Rel:     "a.txt",
		Status:  proposal.StatusChanged,
		OldText: "a\nb\n",
		Changes: []proposal.ProposedChange{
			{ID: "c1", Start: 2, End: 4, OldText: "b\n", NewText: "B\n"},
		},
	}
}

func sampleStep(uri, before, after string) proposal.ApplyStepFile {
	return proposal.ApplyStepFile{
		URI:              uri,
		Rel:              "a.txt",
		BeforeText:       before,
		AfterText:        after,
		AppliedChangeIDs: []string{"c1"},
	}
}

func TestStore_Files(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()

			_, err := s.GetFile(ctx, "file:///w/a.txt")
			assert.ErrorIs(t, err, ErrNotFound)

			f := sampleFile("file:///w/a.txt")
			require.NoError(t, s.PutFile(ctx, f))

			got, err := s.GetFile(ctx, f.URI)
			require.NoError(t, err)
			assert.Equal(t, f, got)

			got.Changes[0].Applied = true
			again, err := s.GetFile(ctx, f.URI)
			require.NoError(t, err)
			assert.False(t, again.Changes[0].Applied, "returned values are copies")

			require.NoError(t, s.PutFile(ctx, sampleFile("file:///w/0.txt")))
			list, err := s.ListFiles(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "file:///w/0.txt", list[0].URI)
			assert.Equal(t, "file:///w/a.txt", list[1].URI)

			require.NoError(t, s.DeleteFile(ctx, f.URI))
			_, err = s.GetFile(ctx, f.URI)
			assert.ErrorIs(t, err, ErrNotFound)
			require.NoError(t, s.DeleteFile(ctx, "file:///missing"))

			assert.Error(t, s.PutFile(ctx, nil))
			assert.Error(t, s.PutFile(ctx, &proposal.ProposedFile{}))
		})
	}
}

func TestStore_Steps(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()
			uri := "file:///w/a.txt"

			_, err := s.LastStep(ctx, uri)
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.PopStep(ctx, uri)
			assert.ErrorIs(t, err, ErrNotFound)

			r1, err := s.AppendStep(ctx, sampleStep(uri, "a", "b"))
			require.NoError(t, err)
			r2, err := s.AppendStep(ctx, sampleStep(uri, "b", "c"))
			require.NoError(t, err)
			_, err = s.AppendStep(ctx, sampleStep(uri+"x", "q", "r"))
			require.NoError(t, err)

			assert.Equal(t, uint64(1), r1.Sequence)
			assert.Equal(t, uint64(2), r2.Sequence)
			assert.NotEqual(t, r1.ID, r2.ID)

			steps, err := s.Steps(ctx, uri)
			require.NoError(t, err)
			require.Len(t, steps, 2, "a longer uri sharing the prefix is a different history")
			assert.Equal(t, "b", steps[0].Step.AfterText)
			assert.Equal(t, "c", steps[1].Step.AfterText)

			last, err := s.LastStep(ctx, uri)
			require.NoError(t, err)
			assert.Equal(t, r2.ID, last.ID)

			popped, err := s.PopStep(ctx, uri)
			require.NoError(t, err)
			assert.Equal(t, r2.ID, popped.ID)
			assert.Equal(t, []string{"c1"}, popped.Step.AppliedChangeIDs)

			r3, err := s.AppendStep(ctx, sampleStep(uri, "b", "d"))
			require.NoError(t, err)
			assert.Equal(t, uint64(3), r3.Sequence, "sequences are never reused")

			require.NoError(t, s.DeleteFile(ctx, uri))
			steps, err = s.Steps(ctx, uri)
			require.NoError(t, err)
			assert.Empty(t, steps)
		})
	}
}

func TestStore_ConcurrentAppend(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()
			uri := "file:///w/a.txt"

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := s.AppendStep(ctx, sampleStep(uri, fmt.Sprint(i), fmt.Sprint(i+1)))
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			steps, err := s.Steps(ctx, uri)
			require.NoError(t, err)
			require.Len(t, steps, 20)
			for i, st := range steps {
				assert.Equal(t, uint64(i+1), st.Sequence)
			}
		})
	}
}

func TestStore_Closed(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			require.NoError(t, s.Close())
			_, err := s.GetFile(context.Background(), "x")
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestStore_CancelledContext(t *testing.T) {
	s := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.PutFile(ctx, sampleFile("x")), context.Canceled)
}

func TestBadger_Persists(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultBadgerConfig()
	cfg.Path = dir
	cfg.GCInterval = 0

	b, err := OpenBadger(cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, b.PutFile(ctx, sampleFile("file:///w/a.txt")))
	_, err = b.AppendStep(ctx, sampleStep("file:///w/a.txt", "a", "b"))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b2, err := OpenBadger(cfg)
	require.NoError(t, err)
	defer b2.Close()

	f, err := b2.GetFile(ctx, "file:///w/a.txt")
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusChanged, f.Status)

	last, err := b2.LastStep(ctx, "file:///w/a.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), last.Sequence)
}

func TestOpen(t *testing.T) {
	s, err := Open(Config{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)
	require.NoError(t, s.Close())

	s, err = Open(Config{Backend: BackendBadger})
	require.NoError(t, err)
	assert.IsType(t, &Badger{}, s)
	require.NoError(t, s.Close())

	_, err = Open(Config{Backend: "etcd"})
	assert.Error(t, err)

	_, err = OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}
