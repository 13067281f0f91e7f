// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, advisory bool) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Dir:       filepath.Join(t.TempDir(), "locks"),
		Advisory:  advisory,
		SessionID: "test-session",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManager_Serialises(t *testing.T) {
	m := newTestManager(t, false)

	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(context.Background(), "file:///w/a.txt")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Equal(t, 0, m.Held())
}

func TestManager_DistinctKeysDoNotBlock(t *testing.T) {
	m := newTestManager(t, false)

	relA, err := m.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer relA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	relB, err := m.Acquire(ctx, "b")
	require.NoError(t, err)
	relB()
	assert.Equal(t, 1, m.Held())
}

func TestManager_AcquireHonoursContext(t *testing.T) {
	m := newTestManager(t, false)

	release, err := m.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // idempotent

	again, err := m.Acquire(context.Background(), "k")
	require.NoError(t, err)
	again()
}

func TestManager_TryAcquire(t *testing.T) {
	m := newTestManager(t, false)

	release, ok, err := m.TryAcquire("k")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = m.TryAcquire("k")
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release, ok, err = m.TryAcquire("k")
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestManager_Errors(t *testing.T) {
	m := newTestManager(t, false)

	_, err := m.Acquire(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyKey)

	require.NoError(t, m.Close())
	_, err = m.Acquire(context.Background(), "k")
	assert.ErrorIs(t, err, ErrManagerClosed)

	_, err = NewManager(Config{Advisory: true})
	assert.Error(t, err)
}

func TestManager_Advisory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")
	first, err := NewManager(Config{Dir: dir, Advisory: true, SessionID: "one"})
	require.NoError(t, err)
	defer first.Close()
	second, err := NewManager(Config{Dir: dir, Advisory: true, SessionID: "two"})
	require.NoError(t, err)
	defer second.Close()

	release, err := first.Acquire(context.Background(), "file:///w/a.txt")
	require.NoError(t, err)

	_, err = second.Acquire(context.Background(), "file:///w/a.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileLocked)

	var lerr *FileLockError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, "file:///w/a.txt", lerr.Key)
	if assert.NotNil(t, lerr.Holder) {
		assert.Equal(t, os.Getpid(), lerr.Holder.PID)
		assert.Equal(t, "one", lerr.Holder.SessionID)
	}
	assert.Equal(t, 0, second.Held(), "a refused advisory lock gives the in-process lock back")

	release()
	rel2, err := second.Acquire(context.Background(), "file:///w/a.txt")
	require.NoError(t, err)
	rel2()
}

func TestManager_Watch(t *testing.T) {
	m := newTestManager(t, false)
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\n"), 0o644))

	events := make(chan ExternalChangeEvent, 16)
	stop, err := m.Watch(path, func(ev ExternalChangeEvent) { events <- ev })
	require.NoError(t, err)

	// Unrelated files in the same directory are filtered out.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("two\n"), 0o644))

	select {
	case ev := <-events:
		assert.Equal(t, path, ev.Path)
		assert.Equal(t, ChangeWrite, ev.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("no change event")
	}

	stop()
	stop()
}

func TestChangeType_String(t *testing.T) {
	assert.Equal(t, "write", ChangeWrite.String())
	assert.Equal(t, "delete", ChangeDelete.String())
	assert.Equal(t, "rename", ChangeRename.String())
	assert.Equal(t, "ChangeType(9)", ChangeType(9).String())
}
