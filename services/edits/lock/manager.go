// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock serialises apply transactions per file identity and reports
// external modification of files under management.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Config configures a Manager.
type Config struct {
	// Dir holds advisory lock files. Required when Advisory is set.
	Dir string

	// Advisory also takes a cross-process flock for every acquisition.
	Advisory bool

	// SessionID is recorded in lock files for diagnostics.
	SessionID string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// LockInfo is the content of an advisory lock file.
type LockInfo struct {
	Key       string    `json:"key"`
	PID       int       `json:"pid"`
	SessionID string    `json:"session_id,omitempty"`
	LockedAt  time.Time `json:"locked_at"`
}

// slot is the in-process lock of one key. The buffered channel holds a
// token while the key is locked.
type slot struct {
	ch   chan struct{}
	refs int
}

// Manager provides per-key mutual exclusion.
//
// # Description
//
// Acquire blocks until no other holder has the key in this process. With
// Config.Advisory it then takes a non-blocking flock on a lock file derived
// from the key, so two processes never apply to the same file at once. The
// lock file is separate from the target file because commits replace the
// target by rename, which would drop a lock held on its old inode.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	locker FileLocker

	mu     sync.Mutex
	slots  map[string]*slot
	closed bool

	watch *watcher
}

// NewManager creates a Manager.
//
// # Inputs
//
//   - cfg: Manager configuration.
//
// # Outputs
//
//   - *Manager: Ready-to-use manager. Close releases the watcher.
//   - error: Non-nil if the lock directory cannot be created.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Advisory {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("lock: advisory locking needs a lock directory")
		}
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating lock directory %s: %w", cfg.Dir, err)
		}
	}
	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger,
		locker: NewFileLocker(),
		slots:  make(map[string]*slot),
	}, nil
}

// Acquire locks key and returns the function that releases it.
//
// # Description
//
// Waits for the in-process lock until ctx ends. When advisory locking is
// enabled and another process holds the key, the in-process lock is given
// back and a *FileLockError is returned without waiting.
//
// # Inputs
//
//   - ctx: Bounds the wait.
//   - key: File identity, usually its URI.
//
// # Outputs
//
//   - func(): Releases the lock. Safe to call more than once.
//   - error: ctx.Err(), ErrEmptyKey, ErrManagerClosed or *FileLockError.
func (m *Manager) Acquire(ctx context.Context, key string) (func(), error) {
	release, _, err := m.acquire(ctx, key, true)
	return release, err
}

// TryAcquire is Acquire without waiting for in-process holders.
//
// ok is false when the key is held.
func (m *Manager) TryAcquire(key string) (release func(), ok bool, err error) {
	return m.acquire(context.Background(), key, false)
}

func (m *Manager) acquire(ctx context.Context, key string, wait bool) (func(), bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, false, ErrManagerClosed
	}
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	m.mu.Unlock()

	if wait {
		select {
		case s.ch <- struct{}{}:
		case <-ctx.Done():
			m.unref(key, s)
			return nil, false, ctx.Err()
		}
	} else {
		select {
		case s.ch <- struct{}{}:
		default:
			m.unref(key, s)
			return nil, false, nil
		}
	}

	var file *os.File
	if m.cfg.Advisory {
		f, err := m.lockFile(key)
		if err != nil {
			<-s.ch
			m.unref(key, s)
			return nil, false, err
		}
		file = f
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if file != nil {
				m.unlockFile(file)
			}
			<-s.ch
			m.unref(key, s)
		})
	}, true, nil
}

// Held reports the number of keys currently locked in this process.
func (m *Manager) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.slots {
		if len(s.ch) > 0 {
			n++
		}
	}
	return n
}

// Close stops the watcher and refuses further acquisitions. Locks already
// held stay valid until released.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	w := m.watch
	m.watch = nil
	m.mu.Unlock()

	if w != nil {
		return w.close()
	}
	return nil
}

// =============================================================================
// Internal helpers
// =============================================================================

func (m *Manager) unref(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

// lockPath derives the lock file of a key from SHA256[:16].
func (m *Manager) lockPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(m.cfg.Dir, hex.EncodeToString(sum[:])[:16]+".lock")
}

func (m *Manager) lockFile(key string) (*os.File, error) {
	path := m.lockPath(key)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}

	if err := m.locker.Lock(f); err != nil {
		f.Close()
		if err == ErrFileLocked {
			return nil, &FileLockError{Key: key, Holder: readLockInfo(path)}
		}
		return nil, fmt.Errorf("acquiring lock on %s: %w", path, err)
	}

	info := LockInfo{Key: key, PID: os.Getpid(), SessionID: m.cfg.SessionID, LockedAt: time.Now()}
	if data, err := json.Marshal(info); err == nil {
		if err := f.Truncate(0); err == nil {
			_, _ = f.WriteAt(data, 0)
		}
	}

	m.logger.Debug("Acquired advisory lock", "key", key, "lock_file", path)
	return f, nil
}

func (m *Manager) unlockFile(f *os.File) {
	_ = f.Truncate(0)
	if err := m.locker.Unlock(f); err != nil {
		m.logger.Warn("Failed to unlock file", "lock_file", f.Name(), "error", err)
	}
	f.Close()
}

func readLockInfo(path string) *LockInfo {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil
	}
	return &info
}
