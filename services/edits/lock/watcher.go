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
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeType classifies an external modification.
type ChangeType int

const (
	ChangeWrite ChangeType = iota
	ChangeDelete
	ChangeRename
)

// String returns the lowercase name of the change.
func (c ChangeType) String() string {
	switch c {
	case ChangeWrite:
		return "write"
	case ChangeDelete:
		return "delete"
	case ChangeRename:
		return "rename"
	}
	return fmt.Sprintf("ChangeType(%d)", int(c))
}

// ExternalChangeEvent reports that a watched file changed on disk.
type ExternalChangeEvent struct {
	Path string
	Type ChangeType
	At   time.Time
}

// watcher fans fsnotify events out to per-path callbacks.
//
// Parent directories are watched instead of the files themselves: an atomic
// commit replaces the file by rename, and a watch on the old inode would go
// silent after the first commit.
type watcher struct {
	fs     *fsnotify.Watcher
	logger *slog.Logger

	mu        sync.Mutex
	nextID    int
	callbacks map[string]map[int]func(ExternalChangeEvent)
	dirs      map[string]int

	done chan struct{}
}

func newWatcher(logger *slog.Logger) (*watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	w := &watcher{
		fs:        fs,
		logger:    logger,
		callbacks: make(map[string]map[int]func(ExternalChangeEvent)),
		dirs:      make(map[string]int),
		done:      make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Watch calls fn for every external write, removal or rename of path.
//
// # Description
//
// fn runs on the watcher goroutine; it must not block for long. The watcher
// is created on first use and lives until Close.
//
// # Inputs
//
//   - path: File to watch. Resolved to an absolute path.
//   - fn: Callback for change events.
//
// # Outputs
//
//   - func(): Stops this registration.
//   - error: Non-nil if the watch cannot be installed.
func (m *Manager) Watch(path string, fn func(ExternalChangeEvent)) (func(), error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path %s: %w", path, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if m.watch == nil {
		w, err := newWatcher(m.logger)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		m.watch = w
	}
	w := m.watch
	m.mu.Unlock()

	id, err := w.add(abs, fn)
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { w.remove(abs, id) }) }, nil
}

func (w *watcher) add(path string, fn func(ExternalChangeEvent)) (int, error) {
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dirs[dir] == 0 {
		if err := w.fs.Add(dir); err != nil {
			return 0, fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	w.dirs[dir]++

	w.nextID++
	if w.callbacks[path] == nil {
		w.callbacks[path] = make(map[int]func(ExternalChangeEvent))
	}
	w.callbacks[path][w.nextID] = fn
	return w.nextID, nil
}

func (w *watcher) remove(path string, id int) {
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if cbs, ok := w.callbacks[path]; ok {
		delete(cbs, id)
		if len(cbs) == 0 {
			delete(w.callbacks, path)
		}
	}
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		if err := w.fs.Remove(dir); err != nil {
			w.logger.Debug("Directory was not being watched", "dir", dir)
		}
	}
}

func (w *watcher) close() error {
	err := w.fs.Close()
	<-w.done
	return err
}

func (w *watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", "error", err)
		}
	}
}

func (w *watcher) handle(event fsnotify.Event) {
	var kind ChangeType
	switch {
	case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
		// A rename onto the path arrives as Create.
		kind = ChangeWrite
	case event.Has(fsnotify.Remove):
		kind = ChangeDelete
	case event.Has(fsnotify.Rename):
		kind = ChangeRename
	default:
		return
	}

	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}

	w.mu.Lock()
	cbs := make([]func(ExternalChangeEvent), 0, len(w.callbacks[abs]))
	for _, fn := range w.callbacks[abs] {
		cbs = append(cbs, fn)
	}
	w.mu.Unlock()

	if len(cbs) == 0 {
		return
	}

	ev := ExternalChangeEvent{Path: abs, Type: kind, At: time.Now()}
	for _, fn := range cbs {
		fn(ev)
	}
}
