// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists proposed files and their apply history.
//
// Two backends exist: Memory for tests and short-lived processes, and
// Badger for an embedded on-disk store that survives restarts.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/editkit/services/edits/proposal"
)

var (
	// ErrNotFound is returned when a file or step does not exist.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store is closed")
)

// StepRecord is an ApplyStepFile with its place in the file's history.
type StepRecord struct {
	// ID is a random UUID for external reference.
	ID string `json:"id"`

	// Sequence orders steps of one file, starting at 1.
	Sequence uint64 `json:"sequence"`

	AppliedAt time.Time              `json:"appliedAt"`
	Step      proposal.ApplyStepFile `json:"step"`
}

// Store persists ProposedFile snapshots keyed by URI and an append-only
// history of ApplyStepFile records per URI.
//
// # Thread Safety
//
// Implementations are safe for concurrent use. Returned values are copies;
// mutating them does not affect the store.
type Store interface {
	// GetFile returns the file stored under uri, or ErrNotFound.
	GetFile(ctx context.Context, uri string) (*proposal.ProposedFile, error)

	// PutFile stores f under f.URI, replacing any previous value.
	PutFile(ctx context.Context, f *proposal.ProposedFile) error

	// DeleteFile removes the file and its history. Missing files are ignored.
	DeleteFile(ctx context.Context, uri string) error

	// ListFiles returns every stored file ordered by URI.
	ListFiles(ctx context.Context) ([]*proposal.ProposedFile, error)

	// AppendStep adds step to the history of step.URI.
	AppendStep(ctx context.Context, step proposal.ApplyStepFile) (StepRecord, error)

	// Steps returns the history of uri, oldest first.
	Steps(ctx context.Context, uri string) ([]StepRecord, error)

	// LastStep returns the newest step of uri, or ErrNotFound.
	LastStep(ctx context.Context, uri string) (StepRecord, error)

	// PopStep removes and returns the newest step of uri, or ErrNotFound.
	PopStep(ctx context.Context, uri string) (StepRecord, error)

	// Close releases resources.
	Close() error
}

// Backend names a Store implementation.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Config selects and configures a backend.
type Config struct {
	// Backend is BackendMemory or BackendBadger. Empty means memory.
	Backend string

	// Path is the badger directory. Empty opens badger in memory.
	Path string

	// SyncWrites makes badger fsync each commit.
	SyncWrites bool

	Logger *slog.Logger
}

// Open creates the configured Store.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendBadger:
		bcfg := DefaultBadgerConfig()
		bcfg.Path = cfg.Path
		bcfg.InMemory = cfg.Path == ""
		bcfg.SyncWrites = cfg.SyncWrites
		bcfg.Logger = cfg.Logger
		return OpenBadger(bcfg)
	}
	return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
}

func checkFile(f *proposal.ProposedFile) error {
	if f == nil {
		return proposal.ErrNilFile
	}
	if f.URI == "" {
		return errors.New("store: file has no uri")
	}
	return nil
}
