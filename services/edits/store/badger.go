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
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/editkit/services/edits/proposal"
)

// Key layout:
//
//	file/<uri>             JSON ProposedFile
//	step/<uri>/<seq>       JSON StepRecord, seq as 8 big-endian bytes
//	seq/<uri>              last issued sequence, 8 big-endian bytes
const (
	filePrefix = "file/"
	stepPrefix = "step/"
	seqPrefix  = "seq/"
)

// BadgerConfig holds configuration for the badger backend.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's internal logs. nil disables them.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. 0 disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable ratio before a GC rewrite.
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns durable defaults.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Badger is a Store backed by BadgerDB.
//
// # Thread Safety
//
// Safe for concurrent use. Writes run in badger transactions; conflicting
// appends to the same history are retried.
type Badger struct {
	db     *badger.DB
	logger *slog.Logger
	stopGC chan struct{}
	gcDone chan struct{}
}

// OpenBadger opens a badger database.
//
// # Inputs
//
//   - cfg: Backend configuration. Path is required unless InMemory is set.
//
// # Outputs
//
//   - *Badger: The store. Close it when done.
//   - error: Non-nil if the directory or database cannot be opened.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store: path is required for a persistent badger store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Badger{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		b.stopGC = make(chan struct{})
		b.gcDone = make(chan struct{})
		go b.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return b, nil
}

func (b *Badger) GetFile(ctx context.Context, uri string) (*proposal.ProposedFile, error) {
	var f proposal.ProposedFile
	err := b.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, fileKey(uri), &f)
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (b *Badger) PutFile(ctx context.Context, f *proposal.ProposedFile) error {
	if err := checkFile(f); err != nil {
		return err
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode file %s: %w", f.URI, err)
	}
	return b.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(fileKey(f.URI), data)
	})
}

func (b *Badger) DeleteFile(ctx context.Context, uri string) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		if err := txn.Delete(fileKey(uri)); err != nil {
			return err
		}
		if err := txn.Delete(seqKey(uri)); err != nil {
			return err
		}
		for _, k := range keysWithPrefix(txn, stepsPrefix(uri)) {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Badger) ListFiles(ctx context.Context) ([]*proposal.ProposedFile, error) {
	var out []*proposal.ProposedFile
	err := b.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(filePrefix), PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var f proposal.ProposedFile
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &f)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, &f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*proposal.ProposedFile{}
	}
	return out, nil
}

func (b *Badger) AppendStep(ctx context.Context, step proposal.ApplyStepFile) (StepRecord, error) {
	var rec StepRecord
	err := b.update(ctx, func(txn *badger.Txn) error {
		seq, err := getUint(txn, seqKey(step.URI))
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		seq++

		rec = StepRecord{
			ID:        uuid.NewString(),
			Sequence:  seq,
			AppliedAt: time.Now().UTC(),
			Step:      step,
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode step: %w", err)
		}
		if err := txn.Set(stepKey(step.URI, seq), data); err != nil {
			return err
		}
		return txn.Set(seqKey(step.URI), encodeUint(seq))
	})
	return rec, err
}

func (b *Badger) Steps(ctx context.Context, uri string) ([]StepRecord, error) {
	out := []StepRecord{}
	err := b.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: stepsPrefix(uri), PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec StepRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode step: %w", err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Badger) LastStep(ctx context.Context, uri string) (StepRecord, error) {
	var rec StepRecord
	err := b.view(ctx, func(txn *badger.Txn) error {
		key, err := lastStepKey(txn, uri)
		if err != nil {
			return err
		}
		return getJSON(txn, key, &rec)
	})
	return rec, err
}

func (b *Badger) PopStep(ctx context.Context, uri string) (StepRecord, error) {
	var rec StepRecord
	err := b.update(ctx, func(txn *badger.Txn) error {
		key, err := lastStepKey(txn, uri)
		if err != nil {
			return err
		}
		if err := getJSON(txn, key, &rec); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	return rec, err
}

// Close stops GC and closes the database.
func (b *Badger) Close() error {
	if b.stopGC != nil {
		close(b.stopGC)
		<-b.gcDone
		b.stopGC = nil
	}
	return b.db.Close()
}

// =============================================================================
// Internal helpers
// =============================================================================

func (b *Badger) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.db.IsClosed() {
		return ErrClosed
	}
	return b.db.View(fn)
}

// update retries on transaction conflicts, which concurrent appends to the
// same history produce.
func (b *Badger) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.db.IsClosed() {
			return ErrClosed
		}
		err := b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
}

func (b *Badger) runGC(interval time.Duration, ratio float64) {
	defer close(b.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopGC:
			return
		case <-ticker.C:
			err := b.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

func fileKey(uri string) []byte { return []byte(filePrefix + uri) }
func seqKey(uri string) []byte  { return []byte(seqPrefix + uri) }

// stepsPrefix ends with a NUL separator so one URI is never a prefix of
// another URI's history.
func stepsPrefix(uri string) []byte { return []byte(stepPrefix + uri + "\x00") }

func stepKey(uri string, seq uint64) []byte {
	return append(stepsPrefix(uri), encodeUint(seq)...)
}

func lastStepKey(txn *badger.Txn, uri string) ([]byte, error) {
	prefix := stepsPrefix(uri)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, Reverse: true})
	defer it.Close()
	// Reverse iteration seeks to the largest key <= the seek key.
	it.Seek(append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff))
	if !it.ValidForPrefix(prefix) {
		return nil, ErrNotFound
	}
	return it.Item().KeyCopy(nil), nil
}

func keysWithPrefix(txn *badger.Txn, prefix []byte) [][]byte {
	var keys [][]byte
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func getUint(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("store: corrupt sequence for %s", key)
		}
		n = binary.BigEndian.Uint64(val)
		return nil
	})
	return n, err
}

func encodeUint(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}
