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
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/editkit/services/edits/proposal"
)

// Memory is a map-backed Store.
type Memory struct {
	mu     sync.RWMutex
	files  map[string]*proposal.ProposedFile
	steps  map[string][]StepRecord
	seq    map[string]uint64
	closed bool
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		files: make(map[string]*proposal.ProposedFile),
		steps: make(map[string][]StepRecord),
		seq:   make(map[string]uint64),
	}
}

func (m *Memory) GetFile(ctx context.Context, uri string) (*proposal.ProposedFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	f, ok := m.files[uri]
	if !ok {
		return nil, ErrNotFound
	}
	return f.Clone(), nil
}

func (m *Memory) PutFile(ctx context.Context, f *proposal.ProposedFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkFile(f); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.files[f.URI] = f.Clone()
	return nil
}

func (m *Memory) DeleteFile(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.files, uri)
	delete(m.steps, uri)
	delete(m.seq, uri)
	return nil
}

func (m *Memory) ListFiles(ctx context.Context) ([]*proposal.ProposedFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]*proposal.ProposedFile, 0, len(m.files))
	for _, f := range m.files {
		out = append(out, f.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

func (m *Memory) AppendStep(ctx context.Context, step proposal.ApplyStepFile) (StepRecord, error) {
	if err := ctx.Err(); err != nil {
		return StepRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return StepRecord{}, ErrClosed
	}
	m.seq[step.URI]++
	rec := StepRecord{
		ID:        uuid.NewString(),
		Sequence:  m.seq[step.URI],
		AppliedAt: time.Now().UTC(),
		Step:      copyStep(step),
	}
	m.steps[step.URI] = append(m.steps[step.URI], rec)
	return rec, nil
}

func (m *Memory) Steps(ctx context.Context, uri string) ([]StepRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	recs := m.steps[uri]
	out := make([]StepRecord, len(recs))
	for i, r := range recs {
		r.Step = copyStep(r.Step)
		out[i] = r
	}
	return out, nil
}

func (m *Memory) LastStep(ctx context.Context, uri string) (StepRecord, error) {
	if err := ctx.Err(); err != nil {
		return StepRecord{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return StepRecord{}, ErrClosed
	}
	recs := m.steps[uri]
	if len(recs) == 0 {
		return StepRecord{}, ErrNotFound
	}
	last := recs[len(recs)-1]
	last.Step = copyStep(last.Step)
	return last, nil
}

func (m *Memory) PopStep(ctx context.Context, uri string) (StepRecord, error) {
	if err := ctx.Err(); err != nil {
		return StepRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return StepRecord{}, ErrClosed
	}
	recs := m.steps[uri]
	if len(recs) == 0 {
		return StepRecord{}, ErrNotFound
	}
	last := recs[len(recs)-1]
	m.steps[uri] = recs[:len(recs)-1]
	return last, nil
}

// Close marks the store closed. Stored data is dropped.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.files = nil
	m.steps = nil
	return nil
}

func copyStep(s proposal.ApplyStepFile) proposal.ApplyStepFile {
	s.AppliedChangeIDs = slices.Clone(s.AppliedChangeIDs)
	return s
}
