// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/AleutianAI/editkit/services/edits"
	"github.com/AleutianAI/editkit/services/edits/commit"
	"github.com/AleutianAI/editkit/services/edits/lock"
	"github.com/AleutianAI/editkit/services/edits/store"
	"github.com/AleutianAI/editkit/services/edits/syntax"
	"github.com/AleutianAI/editkit/services/edits/telemetry"
)

// app is the wired service stack of one command invocation.
type app struct {
	svc     *edits.Service
	closers []func(context.Context) error
}

// Close releases everything open opened, last opened first.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	return errors.Join(errs...)
}

func (o *rootOptions) engine() *edits.Engine {
	return edits.NewEngine(o.cfg.ApplyOptions())
}

func (o *rootOptions) committer() (*commit.Committer, error) {
	return commit.New(commit.Config{
		Root:            o.cfg.Commit.Root,
		Backups:         o.cfg.Commit.Backups,
		BaselineTimeout: o.cfg.Commit.BaselineTimeout,
	})
}

// open wires telemetry, store, locks, committer and the Service.
func (o *rootOptions) open(ctx context.Context, watch bool) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	shutdown, err := telemetry.Init(ctx, o.cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	st, err := store.Open(store.Config{
		Backend:    o.cfg.Store.Backend,
		Path:       o.cfg.Store.Path,
		SyncWrites: o.cfg.Store.SyncWrites,
		Logger:     o.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return st.Close() })

	locks, err := lock.NewManager(lock.Config{
		Dir:       o.cfg.Lock.Dir,
		Advisory:  o.cfg.Lock.Advisory,
		SessionID: uuid.NewString(),
		Logger:    o.logger,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return locks.Close() })

	committer, err := o.committer()
	if err != nil {
		return nil, err
	}

	svcCfg := edits.ServiceConfig{
		Engine:     o.engine(),
		Store:      st,
		Locks:      locks,
		Committer:  committer,
		Logger:     o.logger,
		WatchFiles: watch,
	}
	if o.cfg.Apply.SyntaxCheck {
		svcCfg.Syntax = syntax.NewChecker(0)
	}
	svc, err := edits.NewService(svcCfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return svc.Close() })
	a.svc = svc
	return a, nil
}

// warnEphemeral notes that proposals made now are lost on exit.
func (o *rootOptions) warnEphemeral() {
	if o.cfg.Store.Backend == store.BackendMemory {
		o.logger.Warn("The memory store keeps proposals only for this command; use --store badger to keep them")
	}
}

// readInput reads a named file, or stdin for "-".
func readInput(stdin io.Reader, name string) (string, error) {
	if name == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
