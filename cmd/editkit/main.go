// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command editkit plans, checks and applies proposed edits to files.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/editkit/services/edits/commit"
	"github.com/AleutianAI/editkit/services/edits/consistency"
	"github.com/AleutianAI/editkit/services/edits/diff"
)

// Exit codes.
const (
	exitOK          = 0
	exitError       = 1
	exitBlocked     = 3
	exitPatchFailed = 4
)

// errBlocked reports blocking consistency issues found by `check`.
var errBlocked = errors.New("blocking consistency issues")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps command errors onto process exit codes.
func exitCode(err error) int {
	var cerr *consistency.Error
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errBlocked), errors.As(err, &cerr), errors.Is(err, commit.ErrConflict):
		return exitBlocked
	case errors.Is(err, diff.ErrContextMismatch), errors.Is(err, diff.ErrAlreadyAppliedConflict):
		return exitPatchFailed
	}
	return exitError
}
