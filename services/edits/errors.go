// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package edits

import "errors"

var (
	// ErrInvalidRequest is returned when a request is malformed.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrDuplicateFile is returned when a batch names the same file twice.
	ErrDuplicateFile = errors.New("file appears more than once")

	// ErrChangeApplied is returned when discarding a change that was applied.
	ErrChangeApplied = errors.New("change is already applied")

	// ErrNothingToRevert is returned by Revert when a file has no history.
	ErrNothingToRevert = errors.New("no apply step to revert")
)
