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
	"errors"
	"fmt"
)

// Sentinel errors for lock operations.
var (
	// ErrFileLocked indicates another process holds the advisory lock.
	ErrFileLocked = errors.New("file is locked by another process")

	// ErrManagerClosed indicates the manager was closed.
	ErrManagerClosed = errors.New("lock manager is closed")

	// ErrEmptyKey indicates an empty file identity was passed.
	ErrEmptyKey = errors.New("empty lock key")
)

// FileLockError reports an advisory lock conflict.
//
// # Fields
//
//   - Key: The file identity that is locked.
//   - Holder: The holder recorded in the lock file, nil when unreadable.
type FileLockError struct {
	Key    string
	Holder *LockInfo
}

// Error returns a human-readable error message.
func (e *FileLockError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("%s is locked by PID %d (session %s) since %s",
			e.Key, e.Holder.PID, e.Holder.SessionID, e.Holder.LockedAt.Format("15:04:05"))
	}
	return fmt.Sprintf("%s is locked by another process", e.Key)
}

// Unwrap returns ErrFileLocked.
func (e *FileLockError) Unwrap() error {
	return ErrFileLocked
}
