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
	"os"
)

// FileLocker takes non-blocking exclusive advisory locks on open files.
//
// Unix uses flock(2), Windows uses LockFileEx. Lock returns ErrFileLocked
// when another open file description holds the lock.
type FileLocker interface {
	Lock(f *os.File) error
	Unlock(f *os.File) error
}

// NewFileLocker returns the locker for the current platform.
func NewFileLocker() FileLocker {
	return newPlatformLocker()
}
