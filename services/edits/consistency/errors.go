// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package consistency

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched by errors.Is against *Error.
var (
	ErrStaleBaseline      = errors.New("stale baseline")
	ErrOverlappingChanges = errors.New("overlapping changes")
	ErrBaselineMismatch   = errors.New("baseline mismatch")
)

func sentinel(code Code) error {
	switch code {
	case CodeStaleBaseline:
		return ErrStaleBaseline
	case CodeOverlappingChanges:
		return ErrOverlappingChanges
	case CodeBaselineMismatch:
		return ErrBaselineMismatch
	}
	return nil
}

// Error reports the blocking issues that refused an apply.
type Error struct {
	Issues []Issue `json:"issues"`
}

// NewError wraps the error-severity issues, or returns nil when there are none.
func NewError(issues []Issue) *Error {
	blocking := Errors(issues)
	if len(blocking) == 0 {
		return nil
	}
	return &Error{Issues: blocking}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Issues) == 0 {
		return "consistency check failed"
	}
	codes := make([]string, 0, len(e.Issues))
	seen := make(map[Code]bool)
	for _, is := range e.Issues {
		if is.Code != "" && !seen[is.Code] {
			seen[is.Code] = true
			codes = append(codes, string(is.Code))
		}
	}
	msg := fmt.Sprintf("consistency check failed: %d blocking issue(s)", len(e.Issues))
	if len(codes) > 0 {
		msg += " [" + strings.Join(codes, ", ") + "]"
	}
	return msg + ": " + e.Issues[0].Message
}

// Unwrap returns the sentinels for every code present.
func (e *Error) Unwrap() []error {
	var errs []error
	seen := make(map[Code]bool)
	for _, is := range e.Issues {
		if s := sentinel(is.Code); s != nil && !seen[is.Code] {
			seen[is.Code] = true
			errs = append(errs, s)
		}
	}
	return errs
}

// Has reports whether an issue with the code is present.
func (e *Error) Has(code Code) bool {
	return len(WithCode(e.Issues, code)) > 0
}
