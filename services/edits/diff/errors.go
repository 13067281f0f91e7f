// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diff

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching against ParseError and ApplyError.
var (
	// ErrMalformedHeader indicates a file or hunk header that cannot be read.
	ErrMalformedHeader = errors.New("malformed header")

	// ErrCountMismatch indicates a hunk body that disagrees with its header counts.
	ErrCountMismatch = errors.New("count mismatch")

	// ErrTruncated indicates input that ended inside an unfinished hunk.
	ErrTruncated = errors.New("truncated patch")

	// ErrContextMismatch indicates a hunk whose context could not be located.
	ErrContextMismatch = errors.New("context mismatch")

	// ErrAlreadyAppliedConflict indicates a hunk that looks both applied and unapplied.
	ErrAlreadyAppliedConflict = errors.New("already applied conflict")
)

// ParseReason classifies a ParseError.
type ParseReason string

const (
	ReasonMalformedHeader ParseReason = "malformed-header"
	ReasonCountMismatch   ParseReason = "count-mismatch"
	ReasonTruncated       ParseReason = "truncated"
)

// ParseError is returned by Parse for patch text that does not follow the
// supported unified diff grammar.
type ParseError struct {
	// Reason is the error class.
	Reason ParseReason `json:"reason"`

	// Line is the 1-based patch line where the problem was detected.
	Line int `json:"line"`

	// Message describes the problem.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse patch: %s at line %d: %s", e.Reason, e.Line, e.Message)
}

// Unwrap maps the reason onto its sentinel.
func (e *ParseError) Unwrap() error {
	switch e.Reason {
	case ReasonMalformedHeader:
		return ErrMalformedHeader
	case ReasonCountMismatch:
		return ErrCountMismatch
	case ReasonTruncated:
		return ErrTruncated
	}
	return nil
}

func parseErr(reason ParseReason, line int, format string, args ...any) *ParseError {
	return &ParseError{Reason: reason, Line: line, Message: fmt.Sprintf(format, args...)}
}

// ApplyKind classifies an ApplyError.
type ApplyKind string

const (
	KindContextMismatch        ApplyKind = "context-mismatch"
	KindAlreadyAppliedConflict ApplyKind = "already-applied-conflict"
)

// ApplyError is returned by Apply when a hunk cannot be placed. The whole
// apply is aborted; no partial output is produced.
type ApplyError struct {
	// Kind is the error class.
	Kind ApplyKind `json:"kind"`

	// HunkIndex is the 0-based index of the failing hunk.
	HunkIndex int `json:"hunkIndex"`

	// Anchor is the 1-based document line where the hunk was expected.
	Anchor int `json:"anchor"`
}

// Error implements the error interface.
func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply patch: hunk %d near line %d: %s", e.HunkIndex, e.Anchor, e.Kind)
}

// Unwrap maps the kind onto its sentinel.
func (e *ApplyError) Unwrap() error {
	switch e.Kind {
	case KindContextMismatch:
		return ErrContextMismatch
	case KindAlreadyAppliedConflict:
		return ErrAlreadyAppliedConflict
	}
	return nil
}
