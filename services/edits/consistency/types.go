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
	"fmt"
)

// Severity ranks an issue. Only SeverityError blocks an apply.
//
// Serialised as "warn" or "error".
type Severity int

const (
	SeverityWarn Severity = iota
	SeverityError
)

// String returns the wire name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	switch s {
	case SeverityWarn, SeverityError:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("consistency: invalid severity %d", int(s))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "warn":
		*s = SeverityWarn
	case "error":
		*s = SeverityError
	default:
		return fmt.Errorf("consistency: unknown severity %q", string(text))
	}
	return nil
}

// Source names the producer of an issue. The zero value means unknown.
type Source string

const (
	SourcePlanner    Source = "planner"
	SourceRouter     Source = "router"
	SourceScope      Source = "scope"
	SourceApply      Source = "apply"
	SourceSemantic   Source = "semantic"
	SourceDiagnostic Source = "diagnostic"
	SourceTool       Source = "tool"
)

// Valid reports whether s is unknown or one of the defined sources.
func (s Source) Valid() bool {
	switch s {
	case "", SourcePlanner, SourceRouter, SourceScope, SourceApply,
		SourceSemantic, SourceDiagnostic, SourceTool:
		return true
	}
	return false
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Source) UnmarshalText(text []byte) error {
	v := Source(text)
	if !v.Valid() {
		return fmt.Errorf("consistency: unknown source %q", string(text))
	}
	*s = v
	return nil
}

// Code identifies the rule behind an engine-produced issue.
type Code string

const (
	CodeStaleBaseline      Code = "stale-baseline"
	CodeOverlappingChanges Code = "overlapping-changes"
	CodeBaselineMismatch   Code = "baseline-mismatch"
)

// Issue is one finding about a proposed file.
type Issue struct {
	Severity   Severity `json:"severity"`
	Rel        string   `json:"rel,omitempty"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
	Source     Source   `json:"source,omitempty"`
	Code       Code     `json:"code,omitempty"`
}

// Blocking reports whether any issue has error severity.
func Blocking(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns the error-severity issues.
func Errors(issues []Issue) []Issue {
	var out []Issue
	for _, is := range issues {
		if is.Severity == SeverityError {
			out = append(out, is)
		}
	}
	return out
}

// WithCode returns the issues that carry the given code.
func WithCode(issues []Issue, code Code) []Issue {
	var out []Issue
	for _, is := range issues {
		if is.Code == code {
			out = append(out, is)
		}
	}
	return out
}
