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

import "strings"

// SplitLines splits text into lines that keep their "\n" terminator.
//
// The last element has no terminator when text does not end in a newline.
// Empty text yields no lines, and text ending in "\n" yields no trailing
// empty element, so strings.Join(SplitLines(s), "") == s for every s.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// equalFunc compares a document line with an expected hunk line.
type equalFunc func(have, want string) bool

func exactEqual(have, want string) bool {
	return have == want
}

// trailingEqual ignores trailing spaces, tabs and line terminators.
func trailingEqual(have, want string) bool {
	return strings.TrimRight(have, " \t\r\n") == strings.TrimRight(want, " \t\r\n")
}

// matchAt reports whether want occurs in doc starting at pos.
func matchAt(doc []string, pos int, want []string, eq equalFunc) bool {
	if pos < 0 || pos+len(want) > len(doc) {
		return false
	}
	for i, w := range want {
		if !eq(doc[pos+i], w) {
			return false
		}
	}
	return true
}
