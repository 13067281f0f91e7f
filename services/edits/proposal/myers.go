// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package proposal

// opKind is the kind of a line edit operation.
type opKind uint8

const (
	opEqual opKind = iota
	opDelete
	opInsert
)

// editOp is one step of a line edit script.
type editOp struct {
	kind opKind
	a    int // index into the old lines (equal, delete)
	b    int // index into the new lines (equal, insert)
}

// shortestEdit returns a minimal edit script turning a into b using the
// linear space variant of the Myers O(ND) algorithm.
//
// Each step trims the common prefix and suffix, finds the middle snake of
// what remains and recurses on both halves, so memory stays proportional to
// len(a)+len(b) however different the inputs are. The script for a given
// input is always the same.
func shortestEdit(a, b []string) []editOp {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	s := &editScript{a: a, b: b, ops: make([]editOp, 0, max(len(a), len(b)))}
	s.compare(0, len(a), 0, len(b))
	return s.ops
}

// editScript accumulates the operations for a[aLo:aHi] against b[bLo:bHi].
type editScript struct {
	a, b []string
	ops  []editOp
}

func (s *editScript) compare(aLo, aHi, bLo, bHi int) {
	for aLo < aHi && bLo < bHi && s.a[aLo] == s.b[bLo] {
		s.ops = append(s.ops, editOp{kind: opEqual, a: aLo, b: bLo})
		aLo++
		bLo++
	}
	suffix := 0
	for aHi-suffix > aLo && bHi-suffix > bLo && s.a[aHi-suffix-1] == s.b[bHi-suffix-1] {
		suffix++
	}
	aEnd, bEnd := aHi-suffix, bHi-suffix

	switch {
	case aLo == aEnd:
		s.insert(bLo, bEnd)
	case bLo == bEnd:
		s.delete(aLo, aEnd)
	default:
		if x, y, ok := s.middleSnake(aLo, aEnd, bLo, bEnd); ok {
			s.compare(aLo, x, bLo, y)
			s.compare(x, aEnd, y, bEnd)
		} else {
			s.delete(aLo, aEnd)
			s.insert(bLo, bEnd)
		}
	}

	for i := range suffix {
		s.ops = append(s.ops, editOp{kind: opEqual, a: aEnd + i, b: bEnd + i})
	}
}

func (s *editScript) delete(lo, hi int) {
	for i := lo; i < hi; i++ {
		s.ops = append(s.ops, editOp{kind: opDelete, a: i})
	}
}

func (s *editScript) insert(lo, hi int) {
	for i := lo; i < hi; i++ {
		s.ops = append(s.ops, editOp{kind: opInsert, b: i})
	}
}

// middleSnake runs the forward and reverse searches over the given ranges
// until they overlap and returns the split point, in absolute indexes. Both
// ranges must be non-empty with no common prefix or suffix.
func (s *editScript) middleSnake(aLo, aHi, bLo, bHi int) (int, int, bool) {
	n, m := aHi-aLo, bHi-bLo
	a, b := s.a[aLo:aHi], s.b[bLo:bHi]

	maxD := (n + m + 1) / 2
	offset := maxD
	size := 2*maxD + 2
	fwd := make([]int, size)
	rev := make([]int, size)
	for i := range fwd {
		fwd[i] = -1
		rev[i] = -1
	}
	fwd[offset+1] = 0
	rev[offset+1] = 0

	delta := n - m
	// With an odd delta the paths can only meet on a forward step.
	front := delta%2 != 0
	// Diagonals that ran off the edit graph are skipped in later rounds.
	fStart, fEnd, rStart, rEnd := 0, 0, 0, 0

	for d := 0; d < maxD; d++ {
		for k := -d + fStart; k <= d-fEnd; k += 2 {
			i := offset + k
			var x int
			if k == -d || (k != d && fwd[i-1] < fwd[i+1]) {
				x = fwd[i+1]
			} else {
				x = fwd[i-1] + 1
			}
			y := x - k
			for x < n && y < m && a[x] == b[y] {
				x++
				y++
			}
			fwd[i] = x

			switch {
			case x > n:
				fEnd += 2
			case y > m:
				fStart += 2
			case front:
				j := offset + delta - k
				if j >= 0 && j < size && rev[j] != -1 && x >= n-rev[j] {
					return aLo + x, bLo + y, true
				}
			}
		}

		for k := -d + rStart; k <= d-rEnd; k += 2 {
			i := offset + k
			var x int
			if k == -d || (k != d && rev[i-1] < rev[i+1]) {
				x = rev[i+1]
			} else {
				x = rev[i-1] + 1
			}
			y := x - k
			for x < n && y < m && a[n-x-1] == b[m-y-1] {
				x++
				y++
			}
			rev[i] = x

			switch {
			case x > n:
				rEnd += 2
			case y > m:
				rStart += 2
			case !front:
				j := offset + delta - k
				if j >= 0 && j < size && fwd[j] != -1 {
					fx := fwd[j]
					fy := offset + fx - j
					if fx >= n-x {
						return aLo + fx, bLo + fy, true
					}
				}
			}
		}
	}
	return 0, 0, false
}
