// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package security

import (
	"strings"

	crucerr "github.com/crucible-dev/crucible/pkg/errors"
)

// PatternSet is a set of tool-name patterns. Patterns use dot-separated
// segments with glob support; only the "*" glob is supported (no "?",
// "[...]" or other glob metacharacters). Flat tool names ("Read",
// "shell") are single-segment patterns.
type PatternSet struct {
	patterns []string
}

// NewPatternSet constructs a PatternSet from the provided patterns.
func NewPatternSet(patterns ...string) PatternSet {
	copied := append([]string(nil), patterns...)
	return PatternSet{patterns: copied}
}

// Empty reports whether the set has no patterns.
func (s PatternSet) Empty() bool { return len(s.patterns) == 0 }

const maxSegments = 32

// MatchPattern reports whether name matches pattern.
// Pattern matching is dot-segment aware:
//   - A segment exactly "*" matches one or more name segments.
//   - "*" inside a non-"*" segment is an in-segment wildcard and matches
//     zero or more characters in that same segment.
//
// Malformed dotted strings (leading/trailing dot or consecutive dots) are rejected.
// Returns an error if either pattern or name exceeds 32 dot-separated segments.
func MatchPattern(pattern, name string) (bool, error) {
	if pattern == "" || name == "" {
		return false, nil
	}
	if !isValidDottedString(pattern) || !isValidDottedString(name) {
		return false, nil
	}

	patternSegments := strings.Split(pattern, ".")
	nameSegments := strings.Split(name, ".")

	if len(patternSegments) > maxSegments {
		return false, crucerr.Errorf(crucerr.CodeSecurityPatternInvalid,
			"pattern exceeds maximum %d segments: got %d", maxSegments, len(patternSegments))
	}
	if len(nameSegments) > maxSegments {
		return false, crucerr.Errorf(crucerr.CodeSecurityPatternInvalid,
			"name exceeds maximum %d segments: got %d", maxSegments, len(nameSegments))
	}

	memo := make(map[[2]int]bool)
	seen := make(map[[2]int]bool)

	var match func(pi, ni int) bool
	match = func(pi, ni int) bool {
		key := [2]int{pi, ni}
		if seen[key] {
			return memo[key]
		}
		seen[key] = true

		if pi == len(patternSegments) {
			memo[key] = ni == len(nameSegments)
			return memo[key]
		}
		if ni == len(nameSegments) {
			memo[key] = false
			return false
		}

		segment := patternSegments[pi]
		if segment == "*" {
			for next := ni + 1; next <= len(nameSegments); next++ {
				if match(pi+1, next) {
					memo[key] = true
					return true
				}
			}
			memo[key] = false
			return false
		}

		if !matchSegment(segment, nameSegments[ni]) {
			memo[key] = false
			return false
		}

		memo[key] = match(pi+1, ni+1)
		return memo[key]
	}

	return match(0, 0), nil
}

// Contains reports whether any pattern in the set matches name.
// If MatchPattern returns an error, that pattern is skipped.
// Callers MUST validate patterns at load time so errors here indicate
// programming bugs, not untrusted input.
func (s PatternSet) Contains(name string) bool {
	for _, pattern := range s.patterns {
		match, err := MatchPattern(pattern, name)
		if err == nil && match {
			return true
		}
	}
	return false
}

func matchSegment(patternSegment, nameSegment string) bool {
	if patternSegment == nameSegment {
		return true
	}
	if !strings.Contains(patternSegment, "*") {
		return false
	}
	return matchInSegmentGlob(patternSegment, nameSegment)
}

func isValidDottedString(s string) bool {
	if strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return false
	}
	return !strings.Contains(s, "..")
}

// matchInSegmentGlob matches pattern and text where '*' matches zero or more characters.
func matchInSegmentGlob(pattern, text string) bool {
	pi, ti := 0, 0
	star := -1
	match := 0

	for ti < len(text) {
		if pi < len(pattern) && pattern[pi] == text[ti] {
			pi++
			ti++
			continue
		}
		if pi < len(pattern) && pattern[pi] == '*' {
			star = pi
			match = ti
			pi++
			continue
		}
		if star != -1 {
			pi = star + 1
			match++
			ti = match
			continue
		}
		return false
	}

	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
