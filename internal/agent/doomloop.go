// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package agent

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/crucible-dev/crucible/internal/tools"
)

const (
	// defaultLoopWindow is the number of recent tool executions kept
	// for repeat detection.
	defaultLoopWindow = 10

	// defaultLoopThreshold is the number of identical executions within
	// the window that trips the detector.
	defaultLoopThreshold = 3
)

// DoomLoopDetector detects the agent re-issuing the exact same tool
// call and getting the exact same result. Matching is intentionally
// exact: it exists to stop literal infinite retry loops, not to
// second-guess legitimately repeated benign calls such as polling.
//
// Not safe for concurrent use; the owning orchestrator serializes
// access.
type DoomLoopDetector struct {
	window    int
	threshold int
	entries   []loopEntry
}

type loopEntry struct {
	fingerprint string
	toolName    string
}

// NewDoomLoopDetector creates a detector with the given window size and
// repeat threshold. Non-positive values fall back to the defaults.
func NewDoomLoopDetector(window, threshold int) *DoomLoopDetector {
	if window <= 0 {
		window = defaultLoopWindow
	}
	if threshold <= 0 {
		threshold = defaultLoopThreshold
	}
	return &DoomLoopDetector{window: window, threshold: threshold}
}

// RecordAndCheck appends the execution fingerprint, evicts the oldest
// entry once over the window, and reports whether the identical
// fingerprint now occurs at least threshold times within the window.
func (d *DoomLoopDetector) RecordAndCheck(toolName, arguments string, result tools.Result) bool {
	fp := fingerprint(toolName, arguments, result)

	d.entries = append(d.entries, loopEntry{fingerprint: fp, toolName: toolName})
	if len(d.entries) > d.window {
		d.entries = d.entries[1:]
	}

	count := 0
	for _, e := range d.entries {
		if e.fingerprint == fp {
			count++
		}
	}
	return count >= d.threshold
}

// LastToolName returns the tool name of the most recent recorded
// execution, or "" if none.
func (d *DoomLoopDetector) LastToolName() string {
	if len(d.entries) == 0 {
		return ""
	}
	return d.entries[len(d.entries)-1].toolName
}

// Threshold returns the configured repeat threshold.
func (d *DoomLoopDetector) Threshold() int {
	return d.threshold
}

// Clear resets the window.
func (d *DoomLoopDetector) Clear() {
	d.entries = nil
}

func fingerprint(toolName, arguments string, result tools.Result) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write([]byte(arguments))
	h.Write([]byte{0})
	h.Write([]byte(result.Content))
	if result.IsError {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
