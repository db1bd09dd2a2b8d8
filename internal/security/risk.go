// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

// Package security defines the risk model gating tool execution: risk
// levels assigned to proposed tool calls, the sandbox policy that
// governs which levels may run without interactive approval, and the
// pattern-rule classifier producing the levels.
package security

import (
	crucerr "github.com/crucible-dev/crucible/pkg/errors"
)

// RiskLevel classifies how dangerous a proposed tool call is.
type RiskLevel int

const (
	// RiskSafe is read-only or otherwise side-effect free.
	RiskSafe RiskLevel = iota
	// RiskMedium modifies files or local state.
	RiskMedium
	// RiskHigh is potentially destructive or irreversible.
	RiskHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskSafe:
		return "safe"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseRiskLevel converts a config string into a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch s {
	case "safe":
		return RiskSafe, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	default:
		return RiskSafe, crucerr.Errorf(crucerr.CodeConfigValidateInvalidValue,
			"unknown risk level %q", s)
	}
}

// SandboxPolicy is the configured strictness governing which risk
// levels may be auto-approved.
type SandboxPolicy string

const (
	// SandboxFull runs tool calls inside a sandbox; medium-risk calls
	// may proceed without a prompt because the sandbox contains them.
	SandboxFull SandboxPolicy = "full"
	// SandboxPrompt sandboxes where possible but prompts for anything
	// beyond safe calls.
	SandboxPrompt SandboxPolicy = "prompt"
	// SandboxNone offers no sandbox; nothing is policy-approved.
	SandboxNone SandboxPolicy = "none"
)

// ParseSandboxPolicy converts a config string into a SandboxPolicy.
func ParseSandboxPolicy(s string) (SandboxPolicy, error) {
	switch SandboxPolicy(s) {
	case SandboxFull, SandboxPrompt, SandboxNone:
		return SandboxPolicy(s), nil
	default:
		return SandboxNone, crucerr.Errorf(crucerr.CodeConfigValidateInvalidValue,
			"unknown sandbox policy %q", s)
	}
}

// CanAutoApprove reports whether a call at this risk level may execute
// under the given policy without interactive approval. High risk never
// auto-approves.
func (r RiskLevel) CanAutoApprove(policy SandboxPolicy) bool {
	switch policy {
	case SandboxFull:
		return r <= RiskMedium
	case SandboxPrompt:
		return r == RiskSafe
	default:
		return false
	}
}
