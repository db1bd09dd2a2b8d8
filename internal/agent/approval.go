// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package agent

import (
	"time"

	"github.com/crucible-dev/crucible/internal/security"
)

// ApprovalDecision is the kind of response a host gives to a pending
// tool-call approval.
type ApprovalDecision string

const (
	// DecisionApprove approves this single call.
	DecisionApprove ApprovalDecision = "approve"
	// DecisionAlwaysApprove approves this call and every later call to
	// the same tool for the remainder of the orchestrator's lifetime.
	DecisionAlwaysApprove ApprovalDecision = "always_approve"
	// DecisionApproveModified approves the call with the arguments
	// replaced by Arguments.
	DecisionApproveModified ApprovalDecision = "approve_modified"
	// DecisionReject rejects the call; Reason is surfaced to the model.
	DecisionReject ApprovalDecision = "reject"
	// DecisionAbort rejects the call and cancels the entire turn.
	DecisionAbort ApprovalDecision = "abort"
)

// ApprovalResponse is the host's decision for one PendingApproval.
type ApprovalResponse struct {
	Decision ApprovalDecision

	// Arguments replaces the call arguments for ApproveModified.
	// Empty means keep the originals.
	Arguments string

	// Reason explains a rejection.
	Reason string
}

// Approve builds a plain approval.
func Approve() ApprovalResponse {
	return ApprovalResponse{Decision: DecisionApprove}
}

// AlwaysApprove builds an approval that also whitelists the tool for
// the session.
func AlwaysApprove() ApprovalResponse {
	return ApprovalResponse{Decision: DecisionAlwaysApprove}
}

// ApproveModified builds an approval with overridden arguments.
func ApproveModified(arguments string) ApprovalResponse {
	return ApprovalResponse{Decision: DecisionApproveModified, Arguments: arguments}
}

// Reject builds a rejection with the given reason.
func Reject(reason string) ApprovalResponse {
	return ApprovalResponse{Decision: DecisionReject, Reason: reason}
}

// Abort builds a response that cancels the whole turn.
func Abort() ApprovalResponse {
	return ApprovalResponse{Decision: DecisionAbort}
}

// PendingApproval describes a tool call awaiting a host decision. It is
// created only when a call cannot be auto-approved and is consumed
// exactly once: by the first response received, or by channel close
// (treated as a timeout rejection).
type PendingApproval struct {
	ID        string
	ToolName  string
	Arguments string
	Risk      security.RiskLevel
	Timestamp time.Time
}

// ApprovalCallback is supplied by the host. It receives a pending
// approval and returns a one-shot channel that will deliver the
// decision. Closing the channel without sending signals that the host
// gave up (approval timeout).
type ApprovalCallback func(PendingApproval) <-chan ApprovalResponse
