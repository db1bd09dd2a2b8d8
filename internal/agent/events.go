// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package agent

import (
	"github.com/crucible-dev/crucible/internal/security"
	"github.com/crucible-dev/crucible/internal/tools"
)

// EventType identifies an agent lifecycle event.
type EventType string

const (
	EventTurnStarted     EventType = "turn_started"
	EventTurnCompleted   EventType = "turn_completed"
	EventTurnInterrupted EventType = "turn_interrupted"

	EventThinking       EventType = "thinking"
	EventTextDelta      EventType = "text_delta"
	EventReasoningDelta EventType = "reasoning_delta"

	EventToolCallStarted   EventType = "tool_call_started"
	EventToolCallPending   EventType = "tool_call_pending"
	EventToolCallApproved  EventType = "tool_call_approved"
	EventToolCallRejected  EventType = "tool_call_rejected"
	EventToolCallCompleted EventType = "tool_call_completed"

	EventTaskSpawned   EventType = "task_spawned"
	EventTaskProgress  EventType = "task_progress"
	EventTaskCompleted EventType = "task_completed"

	EventLoopDetected EventType = "loop_detected"
	EventError        EventType = "error"
)

// Event is a single entry on the agent's outbound event stream. Only
// the fields relevant to the Type are populated.
type Event struct {
	Type   EventType
	TurnID string

	// Message carries free text: the user input for TurnStarted, the
	// final response for TurnCompleted, delta text, progress lines,
	// and error messages.
	Message string

	CallID    string
	ToolName  string
	Arguments string
	Risk      security.RiskLevel
	Result    *tools.Result

	Usage *TokenUsage

	// Count is the repeat count for LoopDetected.
	Count int

	// Recoverable distinguishes tool-level failures (the turn
	// continues) from fatal errors on Error events.
	Recoverable bool
}

// emitTo sends ev without blocking. Event delivery is best-effort: a
// full or absent receiver drops the event rather than stalling the
// turn.
func emitTo(ch chan<- Event, ev Event) {
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	default:
	}
}
