// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package agent

import (
	"sync/atomic"
	"time"

	"github.com/crucible-dev/crucible/internal/tools"
)

// TurnStatus is the terminal disposition of a turn.
type TurnStatus string

const (
	TurnCompleted   TurnStatus = "completed"
	TurnInterrupted TurnStatus = "interrupted"
	TurnFailed      TurnStatus = "failed"
)

// TokenUsage accumulates token counts across the model calls of a turn.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Add folds another usage sample into the total.
func (u *TokenUsage) Add(input, output int) {
	u.InputTokens += input
	u.OutputTokens += output
	u.TotalTokens += input + output
}

// ToolCallResult records one executed (or rejected) tool call within a
// turn.
type ToolCallResult struct {
	CallID      string
	ToolName    string
	Arguments   string
	Result      tools.Result
	Duration    time.Duration
	Approved    bool
	SandboxUsed bool
}

// TurnContext carries the mutable state of a single ProcessTurn
// invocation. It is exclusively owned by that invocation and discarded
// when the turn ends. ToolIterations counts batches of tool calls, not
// individual calls.
type TurnContext struct {
	TurnID           string
	SubmissionID     string
	UserInput        string
	WorkingDir       string
	StartTime        time.Time
	ToolResults      []ToolCallResult
	Tokens           TokenUsage
	ToolIterations   int
	SummaryRequested bool

	cancelled atomic.Bool
}

// NewTurnContext creates a turn context for the given input.
func NewTurnContext(turnID, submissionID, userInput, workingDir string) *TurnContext {
	return &TurnContext{
		TurnID:       turnID,
		SubmissionID: submissionID,
		UserInput:    userInput,
		WorkingDir:   workingDir,
		StartTime:    time.Now(),
	}
}

// Cancel requests cooperative cancellation of the turn. The flag is
// observed at loop-iteration boundaries only; an in-flight model call
// or tool execution runs to completion first.
func (t *TurnContext) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether cancellation was requested.
func (t *TurnContext) Cancelled() bool {
	return t.cancelled.Load()
}

// Elapsed returns the time since the turn started.
func (t *TurnContext) Elapsed() time.Duration {
	return time.Since(t.StartTime)
}

// AddTokens records token usage from one model call.
func (t *TurnContext) AddTokens(input, output int) {
	t.Tokens.Add(input, output)
}

// TurnResult is the outcome of one processed turn.
type TurnResult struct {
	TurnID     string
	Response   string
	ToolCalls  []ToolCallResult
	TokenUsage TokenUsage
	Duration   time.Duration
	Status     TurnStatus

	// ContextTokens is the estimated token size of the conversation
	// history at the end of the turn.
	ContextTokens int
}
