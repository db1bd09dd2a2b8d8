// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

// Package agent implements the turn-processing loop, the tool-call
// approval flow, repeated-action detection, and subagent delegation.
package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/crucible-dev/crucible/internal/provider"
	"github.com/crucible-dev/crucible/internal/security"
	"github.com/crucible-dev/crucible/internal/store"
	"github.com/crucible-dev/crucible/internal/tools"
	crucerr "github.com/crucible-dev/crucible/pkg/errors"
)

// TaskToolName is the delegation tool. Calls to it are routed to the
// configured Delegator instead of the generic capability.
const TaskToolName = "task"

const (
	defaultMaxToolIterations = 20
	defaultMaxOutputTokens   = 8192

	// defaultMaxToolCallsPerTurn bounds individual tool calls within
	// one turn when the capability tracks per-turn budgets.
	defaultMaxToolCallsPerTurn = 50
)

// Delegator runs a delegated task call as an isolated subagent and
// renders its outcome as a tool result. Implemented by
// SubagentExecutor.
type Delegator interface {
	RunTask(ctx context.Context, parentSessionID string, call provider.ToolCall, progress chan<- Event) tools.Result
}

// Config controls one orchestrator instance.
type Config struct {
	Model               string
	SystemPrompt        string
	MaxToolIterations   int
	MaxToolCallsPerTurn int
	MaxOutputTokens     int
	Temperature         *float32
	SandboxPolicy       security.SandboxPolicy
	AutoApproveSafe     bool
	Streaming           bool
}

// Orchestrator drives the agent conversation loop for one linear
// message history. Concurrent ProcessTurn calls on the same instance
// are not supported; each subagent gets its own Orchestrator.
type Orchestrator struct {
	client     provider.Provider
	capability tools.Capability
	config     Config
	history    *History
	events     chan<- Event

	approvalCallback ApprovalCallback
	delegator        Delegator
	turnStore        store.TurnStore

	// mu guards approvedTools and detector; both are checked and
	// updated under a single critical section.
	mu            sync.Mutex
	approvedTools map[string]bool
	detector      *DoomLoopDetector
}

// New creates an orchestrator. events may be nil when the caller does
// not consume the event stream.
func New(client provider.Provider, capability tools.Capability, cfg Config, events chan<- Event) *Orchestrator {
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = defaultMaxToolIterations
	}
	if cfg.MaxToolCallsPerTurn <= 0 {
		cfg.MaxToolCallsPerTurn = defaultMaxToolCallsPerTurn
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = defaultMaxOutputTokens
	}

	return &Orchestrator{
		client:        client,
		capability:    capability,
		config:        cfg,
		history:       NewHistory(),
		events:        events,
		approvedTools: make(map[string]bool),
		detector:      NewDoomLoopDetector(defaultLoopWindow, defaultLoopThreshold),
	}
}

// SetApprovalCallback installs the host's interactive approval handler.
// Without one, calls that need interactive approval are approved with a
// warning.
func (o *Orchestrator) SetApprovalCallback(cb ApprovalCallback) {
	o.approvalCallback = cb
}

// SetDelegator installs the subagent delegator for Task tool calls.
func (o *Orchestrator) SetDelegator(d Delegator) {
	o.delegator = d
}

// SetTurnStore enables best-effort turn persistence.
func (o *Orchestrator) SetTurnStore(ts store.TurnStore) {
	o.turnStore = ts
}

// Initialize clears the history and seeds it with a system prompt. An
// empty prompt falls back to the configured one.
func (o *Orchestrator) Initialize(systemPrompt string) {
	o.history.Clear()

	if systemPrompt == "" {
		systemPrompt = o.config.SystemPrompt
	}
	if systemPrompt != "" {
		o.history.Append(provider.Message{Role: provider.MessageRoleSystem, Content: systemPrompt})
	}
}

// Messages returns a copy of the conversation history.
func (o *Orchestrator) Messages() []provider.Message {
	return o.history.Messages()
}

// Reset clears the history, the session-approved tool set, and the
// loop detector.
func (o *Orchestrator) Reset() {
	o.history.Clear()

	o.mu.Lock()
	o.approvedTools = make(map[string]bool)
	o.detector.Clear()
	o.mu.Unlock()
}

// ProcessTurn runs one full turn: call the model, execute approved tool
// calls, repeat until the model stops requesting tools or a bound is
// hit. Tool failures are conversational and never abort the turn; only
// model/stream errors do.
func (o *Orchestrator) ProcessTurn(ctx context.Context, tc *TurnContext) (*TurnResult, error) {
	slog.InfoContext(ctx, "processing turn", "turn_id", tc.TurnID, "session_id", tc.SubmissionID)

	// The per-turn tool-call budget is keyed by TurnID; release the
	// entry however the turn ends.
	if tcap, ok := o.capability.(tools.TurnCapability); ok {
		defer tcap.ClearTurn(tc.TurnID)
	}

	o.history.Append(provider.Message{Role: provider.MessageRoleUser, Content: tc.UserInput})
	o.emit(Event{Type: EventTurnStarted, TurnID: tc.TurnID, Message: tc.UserInput})

	var (
		finalResponse   strings.Builder
		lastTextSegment string
		allToolCalls    []ToolCallResult
	)

	for {
		// Cancellation is observed at loop boundaries only; an
		// in-flight model call or tool execution completes first.
		if tc.Cancelled() {
			o.emit(Event{Type: EventTurnInterrupted, TurnID: tc.TurnID})
			return o.finishTurn(ctx, tc, lastTextSegment, finalResponse.String(), allToolCalls, TurnInterrupted), nil
		}

		if tc.ToolIterations >= o.config.MaxToolIterations {
			slog.WarnContext(ctx, "max tool iterations reached", "turn_id", tc.TurnID)
			break
		}

		o.emit(Event{Type: EventThinking, TurnID: tc.TurnID})
		text, toolCalls, usage, err := o.callModel(ctx, tc)
		if err != nil {
			o.emit(Event{Type: EventError, TurnID: tc.TurnID, Message: err.Error()})
			o.persistTurn(ctx, tc, "", TurnFailed)
			return nil, err
		}

		if usage != nil {
			tc.AddTokens(usage.InputTokens, usage.OutputTokens)
		}

		if text != "" {
			finalResponse.WriteString(text)
			lastTextSegment = text
		}

		// The assistant message must carry the raw tool-call envelope:
		// later tool-result messages reference these call IDs.
		if text != "" || len(toolCalls) > 0 {
			o.history.Append(provider.Message{
				Role:      provider.MessageRoleAssistant,
				Content:   text,
				ToolCalls: toolCalls,
			})
		}

		if len(toolCalls) == 0 {
			// Empty text right after tool work gets one synthetic
			// summary request so the turn ends with usable output.
			if strings.TrimSpace(text) == "" && tc.ToolIterations > 0 && !tc.SummaryRequested {
				tc.SummaryRequested = true
				o.history.Append(provider.Message{Role: provider.MessageRoleUser, Content: synthSummaryPrompt})
				continue
			}
			break
		}

		tc.ToolIterations++
		results := o.processToolCalls(ctx, tc, toolCalls)
		allToolCalls = append(allToolCalls, results...)
		tc.ToolResults = append(tc.ToolResults, results...)

		for _, result := range results {
			o.history.Append(provider.Message{
				Role:       provider.MessageRoleTool,
				Content:    result.Result.Content,
				ToolCallID: result.CallID,
				ToolName:   result.ToolName,
			})
		}
	}

	result := o.finishTurn(ctx, tc, lastTextSegment, finalResponse.String(), allToolCalls, TurnCompleted)
	o.emit(Event{Type: EventTurnCompleted, TurnID: tc.TurnID, Message: result.Response, Usage: &result.TokenUsage})
	return result, nil
}

// finishTurn assembles the TurnResult and persists it. The reported
// response is the last non-empty text segment (the conclusion after
// tool work); the full concatenation is the fallback.
func (o *Orchestrator) finishTurn(ctx context.Context, tc *TurnContext, lastSegment, full string, toolCalls []ToolCallResult, status TurnStatus) *TurnResult {
	response := full
	if strings.TrimSpace(lastSegment) != "" {
		response = lastSegment
	}

	o.persistTurn(ctx, tc, response, status)

	return &TurnResult{
		TurnID:        tc.TurnID,
		Response:      response,
		ToolCalls:     toolCalls,
		TokenUsage:    tc.Tokens,
		Duration:      tc.Elapsed(),
		Status:        status,
		ContextTokens: o.history.EstimateTokens(),
	}
}

// callModel sends the history and tool definitions to the model and
// drains the event stream into (text, tool calls, usage). Duplicate
// tool-call IDs emitted during one stream are collapsed.
func (o *Orchestrator) callModel(ctx context.Context, tc *TurnContext) (string, []provider.ToolCall, *provider.Usage, error) {
	var defs []provider.ToolDefinition
	if o.capability != nil {
		defs = o.capability.Definitions()
	}

	slog.DebugContext(ctx, "calling model",
		"model", o.config.Model,
		"turn_id", tc.TurnID,
		"messages", o.history.Len(),
		"context_tokens_estimate", o.history.EstimateTokens(),
	)

	req := provider.ChatRequest{
		Model:    o.config.Model,
		Messages: o.history.Messages(),
		Tools:    defs,
		Options: provider.ChatOptions{
			Temperature: o.config.Temperature,
			MaxTokens:   o.config.MaxOutputTokens,
		},
	}

	eventCh, err := o.client.Chat(ctx, req)
	if err != nil {
		return "", nil, nil, crucerr.Wrapf(err, crucerr.CodeProviderUpstreamFailure, "chat call to %s", o.client.Name())
	}

	var (
		buf       strings.Builder
		toolCalls []provider.ToolCall
		usage     *provider.Usage
		streamErr error
	)

	seen := make(map[string]bool)
	for ev := range eventCh {
		switch ev.Type {
		case provider.EventTypeTextDelta:
			buf.WriteString(ev.Text)
			if o.config.Streaming {
				o.emit(Event{Type: EventTextDelta, TurnID: tc.TurnID, Message: ev.Text})
			}
		case provider.EventTypeReasoning:
			if o.config.Streaming {
				o.emit(Event{Type: EventReasoningDelta, TurnID: tc.TurnID, Message: ev.Text})
			}
		case provider.EventTypeToolCall:
			if ev.ToolCall != nil && !seen[ev.ToolCall.ID] {
				seen[ev.ToolCall.ID] = true
				toolCalls = append(toolCalls, *ev.ToolCall)
			}
		case provider.EventTypeUsage, provider.EventTypeDone:
			if ev.Usage != nil {
				usage = ev.Usage
			}
		case provider.EventTypeError:
			streamErr = crucerr.New(crucerr.CodeProviderUpstreamFailure, ev.Error,
				crucerr.FieldProvider(o.client.Name()))
		}
	}

	if streamErr != nil {
		return "", nil, nil, streamErr
	}
	return buf.String(), toolCalls, usage, nil
}

// processToolCalls runs one batch of tool calls through the approval
// flow, execution, and the doom-loop detector. Rejections and tool
// failures become failed results; only Abort and a tripped detector
// stop the turn, via the cancellation flag.
func (o *Orchestrator) processToolCalls(ctx context.Context, tc *TurnContext, toolCalls []provider.ToolCall) []ToolCallResult {
	results := make([]ToolCallResult, 0, len(toolCalls))

	for _, call := range toolCalls {
		if tc.Cancelled() {
			break
		}

		o.emit(Event{
			Type:      EventToolCallStarted,
			TurnID:    tc.TurnID,
			CallID:    call.ID,
			ToolName:  call.Name,
			Arguments: call.Arguments,
		})

		risk := security.RiskMedium
		if o.capability != nil {
			risk = o.capability.AssessRisk(call)
		}

		approved := false
		if o.canAutoApprove(call.Name, risk) {
			approved = true
			o.emit(Event{Type: EventToolCallApproved, TurnID: tc.TurnID, CallID: call.ID})
		} else {
			response := o.requestApproval(ctx, call, risk, tc)
			switch response.Decision {
			case DecisionApprove, DecisionAlwaysApprove:
				if response.Decision == DecisionAlwaysApprove {
					o.mu.Lock()
					o.approvedTools[call.Name] = true
					o.mu.Unlock()
				}
				approved = true
				o.emit(Event{Type: EventToolCallApproved, TurnID: tc.TurnID, CallID: call.ID})
			case DecisionApproveModified:
				if strings.TrimSpace(response.Arguments) != "" {
					call.Arguments = response.Arguments
				}
				approved = true
				o.emit(Event{Type: EventToolCallApproved, TurnID: tc.TurnID, CallID: call.ID})
			case DecisionReject:
				o.emit(Event{Type: EventToolCallRejected, TurnID: tc.TurnID, CallID: call.ID, Message: response.Reason})
			case DecisionAbort:
				tc.Cancel()
			}
		}

		start := time.Now()
		var result tools.Result
		switch {
		case !approved:
			result = tools.Result{Content: "Tool call was rejected", IsError: true}
		case call.Name == TaskToolName && o.delegator != nil:
			result = o.delegator.RunTask(ctx, tc.SubmissionID, call, o.events)
			o.emit(Event{Type: EventToolCallCompleted, TurnID: tc.TurnID, CallID: call.ID, ToolName: call.Name, Result: &result})
		default:
			execResult, err := o.executeCall(ctx, tc, call)
			if err != nil {
				// Tool failure is conversational, not fatal: the model
				// sees the error text and decides how to proceed.
				result = tools.Result{Content: err.Error(), IsError: true}
				o.emit(Event{Type: EventError, TurnID: tc.TurnID, Message: "tool execution failed: " + err.Error(), Recoverable: true})
			} else {
				result = execResult
				o.emit(Event{Type: EventToolCallCompleted, TurnID: tc.TurnID, CallID: call.ID, ToolName: call.Name, Result: &result})
			}
		}

		// Every execution feeds the detector, including rejections:
		// a model stuck re-proposing a rejected call is also a loop.
		o.mu.Lock()
		tripped := o.detector.RecordAndCheck(call.Name, call.Arguments, result)
		loopTool := o.detector.LastToolName()
		threshold := o.detector.Threshold()
		o.mu.Unlock()

		if tripped {
			slog.WarnContext(ctx, "doom loop detected", "tool", loopTool, "turn_id", tc.TurnID)
			o.emit(Event{Type: EventLoopDetected, TurnID: tc.TurnID, ToolName: loopTool, Count: threshold})
			tc.Cancel()
		}

		// Sandbox usage is policy-derived: sandboxing applies when the
		// policy enables it and the call carries real risk.
		sandboxUsed := (o.config.SandboxPolicy == security.SandboxFull || o.config.SandboxPolicy == security.SandboxPrompt) &&
			risk >= security.RiskMedium

		results = append(results, ToolCallResult{
			CallID:      call.ID,
			ToolName:    call.Name,
			Arguments:   call.Arguments,
			Result:      result,
			Duration:    time.Since(start),
			Approved:    approved,
			SandboxUsed: sandboxUsed,
		})
	}

	return results
}

// executeCall dispatches one approved call. Budget-tracking
// capabilities get the turn-scoped path so runaway turns are cut off at
// the call level too, not only by the iteration bound.
func (o *Orchestrator) executeCall(ctx context.Context, tc *TurnContext, call provider.ToolCall) (tools.Result, error) {
	if tcap, ok := o.capability.(tools.TurnCapability); ok {
		return tcap.ExecuteForTurn(ctx, tools.DispatchRequest{
			Call:      call,
			SessionID: tc.SubmissionID,
			TurnID:    tc.TurnID,
		}, o.config.MaxToolCallsPerTurn)
	}
	return o.capability.Execute(ctx, call)
}

// canAutoApprove applies the auto-approval tests in order: the
// session's always-approved set, the auto-approve-safe config, then the
// sandbox policy.
func (o *Orchestrator) canAutoApprove(toolName string, risk security.RiskLevel) bool {
	o.mu.Lock()
	alwaysApproved := o.approvedTools[toolName]
	o.mu.Unlock()

	if alwaysApproved {
		return true
	}
	if o.config.AutoApproveSafe && risk == security.RiskSafe {
		return true
	}
	return risk.CanAutoApprove(o.config.SandboxPolicy)
}

// requestApproval asks the host to decide on a call. A closed response
// channel means the host timed out, which is a rejection. Turn
// cancellation while waiting aborts.
func (o *Orchestrator) requestApproval(ctx context.Context, call provider.ToolCall, risk security.RiskLevel, tc *TurnContext) ApprovalResponse {
	if o.approvalCallback == nil {
		slog.WarnContext(ctx, "no approval callback set, auto-approving tool call", "tool", call.Name)
		return Approve()
	}

	pending := PendingApproval{
		ID:        call.ID,
		ToolName:  call.Name,
		Arguments: call.Arguments,
		Risk:      risk,
		Timestamp: time.Now(),
	}

	o.emit(Event{
		Type:      EventToolCallPending,
		TurnID:    tc.TurnID,
		CallID:    call.ID,
		ToolName:  call.Name,
		Arguments: call.Arguments,
		Risk:      risk,
	})

	responseCh := o.approvalCallback(pending)
	select {
	case response, ok := <-responseCh:
		if !ok {
			return Reject("Approval timed out")
		}
		return response
	case <-ctx.Done():
		return Abort()
	}
}

// persistTurn writes a turn record, best-effort.
func (o *Orchestrator) persistTurn(ctx context.Context, tc *TurnContext, response string, status TurnStatus) {
	if o.turnStore == nil {
		return
	}

	record := &store.TurnRecord{
		ID:             tc.TurnID,
		SessionID:      tc.SubmissionID,
		Input:          tc.UserInput,
		FinalResponse:  response,
		Status:         string(status),
		ToolIterations: tc.ToolIterations,
		InputTokens:    tc.Tokens.InputTokens,
		OutputTokens:   tc.Tokens.OutputTokens,
		StartedAt:      tc.StartTime,
		CompletedAt:    time.Now().UTC(),
	}

	if err := o.turnStore.SaveTurn(ctx, record); err != nil {
		slog.WarnContext(ctx, "turn persistence failed", "error", err, "turn_id", tc.TurnID)
	}
}

func (o *Orchestrator) emit(ev Event) {
	emitTo(o.events, ev)
}
