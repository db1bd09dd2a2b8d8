// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crucible-dev/crucible/internal/provider"
	"github.com/crucible-dev/crucible/internal/security"
	"github.com/crucible-dev/crucible/internal/store"
	"github.com/crucible-dev/crucible/internal/tools"
	crucerr "github.com/crucible-dev/crucible/pkg/errors"
)

const (
	// defaultMaxConcurrentSubagents caps simultaneously running
	// subagents under one executor.
	defaultMaxConcurrentSubagents = 3

	// subagentMaxOutputTokens is the per-call output budget for
	// subagent model calls.
	subagentMaxOutputTokens = 16384

	// summaryTurnTimeout bounds the extra summary-request turn.
	summaryTurnTimeout = 60 * time.Second
)

// SubagentStatus is the lifecycle state of a subagent session.
type SubagentStatus string

const (
	StatusInitializing       SubagentStatus = "initializing"
	StatusRunning            SubagentStatus = "running"
	StatusWaitingForApproval SubagentStatus = "waiting_for_approval"
	StatusCompleted          SubagentStatus = "completed"
	StatusFailed             SubagentStatus = "failed"
	StatusCancelled          SubagentStatus = "cancelled"
	StatusTimedOut           SubagentStatus = "timed_out"
	StatusPaused             SubagentStatus = "paused"
)

// IsTerminal reports whether the status is final.
func (s SubagentStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// CanResume reports whether a session in this status may be resumed.
// Completed sessions are additionally continuable (follow-up turns).
func (s SubagentStatus) CanResume() bool {
	return s == StatusPaused || s == StatusWaitingForApproval
}

// SubagentSession is the accumulated state of one delegated task,
// held in the executor's in-memory registry.
type SubagentSession struct {
	ID             string
	ParentID       string
	AgentType      SubagentType
	Description    string
	Status         SubagentStatus
	TurnsCompleted int
	ToolCallsMade  int
	TokensUsed     int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	WorkingDir     string
	FilesModified  []string
}

// SubagentConfig describes one delegated task.
type SubagentConfig struct {
	AgentType   SubagentType
	Description string
	Prompt      string

	// Model overrides the executor default ("provider/model" ref).
	Model string

	// MaxIterations overrides the type default when positive.
	MaxIterations int

	// Timeout bounds the whole run; zero means run to completion.
	Timeout time.Duration

	WorkingDir      string
	ParentSessionID string

	// ContinueSessionID resumes an existing session instead of
	// spawning a new one.
	ContinueSessionID string

	// Context is extra background appended to the task message.
	Context string

	// SessionID pins the new session's ID; empty generates one.
	SessionID string
}

// EffectiveMaxIterations resolves the iteration budget.
func (c SubagentConfig) EffectiveMaxIterations() int {
	if c.MaxIterations > 0 {
		return c.MaxIterations
	}
	return c.AgentType.MaxIterations()
}

// BuildUserMessage renders the task as the first user message of the
// subagent conversation.
func (c SubagentConfig) BuildUserMessage() string {
	var b strings.Builder
	b.WriteString("## Task\n")
	b.WriteString(c.Description)
	b.WriteString("\n\n## Instructions\n")
	b.WriteString(c.Prompt)
	if c.Context != "" {
		b.WriteString("\n\n## Additional Context\n")
		b.WriteString(c.Context)
	}
	b.WriteString("\n\nPlease complete this task and provide a clear summary of your findings or actions when done.")
	return b.String()
}

// FileChange records a file touched by a subagent, recovered from tool
// output by a best-effort textual heuristic.
type FileChange struct {
	Path       string
	ChangeType string
}

// SubagentResult is the structured outcome reported to the parent.
type SubagentResult struct {
	Success       bool
	Session       SubagentSession
	Output        string
	Error         string
	TokenUsage    TokenUsage
	FilesModified []FileChange

	// Continuable signals the caller may resume this session: the run
	// succeeded, or it was cut short before exhausting its iteration
	// budget.
	Continuable bool
}

// ToToolOutput renders the result as the Task tool's output string.
func (r *SubagentResult) ToToolOutput() string {
	var b strings.Builder

	status := "[OK]"
	verb := "completed"
	if !r.Success {
		status = "[FAIL]"
		verb = "failed"
	}
	fmt.Fprintf(&b, "%s Subagent (%s) %s\n", status, r.Session.AgentType, verb)
	fmt.Fprintf(&b, "Session ID: %s\n\n", r.Session.ID)

	if r.Error != "" {
		b.WriteString("## Error\n")
		b.WriteString(r.Error)
		b.WriteString("\n\n")
	}

	if r.Output != "" {
		b.WriteString("## Output\n")
		b.WriteString(r.Output)
		b.WriteString("\n\n")
	}

	b.WriteString("## Statistics\n")
	fmt.Fprintf(&b, "- Turns: %d\n", r.Session.TurnsCompleted)
	fmt.Fprintf(&b, "- Tool calls: %d\n", r.Session.ToolCallsMade)
	fmt.Fprintf(&b, "- Total tokens: %d\n", r.Session.TokensUsed)
	fmt.Fprintf(&b, "- Input tokens: %d\n", r.TokenUsage.InputTokens)
	fmt.Fprintf(&b, "- Output tokens: %d\n\n", r.TokenUsage.OutputTokens)

	if len(r.FilesModified) > 0 {
		b.WriteString("## Files Modified\n")
		for _, change := range r.FilesModified {
			fmt.Fprintf(&b, "- %s (%s)\n", change.Path, change.ChangeType)
		}
		b.WriteString("\n")
	}

	if r.Continuable {
		fmt.Fprintf(&b, "\nHint: To continue this task, use session_id: %q\n", r.Session.ID)
	}

	return b.String()
}

// ExecutorConfig holds dependencies for SubagentExecutor.
type ExecutorConfig struct {
	Router        provider.Router
	Capability    tools.Capability
	Agents        *AgentRegistry
	DefaultModel  string // "provider/model" ref
	SandboxPolicy security.SandboxPolicy
	MaxConcurrent int
	TurnStore     store.TurnStore
}

// SubagentExecutor runs delegated tasks as isolated child agents under
// a global concurrency cap, and owns the in-memory session registry.
// It implements Delegator for the parent orchestrator's Task calls.
type SubagentExecutor struct {
	router        provider.Router
	capability    tools.Capability
	agents        *AgentRegistry
	defaultModel  string
	sandboxPolicy security.SandboxPolicy
	maxConcurrent int
	turnStore     store.TurnStore

	// mu guards sessions and active as one critical section per state
	// transition; the slot check and increment are never split.
	mu       sync.Mutex
	sessions map[string]*SubagentSession
	active   int
}

// NewSubagentExecutor creates an executor.
func NewSubagentExecutor(cfg ExecutorConfig) (*SubagentExecutor, error) {
	if cfg.Router == nil {
		return nil, crucerr.New(crucerr.CodeAgentTurnInvalidInput, "Router is required")
	}
	if cfg.Capability == nil {
		return nil, crucerr.New(crucerr.CodeAgentTurnInvalidInput, "Capability is required")
	}
	if cfg.Agents == nil {
		cfg.Agents = NewAgentRegistry()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrentSubagents
	}
	if cfg.SandboxPolicy == "" {
		cfg.SandboxPolicy = security.SandboxPrompt
	}

	return &SubagentExecutor{
		router:        cfg.Router,
		capability:    cfg.Capability,
		agents:        cfg.Agents,
		defaultModel:  cfg.DefaultModel,
		sandboxPolicy: cfg.SandboxPolicy,
		maxConcurrent: cfg.MaxConcurrent,
		turnStore:     cfg.TurnStore,
		sessions:      make(map[string]*SubagentSession),
	}, nil
}

// Execute runs a subagent described by cfg, forwarding progress events
// to progress (best-effort, may be nil). A ContinueSessionID resumes an
// existing session. The concurrency cap is enforced up front: callers
// over the cap get a rate-limit error immediately, no queueing.
func (e *SubagentExecutor) Execute(ctx context.Context, cfg SubagentConfig, progress chan<- Event) (*SubagentResult, error) {
	if err := e.acquireSlot(); err != nil {
		return nil, err
	}
	defer e.releaseSlot()

	if cfg.ContinueSessionID != "" {
		session, err := e.resumeSession(cfg.ContinueSessionID)
		if err != nil {
			return nil, err
		}
		runCfg := cfg
		runCfg.AgentType = session.AgentType
		runCfg.Description = "Continue: " + session.Description
		if runCfg.WorkingDir == "" {
			runCfg.WorkingDir = session.WorkingDir
		}
		return e.run(ctx, session, runCfg, progress)
	}

	id := cfg.SessionID
	if id == "" {
		id = newSessionID()
	}
	now := time.Now().UTC()
	session := &SubagentSession{
		ID:          id,
		ParentID:    cfg.ParentSessionID,
		AgentType:   cfg.AgentType,
		Description: cfg.Description,
		Status:      StatusInitializing,
		WorkingDir:  cfg.WorkingDir,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	e.mu.Lock()
	e.sessions[id] = session
	e.mu.Unlock()

	return e.run(ctx, session, cfg, progress)
}

// RunTask implements Delegator: it parses the Task tool arguments,
// spawns (or continues) a subagent, and renders the outcome as a tool
// result. Failures are returned as failed results, never as errors.
func (e *SubagentExecutor) RunTask(ctx context.Context, parentSessionID string, call provider.ToolCall, progress chan<- Event) tools.Result {
	var args struct {
		Description       string `json:"description"`
		Prompt            string `json:"prompt"`
		SubagentType      string `json:"subagent_type"`
		SessionID         string `json:"session_id"`
		ContinueSessionID string `json:"continue_session_id"`
		Context           string `json:"context"`
		WorkingDir        string `json:"working_dir"`
		MaxIterations     int    `json:"max_iterations"`
	}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return tools.Result{Content: "invalid task arguments: " + err.Error(), IsError: true}
		}
	}
	if args.Description == "" {
		args.Description = "Subagent task"
	}
	if args.SubagentType == "" {
		args.SubagentType = "code"
	}
	agentType := ParseSubagentType(args.SubagentType)

	slog.InfoContext(ctx, "spawning subagent",
		"parent_session_id", parentSessionID,
		"subagent_type", agentType.Name(),
		"description", args.Description,
	)
	emitTo(progress, Event{
		Type:     EventTaskSpawned,
		CallID:   call.ID,
		ToolName: agentType.Name(),
		Message:  args.Description,
	})

	result, err := e.Execute(ctx, SubagentConfig{
		AgentType:         agentType,
		Description:       args.Description,
		Prompt:            args.Prompt,
		MaxIterations:     args.MaxIterations,
		WorkingDir:        args.WorkingDir,
		ParentSessionID:   parentSessionID,
		ContinueSessionID: args.ContinueSessionID,
		Context:           args.Context,
		SessionID:         args.SessionID,
	}, progress)

	emitTo(progress, Event{Type: EventTaskCompleted, CallID: call.ID})

	if err != nil {
		return tools.Result{Content: "Subagent failed: " + err.Error(), IsError: true}
	}
	return tools.Result{Content: result.ToToolOutput(), IsError: !result.Success}
}

// GetSession returns a snapshot of the session, if present.
func (e *SubagentExecutor) GetSession(sessionID string) (SubagentSession, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok := e.sessions[sessionID]
	if !ok {
		return SubagentSession{}, false
	}
	return snapshotSession(session), true
}

// ListSessions returns snapshots of all known sessions.
func (e *SubagentExecutor) ListSessions() []SubagentSession {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]SubagentSession, 0, len(e.sessions))
	for _, session := range e.sessions {
		out = append(out, snapshotSession(session))
	}
	return out
}

// CancelSession marks a session cancelled.
func (e *SubagentExecutor) CancelSession(sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok := e.sessions[sessionID]
	if !ok {
		return crucerr.New(crucerr.CodeSubagentSessionNotFound, "session not found",
			crucerr.FieldSessionID(sessionID))
	}
	session.Status = StatusCancelled
	session.UpdatedAt = time.Now().UTC()
	return nil
}

// ActiveCount returns the number of currently running subagents.
func (e *SubagentExecutor) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// AvailableTypes lists the built-in subagent types.
func (e *SubagentExecutor) AvailableTypes() []SubagentTypeInfo {
	return BuiltinTypes()
}

// CustomAgents lists the registered custom agents.
func (e *SubagentExecutor) CustomAgents() []CustomAgent {
	return e.agents.List()
}

// acquireSlot checks the cap and claims a slot in one critical section.
func (e *SubagentExecutor) acquireSlot() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active >= e.maxConcurrent {
		return crucerr.Errorf(crucerr.CodeSubagentRateLimited,
			"maximum concurrent subagents (%d) reached", e.maxConcurrent)
	}
	e.active++
	return nil
}

func (e *SubagentExecutor) releaseSlot() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active > 0 {
		e.active--
	}
}

// resumeSession validates and reactivates an existing session for
// continuation.
func (e *SubagentExecutor) resumeSession(sessionID string) (*SubagentSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok := e.sessions[sessionID]
	if !ok {
		return nil, crucerr.New(crucerr.CodeSubagentSessionNotFound, "session not found",
			crucerr.FieldSessionID(sessionID))
	}

	if session.Status != StatusCompleted && !session.Status.CanResume() {
		return nil, crucerr.New(crucerr.CodeSubagentContinueInvalid,
			"session cannot be continued (status: "+string(session.Status)+")",
			crucerr.FieldSessionID(sessionID))
	}

	session.Status = StatusRunning
	session.UpdatedAt = time.Now().UTC()
	return session, nil
}

// run executes one turn of the session on a dedicated child
// orchestrator.
func (e *SubagentExecutor) run(ctx context.Context, session *SubagentSession, cfg SubagentConfig, progress chan<- Event) (*SubagentResult, error) {
	e.setStatus(session, StatusRunning)

	// Custom types resolve through the agent registry and may override
	// the system prompt, model, iteration budget, and tool access.
	var custom *CustomAgent
	if name, ok := cfg.AgentType.CustomName(); ok {
		agent, err := e.agents.Get(name)
		if err != nil {
			e.setStatus(session, StatusFailed)
			return nil, crucerr.With(err, crucerr.FieldSessionID(session.ID))
		}
		custom = &agent
	}

	systemPrompt := cfg.AgentType.BaseSystemPrompt()
	if custom != nil {
		systemPrompt = custom.SystemPrompt
	}

	modelRef := cfg.Model
	if modelRef == "" {
		modelRef = e.defaultModel
	}
	if custom != nil {
		modelRef = custom.EffectiveModel(modelRef)
	}

	prov, model, err := e.router.Route(ctx, modelRef)
	if err != nil {
		e.setStatus(session, StatusFailed)
		return nil, crucerr.With(err, crucerr.FieldSessionID(session.ID))
	}

	maxIterations := cfg.EffectiveMaxIterations()
	if custom != nil && custom.MaxTurns > 0 {
		maxIterations = custom.MaxTurns
	}

	capability := e.capability
	allowed := cfg.AgentType.AllowedTools()
	denied := cfg.AgentType.DeniedTools()
	if custom != nil && len(custom.Tools) > 0 {
		allowed = custom.Tools
		denied = nil
	}
	if len(allowed) > 0 || len(denied) > 0 {
		capability = restrictTools(capability, allowed, denied)
	}

	childEvents := make(chan Event, 64)
	orch := New(prov, capability, Config{
		Model:             model,
		SystemPrompt:      systemPrompt,
		MaxToolIterations: maxIterations,
		MaxOutputTokens:   subagentMaxOutputTokens,
		SandboxPolicy:     e.sandboxPolicy,
		AutoApproveSafe:   true,
		Streaming:         true,
	}, childEvents)
	if e.turnStore != nil {
		orch.SetTurnStore(e.turnStore)
	}
	orch.SetDelegator(e)
	orch.Initialize(systemPrompt)

	done := make(chan []string, 1)
	go forwardSubagentEvents(session.ID, childEvents, progress, done)

	turnID := fmt.Sprintf("%s-turn-%d", session.ID, session.TurnsCompleted+1)
	turnCtx := NewTurnContext(turnID, session.ID, cfg.BuildUserMessage(), cfg.WorkingDir)

	runCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	turnResult, runErr := orch.ProcessTurn(runCtx, turnCtx)

	if runErr != nil && runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		close(childEvents)
		timedOutFiles := <-done

		// The turn was cut short but its partial work still counts
		// against the session.
		e.mu.Lock()
		session.TurnsCompleted++
		session.ToolCallsMade += len(turnCtx.ToolResults)
		session.TokensUsed += turnCtx.Tokens.TotalTokens
		for _, path := range timedOutFiles {
			recordFileModified(session, path)
		}
		session.Status = StatusTimedOut
		session.UpdatedAt = time.Now().UTC()
		e.mu.Unlock()

		return nil, crucerr.Wrap(runErr, crucerr.CodeSubagentTimeout, "subagent run timed out",
			crucerr.FieldSessionID(session.ID))
	}

	// A completed turn must end in a structured summary. When markers
	// are missing, one extra bounded turn requests it explicitly; any
	// failure there falls back silently to the original response.
	var summaryTokens TokenUsage
	if runErr == nil && turnResult.Status == TurnCompleted && !hasSummaryOutput(turnResult.Response) {
		slog.InfoContext(ctx, "subagent output missing summary, requesting explicit summary turn",
			"session_id", session.ID)

		sumCtx, cancelSum := context.WithTimeout(ctx, summaryTurnTimeout)
		sumTurnID := fmt.Sprintf("%s-turn-%d", session.ID, session.TurnsCompleted+2)
		sumTurnCtx := NewTurnContext(sumTurnID, session.ID, summaryRequestPrompt, cfg.WorkingDir)
		sumResult, sumErr := orch.ProcessTurn(sumCtx, sumTurnCtx)
		cancelSum()

		if sumErr == nil && sumResult.Status == TurnCompleted && strings.TrimSpace(sumResult.Response) != "" {
			turnResult.Response = turnResult.Response + "\n\n" + sumResult.Response
			summaryTokens = sumTurnCtx.Tokens
		}
	}

	// The child event sender must be closed before joining the
	// forwarder: its receive loop terminates only when the channel
	// closes.
	close(childEvents)
	filesModified := <-done

	success := runErr == nil && turnResult.Status == TurnCompleted

	var output, errMsg string
	switch {
	case runErr != nil:
		errMsg = runErr.Error()
	case !success:
		output = turnResult.Response
		errMsg = "task ended with status: " + string(turnResult.Status)
	default:
		output = turnResult.Response
	}

	e.mu.Lock()
	session.TurnsCompleted++
	session.ToolCallsMade += len(turnCtx.ToolResults)
	session.TokensUsed += turnCtx.Tokens.TotalTokens + summaryTokens.TotalTokens
	for _, path := range filesModified {
		recordFileModified(session, path)
	}
	if success {
		session.Status = StatusCompleted
	} else {
		session.Status = StatusFailed
	}
	session.UpdatedAt = time.Now().UTC()
	snapshot := snapshotSession(session)
	e.mu.Unlock()

	usage := turnCtx.Tokens
	usage.Add(summaryTokens.InputTokens, summaryTokens.OutputTokens)

	changes := make([]FileChange, 0, len(filesModified))
	for _, path := range filesModified {
		changes = append(changes, FileChange{Path: path, ChangeType: "modified"})
	}

	return &SubagentResult{
		Success:       success,
		Session:       snapshot,
		Output:        output,
		Error:         errMsg,
		TokenUsage:    usage,
		FilesModified: changes,
		Continuable:   success || turnCtx.ToolIterations < maxIterations,
	}, nil
}

func (e *SubagentExecutor) setStatus(session *SubagentSession, status SubagentStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	session.Status = status
	session.UpdatedAt = time.Now().UTC()
}

func snapshotSession(session *SubagentSession) SubagentSession {
	copied := *session
	copied.FilesModified = append([]string(nil), session.FilesModified...)
	return copied
}

func recordFileModified(session *SubagentSession, path string) {
	for _, existing := range session.FilesModified {
		if existing == path {
			return
		}
	}
	session.FilesModified = append(session.FilesModified, path)
}

func newSessionID() string {
	id := uuid.New().String()
	if idx := strings.Index(id, "-"); idx > 0 {
		id = id[:idx]
	}
	return "sub_" + id
}

// fileModifyingTools are the tool names whose completed calls are
// scanned for touched file paths.
var fileModifyingTools = map[string]bool{
	"write":       true,
	"edit":        true,
	"apply_patch": true,
	"create":      true,
}

// forwardSubagentEvents relays selected child events to the parent's
// progress channel with a [subagent] tag, tracking modified files along
// the way. It exits when the child channel is closed and delivers the
// file list on done.
func forwardSubagentEvents(sessionID string, in <-chan Event, progress chan<- Event, done chan<- []string) {
	var files []string
	for ev := range in {
		switch ev.Type {
		case EventToolCallStarted:
			emitTo(progress, Event{
				Type:    EventTaskProgress,
				CallID:  sessionID,
				Message: "[subagent] Calling tool: " + ev.ToolName,
			})
		case EventToolCallCompleted:
			if fileModifyingTools[ev.ToolName] && ev.Result != nil && !ev.Result.IsError {
				if path := extractFilePath(ev.Result.Content); path != "" {
					files = append(files, path)
				}
			}
		case EventError:
			emitTo(progress, Event{
				Type:    EventTaskProgress,
				CallID:  sessionID,
				Message: "[subagent] Error: " + ev.Message,
			})
		}
	}
	done <- files
}

// extractFilePath recovers a file path from free-text tool output.
// Best-effort only; correctness-critical logic must not depend on it.
func extractFilePath(output string) string {
	patterns := []string{
		"Created file: ",
		"Created: ",
		"Edited ",
		"Modified ",
		"Wrote ",
	}

	for _, pattern := range patterns {
		idx := strings.Index(output, pattern)
		if idx == -1 {
			continue
		}
		rest := output[idx+len(pattern):]
		if path := firstPathToken(rest); path != "" {
			return path
		}
		// "Wrote 100 bytes to config.json": the token after the verb
		// is a byte count, the destination follows " to " within the
		// same clause. An unanchored "to " would also match phrases
		// like "refers to x.yaml", so it only applies after Wrote.
		if pattern == "Wrote " {
			if tidx := strings.Index(rest, " to "); tidx != -1 {
				if path := firstPathToken(rest[tidx+len(" to "):]); path != "" {
					return path
				}
			}
		}
	}
	return ""
}

// firstPathToken returns the leading whitespace-delimited token of s if
// it looks like a file path, else "".
func firstPathToken(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == '\r'
	})
	token := s
	if end != -1 {
		token = s[:end]
	}
	if token != "" && (strings.ContainsAny(token, "/\\") || strings.Contains(token, ".")) {
		return token
	}
	return ""
}

// restrictTools wraps a capability with allow/deny tool-name patterns.
// An empty allow list permits everything not denied.
func restrictTools(inner tools.Capability, allowed, denied []string) tools.Capability {
	return &restrictedCapability{
		inner:   inner,
		allowed: security.NewPatternSet(allowed...),
		denied:  security.NewPatternSet(denied...),
	}
}

type restrictedCapability struct {
	inner   tools.Capability
	allowed security.PatternSet
	denied  security.PatternSet
}

func (c *restrictedCapability) permits(name string) bool {
	if c.denied.Contains(name) {
		return false
	}
	if c.allowed.Empty() {
		return true
	}
	return c.allowed.Contains(name)
}

func (c *restrictedCapability) Definitions() []provider.ToolDefinition {
	defs := c.inner.Definitions()
	out := make([]provider.ToolDefinition, 0, len(defs))
	for _, def := range defs {
		if c.permits(def.Name) {
			out = append(out, def)
		}
	}
	return out
}

func (c *restrictedCapability) Execute(ctx context.Context, call provider.ToolCall) (tools.Result, error) {
	if !c.permits(call.Name) {
		return tools.Result{}, crucerr.New(crucerr.CodeAgentToolNotFound,
			"tool not available to this agent", crucerr.FieldTool(call.Name))
	}
	return c.inner.Execute(ctx, call)
}

func (c *restrictedCapability) AssessRisk(call provider.ToolCall) security.RiskLevel {
	return c.inner.AssessRisk(call)
}

// ExecuteForTurn forwards budget-tracked execution to the inner
// capability so restricted subagents keep their per-turn call budget.
func (c *restrictedCapability) ExecuteForTurn(ctx context.Context, req tools.DispatchRequest, maxCalls int) (tools.Result, error) {
	if !c.permits(req.Call.Name) {
		return tools.Result{}, crucerr.New(crucerr.CodeAgentToolNotFound,
			"tool not available to this agent", crucerr.FieldTool(req.Call.Name))
	}
	if tcap, ok := c.inner.(tools.TurnCapability); ok {
		return tcap.ExecuteForTurn(ctx, req, maxCalls)
	}
	return c.inner.Execute(ctx, req.Call)
}

func (c *restrictedCapability) ClearTurn(turnID string) {
	if tcap, ok := c.inner.(tools.TurnCapability); ok {
		tcap.ClearTurn(turnID)
	}
}
