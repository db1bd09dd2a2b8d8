// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package tools

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/crucible-dev/crucible/internal/provider"
	"github.com/crucible-dev/crucible/internal/security"
	"github.com/crucible-dev/crucible/internal/store"
	crucerr "github.com/crucible-dev/crucible/pkg/errors"
)

// DispatchRequest carries one tool call through the dispatcher.
type DispatchRequest struct {
	Call      provider.ToolCall
	SessionID string
	TurnID    string // unique identifier for budget scoping
}

// DispatcherConfig holds dependencies for Dispatcher.
type DispatcherConfig struct {
	Capability     Capability
	AuditStore     store.AuditStore
	DefaultTimeout time.Duration
}

// turnBudget tracks call count for a single turn.
type turnBudget struct {
	count atomic.Int64
}

// Dispatcher wraps a Capability with timeouts, per-turn call budgets,
// and best-effort audit logging. It implements Capability itself so the
// orchestrator can consume it directly.
type Dispatcher struct {
	capability     Capability
	auditStore     store.AuditStore
	defaultTimeout time.Duration

	// turnBudgets tracks per-turn call counts keyed by TurnID.
	turnBudgets sync.Map // map[string]*turnBudget

	// auditFailCount tracks consecutive audit append failures for
	// escalating log levels; resets on each successful append.
	auditFailCount atomic.Int64
}

var _ TurnCapability = (*Dispatcher)(nil)

// auditLogEscalationThreshold is the consecutive-failure count at which
// audit append failures escalate from warn to error level.
const auditLogEscalationThreshold = 3

// NewDispatcher creates a Dispatcher with the given configuration.
// Returns an error if Capability is nil.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Capability == nil {
		return nil, crucerr.New(crucerr.CodeAgentTurnInvalidInput, "Capability is required")
	}

	return &Dispatcher{
		capability:     cfg.Capability,
		auditStore:     cfg.AuditStore,
		defaultTimeout: cfg.DefaultTimeout,
	}, nil
}

// ClearTurn removes the budget entry for the given turn ID, freeing memory.
// Call this after a turn completes.
func (d *Dispatcher) ClearTurn(turnID string) {
	d.turnBudgets.Delete(turnID)
}

// Definitions delegates to the wrapped capability.
func (d *Dispatcher) Definitions() []provider.ToolDefinition {
	return d.capability.Definitions()
}

// AssessRisk delegates to the wrapped capability.
func (d *Dispatcher) AssessRisk(call provider.ToolCall) security.RiskLevel {
	return d.capability.AssessRisk(call)
}

// Execute runs a single tool call with timeout and audit logging.
func (d *Dispatcher) Execute(ctx context.Context, call provider.ToolCall) (Result, error) {
	return d.execute(ctx, DispatchRequest{Call: call})
}

// ExecuteForTurn wraps execution with per-turn budget tracking. Each
// unique TurnID gets its own independent budget counter.
func (d *Dispatcher) ExecuteForTurn(ctx context.Context, req DispatchRequest, maxCalls int) (Result, error) {
	if req.TurnID == "" {
		return Result{}, crucerr.New(crucerr.CodeAgentTurnInvalidInput,
			"TurnID is required for budget tracking")
	}

	// Load or create budget tracker for this turn. LoadOrStore guarantees
	// the value is *turnBudget because we only ever store that type.
	budget, _ := d.turnBudgets.LoadOrStore(req.TurnID, &turnBudget{})
	tb := budget.(*turnBudget)

	count := tb.count.Add(1)
	if maxCalls > 0 && int(count) > maxCalls {
		return Result{}, crucerr.With(
			crucerr.Errorf(crucerr.CodeAgentTurnFailure, "tool call budget exceeded: %d/%d calls used", count, maxCalls),
			crucerr.FieldSessionID(req.SessionID),
			crucerr.FieldTurnID(req.TurnID),
		)
	}

	return d.execute(ctx, req)
}

func (d *Dispatcher) execute(ctx context.Context, req DispatchRequest) (Result, error) {
	execCtx := ctx
	if d.defaultTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, d.defaultTimeout)
		defer cancel()
	}

	result, err := d.capability.Execute(execCtx, req.Call)
	if err != nil {
		d.auditToolDispatch(ctx, req, "error")
		if execCtx.Err() == context.DeadlineExceeded {
			return Result{}, crucerr.With(
				crucerr.Wrapf(err, crucerr.CodeAgentToolTimeout, "tool %q execution timeout", req.Call.Name),
				crucerr.FieldSessionID(req.SessionID),
			)
		}
		return Result{}, err
	}

	d.auditToolDispatch(ctx, req, "ok")
	return result, nil
}

// auditToolDispatch writes a best-effort audit entry for a tool
// dispatch. Failures never fail the execution; consecutive failures
// escalate the log level so a dead audit store is visible to operators.
func (d *Dispatcher) auditToolDispatch(ctx context.Context, req DispatchRequest, result string) {
	if d.auditStore == nil {
		return
	}

	// Truncate arguments to bound audit entry size while retaining
	// enough context for investigations. Walk back to a valid UTF-8
	// rune boundary to avoid storing invalid byte sequences.
	const maxArgLen = 1024
	args := req.Call.Arguments
	if len(args) > maxArgLen {
		i := maxArgLen
		for i > 0 && !utf8.RuneStart(args[i]) {
			i--
		}
		args = args[:i]
	}

	entry := &store.AuditEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Action:    "tool_dispatch",
		Actor:     req.Call.Name,
		SessionID: req.SessionID,
		TurnID:    req.TurnID,
		Details: map[string]any{
			"tool_name":      req.Call.Name,
			"tool_arguments": args,
			"call_id":        req.Call.ID,
		},
		Result: result,
	}

	if err := d.auditStore.Append(ctx, entry); err != nil {
		consecutive := d.auditFailCount.Add(1)
		logFn := slog.WarnContext
		if consecutive >= auditLogEscalationThreshold {
			logFn = slog.ErrorContext
		}
		logFn(ctx, "audit store append failed",
			"error", err,
			"tool", req.Call.Name,
			"session_id", req.SessionID,
			"consecutive_failures", consecutive,
		)
	} else {
		d.auditFailCount.Store(0)
	}
}
