// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

// Package tools defines the capability seam between the orchestrator
// and concrete tool implementations, plus an in-process registry. The
// orchestrator only ever sees Capability: definitions for the model,
// execute, and risk assessment.
package tools

import (
	"context"
	"sync"

	"github.com/crucible-dev/crucible/internal/provider"
	"github.com/crucible-dev/crucible/internal/security"
	crucerr "github.com/crucible-dev/crucible/pkg/errors"
)

// Tool is a single executable tool registered in-process.
type Tool interface {
	Definition() provider.ToolDefinition
	Execute(ctx context.Context, arguments string) (string, error)
}

// Result holds the output from a tool execution. IsError marks results
// that should be surfaced to the model as failures without failing the
// turn.
type Result struct {
	Content string
	IsError bool
}

// Capability is the interface the orchestrator consumes for tool
// execution and risk assessment.
type Capability interface {
	Definitions() []provider.ToolDefinition
	Execute(ctx context.Context, call provider.ToolCall) (Result, error)
	AssessRisk(call provider.ToolCall) security.RiskLevel
}

// TurnCapability is a Capability that additionally enforces a per-turn
// tool-call budget. Implemented by Dispatcher; the orchestrator uses it
// when available and clears the budget when the turn ends.
type TurnCapability interface {
	Capability
	ExecuteForTurn(ctx context.Context, req DispatchRequest, maxCalls int) (Result, error)
	ClearTurn(turnID string)
}

// Registry is a thread-safe in-process Capability implementation over
// registered tools and a risk classifier.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]Tool
	classifier security.Classifier
}

// NewRegistry creates an empty Registry classifying with the given
// classifier. A nil classifier falls back to the built-in rule set.
func NewRegistry(classifier security.Classifier) *Registry {
	if classifier == nil {
		classifier = security.DefaultClassifier()
	}
	return &Registry{
		tools:      make(map[string]Tool),
		classifier: classifier,
	}
}

// Register adds a tool under its definition name, replacing any
// previous registration.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition().Name] = tool
}

// Definitions returns all registered tool definitions for inclusion in
// ChatRequest.Tools.
func (r *Registry) Definitions() []provider.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]provider.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	return defs
}

// Execute runs the named tool. An unregistered name is an error; a
// tool-level failure is returned as an error for the caller to fold
// into a failed result.
func (r *Registry) Execute(ctx context.Context, call provider.ToolCall) (Result, error) {
	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()

	if !ok {
		return Result{}, crucerr.New(crucerr.CodeAgentToolNotFound, "tool not registered",
			crucerr.FieldTool(call.Name))
	}

	content, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		return Result{}, err
	}
	return Result{Content: content}, nil
}

// AssessRisk classifies the call through the configured classifier.
func (r *Registry) AssessRisk(call provider.ToolCall) security.RiskLevel {
	return r.classifier.Classify(call.Name, call.Arguments)
}
