// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/crucible-dev/crucible/internal/agent"
	"github.com/crucible-dev/crucible/internal/config"
	"github.com/crucible-dev/crucible/internal/provider"
	"github.com/crucible-dev/crucible/internal/provider/anthropic"
	"github.com/crucible-dev/crucible/internal/provider/google"
	"github.com/crucible-dev/crucible/internal/provider/openai"
	"github.com/crucible-dev/crucible/internal/secrets"
	"github.com/crucible-dev/crucible/internal/security"
	"github.com/crucible-dev/crucible/internal/store"
	"github.com/crucible-dev/crucible/internal/store/sqlite"
	"github.com/crucible-dev/crucible/internal/tools"
	crucerr "github.com/crucible-dev/crucible/pkg/errors"
)

// runtime bundles the wired components behind the CLI commands.
type runtime struct {
	cfg        *config.Config
	router     *provider.Registry
	capability tools.Capability
	store      store.Store
	agents     *agent.AgentRegistry
	executor   *agent.SubagentExecutor
}

// buildRuntime wires providers, storage, tools, and the subagent
// executor from the loaded configuration.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	router := provider.NewRegistry()
	keys := secrets.NewKeyringStore()

	for name, pc := range cfg.Providers {
		apiKey, err := secrets.Resolve(keys, pc.APIKey)
		if err != nil {
			return nil, crucerr.Wrapf(err, crucerr.CodeConfigValidateInvalidValue,
				"resolving api_key for provider %s", name)
		}

		var p provider.Provider
		switch name {
		case "anthropic":
			p, err = anthropic.New(anthropic.Config{APIKey: apiKey, BaseURL: pc.Endpoint})
		case "openai":
			p, err = openai.New(openai.Config{APIKey: apiKey, BaseURL: pc.Endpoint})
		case "google":
			p, err = google.New(google.Config{APIKey: apiKey})
		default:
			err = crucerr.Errorf(crucerr.CodeConfigValidateInvalidValue,
				"unknown provider %q (supported: anthropic, openai, google)", name)
		}
		if err != nil {
			return nil, err
		}
		if err := router.RegisterProvider(name, p); err != nil {
			return nil, err
		}
	}

	if err := router.SetDefault(cfg.Models.Default); err != nil {
		return nil, err
	}
	if len(cfg.Models.Failover) > 0 {
		if err := router.SetFailover(cfg.Models.Failover); err != nil {
			return nil, err
		}
	}

	var st store.Store
	var err error
	switch cfg.Storage.Backend {
	case "sqlite":
		st, err = sqlite.New(cfg.Storage.Path)
	default:
		st = store.NewMemoryStore()
	}
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(security.DefaultClassifier())
	agentRegistry := agent.NewAgentRegistry()
	if dir := cfg.Subagents.AgentsDir; dir != "" {
		if err := agentRegistry.LoadDir(dir); err != nil {
			return nil, err
		}
	}
	registry.Register(&taskTool{agents: agentRegistry})

	dispatcher, err := tools.NewDispatcher(tools.DispatcherConfig{
		Capability:     registry,
		AuditStore:     st,
		DefaultTimeout: cfg.Agent.ToolTimeout,
	})
	if err != nil {
		return nil, err
	}

	executor, err := agent.NewSubagentExecutor(agent.ExecutorConfig{
		Router:        router,
		Capability:    dispatcher,
		Agents:        agentRegistry,
		DefaultModel:  cfg.Models.Default,
		SandboxPolicy: security.SandboxPolicy(cfg.Agent.SandboxPolicy),
		MaxConcurrent: cfg.Subagents.MaxConcurrent,
		TurnStore:     st,
	})
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:        cfg,
		router:     router,
		capability: dispatcher,
		store:      st,
		agents:     agentRegistry,
		executor:   executor,
	}, nil
}

// newOrchestrator builds the top-level orchestrator for one session.
func (r *runtime) newOrchestrator(ctx context.Context, modelRef string, events chan<- agent.Event) (*agent.Orchestrator, error) {
	if modelRef == "" {
		modelRef = r.cfg.Models.Default
	}
	prov, model, err := r.router.Route(ctx, modelRef)
	if err != nil {
		return nil, err
	}

	orch := agent.New(prov, r.capability, agent.Config{
		Model:               model,
		MaxToolIterations:   r.cfg.Agent.MaxToolIterations,
		MaxToolCallsPerTurn: r.cfg.Agent.MaxToolCallsPerTurn,
		MaxOutputTokens:     r.cfg.Agent.MaxOutputTokens,
		SandboxPolicy:       security.SandboxPolicy(r.cfg.Agent.SandboxPolicy),
		AutoApproveSafe:     r.cfg.Agent.AutoApproveSafe,
		Streaming:           r.cfg.Agent.Streaming,
	}, events)
	orch.SetDelegator(r.executor)
	orch.SetTurnStore(r.store)
	return orch, nil
}

func (r *runtime) Close() error {
	return crucerr.Join(r.router.Close(), r.store.Close())
}

// taskTool exposes the delegation tool definition to the model. Calls
// to it never reach Execute: the orchestrator routes them to the
// subagent executor.
type taskTool struct {
	agents *agent.AgentRegistry
}

func (t *taskTool) Definition() provider.ToolDefinition {
	names := make([]string, 0, 8)
	var descriptions strings.Builder
	for _, info := range agent.BuiltinTypes() {
		names = append(names, info.Name)
		fmt.Fprintf(&descriptions, "- %s: %s\n", info.Name, info.Description)
	}
	for _, custom := range t.agents.List() {
		names = append(names, strings.ToLower(custom.Name))
		fmt.Fprintf(&descriptions, "- %s: %s\n", strings.ToLower(custom.Name), custom.Description)
	}

	return provider.ToolDefinition{
		Name: agent.TaskToolName,
		Description: "Delegate a task to a specialized subagent. Available types:\n" +
			descriptions.String() +
			"Use continue_session_id to resume a previous subagent session.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"description": map[string]any{
					"type":        "string",
					"description": "Short description of the task",
				},
				"prompt": map[string]any{
					"type":        "string",
					"description": "Detailed instructions for the subagent",
				},
				"subagent_type": map[string]any{
					"type": "string",
					"enum": names,
				},
				"context": map[string]any{
					"type":        "string",
					"description": "Additional background for the task",
				},
				"continue_session_id": map[string]any{
					"type":        "string",
					"description": "Session ID of a previous subagent run to continue",
				},
				"max_iterations": map[string]any{
					"type": "integer",
				},
			},
			"required": []string{"description", "prompt"},
		},
	}
}

func (t *taskTool) Execute(context.Context, string) (string, error) {
	return "", crucerr.New(crucerr.CodeAgentInternalFailure,
		"task tool must be dispatched through the orchestrator")
}
