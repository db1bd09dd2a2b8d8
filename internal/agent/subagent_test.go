// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package agent_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-dev/crucible/internal/agent"
	"github.com/crucible-dev/crucible/internal/provider"
	"github.com/crucible-dev/crucible/internal/tools"
	crucerr "github.com/crucible-dev/crucible/pkg/errors"
)

const summaryResponse = "## Summary for Orchestrator\n\n### Tasks Completed\n- Reviewed the code\n\n### Status: COMPLETED"

func newExecutor(t *testing.T, prov provider.Provider, opts ...func(*agent.ExecutorConfig)) *agent.SubagentExecutor {
	t.Helper()
	cfg := agent.ExecutorConfig{
		Router:       &testRouter{prov: prov},
		Capability:   newStubCapability("read", "grep", "glob", "list_dir", "write", "shell"),
		DefaultModel: "scripted/test-model",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	exec, err := agent.NewSubagentExecutor(cfg)
	require.NoError(t, err)
	return exec
}

func TestNewSubagentExecutorValidation(t *testing.T) {
	_, err := agent.NewSubagentExecutor(agent.ExecutorConfig{Capability: newStubCapability("read")})
	require.Error(t, err)
	assert.Equal(t, crucerr.CodeAgentTurnInvalidInput, crucerr.CodeOf(err))

	_, err = agent.NewSubagentExecutor(agent.ExecutorConfig{Router: &testRouter{prov: newScriptedProvider()}})
	require.Error(t, err)
	assert.Equal(t, crucerr.CodeAgentTurnInvalidInput, crucerr.CodeOf(err))
}

func TestSubagentExecuteCompletes(t *testing.T) {
	prov := newScriptedProvider(scriptedResponse{text: summaryResponse})
	exec := newExecutor(t, prov)

	result, err := exec.Execute(context.Background(), agent.SubagentConfig{
		AgentType:   agent.SubagentReviewer,
		Description: "Review the diff",
		Prompt:      "Check internal/agent for bugs.",
	}, nil)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.Continuable)
	assert.Contains(t, result.Output, "Status: COMPLETED")
	assert.Equal(t, agent.StatusCompleted, result.Session.Status)
	assert.Equal(t, 1, result.Session.TurnsCompleted)
	assert.NotZero(t, result.TokenUsage.TotalTokens)
	assert.Equal(t, 1, prov.CallCount(), "a response with summary markers needs no extra turn")

	// Session is retained in the registry after completion.
	session, ok := exec.GetSession(result.Session.ID)
	require.True(t, ok)
	assert.Equal(t, agent.StatusCompleted, session.Status)
	assert.Equal(t, 0, exec.ActiveCount())
}

func TestSubagentSummaryRetryWhenMissing(t *testing.T) {
	prov := newScriptedProvider(
		scriptedResponse{text: "I reviewed everything and it looks fine."},
		scriptedResponse{text: summaryResponse},
	)
	exec := newExecutor(t, prov)

	result, err := exec.Execute(context.Background(), agent.SubagentConfig{
		AgentType:   agent.SubagentReviewer,
		Description: "Review",
		Prompt:      "Review the code.",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, prov.CallCount(), "missing markers trigger exactly one summary turn")
	assert.True(t, result.Success)
	assert.Contains(t, result.Output, "I reviewed everything")
	assert.Contains(t, result.Output, "## Summary for Orchestrator")

	// The extra turn carried the explicit summary request.
	reqs := prov.Requests()
	lastMsgs := reqs[len(reqs)-1].Messages
	var sawRequest bool
	for _, msg := range lastMsgs {
		if msg.Role == provider.MessageRoleUser && strings.Contains(msg.Content, "provide a final summary NOW") {
			sawRequest = true
		}
	}
	assert.True(t, sawRequest)
}

func TestSubagentSummaryRetryFallsBackSilently(t *testing.T) {
	// The summary turn also fails to produce markers; the original
	// output is kept and the run still succeeds.
	prov := newScriptedProvider(
		scriptedResponse{text: "Work done, nothing else to say."},
		scriptedResponse{text: ""},
		scriptedResponse{text: ""},
	)
	exec := newExecutor(t, prov)

	result, err := exec.Execute(context.Background(), agent.SubagentConfig{
		AgentType:   agent.SubagentReviewer,
		Description: "Review",
		Prompt:      "Review.",
	}, nil)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "Work done, nothing else to say.", result.Output)
}

func TestSubagentConcurrencyCap(t *testing.T) {
	prov := newGatedProvider()
	exec := newExecutor(t, prov, func(cfg *agent.ExecutorConfig) {
		cfg.MaxConcurrent = 3
	})

	cfg := agent.SubagentConfig{
		AgentType:   agent.SubagentCode,
		Description: "Long task",
		Prompt:      "Work.",
	}

	type outcome struct {
		result *agent.SubagentResult
		err    error
	}
	results := make(chan outcome, 3)
	for i := 0; i < 3; i++ {
		go func() {
			result, err := exec.Execute(context.Background(), cfg, nil)
			results <- outcome{result, err}
		}()
	}

	require.Eventually(t, func() bool {
		return exec.ActiveCount() == 3
	}, 2*time.Second, 10*time.Millisecond)

	// Fourth caller is refused immediately, no queueing.
	_, err := exec.Execute(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Equal(t, crucerr.CodeSubagentRateLimited, crucerr.CodeOf(err))

	close(prov.release)
	for i := 0; i < 3; i++ {
		out := <-results
		require.NoError(t, out.err)
		assert.True(t, out.result.Success)
	}
	assert.Equal(t, 0, exec.ActiveCount())

	// Slots are free again.
	result, err := exec.Execute(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestSubagentContinueCompletedSession(t *testing.T) {
	prov := newScriptedProvider(scriptedResponse{text: summaryResponse})
	exec := newExecutor(t, prov)

	first, err := exec.Execute(context.Background(), agent.SubagentConfig{
		AgentType:   agent.SubagentCode,
		Description: "Implement feature",
		Prompt:      "Implement it.",
	}, nil)
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := exec.Execute(context.Background(), agent.SubagentConfig{
		Prompt:            "Now add tests for it.",
		ContinueSessionID: first.Session.ID,
	}, nil)
	require.NoError(t, err)

	assert.True(t, second.Success)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, 2, second.Session.TurnsCompleted)
	assert.Equal(t, agent.StatusCompleted, second.Session.Status)
}

func TestSubagentContinueFailedSessionRejected(t *testing.T) {
	prov := newScriptedProvider(scriptedResponse{errText: "upstream unavailable"})
	exec := newExecutor(t, prov)

	result, err := exec.Execute(context.Background(), agent.SubagentConfig{
		AgentType:   agent.SubagentCode,
		Description: "Doomed task",
		Prompt:      "Try.",
		SessionID:   "sub_doomed",
	}, nil)
	require.NoError(t, err, "provider failure is reported in the result, not as an error")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "upstream unavailable")
	assert.Equal(t, agent.StatusFailed, result.Session.Status)

	_, err = exec.Execute(context.Background(), agent.SubagentConfig{
		Prompt:            "Try again.",
		ContinueSessionID: "sub_doomed",
	}, nil)
	require.Error(t, err)
	assert.Equal(t, crucerr.CodeSubagentContinueInvalid, crucerr.CodeOf(err))
}

func TestSubagentContinueUnknownSession(t *testing.T) {
	exec := newExecutor(t, newScriptedProvider(scriptedResponse{text: summaryResponse}))

	_, err := exec.Execute(context.Background(), agent.SubagentConfig{
		Prompt:            "Continue.",
		ContinueSessionID: "sub_missing",
	}, nil)
	require.Error(t, err)
	assert.Equal(t, crucerr.CodeSubagentSessionNotFound, crucerr.CodeOf(err))
}

func TestSubagentTimeout(t *testing.T) {
	exec := newExecutor(t, &blockingProvider{})

	_, err := exec.Execute(context.Background(), agent.SubagentConfig{
		AgentType:   agent.SubagentCode,
		Description: "Slow task",
		Prompt:      "Work forever.",
		Timeout:     50 * time.Millisecond,
		SessionID:   "sub_slow",
	}, nil)
	require.Error(t, err)
	assert.Equal(t, crucerr.CodeSubagentTimeout, crucerr.CodeOf(err))

	session, ok := exec.GetSession("sub_slow")
	require.True(t, ok)
	assert.Equal(t, agent.StatusTimedOut, session.Status)
	// The cut-short turn still counts against the session.
	assert.Equal(t, 1, session.TurnsCompleted)
	assert.Zero(t, session.ToolCallsMade)
	assert.Zero(t, session.TokensUsed)
}

func TestSubagentToolRestrictions(t *testing.T) {
	prov := newScriptedProvider(
		scriptedResponse{toolCalls: []provider.ToolCall{
			{ID: "call-1", Name: "write", Arguments: `{"path":"x.go"}`},
		}},
		scriptedResponse{text: summaryResponse},
	)
	cap := newStubCapability("read", "grep", "glob", "list_dir", "write")
	exec := newExecutor(t, prov, func(cfg *agent.ExecutorConfig) {
		cfg.Capability = cap
	})

	result, err := exec.Execute(context.Background(), agent.SubagentConfig{
		AgentType:   agent.SubagentResearch,
		Description: "Investigate",
		Prompt:      "Look around.",
	}, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)

	// The denied call never reached the underlying capability.
	assert.Empty(t, cap.Executed())

	// The model was only offered the allowed tool definitions.
	reqs := prov.Requests()
	require.NotEmpty(t, reqs)
	for _, def := range reqs[0].Tools {
		assert.NotEqual(t, "write", def.Name)
	}
}

func TestSubagentTracksModifiedFiles(t *testing.T) {
	prov := newScriptedProvider(
		scriptedResponse{toolCalls: []provider.ToolCall{
			{ID: "call-1", Name: "write", Arguments: `{"path":"src/main.go"}`},
		}},
		scriptedResponse{text: summaryResponse},
	)
	cap := newStubCapability("read", "write")
	cap.execute = func(call provider.ToolCall) (tools.Result, error) {
		return tools.Result{Content: "Created file: src/main.go"}, nil
	}
	exec := newExecutor(t, prov, func(cfg *agent.ExecutorConfig) {
		cfg.Capability = cap
	})

	result, err := exec.Execute(context.Background(), agent.SubagentConfig{
		AgentType:   agent.SubagentCode,
		Description: "Write code",
		Prompt:      "Create main.go.",
	}, nil)
	require.NoError(t, err)

	require.Len(t, result.FilesModified, 1)
	assert.Equal(t, "src/main.go", result.FilesModified[0].Path)
	assert.Contains(t, result.Session.FilesModified, "src/main.go")
	assert.Contains(t, result.ToToolOutput(), "## Files Modified")
}

func TestSubagentForwardsProgressEvents(t *testing.T) {
	prov := newScriptedProvider(
		scriptedResponse{toolCalls: []provider.ToolCall{
			{ID: "call-1", Name: "read", Arguments: `{}`},
		}},
		scriptedResponse{text: summaryResponse},
	)
	exec := newExecutor(t, prov)

	progress := make(chan agent.Event, 256)
	_, err := exec.Execute(context.Background(), agent.SubagentConfig{
		AgentType:   agent.SubagentCode,
		Description: "Read stuff",
		Prompt:      "Read.",
	}, progress)
	require.NoError(t, err)

	forwarded := eventsOfType(collectEvents(progress), agent.EventTaskProgress)
	require.NotEmpty(t, forwarded)
	assert.Contains(t, forwarded[0].Message, "[subagent] Calling tool: read")
}

func TestRunTaskRendersToolResult(t *testing.T) {
	prov := newScriptedProvider(scriptedResponse{text: summaryResponse})
	exec := newExecutor(t, prov)

	progress := make(chan agent.Event, 256)
	result := exec.RunTask(context.Background(), "parent-1", provider.ToolCall{
		ID:        "call-1",
		Name:      agent.TaskToolName,
		Arguments: `{"description":"Review the code","prompt":"Check for bugs.","subagent_type":"reviewer"}`,
	}, progress)

	assert.False(t, result.IsError)
	assert.Contains(t, result.Content, "[OK] Subagent (reviewer) completed")
	assert.Contains(t, result.Content, "Session ID: sub_")
	assert.Contains(t, result.Content, "## Statistics")
	assert.Contains(t, result.Content, "Hint: To continue this task")

	events := collectEvents(progress)
	assert.Len(t, eventsOfType(events, agent.EventTaskSpawned), 1)
	assert.Len(t, eventsOfType(events, agent.EventTaskCompleted), 1)

	// The spawned session records the parent linkage.
	sessions := exec.ListSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "parent-1", sessions[0].ParentID)
}

func TestRunTaskInvalidArguments(t *testing.T) {
	exec := newExecutor(t, newScriptedProvider(scriptedResponse{text: summaryResponse}))

	result := exec.RunTask(context.Background(), "parent-1", provider.ToolCall{
		ID:        "call-1",
		Name:      agent.TaskToolName,
		Arguments: `{not json`,
	}, nil)

	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "invalid task arguments")
}

func TestRunTaskUnknownCustomAgent(t *testing.T) {
	exec := newExecutor(t, newScriptedProvider(scriptedResponse{text: summaryResponse}))

	result := exec.RunTask(context.Background(), "parent-1", provider.ToolCall{
		ID:        "call-1",
		Name:      agent.TaskToolName,
		Arguments: `{"description":"x","prompt":"y","subagent_type":"made-up-helper"}`,
	}, nil)

	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "Subagent failed")
}

func TestSubagentCustomAgentOverrides(t *testing.T) {
	prov := newScriptedProvider(scriptedResponse{text: summaryResponse})
	agents := agent.NewAgentRegistry()
	require.NoError(t, agents.Register(agent.CustomAgent{
		Name:         "helper",
		SystemPrompt: "You are the helper with a custom role.",
		MaxTurns:     5,
		Tools:        []string{"read", "grep"},
	}))
	exec := newExecutor(t, prov, func(cfg *agent.ExecutorConfig) {
		cfg.Agents = agents
	})

	result, err := exec.Execute(context.Background(), agent.SubagentConfig{
		AgentType:   agent.CustomSubagent("helper"),
		Description: "Help out",
		Prompt:      "Assist.",
	}, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)

	reqs := prov.Requests()
	require.NotEmpty(t, reqs)
	require.NotEmpty(t, reqs[0].Messages)
	assert.Equal(t, provider.MessageRoleSystem, reqs[0].Messages[0].Role)
	assert.Equal(t, "You are the helper with a custom role.", reqs[0].Messages[0].Content)

	// Custom tool allow-list filters the offered definitions.
	for _, def := range reqs[0].Tools {
		assert.Contains(t, []string{"read", "grep"}, def.Name)
	}
}

func TestCancelSession(t *testing.T) {
	exec := newExecutor(t, newScriptedProvider(scriptedResponse{text: summaryResponse}))

	result, err := exec.Execute(context.Background(), agent.SubagentConfig{
		AgentType:   agent.SubagentCode,
		Description: "Task",
		Prompt:      "Do it.",
	}, nil)
	require.NoError(t, err)

	require.NoError(t, exec.CancelSession(result.Session.ID))
	session, ok := exec.GetSession(result.Session.ID)
	require.True(t, ok)
	assert.Equal(t, agent.StatusCancelled, session.Status)

	err = exec.CancelSession("sub_nope")
	require.Error(t, err)
	assert.Equal(t, crucerr.CodeSubagentSessionNotFound, crucerr.CodeOf(err))
}

func TestSubagentStatusTransitions(t *testing.T) {
	terminal := []agent.SubagentStatus{
		agent.StatusCompleted, agent.StatusFailed, agent.StatusCancelled, agent.StatusTimedOut,
	}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s", s)
		assert.False(t, s.CanResume(), "%s", s)
	}

	assert.True(t, agent.StatusPaused.CanResume())
	assert.True(t, agent.StatusWaitingForApproval.CanResume())
	assert.False(t, agent.StatusRunning.IsTerminal())
	assert.False(t, agent.StatusRunning.CanResume())
}

func TestSubagentConfigBuildUserMessage(t *testing.T) {
	msg := agent.SubagentConfig{
		Description: "Fix the bug",
		Prompt:      "The handler drops errors.",
		Context:     "See the report from yesterday.",
	}.BuildUserMessage()

	assert.Contains(t, msg, "## Task\nFix the bug")
	assert.Contains(t, msg, "## Instructions\nThe handler drops errors.")
	assert.Contains(t, msg, "## Additional Context\nSee the report from yesterday.")
	assert.Contains(t, msg, "provide a clear summary")

	noContext := agent.SubagentConfig{Description: "d", Prompt: "p"}.BuildUserMessage()
	assert.NotContains(t, noContext, "## Additional Context")
}

func TestSubagentConfigEffectiveMaxIterations(t *testing.T) {
	assert.Equal(t, 10, agent.SubagentConfig{AgentType: agent.SubagentResearch}.EffectiveMaxIterations())
	assert.Equal(t, 7, agent.SubagentConfig{AgentType: agent.SubagentResearch, MaxIterations: 7}.EffectiveMaxIterations())
}

func TestSubagentResultToToolOutputFailure(t *testing.T) {
	result := agent.SubagentResult{
		Success: false,
		Session: agent.SubagentSession{ID: "sub_x", AgentType: agent.SubagentCode},
		Error:   "something broke",
	}
	out := result.ToToolOutput()

	assert.Contains(t, out, "[FAIL] Subagent (code) failed")
	assert.Contains(t, out, "## Error\nsomething broke")
	assert.NotContains(t, out, "Hint: To continue")
}

func TestExtractFilePath(t *testing.T) {
	cases := []struct {
		output string
		want   string
	}{
		{"Created file: src/main.rs", "src/main.rs"},
		{"Created: docs/README.md", "docs/README.md"},
		{"Edited internal/agent/turn.go to add a field", "internal/agent/turn.go"},
		{"Modified config.yaml", "config.yaml"},
		{"Wrote 100 bytes to config.json", "config.json"},
		{"Wrote config.json", "config.json"},
		{"The setting refers to config.yaml for defaults", ""},
		{"Successfully edited src/lib.rs", ""},
		{"No path here", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, agent.ExtractFilePath(tc.output), "output %q", tc.output)
	}
}

func TestAvailableTypesAndCustomAgents(t *testing.T) {
	agents := agent.NewAgentRegistry()
	require.NoError(t, agents.Register(agent.CustomAgent{Name: "helper", SystemPrompt: "p"}))
	exec := newExecutor(t, newScriptedProvider(scriptedResponse{text: summaryResponse}),
		func(cfg *agent.ExecutorConfig) { cfg.Agents = agents })

	assert.Len(t, exec.AvailableTypes(), 8)

	custom := exec.CustomAgents()
	require.Len(t, custom, 1)
	assert.Equal(t, "helper", custom[0].Name)
}
