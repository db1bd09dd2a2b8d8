// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package agent_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-dev/crucible/internal/agent"
)

func TestParseSubagentType(t *testing.T) {
	cases := []struct {
		input string
		want  agent.SubagentType
	}{
		{"code", agent.SubagentCode},
		{"coding", agent.SubagentCode},
		{"CODE", agent.SubagentCode},
		{"research", agent.SubagentResearch},
		{"investigate", agent.SubagentResearch},
		{"refactor", agent.SubagentRefactor},
		{"refactoring", agent.SubagentRefactor},
		{"test", agent.SubagentTest},
		{"testing", agent.SubagentTest},
		{"doc", agent.SubagentDocumentation},
		{"docs", agent.SubagentDocumentation},
		{"documentation", agent.SubagentDocumentation},
		{"security", agent.SubagentSecurity},
		{"audit", agent.SubagentSecurity},
		{"architect", agent.SubagentArchitect},
		{"design", agent.SubagentArchitect},
		{"review", agent.SubagentReviewer},
		{"reviewer", agent.SubagentReviewer},
		{"code-review", agent.SubagentReviewer},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, agent.ParseSubagentType(tc.input), "input %q", tc.input)
	}
}

func TestParseSubagentTypeCustom(t *testing.T) {
	parsed := agent.ParseSubagentType("DB-Migrator")
	assert.True(t, parsed.IsCustom())

	name, ok := parsed.CustomName()
	require.True(t, ok)
	assert.Equal(t, "db-migrator", name)
	assert.Equal(t, "db-migrator", parsed.Name())
}

func TestSubagentTypeToolAccess(t *testing.T) {
	assert.Nil(t, agent.SubagentCode.AllowedTools())
	assert.Nil(t, agent.SubagentCode.DeniedTools())

	assert.Contains(t, agent.SubagentResearch.AllowedTools(), "web_search")
	assert.Contains(t, agent.SubagentResearch.DeniedTools(), "write")

	assert.Contains(t, agent.SubagentSecurity.AllowedTools(), "shell")
	assert.Nil(t, agent.SubagentSecurity.DeniedTools())

	assert.Contains(t, agent.SubagentReviewer.DeniedTools(), "shell")
	assert.Contains(t, agent.SubagentArchitect.DeniedTools(), "apply_patch")
}

func TestSubagentTypeMaxIterations(t *testing.T) {
	assert.Equal(t, 10, agent.SubagentResearch.MaxIterations())
	assert.Equal(t, 10, agent.SubagentReviewer.MaxIterations())
	assert.Equal(t, 15, agent.SubagentArchitect.MaxIterations())
	assert.Equal(t, 15, agent.SubagentDocumentation.MaxIterations())
	assert.Equal(t, 15, agent.SubagentSecurity.MaxIterations())
	assert.Equal(t, 20, agent.SubagentCode.MaxIterations())
	assert.Equal(t, 20, agent.CustomSubagent("anything").MaxIterations())
}

func TestBaseSystemPromptIncludesPlanningAndSummary(t *testing.T) {
	for _, info := range agent.BuiltinTypes() {
		prompt := agent.ParseSubagentType(info.Name).BaseSystemPrompt()
		assert.Contains(t, prompt, "Planning Phase", "type %s", info.Name)
		assert.Contains(t, prompt, "## Summary for Orchestrator", "type %s", info.Name)
	}
}

func TestBuiltinTypes(t *testing.T) {
	infos := agent.BuiltinTypes()
	require.Len(t, infos, 8)

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
		assert.NotEmpty(t, info.Description)
	}
	assert.ElementsMatch(t, names, []string{
		"code", "research", "refactor", "test",
		"documentation", "security", "architect", "reviewer",
	})
}

func TestHasSummaryOutput(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     bool
	}{
		{"orchestrator heading", "work done\n\n## Summary for Orchestrator\n\nall good", true},
		{"tasks completed heading", "### Tasks Completed\n- thing one", true},
		{"status line", "Everything finished.\n\nStatus: COMPLETED", true},
		{"plain summary heading", "## Summary\nShort recap.", true},
		{"final summary heading", "### Final Summary\nDone.", true},
		{"case insensitive", "## SUMMARY FOR ORCHESTRATOR", true},
		{"no markers", "I read three files and found nothing notable.", false},
		{"empty", "", false},
		{"whitespace only", "   \n\t  ", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, agent.HasSummaryOutput(tc.response))
		})
	}
}
