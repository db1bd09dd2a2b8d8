// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package agent

import "strings"

// subagentKind discriminates SubagentType values.
type subagentKind int

const (
	kindCode subagentKind = iota
	kindResearch
	kindRefactor
	kindTest
	kindDocumentation
	kindSecurity
	kindArchitect
	kindReviewer
	kindCustom
)

// SubagentType is a closed set of built-in agent roles plus a custom
// variant carrying a registry lookup key. Values are comparable.
type SubagentType struct {
	kind   subagentKind
	custom string
}

// Built-in subagent types.
var (
	SubagentCode          = SubagentType{kind: kindCode}
	SubagentResearch      = SubagentType{kind: kindResearch}
	SubagentRefactor      = SubagentType{kind: kindRefactor}
	SubagentTest          = SubagentType{kind: kindTest}
	SubagentDocumentation = SubagentType{kind: kindDocumentation}
	SubagentSecurity      = SubagentType{kind: kindSecurity}
	SubagentArchitect     = SubagentType{kind: kindArchitect}
	SubagentReviewer      = SubagentType{kind: kindReviewer}
)

// CustomSubagent builds a custom type referencing a registered agent by
// name.
func CustomSubagent(name string) SubagentType {
	return SubagentType{kind: kindCustom, custom: name}
}

// ParseSubagentType maps a user-supplied string to a type. Built-in
// names (and common aliases) are matched case-insensitively; any other
// name is treated as a custom agent key.
func ParseSubagentType(s string) SubagentType {
	switch strings.ToLower(s) {
	case "code", "coding":
		return SubagentCode
	case "research", "investigate":
		return SubagentResearch
	case "refactor", "refactoring":
		return SubagentRefactor
	case "test", "testing":
		return SubagentTest
	case "doc", "docs", "documentation":
		return SubagentDocumentation
	case "security", "audit":
		return SubagentSecurity
	case "architect", "architecture", "design":
		return SubagentArchitect
	case "review", "reviewer", "code-review":
		return SubagentReviewer
	default:
		return CustomSubagent(strings.ToLower(s))
	}
}

// Name returns the display name.
func (t SubagentType) Name() string {
	switch t.kind {
	case kindCode:
		return "code"
	case kindResearch:
		return "research"
	case kindRefactor:
		return "refactor"
	case kindTest:
		return "test"
	case kindDocumentation:
		return "documentation"
	case kindSecurity:
		return "security"
	case kindArchitect:
		return "architect"
	case kindReviewer:
		return "reviewer"
	default:
		return t.custom
	}
}

func (t SubagentType) String() string { return t.Name() }

// IsCustom reports whether this type references a registered custom
// agent.
func (t SubagentType) IsCustom() bool { return t.kind == kindCustom }

// CustomName returns the registry key for a custom type.
func (t SubagentType) CustomName() (string, bool) {
	if t.kind != kindCustom {
		return "", false
	}
	return t.custom, true
}

// AllowedTools returns the tool-name patterns this type may use, or nil
// for unrestricted access.
func (t SubagentType) AllowedTools() []string {
	switch t.kind {
	case kindResearch:
		return []string{"read", "grep", "glob", "list_dir", "web_fetch", "web_search"}
	case kindReviewer:
		return []string{"read", "grep", "glob", "list_dir"}
	case kindSecurity:
		return []string{"read", "grep", "glob", "list_dir", "shell"}
	case kindArchitect:
		return []string{"read", "grep", "glob", "list_dir", "web_search"}
	default:
		return nil
	}
}

// DeniedTools returns tool-name patterns this type must never use.
func (t SubagentType) DeniedTools() []string {
	switch t.kind {
	case kindResearch, kindReviewer, kindArchitect:
		return []string{"write", "edit", "apply_patch", "shell"}
	default:
		return nil
	}
}

// MaxIterations returns the default tool-iteration budget for this
// type.
func (t SubagentType) MaxIterations() int {
	switch t.kind {
	case kindResearch, kindReviewer:
		return 10
	case kindArchitect, kindDocumentation, kindSecurity:
		return 15
	default:
		return 20
	}
}

// BaseSystemPrompt returns the role prompt for this type without any
// task details. The task itself is sent as a user message so it stays
// conversational across continuation turns.
func (t SubagentType) BaseSystemPrompt() string {
	var base string
	switch t.kind {
	case kindCode:
		base = "You are a specialized coding subagent that implements functionality autonomously.\n\n" +
			"## Your Capabilities\n" +
			"- Write clean, well-documented code\n" +
			"- Follow existing project conventions\n" +
			"- Test your changes when possible"
	case kindResearch:
		base = "You are a research subagent specialized in investigating and gathering information.\n\n" +
			"## Your Capabilities\n" +
			"- Read and understand code thoroughly\n" +
			"- Use grep, glob, and read tools to explore codebases\n" +
			"- Identify patterns and relationships\n\n" +
			"## Important\n" +
			"- Do NOT modify any files"
	case kindRefactor:
		base = "You are a refactoring subagent that improves code quality.\n\n" +
			"## Your Capabilities\n" +
			"- Improve code structure and readability\n" +
			"- Apply consistent naming conventions\n" +
			"- Remove code duplication\n\n" +
			"## Important\n" +
			"- Preserve existing functionality\n" +
			"- Ensure tests still pass after changes"
	case kindTest:
		base = "You are a testing subagent that writes and runs tests.\n\n" +
			"## Your Capabilities\n" +
			"- Write comprehensive unit tests\n" +
			"- Cover edge cases and error conditions\n" +
			"- Run tests to verify they pass\n\n" +
			"## Important\n" +
			"- Follow existing test patterns in the project\n" +
			"- Report test coverage if possible"
	case kindDocumentation:
		base = "You are a documentation subagent that writes and improves documentation.\n\n" +
			"## Your Capabilities\n" +
			"- Write clear, concise documentation\n" +
			"- Include code examples where helpful\n" +
			"- Document public APIs and interfaces\n\n" +
			"## Important\n" +
			"- Follow existing documentation style\n" +
			"- Keep documentation up to date with code"
	case kindSecurity:
		base = "You are a security audit subagent that identifies security issues.\n\n" +
			"## Your Capabilities\n" +
			"- Look for common vulnerabilities (injection, XSS, etc.)\n" +
			"- Check for insecure configurations\n" +
			"- Review authentication and authorization\n\n" +
			"## Important\n" +
			"- Identify sensitive data exposure\n" +
			"- Provide specific remediation steps"
	case kindArchitect:
		base = "You are an architecture subagent that designs and plans software architecture.\n\n" +
			"## Your Capabilities\n" +
			"- Analyze current architecture\n" +
			"- Consider scalability and maintainability\n" +
			"- Propose clear component boundaries\n\n" +
			"## Important\n" +
			"- Document trade-offs and decisions\n" +
			"- Create implementation roadmaps"
	case kindReviewer:
		base = "You are a code review subagent that reviews code for quality and correctness.\n\n" +
			"## Your Capabilities\n" +
			"- Check for correctness and bugs\n" +
			"- Review code style and consistency\n" +
			"- Identify potential performance issues\n\n" +
			"## Important\n" +
			"- Suggest improvements\n" +
			"- Prioritize feedback by severity"
	default:
		base = "You are a specialized subagent.\n\n" +
			"## Important\n" +
			"- Complete the assigned task efficiently"
	}
	return base + planningInstructions
}

// planningInstructions is appended to every built-in role prompt. It
// forces an up-front plan with live status updates and the structured
// final summary the orchestrator parses.
const planningInstructions = `

## MANDATORY: Planning Phase (CRITICAL)

Before ANY action, you MUST create a detailed plan. This is non-negotiable.

### Planning Format
State your plan with this EXACT format:
` + "```" + `
1. [pending] <TASK_DESCRIPTION>
2. [pending] <TASK_DESCRIPTION>
3. [pending] <TASK_DESCRIPTION>
...
` + "```" + `

### Progress Updates (MANDATORY)
As you work, you MUST update your plan after EACH task:
- When starting a task: change ` + "`[pending]`" + ` to ` + "`[in_progress]`" + `
- When completing a task: change ` + "`[in_progress]`" + ` to ` + "`[completed]`" + `
- Example: ` + "`1. [completed] Analyze the codebase structure`" + `

### Real-time Visibility Rules
1. ALWAYS state your plan BEFORE your first action
2. ALWAYS update the plan when a task status changes
3. Keep only ONE task as ` + "`[in_progress]`" + ` at a time
4. Mark tasks ` + "`[completed]`" + ` immediately when done

This allows the orchestrator to monitor your progress in real-time.

## MANDATORY: Final Summary

When you have completed ALL tasks, your final message MUST be a comprehensive summary with this structure:

` + "```" + `
## Summary for Orchestrator

### Tasks Completed
- [List each task you completed with brief outcome]

### Key Findings/Changes
- [Main discoveries or modifications made]

### Files Modified (if any)
- [List of files with type of change]

### Recommendations (if applicable)
- [Any follow-up actions or suggestions]

### Status: COMPLETED
` + "```" + `

This summary will be sent to the orchestrator to coordinate with other agents.`

// summaryRequestPrompt is sent as one extra bounded turn when a
// completed subagent response lacks summary markers.
const summaryRequestPrompt = `You have completed your work but did not provide a summary. Please provide a final summary NOW using EXACTLY this format:

## Summary for Orchestrator

### Tasks Completed
- [List each task you completed with brief outcome]

### Key Findings/Changes
- [Main discoveries or modifications made]

### Files Modified (if any)
- [List of files with type of change]

### Recommendations (if applicable)
- [Any follow-up actions or suggestions]

### Status: COMPLETED

DO NOT use any tools. Just provide the summary based on the work you have already done.`

// synthSummaryPrompt is the synthetic user message the orchestrator
// appends when the model returns empty text right after tool work.
const synthSummaryPrompt = "Summarize the results above and provide your findings or conclusions."

// summaryMarkers are the headings and status lines that mark a response
// as containing a structured summary. Matched case-insensitively.
var summaryMarkers = []string{
	"## summary for orchestrator",
	"### tasks completed",
	"### key findings",
	"### status: completed",
	"status: completed",
	"## summary",
	"### summary",
	"## final summary",
	"### final summary",
}

// hasSummaryOutput reports whether a subagent response already carries
// a structured summary.
func hasSummaryOutput(response string) bool {
	if strings.TrimSpace(response) == "" {
		return false
	}
	lower := strings.ToLower(response)
	for _, marker := range summaryMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// SubagentTypeInfo describes a built-in subagent type for discovery
// surfaces (the Task tool schema, the CLI listing).
type SubagentTypeInfo struct {
	Name         string
	Description  string
	AllowedTools []string // nil means all
	DeniedTools  []string
}

// BuiltinTypes returns the built-in subagent types with descriptions.
func BuiltinTypes() []SubagentTypeInfo {
	describe := func(t SubagentType, desc string) SubagentTypeInfo {
		return SubagentTypeInfo{
			Name:         t.Name(),
			Description:  desc,
			AllowedTools: t.AllowedTools(),
			DeniedTools:  t.DeniedTools(),
		}
	}
	return []SubagentTypeInfo{
		describe(SubagentCode, "General-purpose coding agent with full tool access. Use for implementing features, fixing bugs, and writing code."),
		describe(SubagentResearch, "Read-only research agent for investigation. Use for understanding code, finding patterns, and gathering information. Cannot modify files."),
		describe(SubagentRefactor, "Refactoring agent for code improvements. Use for restructuring, renaming, and cleaning up code."),
		describe(SubagentTest, "Testing agent for writing and running tests. Use for creating test cases and improving coverage."),
		describe(SubagentDocumentation, "Documentation agent for writing docs. Use for creating README files, API docs, and comments."),
		describe(SubagentSecurity, "Security audit agent. Use for finding vulnerabilities, checking configurations, and reviewing access controls."),
		describe(SubagentArchitect, "Architecture planning agent. Use for designing systems, planning refactors, and making technical decisions. Cannot modify files."),
		describe(SubagentReviewer, "Code review agent. Use for reviewing changes, finding bugs, and suggesting improvements. Cannot modify files."),
	}
}
