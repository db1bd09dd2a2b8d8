// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/crucible-dev/crucible/internal/agent"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run the agent on a prompt, or start an interactive session",
		Long: "Run processes a single prompt when one is given, otherwise it starts\n" +
			"an interactive loop reading prompts from stdin. Tool calls that are\n" +
			"not auto-approved by policy prompt on the terminal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			model, _ := cmd.Flags().GetString("model")
			yes, _ := cmd.Flags().GetBool("yes")

			sess := &runSession{
				out:     cmd.OutOrStdout(),
				in:      bufio.NewReader(cmd.InOrStdin()),
				approve: yes,
			}

			events := make(chan agent.Event, 256)
			orch, err := rt.newOrchestrator(ctx, model, events)
			if err != nil {
				return err
			}
			orch.Initialize(orchestratorSystemPrompt)
			orch.SetApprovalCallback(sess.approvalCallback)

			go sess.printEvents(events)

			if len(args) > 0 {
				return sess.processTurn(ctx, orch, strings.Join(args, " "))
			}
			return sess.interactive(ctx, orch)
		},
	}

	cmd.Flags().String("model", "", "model reference (provider/model), defaults to models.default")
	cmd.Flags().Bool("yes", false, "approve all tool calls without prompting")
	return cmd
}

// orchestratorSystemPrompt is the top-level agent role. Subagents get
// their own role prompts from their type.
const orchestratorSystemPrompt = `You are Crucible, an autonomous coding agent. You solve tasks by
calling tools and by delegating well-scoped subtasks to specialized
subagents via the task tool. Prefer delegation for independent,
parallelizable work; do small or sequential work yourself. Always end
with a clear statement of what you did and what you found.`

type runSession struct {
	out     io.Writer
	in      *bufio.Reader
	approve bool
	session string
}

func (s *runSession) processTurn(ctx context.Context, orch *agent.Orchestrator, input string) error {
	if s.session == "" {
		s.session = uuid.New().String()
	}
	tc := agent.NewTurnContext(uuid.New().String(), s.session, input, "")

	result, err := orch.ProcessTurn(ctx, tc)
	if err != nil {
		return err
	}

	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, result.Response)
	fmt.Fprintf(s.out, "\n[%s] %d tool call(s), %d tokens (~%d in context), %s\n",
		result.Status, len(result.ToolCalls), result.TokenUsage.TotalTokens,
		result.ContextTokens, result.Duration.Round(timeRound))
	return nil
}

func (s *runSession) interactive(ctx context.Context, orch *agent.Orchestrator) error {
	for {
		fmt.Fprint(s.out, "\n> ")
		line, err := s.in.ReadString('\n')
		if err != nil {
			// EOF ends the session cleanly.
			return nil
		}
		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if err := s.processTurn(ctx, orch, input); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

// approvalCallback prompts on the terminal for calls the policy did not
// auto-approve.
func (s *runSession) approvalCallback(pending agent.PendingApproval) <-chan agent.ApprovalResponse {
	ch := make(chan agent.ApprovalResponse, 1)

	if s.approve {
		ch <- agent.Approve()
		close(ch)
		return ch
	}

	fmt.Fprintf(s.out, "\n[approval] %s (%s risk)\n  %s\n", pending.ToolName, pending.Risk, pending.Arguments)
	fmt.Fprint(s.out, "  approve? [y]es / [a]lways / [n]o / [q]uit turn: ")

	line, err := s.in.ReadString('\n')
	if err != nil {
		close(ch) // stdin gone, treat as timeout
		return ch
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		ch <- agent.Approve()
	case "a", "always":
		ch <- agent.AlwaysApprove()
	case "q", "quit":
		ch <- agent.Abort()
	default:
		ch <- agent.Reject("rejected by user")
	}
	close(ch)
	return ch
}

// printEvents renders the live event stream.
func (s *runSession) printEvents(events <-chan agent.Event) {
	for ev := range events {
		switch ev.Type {
		case agent.EventTextDelta:
			fmt.Fprint(s.out, ev.Message)
		case agent.EventToolCallStarted:
			fmt.Fprintf(s.out, "\n[tool] %s %s\n", ev.ToolName, truncateArgs(ev.Arguments))
		case agent.EventTaskSpawned:
			fmt.Fprintf(s.out, "[task] spawned %s: %s\n", ev.ToolName, ev.Message)
		case agent.EventTaskProgress:
			fmt.Fprintf(s.out, "[task] %s\n", ev.Message)
		case agent.EventLoopDetected:
			fmt.Fprintf(s.out, "[loop] %s repeated %d times, stopping\n", ev.ToolName, ev.Count)
		case agent.EventError:
			if !ev.Recoverable {
				fmt.Fprintf(s.out, "[error] %s\n", ev.Message)
			}
		}
	}
}

const (
	maxArgPreview = 120
	timeRound     = 10 * time.Millisecond
)

func truncateArgs(args string) string {
	if len(args) <= maxArgPreview {
		return args
	}
	return args[:maxArgPreview] + "..."
}
