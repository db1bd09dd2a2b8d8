// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package agent_test

import (
	"context"
	"strings"
	"sync"

	"github.com/crucible-dev/crucible/internal/agent"
	"github.com/crucible-dev/crucible/internal/provider"
	"github.com/crucible-dev/crucible/internal/security"
	"github.com/crucible-dev/crucible/internal/tools"
	crucerr "github.com/crucible-dev/crucible/pkg/errors"
)

// scriptedResponse is one canned model response.
type scriptedResponse struct {
	text      string
	reasoning string
	toolCalls []provider.ToolCall
	usage     *provider.Usage
	errText   string // emitted as a stream error event
}

// scriptedProvider replays canned responses in order; the last response
// repeats once the script is exhausted.
type scriptedProvider struct {
	name      string
	responses []scriptedResponse

	mu       sync.Mutex
	calls    int
	requests []provider.ChatRequest
}

func newScriptedProvider(responses ...scriptedResponse) *scriptedProvider {
	return &scriptedProvider{name: "scripted", responses: responses}
}

func (p *scriptedProvider) Name() string                       { return p.name }
func (p *scriptedProvider) Available(context.Context) bool     { return true }
func (p *scriptedProvider) Close() error                       { return nil }
func (p *scriptedProvider) ListModels(context.Context) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (p *scriptedProvider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	p.mu.Lock()
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	resp := p.responses[idx]
	p.calls++
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	ch := make(chan provider.ChatEvent, 16)
	go func() {
		defer close(ch)
		if resp.errText != "" {
			ch <- provider.ChatEvent{Type: provider.EventTypeError, Error: resp.errText}
			return
		}
		if resp.reasoning != "" {
			ch <- provider.ChatEvent{Type: provider.EventTypeReasoning, Text: resp.reasoning}
		}
		if resp.text != "" {
			ch <- provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: resp.text}
		}
		for i := range resp.toolCalls {
			tc := resp.toolCalls[i]
			ch <- provider.ChatEvent{Type: provider.EventTypeToolCall, ToolCall: &tc}
		}
		usage := resp.usage
		if usage == nil {
			usage = &provider.Usage{InputTokens: 10, OutputTokens: 5}
		}
		ch <- provider.ChatEvent{Type: provider.EventTypeDone, Usage: usage}
	}()
	return ch, nil
}

// CallCount returns how many Chat calls were made.
func (p *scriptedProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Requests returns a copy of the recorded requests.
func (p *scriptedProvider) Requests() []provider.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.ChatRequest(nil), p.requests...)
}

// blockingProvider blocks every Chat call until its context ends, then
// surfaces the context error as a stream error.
type blockingProvider struct{}

func (p *blockingProvider) Name() string                   { return "blocking" }
func (p *blockingProvider) Available(context.Context) bool { return true }
func (p *blockingProvider) Close() error                   { return nil }
func (p *blockingProvider) ListModels(context.Context) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (p *blockingProvider) Chat(ctx context.Context, _ provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	ch := make(chan provider.ChatEvent, 1)
	go func() {
		defer close(ch)
		<-ctx.Done()
		ch <- provider.ChatEvent{Type: provider.EventTypeError, Error: ctx.Err().Error()}
	}()
	return ch, nil
}

// gatedProvider blocks until released, then behaves like a one-line
// text response. Used to hold subagent slots open.
type gatedProvider struct {
	release chan struct{}
}

func newGatedProvider() *gatedProvider {
	return &gatedProvider{release: make(chan struct{})}
}

func (p *gatedProvider) Name() string                   { return "gated" }
func (p *gatedProvider) Available(context.Context) bool { return true }
func (p *gatedProvider) Close() error                   { return nil }
func (p *gatedProvider) ListModels(context.Context) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (p *gatedProvider) Chat(ctx context.Context, _ provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	ch := make(chan provider.ChatEvent, 4)
	go func() {
		defer close(ch)
		select {
		case <-p.release:
		case <-ctx.Done():
			ch <- provider.ChatEvent{Type: provider.EventTypeError, Error: ctx.Err().Error()}
			return
		}
		ch <- provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: "done\n\nStatus: COMPLETED"}
		ch <- provider.ChatEvent{Type: provider.EventTypeDone, Usage: &provider.Usage{InputTokens: 1, OutputTokens: 1}}
	}()
	return ch, nil
}

// testRouter routes every reference to a fixed provider.
type testRouter struct {
	prov provider.Provider
}

func (r *testRouter) Route(_ context.Context, ref string) (provider.Provider, string, error) {
	model := ref
	if idx := strings.Index(ref, "/"); idx >= 0 {
		model = ref[idx+1:]
	}
	if model == "" {
		model = "test-model"
	}
	return r.prov, model, nil
}

func (r *testRouter) RegisterProvider(string, provider.Provider) error { return nil }
func (r *testRouter) Close() error                                    { return nil }

// stubCapability executes tool calls via a configurable function and
// records every executed call.
type stubCapability struct {
	defs    []provider.ToolDefinition
	risk    map[string]security.RiskLevel
	execute func(call provider.ToolCall) (tools.Result, error)

	mu       sync.Mutex
	executed []provider.ToolCall
}

func newStubCapability(toolNames ...string) *stubCapability {
	defs := make([]provider.ToolDefinition, 0, len(toolNames))
	for _, name := range toolNames {
		defs = append(defs, provider.ToolDefinition{
			Name:        name,
			Description: name + " tool",
			InputSchema: map[string]any{"type": "object"},
		})
	}
	return &stubCapability{
		defs: defs,
		risk: make(map[string]security.RiskLevel),
		execute: func(call provider.ToolCall) (tools.Result, error) {
			return tools.Result{Content: "ok"}, nil
		},
	}
}

func (c *stubCapability) Definitions() []provider.ToolDefinition { return c.defs }

func (c *stubCapability) Execute(_ context.Context, call provider.ToolCall) (tools.Result, error) {
	c.mu.Lock()
	c.executed = append(c.executed, call)
	c.mu.Unlock()

	known := false
	for _, def := range c.defs {
		if def.Name == call.Name {
			known = true
			break
		}
	}
	if !known {
		return tools.Result{}, crucerr.New(crucerr.CodeAgentToolNotFound, "tool not registered",
			crucerr.FieldTool(call.Name))
	}
	return c.execute(call)
}

func (c *stubCapability) AssessRisk(call provider.ToolCall) security.RiskLevel {
	if level, ok := c.risk[call.Name]; ok {
		return level
	}
	return security.RiskSafe
}

// Executed returns a copy of the executed calls.
func (c *stubCapability) Executed() []provider.ToolCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]provider.ToolCall(nil), c.executed...)
}

// respondWith builds an approval callback that always answers with the
// given response.
func respondWith(resp func() agent.ApprovalResponse) agent.ApprovalCallback {
	return func(agent.PendingApproval) <-chan agent.ApprovalResponse {
		ch := make(chan agent.ApprovalResponse, 1)
		ch <- resp()
		close(ch)
		return ch
	}
}

// collectEvents drains every buffered event from ch without blocking.
func collectEvents(ch chan agent.Event) []agent.Event {
	var events []agent.Event
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return events
		}
	}
}

// eventsOfType filters events by type.
func eventsOfType(events []agent.Event, typ agent.EventType) []agent.Event {
	var out []agent.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
