// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package agent

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/crucible-dev/crucible/internal/provider"
)

// historyEncoding is the tokenizer used for context-size estimation.
// cl100k_base is close enough across the supported model families for
// accounting purposes.
const historyEncoding = "cl100k_base"

// History is the append-only message log owned by a single
// orchestrator. Tool-role messages must be preceded by an assistant
// message whose ToolCalls contains the referenced call ID; History does
// not re-order or drop entries, so callers preserve that invariant by
// appending in execution order.
type History struct {
	mu       sync.Mutex
	messages []provider.Message

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// Append adds a message to the end of the log.
func (h *History) Append(msg provider.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

// Messages returns a copy of the log in append order.
func (h *History) Messages() []provider.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]provider.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Clear discards all messages.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}

// EstimateTokens returns an approximate token count for the current
// log, for context-size accounting. Falls back to a bytes/4 heuristic
// if the tokenizer cannot be loaded.
func (h *History) EstimateTokens() int {
	h.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(historyEncoding)
		if err == nil {
			h.enc = enc
		}
	})

	h.mu.Lock()
	defer h.mu.Unlock()

	total := 0
	for _, msg := range h.messages {
		text := msg.Content
		for _, tc := range msg.ToolCalls {
			text += tc.Name + tc.Arguments
		}
		if h.enc != nil {
			total += len(h.enc.Encode(text, nil, nil))
		} else {
			total += len(text) / 4
		}
		// Per-message envelope overhead (role, separators).
		total += 4
	}
	return total
}
