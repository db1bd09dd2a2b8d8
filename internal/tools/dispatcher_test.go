// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package tools_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/crucible-dev/crucible/internal/provider"
	"github.com/crucible-dev/crucible/internal/store"
	"github.com/crucible-dev/crucible/internal/tools"
	crucerr "github.com/crucible-dev/crucible/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDispatcher(t *testing.T, reg *tools.Registry, audit store.AuditStore, timeout time.Duration) *tools.Dispatcher {
	t.Helper()
	d, err := tools.NewDispatcher(tools.DispatcherConfig{
		Capability:     reg,
		AuditStore:     audit,
		DefaultTimeout: timeout,
	})
	require.NoError(t, err)
	return d
}

func TestNewDispatcher_RequiresCapability(t *testing.T) {
	_, err := tools.NewDispatcher(tools.DispatcherConfig{})
	require.Error(t, err)
}

func TestDispatcher_ExecuteForTurn_Budget(t *testing.T) {
	reg := tools.NewRegistry(nil)
	reg.Register(&stubTool{name: "read"})
	d := newDispatcher(t, reg, nil, 0)

	req := tools.DispatchRequest{
		Call:   provider.ToolCall{ID: "c1", Name: "read", Arguments: "{}"},
		TurnID: "turn-1",
	}

	for i := 0; i < 3; i++ {
		_, err := d.ExecuteForTurn(context.Background(), req, 3)
		require.NoError(t, err)
	}

	_, err := d.ExecuteForTurn(context.Background(), req, 3)
	require.Error(t, err)
	assert.True(t, crucerr.HasCode(err, crucerr.CodeAgentTurnFailure))

	// A different turn gets its own budget.
	req.TurnID = "turn-2"
	_, err = d.ExecuteForTurn(context.Background(), req, 3)
	require.NoError(t, err)

	// Clearing the exhausted turn resets it.
	d.ClearTurn("turn-1")
	req.TurnID = "turn-1"
	_, err = d.ExecuteForTurn(context.Background(), req, 3)
	require.NoError(t, err)
}

func TestDispatcher_ExecuteForTurn_RequiresTurnID(t *testing.T) {
	reg := tools.NewRegistry(nil)
	reg.Register(&stubTool{name: "read"})
	d := newDispatcher(t, reg, nil, 0)

	_, err := d.ExecuteForTurn(context.Background(), tools.DispatchRequest{
		Call: provider.ToolCall{ID: "c1", Name: "read"},
	}, 3)
	require.Error(t, err)
	assert.True(t, crucerr.IsInvalidInput(err))
}

func TestDispatcher_Timeout(t *testing.T) {
	reg := tools.NewRegistry(nil)
	reg.Register(&stubTool{
		name: "slow",
		execute: func(ctx context.Context, _ string) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(5 * time.Second):
				return "done", nil
			}
		},
	})
	d := newDispatcher(t, reg, nil, 20*time.Millisecond)

	_, err := d.Execute(context.Background(), provider.ToolCall{ID: "c1", Name: "slow", Arguments: "{}"})
	require.Error(t, err)
	assert.True(t, crucerr.HasCode(err, crucerr.CodeAgentToolTimeout))
	assert.True(t, crucerr.IsTimeout(err))
}

func TestDispatcher_AuditsDispatches(t *testing.T) {
	reg := tools.NewRegistry(nil)
	reg.Register(&stubTool{name: "read"})
	audit := store.NewMemoryStore()
	d := newDispatcher(t, reg, audit, 0)

	_, err := d.ExecuteForTurn(context.Background(), tools.DispatchRequest{
		Call:      provider.ToolCall{ID: "c1", Name: "read", Arguments: `{"path":"main.go"}`},
		SessionID: "s1",
		TurnID:    "t1",
	}, 0)
	require.NoError(t, err)

	// Unknown tool dispatch is audited as an error.
	_, err = d.Execute(context.Background(), provider.ToolCall{ID: "c2", Name: "mystery"})
	require.Error(t, err)

	entries, listErr := audit.ListAudit(context.Background(), "", store.ListOpts{})
	require.NoError(t, listErr)
	require.Len(t, entries, 2)
	assert.Equal(t, "ok", entries[0].Result)
	assert.Equal(t, "error", entries[1].Result)
	assert.Equal(t, "tool_dispatch", entries[0].Action)
}

func TestDispatcher_TruncatesLongArguments(t *testing.T) {
	reg := tools.NewRegistry(nil)
	reg.Register(&stubTool{name: "read"})
	audit := store.NewMemoryStore()
	d := newDispatcher(t, reg, audit, 0)

	long := `{"data":"` + strings.Repeat("x", 4096) + `"}`
	_, err := d.Execute(context.Background(), provider.ToolCall{ID: "c1", Name: "read", Arguments: long})
	require.NoError(t, err)

	entries, listErr := audit.ListAudit(context.Background(), "", store.ListOpts{})
	require.NoError(t, listErr)
	require.Len(t, entries, 1)

	stored, ok := entries[0].Details["tool_arguments"].(string)
	require.True(t, ok)
	assert.LessOrEqual(t, len(stored), 1024)
}
