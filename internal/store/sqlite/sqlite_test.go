// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/crucible-dev/crucible/internal/store"
	"github.com/crucible-dev/crucible/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "crucible.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_AuditRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, s.Append(ctx, &store.AuditEntry{
		ID:        "a1",
		Timestamp: now,
		Action:    "tool_dispatch",
		Actor:     "shell",
		SessionID: "s1",
		TurnID:    "t1",
		Details:   map[string]any{"tool_name": "shell"},
		Result:    "ok",
	}))

	entries, err := s.ListAudit(ctx, "s1", store.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, "tool_dispatch", got.Action)
	assert.Equal(t, "shell", got.Actor)
	assert.Equal(t, "t1", got.TurnID)
	assert.Equal(t, "ok", got.Result)
	assert.Equal(t, "shell", got.Details["tool_name"])
	assert.True(t, got.Timestamp.Equal(now))
}

func TestStore_ListAuditFiltersBySession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, &store.AuditEntry{ID: "a1", Timestamp: time.Now(), Action: "x", SessionID: "s1"}))
	require.NoError(t, s.Append(ctx, &store.AuditEntry{ID: "a2", Timestamp: time.Now(), Action: "x", SessionID: "s2"}))

	entries, err := s.ListAudit(ctx, "s2", store.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a2", entries[0].ID)

	all, err := s.ListAudit(ctx, "", store.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_TurnRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveTurn(ctx, &store.TurnRecord{
		ID:             "t1",
		SessionID:      "s1",
		Input:          "fix the bug",
		FinalResponse:  "done",
		Status:         "completed",
		ToolIterations: 3,
		InputTokens:    120,
		OutputTokens:   45,
		StartedAt:      started,
		CompletedAt:    started.Add(12 * time.Second),
	}))

	recs, err := s.ListTurns(ctx, "s1", store.ListOpts{})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	got := recs[0]
	assert.Equal(t, "fix the bug", got.Input)
	assert.Equal(t, "done", got.FinalResponse)
	assert.Equal(t, 3, got.ToolIterations)
	assert.Equal(t, 120, got.InputTokens)
	assert.True(t, got.StartedAt.Equal(started))
}

func TestStore_RejectsNil(t *testing.T) {
	s := newTestStore(t)

	require.Error(t, s.Append(context.Background(), nil))
	require.Error(t, s.SaveTurn(context.Background(), nil))
}
