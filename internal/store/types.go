// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

// Package store persists the engine's audit trail and completed turn
// records. The subagent session registry is deliberately NOT persisted;
// sessions live in memory for the life of the process.
package store

import "time"

// AuditEntry records a single auditable action: a tool dispatch, a
// completed turn, a subagent spawn.
type AuditEntry struct {
	ID        string
	Timestamp time.Time
	Action    string
	Actor     string
	SessionID string
	TurnID    string
	Details   map[string]any
	Result    string // "ok", "denied", "error"
}

// TurnRecord is the persisted summary of one completed turn.
type TurnRecord struct {
	ID             string
	SessionID      string
	Input          string
	FinalResponse  string
	Status         string
	ToolIterations int
	InputTokens    int
	OutputTokens   int
	StartedAt      time.Time
	CompletedAt    time.Time
}

// ListOpts bounds list queries.
type ListOpts struct {
	Limit  int
	Offset int
}
