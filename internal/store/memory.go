// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package store

import (
	"context"
	"sync"

	crucerr "github.com/crucible-dev/crucible/pkg/errors"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store used in tests and when no data
// directory is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	audit  []*AuditEntry
	turns  []*TurnRecord
	closed bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, entry *AuditEntry) error {
	if entry == nil {
		return crucerr.New(crucerr.CodeStoreInvalidInput, "audit entry must not be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return crucerr.New(crucerr.CodeStoreDatabaseFailure, "store is closed")
	}
	copied := *entry
	m.audit = append(m.audit, &copied)
	return nil
}

func (m *MemoryStore) ListAudit(_ context.Context, sessionID string, opts ListOpts) ([]*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*AuditEntry
	for _, e := range m.audit {
		if sessionID != "" && e.SessionID != sessionID {
			continue
		}
		out = append(out, e)
	}
	return page(out, opts), nil
}

func (m *MemoryStore) SaveTurn(_ context.Context, rec *TurnRecord) error {
	if rec == nil {
		return crucerr.New(crucerr.CodeStoreInvalidInput, "turn record must not be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return crucerr.New(crucerr.CodeStoreDatabaseFailure, "store is closed")
	}
	copied := *rec
	m.turns = append(m.turns, &copied)
	return nil
}

func (m *MemoryStore) ListTurns(_ context.Context, sessionID string, opts ListOpts) ([]*TurnRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*TurnRecord
	for _, r := range m.turns {
		if sessionID != "" && r.SessionID != sessionID {
			continue
		}
		out = append(out, r)
	}
	return page(out, opts), nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func page[T any](items []T, opts ListOpts) []T {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if opts.Offset >= len(items) {
		return nil
	}
	items = items[opts.Offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
