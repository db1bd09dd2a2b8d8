// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package store

import "context"

// AuditStore appends and lists audit entries. Append is best-effort
// from the caller's perspective: audit failures must never fail the
// action being audited.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, sessionID string, opts ListOpts) ([]*AuditEntry, error)
	Close() error
}

// TurnStore persists completed turn records for later inspection.
type TurnStore interface {
	SaveTurn(ctx context.Context, rec *TurnRecord) error
	ListTurns(ctx context.Context, sessionID string, opts ListOpts) ([]*TurnRecord, error)
	Close() error
}

// Store combines the audit and turn stores; both backends implement it.
type Store interface {
	AuditStore
	TurnStore
}
