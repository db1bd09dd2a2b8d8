// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

// Package sqlite implements store.Store backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/crucible-dev/crucible/internal/store"
	crucerr "github.com/crucible-dev/crucible/pkg/errors"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store implements store.Store backed by a single SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at dbPath and initialises
// the audit_log and turns tables.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, crucerr.Wrapf(err, crucerr.CodeStoreDatabaseFailure, "opening sqlite db")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, crucerr.Wrapf(err, crucerr.CodeStoreDatabaseFailure, "pinging sqlite db")
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, crucerr.Wrapf(err, crucerr.CodeStoreDatabaseFailure, "migrating sqlite db")
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY,
	timestamp  TEXT NOT NULL,
	action     TEXT NOT NULL,
	actor      TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	turn_id    TEXT NOT NULL DEFAULT '',
	details    TEXT NOT NULL DEFAULT '{}',
	result     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_log(session_id, timestamp);

CREATE TABLE IF NOT EXISTS turns (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL DEFAULT '',
	input           TEXT NOT NULL DEFAULT '',
	final_response  TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT '',
	tool_iterations INTEGER NOT NULL DEFAULT 0,
	input_tokens    INTEGER NOT NULL DEFAULT 0,
	output_tokens   INTEGER NOT NULL DEFAULT 0,
	started_at      TEXT NOT NULL,
	completed_at    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, started_at);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Append(ctx context.Context, entry *store.AuditEntry) error {
	if entry == nil {
		return crucerr.New(crucerr.CodeStoreInvalidInput, "audit entry must not be nil")
	}

	details, err := json.Marshal(entry.Details)
	if err != nil {
		return crucerr.Wrapf(err, crucerr.CodeStoreInvalidInput, "marshalling audit details")
	}

	const q = `INSERT INTO audit_log (id, timestamp, action, actor, session_id, turn_id, details, result)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, q,
		entry.ID,
		formatTime(entry.Timestamp),
		entry.Action,
		entry.Actor,
		entry.SessionID,
		entry.TurnID,
		string(details),
		entry.Result,
	)
	if err != nil {
		return crucerr.Wrapf(err, crucerr.CodeStoreDatabaseFailure, "appending audit entry %s", entry.ID)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, sessionID string, opts store.ListOpts) ([]*store.AuditEntry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	const q = `SELECT id, timestamp, action, actor, session_id, turn_id, details, result
FROM audit_log WHERE (? = '' OR session_id = ?) ORDER BY timestamp ASC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, q, sessionID, sessionID, limit, opts.Offset)
	if err != nil {
		return nil, crucerr.Wrapf(err, crucerr.CodeStoreDatabaseFailure, "listing audit entries")
	}
	defer rows.Close()

	var entries []*store.AuditEntry
	for rows.Next() {
		var e store.AuditEntry
		var ts, detailsJSON string
		if err := rows.Scan(
			&e.ID,
			&ts,
			&e.Action,
			&e.Actor,
			&e.SessionID,
			&e.TurnID,
			&detailsJSON,
			&e.Result,
		); err != nil {
			return nil, crucerr.Wrapf(err, crucerr.CodeStoreDatabaseFailure, "scanning audit row")
		}
		e.Timestamp = parseTime(ts)
		if detailsJSON != "" && detailsJSON != "{}" {
			if err := json.Unmarshal([]byte(detailsJSON), &e.Details); err != nil {
				return nil, crucerr.Wrapf(err, crucerr.CodeStoreDatabaseFailure, "unmarshalling audit details")
			}
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

func (s *Store) SaveTurn(ctx context.Context, rec *store.TurnRecord) error {
	if rec == nil {
		return crucerr.New(crucerr.CodeStoreInvalidInput, "turn record must not be nil")
	}

	const q = `INSERT INTO turns (id, session_id, input, final_response, status, tool_iterations, input_tokens, output_tokens, started_at, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		rec.ID,
		rec.SessionID,
		rec.Input,
		rec.FinalResponse,
		rec.Status,
		rec.ToolIterations,
		rec.InputTokens,
		rec.OutputTokens,
		formatTime(rec.StartedAt),
		formatTime(rec.CompletedAt),
	)
	if err != nil {
		return crucerr.Wrapf(err, crucerr.CodeStoreDatabaseFailure, "saving turn %s", rec.ID)
	}
	return nil
}

func (s *Store) ListTurns(ctx context.Context, sessionID string, opts store.ListOpts) ([]*store.TurnRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	const q = `SELECT id, session_id, input, final_response, status, tool_iterations, input_tokens, output_tokens, started_at, completed_at
FROM turns WHERE (? = '' OR session_id = ?) ORDER BY started_at ASC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, q, sessionID, sessionID, limit, opts.Offset)
	if err != nil {
		return nil, crucerr.Wrapf(err, crucerr.CodeStoreDatabaseFailure, "listing turns")
	}
	defer rows.Close()

	var recs []*store.TurnRecord
	for rows.Next() {
		var r store.TurnRecord
		var startedAt, completedAt string
		if err := rows.Scan(
			&r.ID,
			&r.SessionID,
			&r.Input,
			&r.FinalResponse,
			&r.Status,
			&r.ToolIterations,
			&r.InputTokens,
			&r.OutputTokens,
			&startedAt,
			&completedAt,
		); err != nil {
			return nil, crucerr.Wrapf(err, crucerr.CodeStoreDatabaseFailure, "scanning turn row")
		}
		r.StartedAt = parseTime(startedAt)
		r.CompletedAt = parseTime(completedAt)
		recs = append(recs, &r)
	}

	return recs, rows.Err()
}

// formatTime serialises a time.Time to RFC3339 with nanosecond precision.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
