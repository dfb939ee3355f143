// SPDX-License-Identifier: Apache-2.0
// Package store persists terminal invocation results for auditing.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/windlass-io/windlass/pkg/core"
)

// AuditStore records every terminal Result.
type AuditStore interface {
	Record(ctx context.Context, batchID string, res core.Result) error
	List(ctx context.Context, filter Filter) ([]Record, error)
	Close() error
}

// Filter narrows List queries. Zero-valued fields match everything.
type Filter struct {
	BatchID   string
	ToolName  string
	ErrorKind string
	Limit     int
}

// Record is one persisted result row.
type Record struct {
	BatchID      string
	InvocationID string
	ToolName     string
	Success      bool
	ValueJSON    string
	ErrorKind    string
	ErrorMessage string
	Attempts     int
	Duration     time.Duration
	Cached       bool
	RecordedAt   time.Time
}

// SQLiteAuditStore persists results in SQLite.
type SQLiteAuditStore struct {
	db *sql.DB
}

// NewSQLiteAuditStore creates the store and ensures the schema exists.
func NewSQLiteAuditStore(db *sql.DB) (*SQLiteAuditStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureAuditSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteAuditStore{db: db}, nil
}

// Open opens (or creates) a SQLite database at path and wraps it in a store.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*SQLiteAuditStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLiteAuditStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Record stores a single terminal result.
func (s *SQLiteAuditStore) Record(ctx context.Context, batchID string, res core.Result) error {
	var valueJSON string
	if res.Value != nil {
		data, err := json.Marshal(res.Value)
		if err != nil {
			return err
		}
		valueJSON = string(data)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invocation_results (
			batch_id, invocation_id, tool_name, success, value_json,
			error_kind, error_message, attempts, duration_ns, cached, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		batchID,
		res.InvocationID,
		res.ToolName,
		res.Success,
		valueJSON,
		string(res.ErrorKind),
		res.ErrorMessage,
		res.Attempts,
		res.Duration.Nanoseconds(),
		res.Cached,
		time.Now().UTC(),
	)
	return err
}

// List returns stored records matching the filter, oldest first.
func (s *SQLiteAuditStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := `
		SELECT batch_id, invocation_id, tool_name, success, value_json,
		       error_kind, error_message, attempts, duration_ns, cached, recorded_at
		FROM invocation_results
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.BatchID != "" {
		addFilter("batch_id = ?", filter.BatchID)
	}
	if filter.ToolName != "" {
		addFilter("tool_name = ?", filter.ToolName)
	}
	if filter.ErrorKind != "" {
		addFilter("error_kind = ?", filter.ErrorKind)
	}
	query += where + " ORDER BY recorded_at ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec        Record
			durationNS int64
			recorded   sql.NullTime
		)
		if err := rows.Scan(
			&rec.BatchID,
			&rec.InvocationID,
			&rec.ToolName,
			&rec.Success,
			&rec.ValueJSON,
			&rec.ErrorKind,
			&rec.ErrorMessage,
			&rec.Attempts,
			&durationNS,
			&rec.Cached,
			&recorded,
		); err != nil {
			return nil, err
		}
		rec.Duration = time.Duration(durationNS)
		if recorded.Valid {
			rec.RecordedAt = recorded.Time
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Close releases the underlying database handle.
func (s *SQLiteAuditStore) Close() error {
	return s.db.Close()
}

func ensureAuditSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS invocation_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id TEXT NOT NULL,
			invocation_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			value_json TEXT,
			error_kind TEXT,
			error_message TEXT,
			attempts INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL,
			cached BOOLEAN NOT NULL,
			recorded_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_results_batch ON invocation_results(batch_id);
		CREATE INDEX IF NOT EXISTS idx_results_tool ON invocation_results(tool_name);
		CREATE INDEX IF NOT EXISTS idx_results_kind ON invocation_results(error_kind);
	`)
	return err
}

var _ AuditStore = (*SQLiteAuditStore)(nil)
