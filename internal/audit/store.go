// Package audit persists a privacy-preserving log of redaction requests.
//
// Records hold only aggregate counts per entity type plus request metadata.
// Original text, replacements, and the per-request label map are never
// written, so the audit trail cannot be used to reverse an anonymized
// document.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	cloakotel "github.com/dativo-io/cloak/internal/otel"
)

var tracer = cloakotel.Tracer("github.com/dativo-io/cloak/internal/audit")

// Record is the audit entry for one anonymize request.
type Record struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Caller        string         `json:"caller"`
	Operator      string         `json:"operator"`
	Language      string         `json:"language"`
	EntityCounts  map[string]int `json:"entity_counts,omitempty"`
	TotalEntities int            `json:"total_entities"`
	DurationMS    int64          `json:"duration_ms"`
}

// Store persists audit records in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the audit database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS redactions (
		id TEXT PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		caller TEXT NOT NULL,
		record_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_redactions_timestamp ON redactions(timestamp);
	CREATE INDEX IF NOT EXISTS idx_redactions_caller ON redactions(caller);
	`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record saves one audit entry. A missing ID or timestamp is filled in.
func (s *Store) Record(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = "red_" + uuid.New().String()[:8]
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	ctx, span := tracer.Start(ctx, "audit.record",
		trace.WithAttributes(
			attribute.String("audit.id", rec.ID),
			attribute.String("audit.caller", rec.Caller),
		))
	defer span.End()

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}

	query := `INSERT INTO redactions (id, timestamp, caller, record_json) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, rec.ID, rec.Timestamp, rec.Caller, string(recordJSON)); err != nil {
		return fmt.Errorf("storing audit record: %w", err)
	}
	return nil
}

// List returns audit records, newest first, optionally filtered by caller.
func (s *Store) List(ctx context.Context, caller string, limit int) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "audit.list")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}

	query := `SELECT record_json FROM redactions`
	args := []interface{}{}
	if caller != "" {
		query += ` WHERE caller = ?`
		args = append(args, caller)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			return nil, fmt.Errorf("unmarshaling audit record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune deletes records older than the cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "audit.prune")
	defer span.End()

	res, err := s.db.ExecContext(ctx, `DELETE FROM redactions WHERE timestamp < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("pruning audit records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int64("audit.pruned", n))
	return n, nil
}
