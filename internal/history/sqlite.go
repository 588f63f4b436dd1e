package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Repository against a local SQLite file, for
// single-operator/local deployments, self-initializing its schema for
// development use.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	db.Exec("PRAGMA journal_mode = WAL")

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS investigations (
		id TEXT PRIMARY KEY,
		operation TEXT NOT NULL,
		host_ips TEXT,
		trace_ids TEXT,
		threat_severity TEXT,
		node_count INTEGER,
		edge_count INTEGER,
		pruner_fired INTEGER,
		pruner_rolled_back INTEGER,
		failed_closed INTEGER,
		created_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_investigations_operation ON investigations(operation);
	CREATE INDEX IF NOT EXISTS idx_investigations_created_at ON investigations(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordInvestigation inserts one investigation row.
func (s *SQLiteStore) RecordInvestigation(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO investigations
			(id, operation, host_ips, trace_ids, threat_severity, node_count, edge_count,
			 pruner_fired, pruner_rolled_back, failed_closed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID.String(), rec.Operation, rec.HostIPsJoined, rec.TraceIDsJoined, rec.ThreatSeverity,
		rec.NodeCount, rec.EdgeCount, rec.PrunerFired, rec.PrunerRolledBack, rec.FailedClosed, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert investigation: %w", err)
	}
	return nil
}

// GetInvestigation retrieves one investigation by id.
func (s *SQLiteStore) GetInvestigation(ctx context.Context, id uuid.UUID) (*Record, error) {
	var rec Record
	query := `SELECT * FROM investigations WHERE id = ?`

	err := s.db.GetContext(ctx, &rec, query, id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get investigation: %w", err)
	}
	return &rec, nil
}

// ListInvestigations returns the most recent investigations, optionally
// filtered to a single operation.
func (s *SQLiteStore) ListInvestigations(ctx context.Context, op Operation, limit int) ([]Record, error) {
	var records []Record

	if op != "" {
		query := `SELECT * FROM investigations WHERE operation = ? ORDER BY created_at DESC LIMIT ?`
		err := s.db.SelectContext(ctx, &records, query, op, limit)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("list investigations by operation: %w", err)
		}
		return records, nil
	}

	query := `SELECT * FROM investigations ORDER BY created_at DESC LIMIT ?`
	err := s.db.SelectContext(ctx, &records, query, limit)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("list investigations: %w", err)
	}
	return records, nil
}
