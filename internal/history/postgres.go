package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PostgresStore implements Repository against PostgreSQL. It expects the
// investigations table to already exist (created by migrations) and never
// self-initializes schema.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects to dsn and sizes the connection pool for a
// single service instance.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// RecordInvestigation inserts one investigation row.
func (s *PostgresStore) RecordInvestigation(ctx context.Context, rec *Record) error {
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
		VALUES
			(:id, :operation, :host_ips, :trace_ids, :threat_severity, :node_count, :edge_count,
			 :pruner_fired, :pruner_rolled_back, :failed_closed, :created_at)
	`

	_, err := s.db.NamedExecContext(ctx, query, rec)
	if err != nil {
		return fmt.Errorf("insert investigation: %w", err)
	}
	return nil
}

// GetInvestigation retrieves one investigation by id.
func (s *PostgresStore) GetInvestigation(ctx context.Context, id uuid.UUID) (*Record, error) {
	var rec Record
	query := `SELECT * FROM investigations WHERE id = $1`

	err := s.db.GetContext(ctx, &rec, query, id)
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
func (s *PostgresStore) ListInvestigations(ctx context.Context, op Operation, limit int) ([]Record, error) {
	var records []Record

	if op != "" {
		query := `SELECT * FROM investigations WHERE operation = $1 ORDER BY created_at DESC LIMIT $2`
		err := s.db.SelectContext(ctx, &records, query, op, limit)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("list investigations by operation: %w", err)
		}
		return records, nil
	}

	query := `SELECT * FROM investigations ORDER BY created_at DESC LIMIT $1`
	err := s.db.SelectContext(ctx, &records, query, limit)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("list investigations: %w", err)
	}
	return records, nil
}
