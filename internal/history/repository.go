package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/edrsec/processchain/internal/config"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup by ID finds no matching row.
var ErrNotFound = errors.New("history: investigation not found")

// Repository is the investigation history store's contract: record one row
// per batch-generate/merge-chain call, and let an operator search across
// past investigations.
type Repository interface {
	RecordInvestigation(ctx context.Context, rec *Record) error
	GetInvestigation(ctx context.Context, id uuid.UUID) (*Record, error)
	ListInvestigations(ctx context.Context, op Operation, limit int) ([]Record, error)
	Close() error
}

// NewRepository constructs the configured history store.
func NewRepository(cfg config.HistoryConfig) (Repository, error) {
	switch cfg.Type {
	case "postgres":
		return NewPostgresStore(cfg.PostgresDSN)
	case "sqlite", "":
		return NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown history backend type %q", cfg.Type)
	}
}
