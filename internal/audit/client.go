// Package audit tracks operational health signals the reconstruction
// pipeline is allowed to degrade on rather than fail on: the pruner
// rolling back a transactional prune, and the merger finding no root
// mapped for a trace it needed to bridge. Neither condition fails a
// request closed, so without a running count of how often they fire an
// operator has no way to see a backend drifting unhealthy.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType names a degrade condition this package tracks.
type EventType string

const (
	// EventPrune is recorded once per Prune() call that fired (the graph
	// exceeded MaxNodeCount), rolledBack true iff the transactional prune
	// failed validation and was rolled back.
	EventPrune EventType = "prune"

	// EventMerge is recorded once per Merge() call, degraded true iff at
	// least one victim network node had no root mapped for its trace and
	// its bridge edge was omitted.
	EventMerge EventType = "merge"
)

// Rate is one event type's degrade rate over all recorded events.
type Rate struct {
	EventType    EventType
	TotalEvents  int64
	Degraded     int64
	DegradeRate  float64
}

// Client wraps the Postgres pool backing the audit_events table.
type Client struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewClient connects to dsn and verifies connectivity before returning,
// failing fast rather than deferring the error to the first query.
func NewClient(ctx context.Context, dsn string) (*Client, error) {
	if dsn == "" {
		return nil, fmt.Errorf("audit: postgres dsn is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: connect to postgres: %w", err)
	}

	logger := slog.Default().With("component", "audit")
	logger.Info("audit client connected")

	return &Client{pool: pool, logger: logger}, nil
}

// Close closes the connection pool.
func (c *Client) Close() {
	c.pool.Close()
	c.logger.Info("audit client closed")
}

// HealthCheck verifies Postgres connectivity, for use by the HTTP
// server's readiness endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("audit: health check failed: %w", err)
	}
	return nil
}

// RecordPrune records one Prune() call. rolledBack must be true exactly
// when the prune was rolled back to its pre-prune snapshot.
func (c *Client) RecordPrune(ctx context.Context, traceID string, rolledBack bool) error {
	return c.recordEvent(ctx, EventPrune, traceID, rolledBack)
}

// RecordMerge records one Merge() call. degraded must be true exactly
// when at least one victim node's bridge edge was omitted for want of a
// root mapping.
func (c *Client) RecordMerge(ctx context.Context, traceID string, degraded bool) error {
	return c.recordEvent(ctx, EventMerge, traceID, degraded)
}

func (c *Client) recordEvent(ctx context.Context, eventType EventType, traceID string, degraded bool) error {
	query := `
		INSERT INTO audit_events (event_type, trace_id, degraded)
		VALUES ($1, $2, $3)
	`
	if _, err := c.pool.Exec(ctx, query, eventType, traceID, degraded); err != nil {
		return fmt.Errorf("audit: record %s event: %w", eventType, err)
	}
	return nil
}

// Rate returns eventType's degrade rate across every event recorded so
// far. An operator alerts when this rate climbs, since a rising degrade
// rate on either event type means the pipeline is drifting unhealthy.
func (c *Client) Rate(ctx context.Context, eventType EventType) (*Rate, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN degraded THEN 1 ELSE 0 END), 0) AS degraded
		FROM audit_events
		WHERE event_type = $1
	`

	var total, degraded int64
	if err := c.pool.QueryRow(ctx, query, eventType).Scan(&total, &degraded); err != nil {
		return nil, fmt.Errorf("audit: rate for %s: %w", eventType, err)
	}

	rate := &Rate{EventType: eventType, TotalEvents: total, Degraded: degraded}
	if total > 0 {
		rate.DegradeRate = float64(degraded) / float64(total)
	}
	return rate, nil
}

// PrunerRollbackRate is a convenience wrapper over Rate for EventPrune.
func (c *Client) PrunerRollbackRate(ctx context.Context) (*Rate, error) {
	return c.Rate(ctx, EventPrune)
}

// MergerMissingRootMapRate is a convenience wrapper over Rate for EventMerge.
func (c *Client) MergerMissingRootMapRate(ctx context.Context) (*Rate, error) {
	return c.Rate(ctx, EventMerge)
}
