// Package cache fronts the query facade's batch calls with a small
// key-value store so repeated investigations over the same hosts don't
// re-hit the search index.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/edrsec/processchain/internal/config"
)

// Backend is the cache abstraction the facade layer depends on. Two
// implementations exist: RedisBackend for shared team deployments and
// BboltBackend for local/single-user deployments.
type Backend interface {
	// Get retrieves a cached value by key and unmarshals it into target.
	// Returns false (not an error) on a cache miss.
	Get(ctx context.Context, key string, target interface{}) (bool, error)

	// Set stores value under key with the given TTL. Value is marshaled
	// to JSON before storage.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a key from the cache.
	Delete(ctx context.Context, key string) error

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases any underlying connection or file handle.
	Close() error
}

// NewBackend constructs the configured cache backend.
func NewBackend(ctx context.Context, cfg config.CacheConfig) (Backend, error) {
	switch cfg.Type {
	case "redis":
		return NewRedisBackend(ctx, cfg.RedisAddr, cfg.RedisPassword)
	case "bbolt", "":
		return NewBboltBackend(cfg.BboltPath)
	default:
		return nil, fmt.Errorf("unknown cache backend type %q", cfg.Type)
	}
}

// BatchKey generates a standardized cache key for a facade batch query.
// Format: "prefix:host:suffix", or "prefix:host" when suffix is empty,
// e.g. "alarms:10.0.0.5" or "alarms:10.0.0.5:evt-42".
func BatchKey(prefix, host, suffix string) string {
	if suffix == "" {
		return fmt.Sprintf("%s:%s", prefix, host)
	}
	return fmt.Sprintf("%s:%s:%s", prefix, host, suffix)
}
