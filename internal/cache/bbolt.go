package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("facade_queries")

// entry is the on-disk envelope: the JSON-marshaled value plus its absolute
// expiry so a stale entry can be detected and treated as a miss.
type entry struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// BboltBackend is an embedded, single-process cache backend used for local
// and single-user deployments where running Redis is overkill.
type BboltBackend struct {
	db     *bolt.DB
	logger *slog.Logger
}

// NewBboltBackend opens (creating if necessary) a bbolt-backed cache file.
func NewBboltBackend(path string) (*BboltBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("bbolt cache path missing")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt cache at %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	logger := slog.Default().With("component", "cache.bbolt")
	logger.Info("bbolt cache backend opened", "path", path)

	return &BboltBackend{db: db, logger: logger}, nil
}

// Close closes the underlying bbolt file.
func (b *BboltBackend) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close bbolt cache: %w", err)
	}
	b.logger.Info("bbolt cache backend closed")
	return nil
}

// HealthCheck verifies the bbolt file handle is still usable.
func (b *BboltBackend) HealthCheck(ctx context.Context) error {
	return b.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketName) == nil {
			return fmt.Errorf("cache bucket missing")
		}
		return nil
	})
}

// Get retrieves a cached value by key and unmarshals it into target.
// Expired entries are treated as misses and are not proactively deleted
// here; they are overwritten on the next Set.
func (b *BboltBackend) Get(ctx context.Context, key string, target interface{}) (bool, error) {
	var raw []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("bbolt get failed for key %s: %w", key, err)
	}
	if raw == nil {
		b.logger.Debug("cache miss", "key", key)
		return false, nil
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache envelope for key %s: %w", key, err)
	}

	if time.Now().After(e.ExpiresAt) {
		b.logger.Debug("cache expired", "key", key)
		return false, nil
	}

	if err := json.Unmarshal(e.Value, target); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value for key %s: %w", key, err)
	}

	b.logger.Debug("cache hit", "key", key)
	return true, nil
}

// Set stores a value in cache with the given TTL, JSON-marshaled.
func (b *BboltBackend) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}

	e := entry{Value: raw, ExpiresAt: time.Now().Add(ttl)}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal cache envelope for key %s: %w", key, err)
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("bbolt set failed for key %s: %w", key, err)
	}

	b.logger.Debug("cache set", "key", key, "ttl", ttl)
	return nil
}

// Delete removes a key from cache.
func (b *BboltBackend) Delete(ctx context.Context, key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("bbolt delete failed for key %s: %w", key, err)
	}

	b.logger.Debug("cache delete", "key", key)
	return nil
}
