// Package cache provides a read-through cache for the ledger snapshot.
// The store stays authoritative; the cache only shields the hot
// GET /metrics/summary path and is refreshed on every committed mutation.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jcmexdev/ecommerce-metrics/internal/ledger"
)

// SnapshotCache caches the most recently committed ledger snapshot.
type SnapshotCache interface {
	// Get returns the cached snapshot and whether one was present.
	Get(ctx context.Context) (ledger.Snapshot, bool, error)

	// Put stores snap, replacing any previous value.
	Put(ctx context.Context, snap ledger.Snapshot) error
}

type redisSnapshotCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedis builds a redis-backed SnapshotCache. Keys are prefixed with the
// service name so several services can share one instance.
func NewRedis(addr, serviceName string) SnapshotCache {
	return &redisSnapshotCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		key:    fmt.Sprintf("%s:metrics:summary", serviceName),
		ttl:    30 * time.Second,
	}
}

func (c *redisSnapshotCache) Get(ctx context.Context) (ledger.Snapshot, bool, error) {
	raw, err := c.client.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return ledger.Snapshot{}, false, nil
	}
	if err != nil {
		return ledger.Snapshot{}, false, fmt.Errorf("cache: get %s: %w", c.key, err)
	}

	var snap ledger.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return ledger.Snapshot{}, false, fmt.Errorf("cache: decode %s: %w", c.key, err)
	}
	return snap, true, nil
}

func (c *redisSnapshotCache) Put(ctx context.Context, snap ledger.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", c.key, err)
	}
	if err := c.client.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", c.key, err)
	}
	return nil
}
