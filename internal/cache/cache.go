// Package cache implements C3: a small lookaside cache in front of
// internal/store, used to avoid re-fetching/re-resolving actors and AP
// objects on every request. Grounded on the sync.Map + expiring-entry
// pattern in klppl-klistr/internal/ap/client.go's objectCache/wfCache, with
// a Redis-backed implementation enriching from the pack's go-redis/v9
// dependency for multi-process deployments.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-string lookaside cache with per-entry TTL. Implementations
// need not guarantee persistence: a miss simply means the caller falls back
// to internal/store or a network fetch.
type Cache interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
