// Package cache defines the distributed key/value boundary the migration
// protocol depends on. Every guard key carries a TTL; expiry is the system's
// recovery mechanism for crash-induced partial state.
package cache

import (
	"context"
	"time"
)

// Client is the consumed cache surface. All service processes must observe
// the same store for migration to be correct across process boundaries; when
// the store is unreachable, callers fail closed.
type Client interface {
	Exists(ctx context.Context, key string) (bool, error)
	// Get returns the value and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set writes key with a lifetime; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
	RemoveAll(ctx context.Context, keys []string) error
}
