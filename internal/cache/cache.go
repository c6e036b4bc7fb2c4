package cache

import (
	"context"
	"time"
)

// TokenCache is a key/value store with per-entry expiry. The generic type T is
// the cached value; backends that leave the process serialize it as JSON.
type TokenCache[T any] interface {
	// Get retrieves a value. Returns the value, whether it was found, and
	// any backend error.
	Get(ctx context.Context, key string) (T, bool, error)

	// Set stores a value that expires after ttl.
	Set(ctx context.Context, key string, value T, ttl time.Duration) error

	// Invalidate removes a value.
	Invalidate(ctx context.Context, key string) error

	// Close releases any resources held by the cache.
	Close() error
}
