package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
)

type memoryItem[T any] struct {
	value     T
	expiresAt time.Time
}

// Memory is an in-process cache backed by otter. Each entry carries its own
// expiry, and Get refuses entries at or past it even if otter has not yet
// evicted them.
type Memory[T any] struct {
	cache   *otter.Cache[string, memoryItem[T]]
	counter *stats.Counter
	now     func() time.Time
}

// NewMemory creates an in-memory cache holding at most maxSize entries.
func NewMemory[T any](maxSize int) (*Memory[T], error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("memory cache size must be positive, got %d", maxSize)
	}

	m := &Memory[T]{
		counter: stats.NewCounter(),
		now:     time.Now,
	}

	m.cache = otter.Must(&otter.Options[string, memoryItem[T]]{
		MaximumSize:   maxSize,
		StatsRecorder: m.counter,
		ExpiryCalculator: otter.ExpiryWritingFunc(func(e otter.Entry[string, memoryItem[T]]) time.Duration {
			return e.Value.expiresAt.Sub(m.now())
		}),
	})

	return m, nil
}

// Get retrieves a value that has not yet expired.
func (m *Memory[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T

	item, ok := m.cache.GetIfPresent(key)
	if !ok {
		return zero, false, nil
	}

	if !m.now().Before(item.expiresAt) {
		m.cache.Invalidate(key)
		return zero, false, nil
	}

	return item.value, true, nil
}

// Set stores a value. A non-positive ttl removes any existing entry instead.
func (m *Memory[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if ttl <= 0 {
		m.cache.Invalidate(key)
		return nil
	}

	m.cache.Set(key, memoryItem[T]{value: value, expiresAt: m.now().Add(ttl)})
	return nil
}

// Invalidate removes a value.
func (m *Memory[T]) Invalidate(ctx context.Context, key string) error {
	m.cache.Invalidate(key)
	return nil
}

// Close is a no-op; the cache is garbage collected with its owner.
func (m *Memory[T]) Close() error {
	return nil
}
