package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/valkey-io/valkey-go"
)

// clientSideTTL bounds how long valkey-go keeps a tracked value in process.
// The server invalidates tracked keys on change and expiry, so this only
// limits memory held for keys that are read rarely.
const clientSideTTL = 5 * time.Minute

// Distributed implements TokenCache on Valkey with server-assisted
// client-side caching. Values are JSON encoded and passed through the
// encryption strategy before storage.
type Distributed[T any] struct {
	client   valkey.Client
	strategy EncryptionStrategy
}

// NewDistributed creates a Valkey-backed cache. A nil strategy stores values
// in plaintext.
func NewDistributed[T any](client valkey.Client, strategy EncryptionStrategy) (*Distributed[T], error) {
	if strategy == nil {
		strategy = &NoEncryptionStrategy{}
	}
	return &Distributed[T]{
		client:   client,
		strategy: strategy,
	}, nil
}

// Get retrieves a value. Decryption failures are returned as errors and the
// unreadable entry is deleted on a best-effort basis.
func (d *Distributed[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T

	storageKey := d.strategy.StorageKey(key)

	cmd := d.client.B().Get().Key(storageKey).Cache()
	result := d.client.DoCache(ctx, cmd, clientSideTTL)

	if err := result.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("failed to get cached value: %w", err)
	}

	raw, err := result.ToString()
	if err != nil {
		return zero, false, fmt.Errorf("failed to read cached value: %w", err)
	}

	data, err := d.strategy.DecryptValue(ctx, raw, key)
	if err != nil {
		_ = d.client.Do(ctx, d.client.B().Del().Key(storageKey).Build()).Error()
		return zero, false, fmt.Errorf("cache decryption failure for key %q: %w", key, err)
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return zero, false, fmt.Errorf("failed to decode cached value: %w", err)
	}

	return value, true, nil
}

// Set stores a value with a millisecond-precision expiry. A non-positive ttl
// deletes the key instead.
func (d *Distributed[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if ttl < time.Millisecond {
		return d.Invalidate(ctx, key)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}

	stored, err := d.strategy.EncryptValue(ctx, data, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt value: %w", err)
	}

	cmd := d.client.B().Set().
		Key(d.strategy.StorageKey(key)).
		Value(stored).
		PxMilliseconds(ttl.Milliseconds()).
		Build()
	if err := d.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to set cached value: %w", err)
	}

	return nil
}

// Invalidate removes a value.
func (d *Distributed[T]) Invalidate(ctx context.Context, key string) error {
	cmd := d.client.B().Del().Key(d.strategy.StorageKey(key)).Build()
	if err := d.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to invalidate cached value: %w", err)
	}
	return nil
}

// Ping checks that the server is reachable.
func (d *Distributed[T]) Ping(ctx context.Context) error {
	return d.client.Do(ctx, d.client.B().Ping().Build()).Error()
}

// Close releases the client and the encryption strategy.
func (d *Distributed[T]) Close() error {
	if err := d.strategy.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing encryption strategy")
	}
	d.client.Close()
	return nil
}
