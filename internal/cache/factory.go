package cache

import (
	"context"
	"fmt"

	"github.com/crawlkit/signbridge/internal/cache/encryption"
	"github.com/crawlkit/signbridge/internal/config"
	"github.com/rs/zerolog/log"
)

// NewFromConfig creates the cache backend selected by cfg.Type, either
// "memory" or "valkey", wrapped with instrumentation.
func NewFromConfig[T any](ctx context.Context, cfg config.CacheConfig) (TokenCache[T], error) {
	switch cfg.Type {
	case "valkey":
		log.Info().
			Str("cache_type", "valkey").
			Str("address", cfg.Valkey.Address).
			Bool("tls", cfg.Valkey.TLS).
			Bool("iam_enabled", cfg.Valkey.IAMEnabled).
			Bool("encryption", cfg.Encryption.Enabled).
			Msg("initializing distributed cache")

		client, err := newValkeyClient(ctx, cfg.Valkey)
		if err != nil {
			return nil, err
		}

		strategy, err := newStrategy(ctx, cfg.Encryption)
		if err != nil {
			client.Close()
			return nil, err
		}

		distributed, err := NewDistributed[T](client, strategy)
		if err != nil {
			if strategy != nil {
				_ = strategy.Close()
			}
			client.Close()
			return nil, fmt.Errorf("failed to create distributed cache: %w", err)
		}

		return NewInstrumented(distributed, "distributed"), nil

	case "memory":
		log.Info().
			Str("cache_type", "memory").
			Int("max_entries", cfg.MaxEntries).
			Msg("initializing in-memory cache")

		memory, err := NewMemory[T](cfg.MaxEntries)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory cache: %w", err)
		}

		return NewInstrumented(memory, "memory"), nil

	default:
		return nil, fmt.Errorf("invalid cache type %q: must be either \"memory\" or \"valkey\"", cfg.Type)
	}
}

// newStrategy returns nil when encryption is disabled.
func newStrategy(ctx context.Context, cfg config.CacheEncryptionConfig) (EncryptionStrategy, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var (
		aead *encryption.RefreshableAEAD
		err  error
	)
	if cfg.KeysetFile != "" {
		aead, err = encryption.NewRefreshableAEADFromFile(ctx, cfg.KeysetFile)
	} else {
		aead, err = encryption.NewRefreshableAEAD(ctx, cfg.KeysetURI, cfg.KMSEnvelopeKeyURI)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing encryption: %w", err)
	}

	log.Info().Msg("cache encryption enabled with automatic keyset refresh")

	return NewInstrumentedStrategy(NewTinkEncryptionStrategy(aead)), nil
}
