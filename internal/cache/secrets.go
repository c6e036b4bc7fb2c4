package cache

import (
	"context"
	"errors"
	"time"

	"github.com/crawlkit/signbridge/internal/flight"
	"github.com/crawlkit/signbridge/internal/platform"
	"github.com/crawlkit/signbridge/internal/sigerr"
	"github.com/rs/zerolog/log"
)

const secretKeyPrefix = "secret:"

// RefreshFunc produces a fresh secret on a cache miss.
type RefreshFunc func(ctx context.Context) (platform.Secret, error)

// Secrets is the token cache for signing material. It guarantees that an
// expired secret is never served, that every caller receives its own copy,
// and that concurrent misses on one key share a single refresh.
type Secrets struct {
	backend TokenCache[platform.Secret]
	flights flight.Group[refreshOutcome]
	now     func() time.Time
}

type refreshOutcome struct {
	secret    platform.Secret
	refreshed bool
}

// SecretsOption configures a Secrets store.
type SecretsOption func(*Secrets)

// WithClock replaces the wall clock used for expiry decisions.
func WithClock(now func() time.Time) SecretsOption {
	return func(s *Secrets) {
		s.now = now
	}
}

func NewSecrets(backend TokenCache[platform.Secret], opts ...SecretsOption) *Secrets {
	s := &Secrets{
		backend: backend,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func storageKey(p platform.Platform, key platform.SecretKey) string {
	return secretKeyPrefix + key.CacheKey(p)
}

// Get returns an unexpired secret. A backend failure is reported as
// cache_unavailable.
func (s *Secrets) Get(ctx context.Context, p platform.Platform, key platform.SecretKey) (platform.Secret, bool, error) {
	k := storageKey(p, key)

	secret, found, err := s.backend.Get(ctx, k)
	if err != nil {
		return platform.Secret{}, false, &sigerr.Error{
			Kind:     sigerr.KindCacheUnavailable,
			Platform: string(p),
			Key:      key.String(),
			Message:  "cache read",
			Cause:    err,
		}
	}
	if !found {
		return platform.Secret{}, false, nil
	}

	if secret.Expired(s.now()) {
		// backends expire on their own clock; never rely on it alone
		_ = s.backend.Invalidate(ctx, k)
		return platform.Secret{}, false, nil
	}

	return secret.Clone(), true, nil
}

// Put stores secret until its expiry. Expired secrets are refused.
func (s *Secrets) Put(ctx context.Context, secret platform.Secret) error {
	ttl := secret.TTL(s.now())
	if ttl <= 0 {
		return sigerr.New(sigerr.KindRefreshFailure, "refusing to cache an expired secret").
			For(string(secret.Platform), secret.Key.String())
	}

	err := s.backend.Set(ctx, storageKey(secret.Platform, secret.Key), secret.Clone(), ttl)
	if err != nil {
		return sigerr.Wrap(sigerr.KindCacheUnavailable, err, "cache write")
	}

	return nil
}

// Invalidate drops the secret so the next lookup refreshes it. A refresh
// already in flight for the key is not interrupted.
func (s *Secrets) Invalidate(ctx context.Context, p platform.Platform, key platform.SecretKey) error {
	if err := s.backend.Invalidate(ctx, storageKey(p, key)); err != nil {
		return sigerr.Wrap(sigerr.KindCacheUnavailable, err, "cache invalidate")
	}
	return nil
}

// GetOrRefresh returns the cached secret, or runs refresh on a miss. Concurrent
// callers missing on the same key wait for the first caller's refresh and all
// receive its result. refresh runs detached from ctx: a caller whose context
// ends stops waiting with a timeout error, but the refresh completes and
// populates the cache for everyone else. Refresh errors are delivered to all
// waiters and are not cached.
//
// refreshed reports whether this call's result came from a refresh rather
// than the cache.
func (s *Secrets) GetOrRefresh(ctx context.Context, p platform.Platform, key platform.SecretKey, refresh RefreshFunc) (secret platform.Secret, refreshed bool, err error) {
	secret, found, err := s.Get(ctx, p, key)
	if err != nil {
		return platform.Secret{}, false, err
	}
	if found {
		return secret, false, nil
	}

	out, _, err := s.flights.Do(ctx, storageKey(p, key), func(fctx context.Context) (refreshOutcome, error) {
		// a flight that finished between our miss and this one starting
		// has already populated the cache
		if cached, ok, err := s.Get(fctx, p, key); err == nil && ok {
			return refreshOutcome{secret: cached}, nil
		}

		fresh, err := refresh(fctx)
		if err != nil {
			return refreshOutcome{}, err
		}
		if fresh.Expired(s.now()) {
			return refreshOutcome{}, sigerr.New(sigerr.KindRefreshFailure, "refresh produced an expired secret").
				For(string(p), key.String())
		}

		if err := s.Put(fctx, fresh); err != nil {
			// the caller can still sign; the next request will refresh again
			log.Ctx(fctx).Warn().Err(err).
				Str("platform", string(p)).
				Str("key", key.String()).
				Msg("failed to store refreshed secret")
		}

		return refreshOutcome{secret: fresh, refreshed: true}, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return platform.Secret{}, false, &sigerr.Error{
				Kind:     sigerr.KindTimeout,
				Platform: string(p),
				Key:      key.String(),
				Message:  "waiting for secret refresh",
				Cause:    err,
			}
		}
		return platform.Secret{}, false, err
	}

	return out.secret.Clone(), out.refreshed, nil
}
