// Package signing coordinates the cache, the browser pools and the platform
// adapters to produce signed requests.
package signing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/crawlkit/signbridge/internal/audit"
	"github.com/crawlkit/signbridge/internal/browser"
	"github.com/crawlkit/signbridge/internal/cache"
	"github.com/crawlkit/signbridge/internal/gateway"
	"github.com/crawlkit/signbridge/internal/platform"
	"github.com/crawlkit/signbridge/internal/sigerr"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/crawlkit/signbridge/internal/signing")

// SessionPool leases browser sessions per platform. It is satisfied by
// *browser.Pools.
type SessionPool interface {
	Acquire(ctx context.Context, p platform.Platform, timeout time.Duration) (*browser.Session, error)
	Release(s *browser.Session, healthy bool)
}

// Orchestrator is the signing entry point. It holds no mutable state of its
// own: secrets live in the cache and sessions in the pool.
type Orchestrator struct {
	registry *platform.Registry
	secrets  *cache.Secrets
	pools    SessionPool
	http     *gateway.Client
	opts     Options
}

// New wires an orchestrator. pools may be nil when no registered adapter
// needs a browser; http may be nil when none fetches over HTTP.
func New(registry *platform.Registry, secrets *cache.Secrets, pools SessionPool, http *gateway.Client, opts Options) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		secrets:  secrets,
		pools:    pools,
		http:     http,
		opts:     opts.withDefaults(),
	}
}

// SignRequest returns the signature fields for req. Each secret the adapter
// declares is read from the cache or refreshed; concurrent misses on one
// secret share a single refresh. If ctx ends first the call fails with
// timeout while any refresh it started keeps running for other callers.
func (o *Orchestrator) SignRequest(ctx context.Context, req platform.Request) (platform.Result, error) {
	ctx, span := tracer.Start(ctx, "signing.sign", trace.WithAttributes(
		attribute.String("platform", string(req.Platform())),
	))
	defer span.End()

	result, err := o.sign(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(sigerr.KindOf(err)))
		return platform.Result{}, err
	}

	span.SetAttributes(attribute.String("cache.state", string(result.CacheState)))
	return result, nil
}

func (o *Orchestrator) sign(ctx context.Context, req platform.Request) (platform.Result, error) {
	adapter, err := o.registry.Lookup(req.Platform())
	if err != nil {
		return platform.Result{}, err
	}

	secrets, state, err := o.resolve(ctx, adapter, adapter.Secrets(req))
	if err != nil {
		return platform.Result{}, err
	}

	result, err := adapter.Sign(req, secrets)
	if err != nil {
		return platform.Result{}, sigerr.Wrap(sigerr.KindSigningComputation, err, "computing signature")
	}

	return result.WithCacheState(state), nil
}

// resolve obtains every declared secret concurrently. The result is fresh if
// any secret had to be refreshed for this call.
func (o *Orchestrator) resolve(ctx context.Context, adapter platform.Adapter, specs []platform.SecretSpec) (platform.Secrets, platform.CacheState, error) {
	p := adapter.Platform()
	entry := audit.Log(ctx)

	var (
		mu        sync.Mutex
		secrets   = make(platform.Secrets, len(specs))
		refreshed bool
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range specs {
		spec.TTL = o.opts.ttlFor(p, spec)

		g.Go(func() error {
			secret, fresh, err := o.secrets.GetOrRefresh(gctx, p, spec.Key, func(rctx context.Context) (platform.Secret, error) {
				return o.refresh(rctx, adapter, spec)
			})
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			secrets[spec.Key.Name] = secret
			refreshed = refreshed || fresh
			entry.Secrets = append(entry.Secrets, audit.SecretUse{Key: spec.Key.String(), Refreshed: fresh})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, "", err
	}

	state := platform.CacheCached
	if refreshed {
		state = platform.CacheFresh
	}
	return secrets, state, nil
}

// refresh produces a new secret for spec, retrying transient failures with
// exponential backoff inside the refresh deadline.
func (o *Orchestrator) refresh(ctx context.Context, adapter platform.Adapter, spec platform.SecretSpec) (platform.Secret, error) {
	p := adapter.Platform()

	ctx, cancel := context.WithTimeout(ctx, o.opts.RefreshTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "signing.refresh", trace.WithAttributes(
		attribute.String("platform", string(p)),
		attribute.String("secret", spec.Key.String()),
		attribute.String("mode", string(spec.Mode)),
	))
	defer span.End()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.opts.RetryInterval

	attempt := 0
	secret, err := backoff.Retry(ctx, func() (platform.Secret, error) {
		attempt++
		secret, err := o.refreshOnce(ctx, adapter, spec)
		if err == nil {
			return secret, nil
		}
		// the gateway has already spent its own retries
		if ctx.Err() != nil || !sigerr.IsRetryable(err) || errors.Is(err, gateway.ErrRetried) {
			return platform.Secret{}, backoff.Permanent(err)
		}
		return platform.Secret{}, err
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(o.opts.RefreshAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Ctx(ctx).Warn().Err(err).
				Str("platform", string(p)).
				Str("secret", spec.Key.String()).
				Int("attempt", attempt).
				Dur("retry_in", next).
				Msg("refresh failed, retrying")
		}),
	)
	span.SetAttributes(attribute.Int("attempts", attempt))

	if err != nil {
		err = classifyRefresh(ctx, p, spec, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(sigerr.KindOf(err)))
		return platform.Secret{}, err
	}

	log.Ctx(ctx).Info().
		Str("platform", string(p)).
		Str("secret", spec.Key.String()).
		Time("expires", secret.ExpiresAt).
		Int("attempts", attempt).
		Msg("secret refreshed")

	return secret, nil
}

// refreshOnce runs a single refresh attempt, leasing a browser session for
// browser-mode secrets. The session is released unhealthy on any failure.
func (o *Orchestrator) refreshOnce(ctx context.Context, adapter platform.Adapter, spec platform.SecretSpec) (platform.Secret, error) {
	rt := platform.Runtime{Now: o.opts.Now}
	if o.http != nil {
		// a nil *gateway.Client must stay a nil interface
		rt.HTTP = o.http
	}

	if spec.Mode == platform.RefreshBrowser {
		if o.pools == nil {
			return platform.Secret{}, sigerr.New(sigerr.KindRefreshFailure, "no browser pool configured").
				For(string(adapter.Platform()), spec.Key.String())
		}

		session, err := o.pools.Acquire(ctx, adapter.Platform(), o.opts.AcquireTimeout)
		if err != nil {
			return platform.Secret{}, err
		}

		healthy := false
		defer func() { o.pools.Release(session, healthy) }()
		rt.Page = session

		secret, err := adapter.Refresh(ctx, spec, rt)
		if err != nil {
			return platform.Secret{}, err
		}
		healthy = true
		return secret, nil
	}

	return adapter.Refresh(ctx, spec, rt)
}

// classifyRefresh maps a final refresh error onto the taxonomy. Pool and
// timeout errors keep their kind; anything else becomes a refresh failure.
func classifyRefresh(ctx context.Context, p platform.Platform, spec platform.SecretSpec, err error) error {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	if ctx.Err() != nil && (errors.Is(err, ctx.Err()) || errors.Is(err, sigerr.ErrTimeout)) {
		return &sigerr.Error{
			Kind:     sigerr.KindTimeout,
			Platform: string(p),
			Key:      spec.Key.String(),
			Message:  "refresh exceeded its deadline",
			Cause:    err,
		}
	}

	switch sigerr.KindOf(err) {
	case sigerr.KindPoolExhausted, sigerr.KindPoolTimeout, sigerr.KindTimeout, sigerr.KindRefreshFailure:
		return err
	}

	return &sigerr.Error{
		Kind:     sigerr.KindRefreshFailure,
		Platform: string(p),
		Key:      spec.Key.String(),
		Message:  fmt.Sprintf("refreshing %s", spec.Key),
		Cause:    err,
	}
}
