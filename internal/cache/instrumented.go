package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const meterName = "github.com/crawlkit/signbridge/internal/cache"

var (
	metricsOnce     sync.Once
	cacheOperations metric.Int64Counter
	cacheDuration   metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter(meterName)

		var err error
		cacheOperations, err = meter.Int64Counter(
			"secret_cache.operations",
			metric.WithDescription("Secret cache operations by outcome"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheDuration, err = meter.Float64Histogram(
			"secret_cache.operation.duration",
			metric.WithDescription("Secret cache operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented records metrics and span attributes for every operation of
// the wrapped cache.
type Instrumented[T any] struct {
	wrapped   TokenCache[T]
	cacheType string
}

func NewInstrumented[T any](cache TokenCache[T], cacheType string) *Instrumented[T] {
	initMetrics()
	return &Instrumented[T]{
		wrapped:   cache,
		cacheType: cacheType,
	}
}

func (i *Instrumented[T]) Get(ctx context.Context, key string) (T, bool, error) {
	start := time.Now()
	value, found, err := i.wrapped.Get(ctx, key)

	status := "miss"
	switch {
	case err != nil:
		status = "error"
	case found:
		status = "hit"
	}
	i.record(ctx, "get", status, time.Since(start))

	return value, found, err
}

func (i *Instrumented[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	start := time.Now()
	err := i.wrapped.Set(ctx, key, value, ttl)
	i.record(ctx, "set", outcome(err), time.Since(start))
	return err
}

func (i *Instrumented[T]) Invalidate(ctx context.Context, key string) error {
	start := time.Now()
	err := i.wrapped.Invalidate(ctx, key)
	i.record(ctx, "invalidate", outcome(err), time.Since(start))
	return err
}

func (i *Instrumented[T]) Close() error {
	return i.wrapped.Close()
}

// Unwrap exposes the backend, e.g. for health checks.
func (i *Instrumented[T]) Unwrap() TokenCache[T] {
	return i.wrapped
}

func (i *Instrumented[T]) record(ctx context.Context, operation, status string, duration time.Duration) {
	if cacheOperations != nil {
		cacheOperations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("cache.type", i.cacheType),
			attribute.String("cache.operation", operation),
			attribute.String("cache.status", status),
		))
	}
	if cacheDuration != nil {
		cacheDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("cache.type", i.cacheType),
			attribute.String("cache.operation", operation),
		))
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("cache.type", i.cacheType),
		attribute.String("cache."+operation+".status", status),
		attribute.Float64("cache."+operation+".duration", duration.Seconds()),
	)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
