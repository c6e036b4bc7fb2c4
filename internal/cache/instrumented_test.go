package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// mockCache is a scripted TokenCache.
type mockCache[T any] struct {
	getValue T
	getFound bool
	getError error
	setError error
	invError error
	closeErr error
	getCalls int
	setCalls int
	invCalls int
	lastTTL  time.Duration
}

func (m *mockCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	m.getCalls++
	return m.getValue, m.getFound, m.getError
}

func (m *mockCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	m.setCalls++
	m.lastTTL = ttl
	return m.setError
}

func (m *mockCache[T]) Invalidate(ctx context.Context, key string) error {
	m.invCalls++
	return m.invError
}

func (m *mockCache[T]) Close() error {
	return m.closeErr
}

func TestInstrumented_Delegates(t *testing.T) {
	mock := &mockCache[string]{getValue: "v", getFound: true}
	instrumented := NewInstrumented(mock, "test")
	ctx := context.Background()

	value, found, err := instrumented.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", value)

	require.NoError(t, instrumented.Set(ctx, "k", "v", 42*time.Second))
	assert.Equal(t, 42*time.Second, mock.lastTTL)

	require.NoError(t, instrumented.Invalidate(ctx, "k"))

	assert.Equal(t, 1, mock.getCalls)
	assert.Equal(t, 1, mock.setCalls)
	assert.Equal(t, 1, mock.invCalls)
	assert.Same(t, mock, instrumented.Unwrap())
}

func TestInstrumented_PropagatesErrors(t *testing.T) {
	getErr := errors.New("get failed")
	setErr := errors.New("set failed")
	invErr := errors.New("invalidate failed")
	closeErr := errors.New("close failed")

	instrumented := NewInstrumented(&mockCache[string]{
		getError: getErr,
		setError: setErr,
		invError: invErr,
		closeErr: closeErr,
	}, "test")
	ctx := context.Background()

	_, _, err := instrumented.Get(ctx, "k")
	assert.ErrorIs(t, err, getErr)
	assert.ErrorIs(t, instrumented.Set(ctx, "k", "v", time.Minute), setErr)
	assert.ErrorIs(t, instrumented.Invalidate(ctx, "k"), invErr)
	assert.ErrorIs(t, instrumented.Close(), closeErr)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "success", outcome(nil))
	assert.Equal(t, "error", outcome(errors.New("x")))
}

func TestInstrumented_RecordsOperations(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	instrumented := NewInstrumented(&mockCache[string]{getFound: true}, "test")
	ctx := context.Background()

	_, _, _ = instrumented.Get(ctx, "k")
	_ = instrumented.Set(ctx, "k", "v", time.Minute)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	// the global delegate forwards instruments created before the provider
	// was installed, so the counter is present whichever test ran first
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "secret_cache.operations" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), total)
}
