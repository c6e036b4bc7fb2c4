package observe

import (
	"context"
	"net/http"
	"testing"

	"github.com/crawlkit/signbridge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

func restoreProviders(t *testing.T) {
	t.Helper()

	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func TestConfigure_Disabled(t *testing.T) {
	restoreProviders(t)
	before := otel.GetTracerProvider()

	shutdown, err := Configure(context.Background(), config.ObserveConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestConfigure_Stdout(t *testing.T) {
	restoreProviders(t)

	shutdown, err := Configure(context.Background(), config.ObserveConfig{
		Enabled:                   true,
		MetricsEnabled:            true,
		Type:                      "stdout",
		ServiceName:               "signbridge-test",
		SDKLogLevel:               "warn",
		TraceBatchTimeoutSeconds:  1,
		MetricReadIntervalSeconds: 60,
	})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestConfigure_UnknownType(t *testing.T) {
	restoreProviders(t)

	_, err := Configure(context.Background(), config.ObserveConfig{Enabled: true, Type: "zipkin"})
	assert.ErrorContains(t, err, `unknown telemetry type "zipkin"`)
}

func TestHTTPTransport(t *testing.T) {
	base := http.DefaultTransport.(*http.Transport).Clone()

	assert.Same(t, base, HTTPTransport(base, config.ObserveConfig{Enabled: false, HTTPTransportEnabled: true}))
	assert.Same(t, base, HTTPTransport(base, config.ObserveConfig{Enabled: true, HTTPTransportEnabled: false}))

	wrapped := HTTPTransport(base, config.ObserveConfig{Enabled: true, HTTPTransportEnabled: true, HTTPConnectionTraceEnabled: true})
	assert.IsType(t, &otelhttp.Transport{}, wrapped)
}
