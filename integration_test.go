//go:build integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/crawlkit/signbridge/internal/browser"
	"github.com/crawlkit/signbridge/internal/browser/browsertest"
	"github.com/crawlkit/signbridge/internal/cache"
	"github.com/crawlkit/signbridge/internal/config"
	"github.com/crawlkit/signbridge/internal/platform"
	"github.com/crawlkit/signbridge/internal/platform/zhihu"
	"github.com/crawlkit/signbridge/internal/server"
	"github.com/crawlkit/signbridge/internal/signing"
	"github.com/crawlkit/signbridge/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signingHarness runs the full route stack against a real Valkey cache and a
// scripted browser engine.
type signingHarness struct {
	t      *testing.T
	Server *httptest.Server
	Engine *browsertest.Engine
}

// newSigningHarness starts one replica of the service. Replicas created from
// the same cache configuration share their secrets.
func newSigningHarness(t *testing.T, cacheCfg config.CacheConfig) *signingHarness {
	t.Helper()
	testhelpers.SetupLogger(t)

	hooks := &server.ShutdownHooks{}
	t.Cleanup(func() {
		_ = hooks.Execute(context.Background())
	})

	cfg := config.Config{
		Cache:   cacheCfg,
		Browser: config.BrowserConfig{PoolSize: 1},
		Signing: config.SigningConfig{RefreshTimeout: 10 * time.Second, RefreshAttempts: 1},
	}

	registry, err := newRegistry([]string{"zhihu"})
	require.NoError(t, err)

	backend, err := cache.NewFromConfig[platform.Secret](context.Background(), cfg.Cache)
	require.NoError(t, err)
	hooks.AddClose("secret cache", backend)

	engine := browsertest.NewEngine(map[string]any{
		zhihu.MaterialExpression: map[string]any{"seed": "integration-seed", "zst": "zst-value"},
		"document.cookie":        "d_c0=page-device",
	})

	pools, err := browser.NewPools(engine, cfg.Browser, registry, nil)
	require.NoError(t, err)
	hooks.AddClose("browser pools", pools)

	orchestrator := signing.New(registry, cache.NewSecrets(backend), pools, nil, signing.Options{
		RefreshTimeout:  cfg.Signing.RefreshTimeout,
		RefreshAttempts: cfg.Signing.RefreshAttempts,
		AcquireTimeout:  time.Second,
	})

	srv := httptest.NewServer(configureServerRoutes(cfg, orchestrator, serviceStatus{pools, orchestrator}))
	hooks.AddClose("api server", closerFunc(srv.Close))

	return &signingHarness{t: t, Server: srv, Engine: engine}
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

func (h *signingHarness) post(path string, body any) *http.Response {
	h.t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(h.t, err)

	resp, err := http.Post(h.Server.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func (h *signingHarness) sign(body SignRequestBody) SignResponse {
	h.t.Helper()

	resp := h.post("/sign/zhihu", body)
	raw, _ := io.ReadAll(resp.Body)
	require.Equal(h.t, http.StatusOK, resp.StatusCode, string(raw))

	var signed SignResponse
	require.NoError(h.t, json.Unmarshal(raw, &signed))
	return signed
}

func TestIntegrationSigning_CachesAcrossRequests(t *testing.T) {
	h := newSigningHarness(t, testhelpers.RunValkeyContainer(t))
	req := SignRequestBody{URI: "/api/v4/me?include=email", Cookies: "d_c0=device-1"}

	first := h.sign(req)
	assert.Equal(t, platform.CacheFresh, first.CacheState)
	assert.Equal(t, "zst-value", first.Headers["x-zst-81"])
	assert.NotEmpty(t, first.Headers["x-zse-96"])

	second := h.sign(req)
	assert.Equal(t, platform.CacheCached, second.CacheState)
	assert.Equal(t, first.Headers, second.Headers)

	assert.Equal(t, 1, h.Engine.Created())
}

func TestIntegrationSigning_InvalidateForcesRefresh(t *testing.T) {
	h := newSigningHarness(t, testhelpers.RunValkeyContainer(t))
	req := SignRequestBody{URI: "/api/v4/me", Cookies: "d_c0=device-1"}

	original := h.sign(req)

	h.Engine.SetResult(zhihu.MaterialExpression, map[string]any{"seed": "rotated-seed", "zst": "zst-rotated"})

	resp := h.post("/invalidate/zhihu", InvalidateRequestBody{Cookies: "d_c0=device-1"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	refreshed := h.sign(req)
	assert.Equal(t, platform.CacheFresh, refreshed.CacheState)
	assert.Equal(t, "zst-rotated", refreshed.Headers["x-zst-81"])
	assert.NotEqual(t, original.Headers["x-zse-96"], refreshed.Headers["x-zse-96"])
}

func TestIntegrationSigning_ReplicasShareSecrets(t *testing.T) {
	cacheCfg := testhelpers.RunValkeyContainer(t)
	primary := newSigningHarness(t, cacheCfg)
	replica := newSigningHarness(t, cacheCfg)
	req := SignRequestBody{URI: "/api/v4/me", Cookies: "d_c0=shared-device"}

	first := primary.sign(req)
	require.Equal(t, platform.CacheFresh, first.CacheState)

	second := replica.sign(req)
	assert.Equal(t, platform.CacheCached, second.CacheState)
	assert.Equal(t, first.Headers, second.Headers)
	assert.Zero(t, replica.Engine.Created(), "replica must not drive its own browser")
}
