package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/crawlkit/signbridge/internal/audit"
	"github.com/crawlkit/signbridge/internal/browser"
	"github.com/crawlkit/signbridge/internal/browser/browsertest"
	"github.com/crawlkit/signbridge/internal/cache"
	"github.com/crawlkit/signbridge/internal/config"
	"github.com/crawlkit/signbridge/internal/platform"
	"github.com/crawlkit/signbridge/internal/sigerr"
	"github.com/crawlkit/signbridge/internal/signing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var signedAt = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

type signerFunc func(ctx context.Context, req platform.Request) (platform.Result, error)

func (f signerFunc) SignRequest(ctx context.Context, req platform.Request) (platform.Result, error) {
	return f(ctx, req)
}

type invalidatorFunc func(ctx context.Context, req platform.Request, name string) ([]platform.SecretKey, error)

func (f invalidatorFunc) InvalidateFor(ctx context.Context, req platform.Request, name string) ([]platform.SecretKey, error) {
	return f(ctx, req, name)
}

type fixedStatus struct {
	stats  []browser.Stats
	health []signing.HealthStatus
}

func (s fixedStatus) Stats() []browser.Stats                        { return s.stats }
func (s fixedStatus) Health(context.Context) []signing.HealthStatus { return s.health }

// post sends body to handler with the platform path value set, returning the
// recorder and the audit entry the handler filled in.
func post(t *testing.T, handler http.Handler, p string, body string) (*httptest.ResponseRecorder, *audit.Entry) {
	t.Helper()

	ctx, entry := audit.Context(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/sign/"+p, strings.NewReader(body)).WithContext(ctx)
	req.SetPathValue("platform", p)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, entry
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Error
}

func TestHandlePostSign_ReturnsSignature(t *testing.T) {
	var got platform.Request
	signer := signerFunc(func(ctx context.Context, req platform.Request) (platform.Result, error) {
		got = req
		result := platform.NewResult(req, map[string]string{"x-s": "sig", "x-t": "1700000000"}, map[string]string{"a_bogus": "ab"})
		result.SignedAt = signedAt
		return result.WithCacheState(platform.CacheCached), nil
	})

	body := `{
		"uri": "https://edith.xiaohongshu.com/api/sns/web/v1/feed?source=web&ids=1,2",
		"method": "post",
		"params": [["note_id", "abc"], ["xsec_token", "t"]],
		"bodyDigest": "d41d8cd9",
		"cookies": "a1=device-1; web_session=s",
		"context": {"account": "7"}
	}`
	rr, entry := post(t, handlePostSign(signer, time.Minute), "xiaohongshu", body)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp SignResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, SignResponse{
		Platform:   platform.XHS,
		SignedPath: "/api/sns/web/v1/feed?source=web&ids=1,2&note_id=abc&xsec_token=t",
		Headers:    map[string]string{"x-s": "sig", "x-t": "1700000000"},
		Query:      map[string]string{"a_bogus": "ab"},
		SignedAt:   signedAt,
		CacheState: platform.CacheCached,
	}, resp)

	assert.Equal(t, platform.XHS, got.Platform())
	assert.Equal(t, http.MethodPost, got.Method())
	assert.Equal(t, []platform.Param{
		{Key: "source", Value: "web"},
		{Key: "ids", Value: "1,2"},
		{Key: "note_id", Value: "abc"},
		{Key: "xsec_token", Value: "t"},
	}, got.Params())
	assert.Equal(t, "device-1", got.Cookie("a1"))
	assert.Equal(t, "7", got.Context("account"))
	assert.Equal(t, "d41d8cd9", got.BodyDigest())

	assert.Equal(t, "xhs", entry.Platform)
	assert.Equal(t, "cached", entry.CacheState)
	assert.Equal(t, []string{"query:a_bogus", "x-s", "x-t"}, entry.SignedFields)
	assert.Empty(t, entry.ErrorKind)
}

func TestHandlePostSign_BoundsTimeout(t *testing.T) {
	cases := []struct {
		name      string
		timeoutMs int
		max       time.Duration
		expected  time.Duration
	}{
		{"caller timeout", 500, time.Minute, 500 * time.Millisecond},
		{"capped by maximum", 120_000, time.Second, time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var remaining time.Duration
			signer := signerFunc(func(ctx context.Context, req platform.Request) (platform.Result, error) {
				deadline, ok := ctx.Deadline()
				require.True(t, ok)
				remaining = time.Until(deadline)
				return platform.NewResult(req, nil, nil), nil
			})

			body := `{"uri": "/x/space/wbi/arc/search?mid=1", "timeoutMs": ` + strconv.Itoa(tc.timeoutMs) + `}`
			rr, _ := post(t, handlePostSign(signer, tc.max), "bilibili", body)

			require.Equal(t, http.StatusOK, rr.Code)
			assert.LessOrEqual(t, remaining, tc.expected)
			assert.Greater(t, remaining, tc.expected-time.Second/4)
		})
	}

	t.Run("no timeout without timeoutMs", func(t *testing.T) {
		signer := signerFunc(func(ctx context.Context, req platform.Request) (platform.Result, error) {
			_, ok := ctx.Deadline()
			assert.False(t, ok)
			return platform.NewResult(req, nil, nil), nil
		})

		rr, _ := post(t, handlePostSign(signer, time.Minute), "bilibili", `{"uri": "/x"}`)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestHandlePostSign_Errors(t *testing.T) {
	unused := signerFunc(func(context.Context, platform.Request) (platform.Result, error) {
		t.Fatal("signer must not be called")
		return platform.Result{}, nil
	})
	failing := func(err error) Signer {
		return signerFunc(func(context.Context, platform.Request) (platform.Result, error) {
			return platform.Result{}, err
		})
	}

	cases := []struct {
		name     string
		signer   Signer
		platform string
		body     string
		status   int
		kind     string
		message  string
	}{
		{"unknown platform", unused, "weibo", `{"uri": "/"}`, http.StatusBadRequest, "unsupported_platform", `"weibo"`},
		{"malformed body", unused, "zhihu", `{"uri": `, http.StatusBadRequest, "invalid_request", "not valid JSON"},
		{"unknown field", unused, "zhihu", `{"url": "/"}`, http.StatusBadRequest, "invalid_request", "not valid JSON"},
		{"missing uri", unused, "zhihu", `{}`, http.StatusBadRequest, "invalid_request", "uri is required"},
		{"param without value", unused, "bilibili", `{"uri": "/", "params": [["mid"]]}`, http.StatusBadRequest, "invalid_request", "params[0] must be a [key, value] pair"},
		{"param with extra element", unused, "bilibili", `{"uri": "/", "params": [["mid", "1"], ["pn", "1", "EXTRA"]]}`, http.StatusBadRequest, "invalid_request", "params[1] must be a [key, value] pair"},
		{"empty param", unused, "bilibili", `{"uri": "/", "params": [[]]}`, http.StatusBadRequest, "invalid_request", "got 0 elements"},
		{"param with empty key", unused, "bilibili", `{"uri": "/", "params": [["", "1"]]}`, http.StatusBadRequest, "invalid_request", "params[0] has an empty key"},
		{"param not a string", unused, "bilibili", `{"uri": "/", "params": [["mid", 1]]}`, http.StatusBadRequest, "invalid_request", "not valid JSON"},
		{"pool exhausted", failing(sigerr.New(sigerr.KindPoolExhausted, "all sessions leased")), "zhihu", `{"uri": "/"}`, http.StatusServiceUnavailable, "pool_exhausted", "all sessions leased"},
		{"refresh failure", failing(sigerr.New(sigerr.KindRefreshFailure, "navigation failed")), "douyin", `{"uri": "/"}`, http.StatusBadGateway, "refresh_failure", "navigation failed"},
		{"timeout", failing(sigerr.New(sigerr.KindTimeout, "refresh exceeded its deadline")), "zhihu", `{"uri": "/"}`, http.StatusGatewayTimeout, "timeout", "deadline"},
		{"unclassified", failing(errors.New("database password is hunter2")), "zhihu", `{"uri": "/"}`, http.StatusInternalServerError, "internal", "Internal Server Error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, entry := post(t, handlePostSign(tc.signer, time.Minute), tc.platform, tc.body)

			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			detail := decodeError(t, rr)
			assert.Equal(t, tc.kind, detail.Kind)
			assert.Contains(t, detail.Message, tc.message)

			assert.Equal(t, tc.kind, entry.ErrorKind)
			assert.NotEmpty(t, entry.Error)
		})
	}
}

func TestHandlePostSign_UnclassifiedErrorsHideDetail(t *testing.T) {
	signer := signerFunc(func(context.Context, platform.Request) (platform.Result, error) {
		return platform.Result{}, errors.New("database password is hunter2")
	})

	rr, entry := post(t, handlePostSign(signer, time.Minute), "zhihu", `{"uri": "/"}`)

	assert.NotContains(t, rr.Body.String(), "hunter2")
	// the audit log keeps the detail
	assert.Contains(t, entry.Error, "hunter2")
}

func TestHandlePostInvalidate(t *testing.T) {
	var (
		gotReq  platform.Request
		gotName string
	)
	invalidator := invalidatorFunc(func(ctx context.Context, req platform.Request, name string) ([]platform.SecretKey, error) {
		gotReq, gotName = req, name
		return []platform.SecretKey{{Name: "zse", Dimension: "dc0"}}, nil
	})

	rr, entry := post(t, handlePostInvalidate(invalidator), "zhihu", `{"key": "zse", "cookies": "d_c0=dc0"}`)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.String())
	assert.Equal(t, "zse", gotName)
	assert.Equal(t, platform.Zhihu, gotReq.Platform())
	assert.Equal(t, "dc0", gotReq.Cookie("d_c0"))
	assert.Equal(t, "/", gotReq.Path())
	assert.Equal(t, "zhihu", entry.Platform)
}

func TestHandlePostInvalidate_Errors(t *testing.T) {
	invalidator := invalidatorFunc(func(ctx context.Context, req platform.Request, name string) ([]platform.SecretKey, error) {
		return nil, sigerr.Newf(sigerr.KindInvalidRequest, "%s has no secret named %q", req.Platform(), name)
	})

	rr, _ := post(t, handlePostInvalidate(invalidator), "zhihu", `{"key": "nope"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rr).Kind)

	rr, _ = post(t, handlePostInvalidate(invalidator), "tieba", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "unsupported_platform", decodeError(t, rr).Kind)
}

func TestHandleGetStatus(t *testing.T) {
	reporter := fixedStatus{
		stats: []browser.Stats{{Platform: platform.Zhihu, Capacity: 2, Leased: 1, Idle: 1, Created: 2}},
		health: []signing.HealthStatus{
			{Platform: platform.Zhihu, URL: "https://www.zhihu.com", Status: 200, Healthy: true},
		},
	}

	rr := httptest.NewRecorder()
	handleGetStatus(reporter).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rr.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, StatusResponse{Pools: reporter.stats, Platforms: reporter.health}, resp)
}

func TestHandleHealthCheck(t *testing.T) {
	rr := httptest.NewRecorder()
	handleHealthCheck().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}

func TestMaxRequestSize(t *testing.T) {
	signer := signerFunc(func(ctx context.Context, req platform.Request) (platform.Result, error) {
		return platform.NewResult(req, nil, nil), nil
	})
	handler := maxRequestSize(64)(handlePostSign(signer, time.Minute))

	body := `{"uri": "/` + strings.Repeat("a", 128) + `"}`
	rr, _ := post(t, handler, "zhihu", body)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeError(t, rr).Message, "exceeds 64 bytes")
}

func TestConfigureServerRoutes(t *testing.T) {
	registry, err := newRegistry([]string{"zhihu"})
	require.NoError(t, err)

	pools, err := browser.NewPools(browsertest.NewEngine(nil), config.BrowserConfig{PoolSize: 1}, registry, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pools.Close() })

	backend, err := cache.NewMemory[platform.Secret](10)
	require.NoError(t, err)

	orchestrator := signing.New(registry, cache.NewSecrets(backend), pools, nil, signing.Options{AcquireTimeout: time.Second})
	cfg := config.Config{Signing: config.SigningConfig{RefreshTimeout: 5 * time.Second}}
	handler := configureServerRoutes(cfg, orchestrator, serviceStatus{pools, orchestrator})

	serve := func(method, path, body string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rr
	}

	t.Run("healthcheck", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve(http.MethodGet, "/healthcheck", "").Code)
	})

	t.Run("sign on a platform that is not registered", func(t *testing.T) {
		rr := serve(http.MethodPost, "/sign/xhs", `{"uri": "/api/sns/web/v1/feed"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "unsupported_platform", decodeError(t, rr).Kind)
	})

	t.Run("sign reaches the browser", func(t *testing.T) {
		// the scripted engine has no answer for the page script
		rr := serve(http.MethodPost, "/sign/zhihu", `{"uri": "/api/v4/me", "cookies": "d_c0=abc"}`)
		assert.Equal(t, http.StatusBadGateway, rr.Code)
		assert.Equal(t, "refresh_failure", decodeError(t, rr).Kind)
	})

	t.Run("invalidate", func(t *testing.T) {
		assert.Equal(t, http.StatusNoContent, serve(http.MethodPost, "/invalidate/zhihu", `{"cookies": "d_c0=abc"}`).Code)
	})

	t.Run("status", func(t *testing.T) {
		rr := serve(http.MethodGet, "/status", "")
		require.Equal(t, http.StatusOK, rr.Code)

		var resp StatusResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Len(t, resp.Pools, 1)
		assert.Equal(t, platform.Zhihu, resp.Pools[0].Platform)
		require.Len(t, resp.Platforms, 1)
		assert.Equal(t, "no gateway configured", resp.Platforms[0].Error)
	})

	t.Run("wrong method", func(t *testing.T) {
		assert.Equal(t, http.StatusMethodNotAllowed, serve(http.MethodGet, "/sign/zhihu", "").Code)
	})
}
