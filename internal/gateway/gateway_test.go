package gateway_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/crawlkit/signbridge/internal/config"
	"github.com/crawlkit/signbridge/internal/gateway"
	"github.com/crawlkit/signbridge/internal/sigerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.GatewayConfig {
	return config.GatewayConfig{
		Timeout:      2 * time.Second,
		Attempts:     3,
		RetryWait:    5 * time.Millisecond,
		RetryMaxWait: 10 * time.Millisecond,
	}
}

func TestDo_Success(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "v", r.Header.Get("X-Test"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "payload", string(body))

		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	}))
	defer svr.Close()

	client := gateway.New(testConfig(), nil)

	res, err := client.Do(context.Background(), gateway.Request{
		Method: http.MethodPost,
		URL:    svr.URL,
		Header: http.Header{"X-Test": []string{"v"}},
		Body:   []byte("payload"),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", string(res.Body))
	assert.Equal(t, "text/plain", res.Header.Get("Content-Type"))
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer svr.Close()

	client := gateway.New(testConfig(), nil)

	res, err := client.Do(context.Background(), gateway.Request{URL: svr.URL})
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(res.Body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_ExhaustedRetriesAreRefreshFailures(t *testing.T) {
	var calls atomic.Int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer svr.Close()

	client := gateway.New(testConfig(), nil)

	_, err := client.Do(context.Background(), gateway.Request{URL: svr.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, sigerr.ErrRefreshFailure)
	assert.ErrorIs(t, err, gateway.ErrRetried)
	assert.Equal(t, int32(3), calls.Load())

	var statusErr *gateway.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestDo_SingleAttemptIsNotMarkedRetried(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer svr.Close()

	cfg := testConfig()
	cfg.Attempts = 1
	client := gateway.New(cfg, nil)

	_, err := client.Do(context.Background(), gateway.Request{URL: svr.URL})
	assert.ErrorIs(t, err, sigerr.ErrRefreshFailure)
	assert.NotErrorIs(t, err, gateway.ErrRetried)
}

func TestDo_StatusErrorBodyKeepsRunes(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("界", 100)))
	}))
	defer svr.Close()

	cfg := testConfig()
	cfg.Attempts = 1
	client := gateway.New(cfg, nil)

	_, err := client.Do(context.Background(), gateway.Request{URL: svr.URL})

	var statusErr *gateway.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, utf8.ValidString(statusErr.Body))
	assert.Equal(t, strings.Repeat("界", 85)+"...", statusErr.Body)
}

func TestDo_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("denied"))
	}))
	defer svr.Close()

	client := gateway.New(testConfig(), nil)

	res, err := client.Do(context.Background(), gateway.Request{URL: svr.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, sigerr.ErrInvalidRequest)
	assert.NotErrorIs(t, err, gateway.ErrRetried)
	assert.Equal(t, int32(1), calls.Load())

	// the response is still available for inspection
	require.NotNil(t, res)
	assert.Equal(t, "denied", string(res.Body))
}

func TestDo_Timeout(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer svr.Close()

	client := gateway.New(testConfig(), nil)

	_, err := client.Do(context.Background(), gateway.Request{
		URL:     svr.URL,
		Timeout: 20 * time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sigerr.ErrTimeout)
}

func TestDo_UsesSuppliedTransport(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "signbridge-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer svr.Close()

	var used atomic.Bool
	transport := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		used.Store(true)
		return http.DefaultTransport.RoundTrip(r)
	})

	cfg := testConfig()
	cfg.UserAgent = "signbridge-test"
	client := gateway.New(cfg, transport)

	_, err := client.Do(context.Background(), gateway.Request{URL: svr.URL})
	require.NoError(t, err)
	assert.True(t, used.Load())
}

func TestFanout_PreservesOrder(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			time.Sleep(30 * time.Millisecond)
		}
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer svr.Close()

	client := gateway.New(testConfig(), nil)

	results := client.Fanout(context.Background(), []gateway.Request{
		{URL: svr.URL + "/slow"},
		{URL: svr.URL + "/fast"},
		{URL: svr.URL + "/missing"},
	})
	require.Len(t, results, 3)

	require.NoError(t, results[0].Err)
	assert.Equal(t, "/slow", string(results[0].Response.Body))
	require.NoError(t, results[1].Err)
	assert.Equal(t, "/fast", string(results[1].Response.Body))
	assert.ErrorIs(t, results[2].Err, sigerr.ErrInvalidRequest)
}

func TestGo_DeliversSingleResult(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("async"))
	}))
	defer svr.Close()

	client := gateway.New(testConfig(), nil)

	ch := client.Go(context.Background(), gateway.Request{URL: svr.URL})

	result := <-ch
	require.NoError(t, result.Err)
	assert.Equal(t, "async", string(result.Response.Body))

	_, open := <-ch
	assert.False(t, open)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
