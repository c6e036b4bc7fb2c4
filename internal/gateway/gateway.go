package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/crawlkit/signbridge/internal/config"
	"github.com/crawlkit/signbridge/internal/sigerr"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Request describes a single outbound HTTP call.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration // zero uses the client default
}

// Response is the buffered result of a call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Result is delivered on the channel returned by Go.
type Result struct {
	Response *Response
	Err      error
}

// StatusError is returned when the remote answered with a 4xx or a 5xx that
// survived every retry.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.URL, e.StatusCode)
}

// ClientError reports whether the remote rejected the request itself. These
// are never retried.
func (e *StatusError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Client is a retrying HTTP client. Transient failures (transport errors and
// 5xx responses) are retried with bounded exponential backoff; 4xx responses
// are returned immediately.
type Client struct {
	http     *resty.Client
	timeout  time.Duration
	attempts int
}

// ErrRetried marks a failure that already went through the client's own
// retries. Callers should not retry it again.
var ErrRetried = errors.New("gateway retries exhausted")

// New creates a gateway client over the supplied transport. A nil transport
// uses http.DefaultTransport, which main configures with telemetry.
func New(cfg config.GatewayConfig, transport http.RoundTripper) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cfg.CloudflareBypass {
		transport = cloudflarebp.AddCloudFlareByPass(transport)
	}

	client := resty.NewWithClient(&http.Client{Transport: transport})

	// resty's jitter calculation requires a non-zero wait
	wait := cfg.RetryWait
	if wait <= 0 {
		wait = 100 * time.Millisecond
	}
	maxWait := max(cfg.RetryMaxWait, wait)

	attempts := max(cfg.Attempts, 1)
	client.
		SetRetryCount(attempts - 1).
		SetRetryWaitTime(wait).
		SetRetryMaxWaitTime(maxWait).
		AddRetryCondition(retryTransient)

	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}

	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		log.Ctx(res.Request.Context()).Debug().
			Str("method", res.Request.Method).
			Str("url", res.Request.URL).
			Int("status", res.StatusCode()).
			Int("attempt", res.Request.Attempt).
			Dur("duration", res.Time()).
			Msg("gateway: response")
		return nil
	})

	return &Client{
		http:     client,
		timeout:  cfg.Timeout,
		attempts: attempts,
	}
}

func retryTransient(res *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return res != nil && res.StatusCode() >= 500
}

// Do performs the request, blocking until a final response or error. The
// returned error is classified: transport failures and exhausted 5xx retries
// are refresh failures, 4xx responses are invalid requests, and an expired
// context is a timeout.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	r := c.http.R().SetContext(ctx)
	for name, values := range req.Header {
		for _, v := range values {
			r.Header.Add(name, v)
		}
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	res, err := r.Execute(method, req.URL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, sigerr.Wrap(sigerr.KindTimeout, err, "gateway request "+req.URL)
		}
		return nil, sigerr.Wrap(sigerr.KindRefreshFailure, c.retried(err), "gateway request "+req.URL)
	}

	response := &Response{
		StatusCode: res.StatusCode(),
		Header:     res.Header(),
		Body:       res.Body(),
	}

	if res.StatusCode() >= 400 {
		statusErr := &StatusError{
			StatusCode: res.StatusCode(),
			URL:        req.URL,
			Body:       truncate(res.String(), 256),
		}
		if statusErr.ClientError() {
			return response, sigerr.Wrap(sigerr.KindInvalidRequest, statusErr, "gateway request")
		}
		return response, sigerr.Wrap(sigerr.KindRefreshFailure, c.retried(statusErr), "gateway request")
	}

	return response, nil
}

// retried marks err with ErrRetried when the client retried before failing.
func (c *Client) retried(err error) error {
	if c.attempts <= 1 {
		return err
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetried, c.attempts, err)
}

// Go performs the request on a new goroutine. The channel receives exactly
// one Result and is then closed.
func (c *Client) Go(ctx context.Context, req Request) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		res, err := c.Do(ctx, req)
		ch <- Result{Response: res, Err: err}
	}()
	return ch
}

// Fanout issues every request concurrently and returns results in request
// order once all have completed.
func (c *Client) Fanout(ctx context.Context, reqs []Request) []Result {
	chans := make([]<-chan Result, len(reqs))
	for i, req := range reqs {
		chans[i] = c.Go(ctx, req)
	}

	results := make([]Result, len(reqs))
	for i, ch := range chans {
		results[i] = <-ch
	}
	return results
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
