package platform

import (
	"context"
	"time"

	"github.com/crawlkit/signbridge/internal/gateway"
)

// RefreshMode says where an adapter obtains a secret.
type RefreshMode string

const (
	// RefreshBrowser requires a leased browser session.
	RefreshBrowser RefreshMode = "browser"
	// RefreshHTTP uses plain HTTP through the gateway.
	RefreshHTTP RefreshMode = "http"
)

// SecretSpec declares one secret an adapter needs for a request.
type SecretSpec struct {
	Key  SecretKey
	TTL  time.Duration
	Mode RefreshMode
}

// Page is the slice of a browser session an adapter may drive during a
// refresh. Adapters must not retain it after Refresh returns.
type Page interface {
	Navigate(ctx context.Context, url string) error
	InjectScript(ctx context.Context, script string) error
	Evaluate(ctx context.Context, expression string) (any, error)
}

// Fetcher performs HTTP calls on behalf of adapters. It is satisfied by
// *gateway.Client.
type Fetcher interface {
	Do(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// Runtime carries the collaborators available to a refresh. Page is nil for
// RefreshHTTP secrets.
type Runtime struct {
	Page Page
	HTTP Fetcher
	Now  func() time.Time
}

// Adapter is the per-platform signing strategy. Implementations hold no
// mutable state: Sign must be a pure function of its arguments and Refresh
// may only touch the collaborators passed in.
type Adapter interface {
	Platform() Platform

	// Home is the page new browser sessions warm up on and the URL used for
	// health checks.
	Home() string

	// Secrets lists the secrets needed to sign req.
	Secrets(req Request) []SecretSpec

	// Refresh obtains fresh material for spec. The returned secret must be
	// validated; anomalies are reported as refresh failures.
	Refresh(ctx context.Context, spec SecretSpec, rt Runtime) (Secret, error)

	// Sign computes the signature fields for req without performing I/O.
	Sign(req Request, secrets Secrets) (Result, error)
}

// Time returns the current time from Now, falling back to the wall clock.
func (rt Runtime) Time() time.Time {
	if rt.Now != nil {
		return rt.Now()
	}
	return time.Now()
}
