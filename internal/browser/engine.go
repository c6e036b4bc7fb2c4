// Package browser manages the headless browser sessions used to refresh
// signing secrets.
//
// An Engine creates isolated execution contexts. A Pool leases contexts,
// wrapped as Sessions, to one refresh at a time and retires them after a
// number of uses or a period of idleness. Pools holds one Pool per platform.
package browser

import (
	"context"
	"time"
)

// Engine is the browser automation backend.
type Engine interface {
	// NewContext creates an isolated context with a single open page.
	NewContext(ctx context.Context, opts ContextOptions) (Context, error)

	// Close releases the engine and any contexts it still owns.
	Close() error
}

// ContextOptions configures a new browser context.
type ContextOptions struct {
	UserAgent string

	// InitScripts run in every document before any page script.
	InitScripts []string

	// NavigationTimeout bounds page loads and evaluations when the caller's
	// context has no earlier deadline.
	NavigationTimeout time.Duration
}

// Context is a single browser execution context.
type Context interface {
	Navigate(ctx context.Context, url string) error
	InjectScript(ctx context.Context, script string) error
	Evaluate(ctx context.Context, expression string) (any, error)
	Close() error
}
