package signing

import (
	"time"

	"github.com/crawlkit/signbridge/internal/config"
	"github.com/crawlkit/signbridge/internal/platform"
)

// Options tunes the orchestrator.
type Options struct {
	// RefreshTimeout bounds one refresh of one secret, across all attempts.
	RefreshTimeout time.Duration

	// RefreshAttempts bounds how often a transient refresh failure is tried.
	RefreshAttempts int

	// RetryInterval is the initial backoff between refresh attempts.
	RetryInterval time.Duration

	// AcquireTimeout bounds the wait for a browser session. Zero or less
	// fails at once when every session is leased.
	AcquireTimeout time.Duration

	// TTLOverrides replaces adapter-declared lifetimes, keyed by
	// "<platform>/<secret name>".
	TTLOverrides map[string]time.Duration

	Now func() time.Time
}

// OptionsFromConfig derives orchestrator options from configuration.
func OptionsFromConfig(signing config.SigningConfig, browser config.BrowserConfig) Options {
	return Options{
		RefreshTimeout:  signing.RefreshTimeout,
		RefreshAttempts: signing.RefreshAttempts,
		RetryInterval:   500 * time.Millisecond,
		AcquireTimeout:  browser.AcquireTimeout,
		TTLOverrides:    signing.TTLOverrides,
	}
}

func (o Options) withDefaults() Options {
	if o.RefreshTimeout <= 0 {
		o.RefreshTimeout = 45 * time.Second
	}
	if o.RefreshAttempts < 1 {
		o.RefreshAttempts = 1
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 500 * time.Millisecond
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) ttlFor(p platform.Platform, spec platform.SecretSpec) time.Duration {
	if ttl, ok := o.TTLOverrides[string(p)+"/"+spec.Key.Name]; ok && ttl > 0 {
		return ttl
	}
	return spec.TTL
}
