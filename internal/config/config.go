package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Browser BrowserConfig
	Cache   CacheConfig
	Gateway GatewayConfig
	Observe ObserveConfig
	Server  ServerConfig
	Signing SigningConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// CacheConfig specifies cache configuration.
type CacheConfig struct {
	// Type selects the cache implementation: "memory" (default) or "valkey"
	Type string `env:"CACHE_TYPE, default=memory"`

	// MaxEntries bounds the in-memory cache.
	MaxEntries int `env:"CACHE_MAX_ENTRIES, default=10000"`

	// Valkey holds distributed cache settings.
	Valkey ValkeyConfig

	// Encryption holds cache encryption settings.
	// Only supported with valkey cache type.
	Encryption CacheEncryptionConfig
}

// ValkeyConfig specifies distributed cache configuration.
type ValkeyConfig struct {
	// Address is the Valkey server address (host:port).
	Address string `env:"VALKEY_ADDRESS"`

	// TLS enables TLS connection to Valkey. Defaults to true so the secure option
	// is the default.
	TLS bool `env:"VALKEY_TLS, default=true"`

	// Username for Valkey authentication.
	Username string `env:"VALKEY_USERNAME"`

	// Password for Valkey authentication.
	Password string `env:"VALKEY_PASSWORD"`

	// IAMEnabled authenticates with short-lived ElastiCache IAM tokens
	// instead of the static password.
	IAMEnabled    bool   `env:"VALKEY_IAM_ENABLED, default=false"`
	IAMCacheName  string `env:"VALKEY_IAM_CACHE_NAME"`
	IAMServerless bool   `env:"VALKEY_IAM_SERVERLESS, default=false"`
}

// CacheEncryptionConfig holds settings for cache encryption.
type CacheEncryptionConfig struct {
	// Enabled turns on encryption for cached secrets.
	// Requires CACHE_TYPE=valkey.
	Enabled bool `env:"CACHE_ENCRYPTION_ENABLED, default=false"`

	// KeysetURI is the URI to the encrypted Tink keyset.
	// Format: aws-secretsmanager://secret-name
	KeysetURI string `env:"CACHE_ENCRYPTION_KEYSET_URI"`

	// KMSEnvelopeKeyURI is the AWS KMS key URI for envelope encryption.
	// Format: aws-kms://arn:aws:kms:region:account:key/key-id
	KMSEnvelopeKeyURI string `env:"CACHE_ENCRYPTION_KMS_ENVELOPE_KEY_URI"`

	// KeysetFile is a cleartext JSON keyset on local disk. Intended for
	// development and integration testing only.
	KeysetFile string `env:"CACHE_ENCRYPTION_KEYSET_FILE"`
}

// BrowserConfig controls the headless browser pools used for refresh.
type BrowserConfig struct {
	// Engine selects the browser automation backend. Only "playwright" is
	// currently available.
	Engine string `env:"BROWSER_ENGINE, default=playwright"`

	// Install downloads the browser binaries at startup when missing.
	Install bool `env:"BROWSER_INSTALL, default=false"`

	Headless bool `env:"BROWSER_HEADLESS, default=true"`

	// PoolSize is the default number of sessions per platform.
	PoolSize int `env:"BROWSER_POOL_SIZE, default=2"`

	// PoolSizes overrides PoolSize per platform, e.g. "zhihu:4,xhs:1".
	PoolSizes map[string]int `env:"BROWSER_POOL_SIZES"`

	// MaxUses retires a session after this many refreshes.
	MaxUses int `env:"BROWSER_MAX_USES, default=50"`

	// MaxIdle retires a session that has not been leased for this long.
	MaxIdle time.Duration `env:"BROWSER_MAX_IDLE, default=10m"`

	// AcquireTimeout bounds the wait for a free session.
	AcquireTimeout time.Duration `env:"BROWSER_ACQUIRE_TIMEOUT, default=15s"`

	// NavigationTimeout bounds page loads and script evaluation.
	NavigationTimeout time.Duration `env:"BROWSER_NAVIGATION_TIMEOUT, default=30s"`

	// StealthScript is the path to the anti-detection script bundle: either
	// a single .js file or a .yaml manifest listing several scripts.
	StealthScript string `env:"BROWSER_STEALTH_SCRIPT"`

	// UserAgent overrides the engine's user agent when set.
	UserAgent string `env:"BROWSER_USER_AGENT"`
}

// SizeFor returns the configured pool capacity for a platform.
func (c BrowserConfig) SizeFor(platform string) int {
	if n, ok := c.PoolSizes[platform]; ok && n > 0 {
		return n
	}
	return c.PoolSize
}

// SigningConfig controls the orchestrator.
type SigningConfig struct {
	// Platforms lists the adapters to register. Empty registers all.
	Platforms []string `env:"SIGNING_PLATFORMS"`

	// RefreshTimeout bounds a single refresh, including retries.
	RefreshTimeout time.Duration `env:"SIGNING_REFRESH_TIMEOUT, default=45s"`

	// RefreshAttempts bounds retries of transient refresh failures.
	RefreshAttempts int `env:"SIGNING_REFRESH_ATTEMPTS, default=3"`

	// TTLOverrides replaces an adapter's secret lifetime, keyed by
	// "<platform>/<secret>", e.g. "xhs/session:45m".
	TTLOverrides map[string]time.Duration `env:"SIGNING_TTL_OVERRIDES"`
}

// GatewayConfig controls the outbound HTTP gateway.
type GatewayConfig struct {
	Timeout          time.Duration `env:"GATEWAY_TIMEOUT, default=10s"`
	Attempts         int           `env:"GATEWAY_ATTEMPTS, default=3"`
	RetryWait        time.Duration `env:"GATEWAY_RETRY_WAIT, default=200ms"`
	RetryMaxWait     time.Duration `env:"GATEWAY_RETRY_MAX_WAIT, default=2s"`
	CloudflareBypass bool          `env:"GATEWAY_CLOUDFLARE_BYPASS, default=false"`
	UserAgent        string        `env:"GATEWAY_USER_AGENT"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=signbridge"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Cache.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	err = cfg.Browser.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid browser configuration: %w", err)
	}

	err = cfg.Signing.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid signing configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the cache configuration is valid.
func (c *CacheConfig) Validate() error {
	if c.Type != "memory" && c.Type != "valkey" {
		return fmt.Errorf("CACHE_TYPE must be \"memory\" or \"valkey\", got %q", c.Type)
	}

	// Encryption requires distributed cache
	if c.Encryption.Enabled && c.Type != "valkey" {
		return fmt.Errorf("cache encryption requires CACHE_TYPE=valkey")
	}

	// Encryption requires either a local keyset or the keyset and KMS URIs
	if c.Encryption.Enabled && c.Encryption.KeysetFile == "" {
		if c.Encryption.KeysetURI == "" {
			return fmt.Errorf("CACHE_ENCRYPTION_KEYSET_URI required when encryption enabled")
		}
		if c.Encryption.KMSEnvelopeKeyURI == "" {
			return fmt.Errorf("CACHE_ENCRYPTION_KMS_ENVELOPE_KEY_URI required when encryption enabled")
		}
	}

	// Valkey requires address
	if c.Type == "valkey" && c.Valkey.Address == "" {
		return fmt.Errorf("VALKEY_ADDRESS required when CACHE_TYPE=valkey")
	}

	if c.Valkey.IAMEnabled && c.Valkey.IAMCacheName == "" {
		return fmt.Errorf("VALKEY_IAM_CACHE_NAME required when VALKEY_IAM_ENABLED=true")
	}

	return nil
}

// Validate checks that the browser configuration is valid.
func (c *BrowserConfig) Validate() error {
	if c.Engine != "playwright" {
		return fmt.Errorf("BROWSER_ENGINE %q is not supported", c.Engine)
	}

	if c.PoolSize < 1 {
		return fmt.Errorf("BROWSER_POOL_SIZE must be at least 1")
	}

	for platform, size := range c.PoolSizes {
		if size < 1 {
			return fmt.Errorf("BROWSER_POOL_SIZES: %s must be at least 1", platform)
		}
	}

	return nil
}

// Validate checks that the signing configuration is valid.
func (c *SigningConfig) Validate() error {
	if c.RefreshAttempts < 1 {
		return fmt.Errorf("SIGNING_REFRESH_ATTEMPTS must be at least 1")
	}

	for key, ttl := range c.TTLOverrides {
		platform, secret, ok := strings.Cut(key, "/")
		if !ok || platform == "" || secret == "" {
			return fmt.Errorf("SIGNING_TTL_OVERRIDES: key %q must have the form platform/secret", key)
		}
		if ttl <= 0 {
			return fmt.Errorf("SIGNING_TTL_OVERRIDES: %s must be positive", key)
		}
	}

	return nil
}
