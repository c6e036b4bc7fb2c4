package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/crawlkit/signbridge/internal/audit"
	"github.com/crawlkit/signbridge/internal/browser"
	"github.com/crawlkit/signbridge/internal/cache"
	"github.com/crawlkit/signbridge/internal/config"
	"github.com/crawlkit/signbridge/internal/gateway"
	"github.com/crawlkit/signbridge/internal/observe"
	"github.com/crawlkit/signbridge/internal/platform"
	"github.com/crawlkit/signbridge/internal/server"
	"github.com/crawlkit/signbridge/internal/signing"
	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// serviceStatus reports pool occupancy and upstream reachability.
type serviceStatus struct {
	*browser.Pools
	*signing.Orchestrator
}

func configureServerRoutes(cfg config.Config, orchestrator *signing.Orchestrator, status StatusReporter) http.Handler {
	// wrap a mux such that HTTP telemetry is configured by default
	mux := observe.NewMux(http.NewServeMux())

	// The request body size is fairly limited to prevent accidental or
	// deliberate abuse. Given the current API shape, this is not configurable.
	requestLimitBytes := int64(20 << 10) // 20 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	auditedRouteMiddleware := alice.New(requestLimiter, audit.Middleware())
	standardRouteMiddleware := alice.New(requestLimiter)

	mux.Handle("POST /sign/{platform}", auditedRouteMiddleware.Then(handlePostSign(orchestrator, cfg.Signing.RefreshTimeout)))
	mux.Handle("POST /invalidate/{platform}", auditedRouteMiddleware.Then(handlePostInvalidate(orchestrator)))
	mux.Handle("GET /status", standardRouteMiddleware.Then(handleGetStatus(status)))

	// healthchecks are not included in telemetry
	mux.HandleUntraced("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return mux
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func launchServer() (err error) {
	ctx := context.Background()
	hooks := &server.ShutdownHooks{}

	// anything registered before a startup failure is released on the way out
	defer func() {
		if err != nil {
			_ = hooks.Execute(ctx)
		}
	}()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	hooks.AddContext("telemetry", shutdownTelemetry)

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	registry, err := newRegistry(cfg.Signing.Platforms)
	if err != nil {
		return fmt.Errorf("platform registration failed: %w", err)
	}

	backend, err := cache.NewFromConfig[platform.Secret](ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("secret cache configuration failed: %w", err)
	}
	hooks.AddClose("secret cache", backend)

	scripts, err := browser.LoadScriptBundle(cfg.Browser.StealthScript)
	if err != nil {
		return fmt.Errorf("stealth script load failed: %w", err)
	}

	engine, err := browser.NewPlaywrightEngine(cfg.Browser)
	if err != nil {
		return fmt.Errorf("browser engine start failed: %w", err)
	}

	pools, err := browser.NewPools(engine, cfg.Browser, registry, scripts)
	if err != nil {
		_ = engine.Close()
		return fmt.Errorf("browser pool configuration failed: %w", err)
	}
	hooks.AddClose("browser pools", pools)
	pools.StartReaper(reapInterval(cfg.Browser.MaxIdle))

	orchestrator := signing.New(
		registry,
		cache.NewSecrets(backend),
		pools,
		gateway.New(cfg.Gateway, http.DefaultTransport),
		signing.OptionsFromConfig(cfg.Signing, cfg.Browser),
	)

	handler := configureServerRoutes(cfg, orchestrator, serviceStatus{pools, orchestrator})

	log.Info().
		Strs("platforms", platformNames(registry)).
		Str("cache", cfg.Cache.Type).
		Int("stealthScripts", len(scripts)).
		Msg("signing service ready")

	return server.Serve(cfg.Server, server.New(cfg.Server, handler), hooks)
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
		if l == audit.Level {
			return "audit"
		}
		return l.String()
	}

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}

// reapInterval checks for idle sessions often enough that none outlives its
// idle limit by much.
func reapInterval(maxIdle time.Duration) time.Duration {
	if maxIdle <= 0 {
		return time.Minute
	}
	return max(maxIdle/4, 10*time.Second)
}
