// Package server runs the HTTP listener and the ordered shutdown that
// follows it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/crawlkit/signbridge/internal/config"
	"github.com/rs/zerolog/log"
)

// New creates the HTTP server for handler using the configured port.
func New(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,
		ReadHeaderTimeout: 20 * time.Second,
	}
}

// Serve listens until SIGINT or SIGTERM, then drains in-flight requests and
// runs hooks, all within the configured shutdown timeout.
func Serve(cfg config.ServerConfig, srv *http.Server, hooks *ShutdownHooks) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}

	return serveListener(ctx, cfg, srv, listener, hooks)
}

func serveListener(ctx context.Context, cfg config.ServerConfig, srv *http.Server, listener net.Listener, hooks *ShutdownHooks) error {
	served := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listener.Addr().String()).Msg("server: listening")
		served <- srv.Serve(listener)
	}()

	var serveErr error
	select {
	case err := <-served:
		// the listener failed before any shutdown was requested
		serveErr = err
	case <-ctx.Done():
		log.Info().Msg("server: shutdown requested")
	}

	timeout := time.Duration(cfg.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Warn().Err(shutdownErr).Msg("server: shutdown did not complete cleanly")
	}

	var hookErr error
	if hooks != nil {
		hookErr = hooks.Execute(shutdownCtx)
	}

	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}
	return errors.Join(serveErr, shutdownErr, hookErr)
}
