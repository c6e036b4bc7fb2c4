package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// ShutdownHooks collects cleanup work for process exit. Hooks run in reverse
// order of registration, so resources are released before the things they
// depend on. A failing hook does not stop the others.
type ShutdownHooks struct {
	mu    sync.Mutex
	hooks []hook
}

// AddContext registers a hook that honours the shutdown deadline carried by
// its context. Nil hooks are ignored.
func (s *ShutdownHooks) AddContext(name string, fn func(context.Context) error) {
	if fn == nil {
		log.Warn().Str("hook", name).Msg("ignoring nil shutdown hook")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook{name: name, fn: fn})
}

// AddClose registers closer.Close as a hook.
func (s *ShutdownHooks) AddClose(name string, closer io.Closer) {
	if closer == nil {
		log.Warn().Str("hook", name).Msg("ignoring nil shutdown hook")
		return
	}

	s.AddContext(name, func(context.Context) error {
		return closer.Close()
	})
}

// Execute runs the hooks, newest first, and reports every failure. Hooks are
// removed as they run, so a second call does nothing.
func (s *ShutdownHooks) Execute(ctx context.Context) error {
	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		l := log.Ctx(ctx).With().Str("hook", h.name).Logger()

		start := time.Now()
		if err := h.fn(ctx); err != nil {
			l.Warn().Err(err).Dur("duration", time.Since(start)).Msg("shutdown: hook failed")
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		l.Info().Dur("duration", time.Since(start)).Msg("shutdown: hook complete")
	}

	return errors.Join(errs...)
}

// Len is the number of hooks waiting to run.
func (s *ShutdownHooks) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hooks)
}
