package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crawlkit/signbridge/internal/platform"
	"github.com/crawlkit/signbridge/internal/sigerr"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/crawlkit/signbridge/internal/browser")

// PoolOptions configures a single platform's pool.
type PoolOptions struct {
	Platform platform.Platform

	// Capacity is the maximum number of sessions leased at once.
	Capacity int

	// MaxUses retires a session after this many leases. Zero disables.
	MaxUses int

	// MaxIdle retires a session unused for this long. Zero disables.
	MaxIdle time.Duration

	// Home is loaded once in every new session before its first lease.
	Home string

	Context ContextOptions
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Platform platform.Platform `json:"platform"`
	Capacity int               `json:"capacity"`
	Leased   int               `json:"leased"`
	Idle     int               `json:"idle"`
	Created  int               `json:"created"`
	Retired  int               `json:"retired"`
}

// Pool leases browser sessions for one platform. At most Capacity sessions
// are leased at any time; sessions are created lazily and reused until they
// are released unhealthy or reach a retirement threshold.
type Pool struct {
	engine Engine
	opts   PoolOptions
	now    func() time.Time

	// slots holds one token per leased session.
	slots chan struct{}

	mu      sync.Mutex
	idle    []*Session
	leased  map[string]*Session
	closed  bool
	created int
	retired int
}

func NewPool(engine Engine, opts PoolOptions) (*Pool, error) {
	if opts.Capacity < 1 {
		return nil, fmt.Errorf("pool capacity for %s must be at least 1, got %d", opts.Platform, opts.Capacity)
	}

	return &Pool{
		engine: engine,
		opts:   opts,
		now:    time.Now,
		slots:  make(chan struct{}, opts.Capacity),
		leased: make(map[string]*Session),
	}, nil
}

// Acquire leases a session, waiting up to timeout for one to become free.
// A timeout of zero or less does not wait: if the pool is at capacity the
// call fails immediately with pool_exhausted. Waiting past timeout fails with
// pool_timeout, and the end of ctx with timeout.
//
// The returned session must be handed back with Release exactly once.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Session, error) {
	ctx, span := tracer.Start(ctx, "browser.acquire", trace.WithAttributes(
		attribute.String("platform", string(p.opts.Platform)),
	))
	defer span.End()

	if err := p.reserve(ctx, timeout); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve failed")
		return nil, err
	}

	s, err := p.take(ctx)
	if err != nil {
		<-p.slots
		span.RecordError(err)
		span.SetStatus(codes.Error, "session unavailable")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("session.id", s.ID),
		attribute.Int("session.uses", s.Uses()),
	)

	return s, nil
}

func (p *Pool) reserve(ctx context.Context, timeout time.Duration) error {
	if p.isClosed() {
		return p.closedError()
	}

	select {
	case p.slots <- struct{}{}:
		return nil
	default:
	}

	if timeout <= 0 {
		return sigerr.Newf(sigerr.KindPoolExhausted, "all %d sessions are leased", p.opts.Capacity).
			For(string(p.opts.Platform), "")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p.slots <- struct{}{}:
		return nil
	case <-timer.C:
		return sigerr.Newf(sigerr.KindPoolTimeout, "no session became free within %s", timeout).
			For(string(p.opts.Platform), "")
	case <-ctx.Done():
		return &sigerr.Error{
			Kind:     sigerr.KindTimeout,
			Platform: string(p.opts.Platform),
			Message:  "waiting for browser session",
			Cause:    ctx.Err(),
		}
	}
}

// take leases an idle session, or creates one. The caller holds a slot.
func (p *Pool) take(ctx context.Context) (*Session, error) {
	now := p.now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, p.closedError()
	}

	var (
		session *Session
		stale   []*Session
	)
	for len(p.idle) > 0 {
		last := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]

		if last.retireDue(now, p.opts.MaxUses, p.opts.MaxIdle) {
			last.setState(StateClosed, now)
			p.retired++
			stale = append(stale, last)
			continue
		}

		session = last
		break
	}
	if session != nil {
		session.setState(StateLeased, now)
		p.leased[session.ID] = session
	}
	p.mu.Unlock()

	p.destroy(stale)

	if session != nil {
		return session, nil
	}
	return p.create(ctx)
}

func (p *Pool) create(ctx context.Context) (*Session, error) {
	bctx, err := p.engine.NewContext(ctx, p.opts.Context)
	if err != nil {
		return nil, &sigerr.Error{
			Kind:     sigerr.KindRefreshFailure,
			Platform: string(p.opts.Platform),
			Message:  "creating browser context",
			Cause:    err,
		}
	}

	if p.opts.Home != "" {
		if err := bctx.Navigate(ctx, p.opts.Home); err != nil {
			_ = bctx.Close()
			return nil, &sigerr.Error{
				Kind:     sigerr.KindRefreshFailure,
				Platform: string(p.opts.Platform),
				Message:  "warming up browser session",
				Cause:    err,
			}
		}
	}

	now := p.now()
	session := &Session{
		ID:        uuid.NewString(),
		Platform:  p.opts.Platform,
		CreatedAt: now,
		browser:   bctx,
	}
	session.setState(StateLeased, now)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = bctx.Close()
		return nil, p.closedError()
	}
	p.leased[session.ID] = session
	p.created++
	p.mu.Unlock()

	log.Ctx(ctx).Debug().
		Str("platform", string(p.opts.Platform)).
		Str("session", session.ID).
		Msg("browser session created")

	return session, nil
}

// Release returns a leased session. An unhealthy session, or one that has
// reached its use limit or belongs to a closed pool, is destroyed; a fresh
// one is created on a later Acquire. Releasing a session twice, or one from
// another pool, has no effect.
func (p *Pool) Release(s *Session, healthy bool) {
	if s == nil {
		return
	}
	now := p.now()

	p.mu.Lock()
	if _, ok := p.leased[s.ID]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.leased, s.ID)

	keep := healthy && !p.closed && s.State() == StateLeased &&
		(p.opts.MaxUses <= 0 || s.Uses() < p.opts.MaxUses)
	if keep {
		s.setState(StateIdle, now)
		p.idle = append(p.idle, s)
	} else {
		s.setState(StateClosed, now)
		p.retired++
	}
	p.mu.Unlock()

	if !keep {
		p.destroy([]*Session{s})
	}
	<-p.slots
}

// Reap destroys idle sessions past the idle or use limit and returns how
// many it removed.
func (p *Pool) Reap() int {
	now := p.now()

	p.mu.Lock()
	var stale []*Session
	keep := p.idle[:0]
	for _, s := range p.idle {
		if s.retireDue(now, p.opts.MaxUses, p.opts.MaxIdle) {
			s.setState(StateClosed, now)
			p.retired++
			stale = append(stale, s)
			continue
		}
		keep = append(keep, s)
	}
	p.idle = keep
	p.mu.Unlock()

	p.destroy(stale)
	return len(stale)
}

// Close destroys idle sessions and marks leased ones draining, so they are
// destroyed when released. Further acquires fail.
func (p *Pool) Close() {
	now := p.now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	idle := p.idle
	p.idle = nil
	for _, s := range idle {
		s.setState(StateClosed, now)
		p.retired++
	}
	for _, s := range p.leased {
		s.setState(StateDraining, now)
	}
	p.mu.Unlock()

	p.destroy(idle)
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Platform: p.opts.Platform,
		Capacity: p.opts.Capacity,
		Leased:   len(p.leased),
		Idle:     len(p.idle),
		Created:  p.created,
		Retired:  p.retired,
	}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) closedError() error {
	return sigerr.New(sigerr.KindPoolExhausted, "pool is closed").For(string(p.opts.Platform), "")
}

func (p *Pool) destroy(sessions []*Session) {
	for _, s := range sessions {
		if err := s.browser.Close(); err != nil {
			log.Warn().Err(err).
				Str("platform", string(p.opts.Platform)).
				Str("session", s.ID).
				Msg("error closing browser session")
		}
	}
}
