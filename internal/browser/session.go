package browser

import (
	"context"
	"sync"
	"time"

	"github.com/crawlkit/signbridge/internal/platform"
	"github.com/crawlkit/signbridge/internal/sigerr"
)

// State is the lease state of a session.
type State int

const (
	StateIdle State = iota
	StateLeased
	// StateDraining marks a leased session that will be destroyed on release.
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLeased:
		return "leased"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is a browser context owned by a Pool. It implements platform.Page
// for the holder of the lease; once released, every page operation fails.
type Session struct {
	ID        string
	Platform  platform.Platform
	CreatedAt time.Time

	browser Context

	mu       sync.Mutex
	state    State
	lastUsed time.Time
	uses     int
}

var _ platform.Page = (*Session)(nil)

// State returns the current lease state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Uses is the number of leases the session has served.
func (s *Session) Uses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uses
}

// LastUsed is when the session was last leased or released.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.checkLeased(); err != nil {
		return err
	}
	return s.browser.Navigate(ctx, url)
}

func (s *Session) InjectScript(ctx context.Context, script string) error {
	if err := s.checkLeased(); err != nil {
		return err
	}
	return s.browser.InjectScript(ctx, script)
}

func (s *Session) Evaluate(ctx context.Context, expression string) (any, error) {
	if err := s.checkLeased(); err != nil {
		return nil, err
	}
	return s.browser.Evaluate(ctx, expression)
}

func (s *Session) checkLeased() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateLeased && s.state != StateDraining {
		return sigerr.Newf(sigerr.KindRefreshFailure, "session %s used while %s", s.ID, s.state).
			For(string(s.Platform), "")
	}
	return nil
}

// retireDue reports whether an idle session should be destroyed rather than
// leased again.
func (s *Session) retireDue(now time.Time, maxUses int, maxIdle time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxUses > 0 && s.uses >= maxUses {
		return true
	}
	return maxIdle > 0 && now.Sub(s.lastUsed) >= maxIdle
}

func (s *Session) setState(state State, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state
	s.lastUsed = now
	if state == StateLeased {
		s.uses++
	}
}
