package browser

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/crawlkit/signbridge/internal/config"
	"github.com/crawlkit/signbridge/internal/platform"
	"github.com/crawlkit/signbridge/internal/sigerr"
	"github.com/rs/zerolog/log"
)

// Pools holds one Pool per registered platform on a shared engine.
type Pools struct {
	engine Engine
	pools  map[platform.Platform]*Pool

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewPools creates a pool for every adapter in registry, sized from cfg.
// scripts are injected into each new session before any page script runs.
func NewPools(engine Engine, cfg config.BrowserConfig, registry *platform.Registry, scripts []string) (*Pools, error) {
	p := &Pools{
		engine: engine,
		pools:  make(map[platform.Platform]*Pool),
		stop:   make(chan struct{}),
	}

	for _, id := range registry.Platforms() {
		adapter, err := registry.Lookup(id)
		if err != nil {
			return nil, err
		}

		pool, err := NewPool(engine, PoolOptions{
			Platform: id,
			Capacity: cfg.SizeFor(string(id)),
			MaxUses:  cfg.MaxUses,
			MaxIdle:  cfg.MaxIdle,
			Home:     adapter.Home(),
			Context: ContextOptions{
				UserAgent:         cfg.UserAgent,
				InitScripts:       scripts,
				NavigationTimeout: cfg.NavigationTimeout,
			},
		})
		if err != nil {
			return nil, err
		}
		p.pools[id] = pool
	}

	return p, nil
}

// Acquire leases a session from the platform's pool.
func (p *Pools) Acquire(ctx context.Context, id platform.Platform, timeout time.Duration) (*Session, error) {
	pool, ok := p.pools[id]
	if !ok {
		return nil, sigerr.Newf(sigerr.KindUnsupportedPlatform, "no browser pool for %q", id)
	}
	return pool.Acquire(ctx, timeout)
}

// Release returns a session to the pool it was leased from.
func (p *Pools) Release(s *Session, healthy bool) {
	if s == nil {
		return
	}
	if pool, ok := p.pools[s.Platform]; ok {
		pool.Release(s, healthy)
	}
}

// Stats reports every pool, ordered by platform.
func (p *Pools) Stats() []Stats {
	stats := make([]Stats, 0, len(p.pools))
	for _, pool := range p.pools {
		stats = append(stats, pool.Stats())
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Platform < stats[j].Platform
	})
	return stats
}

// StartReaper retires idle sessions every interval until Close.
func (p *Pools) StartReaper(interval time.Duration) {
	if interval <= 0 {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				for id, pool := range p.pools {
					if n := pool.Reap(); n > 0 {
						log.Debug().Str("platform", string(id)).Int("retired", n).Msg("reaped idle browser sessions")
					}
				}
			}
		}
	}()
}

// Close stops the reaper, closes every pool and then the engine.
func (p *Pools) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()

	for _, pool := range p.pools {
		pool.Close()
	}

	if p.engine == nil {
		return nil
	}
	return p.engine.Close()
}
