package platform

import (
	"fmt"
	"slices"

	"github.com/crawlkit/signbridge/internal/sigerr"
)

// Registry maps platforms to their adapters. It is built once at startup and
// never modified.
type Registry struct {
	adapters map[Platform]Adapter
}

// NewRegistry registers adapters. Registering two adapters for the same
// platform is a programming error.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		if _, exists := r.adapters[a.Platform()]; exists {
			return nil, fmt.Errorf("adapter for %s registered twice", a.Platform())
		}
		r.adapters[a.Platform()] = a
	}
	return r, nil
}

// Lookup resolves the adapter for p.
func (r *Registry) Lookup(p Platform) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, sigerr.Newf(sigerr.KindUnsupportedPlatform, "no adapter registered for %q", p)
	}
	return a, nil
}

// Platforms lists the registered platforms in sorted order.
func (r *Registry) Platforms() []Platform {
	ps := make([]Platform, 0, len(r.adapters))
	for p := range r.adapters {
		ps = append(ps, p)
	}
	slices.Sort(ps)
	return ps
}
