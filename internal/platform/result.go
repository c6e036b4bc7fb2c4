package platform

import (
	"maps"
	"slices"
	"time"
)

// CacheState reports whether any secret behind a result was refreshed to
// serve it.
type CacheState string

const (
	CacheFresh  CacheState = "fresh"
	CacheCached CacheState = "cached"
)

// Result holds the signature fields to merge into the outbound request.
type Result struct {
	Platform   Platform
	Params     []Param
	// SignedPath is the path and query the signature covers, exactly as the
	// caller must send them, before any Query additions.
	SignedPath string
	Headers    map[string]string
	Query      map[string]string
	SignedAt   time.Time
	CacheState CacheState
}

// NewResult builds a result for req. The maps are copied.
func NewResult(req Request, headers, query map[string]string) Result {
	if headers == nil {
		headers = map[string]string{}
	}
	if query == nil {
		query = map[string]string{}
	}
	return Result{
		Platform:   req.Platform(),
		Params:     req.Params(),
		SignedPath: req.PathWithQuery(),
		Headers:    maps.Clone(headers),
		Query:      maps.Clone(query),
		SignedAt:   req.Timestamp(),
	}
}

// WithCacheState returns a copy of r with the cache state set.
func (r Result) WithCacheState(state CacheState) Result {
	c := r
	c.Params = slices.Clone(r.Params)
	c.Headers = maps.Clone(r.Headers)
	c.Query = maps.Clone(r.Query)
	c.CacheState = state
	return c
}
