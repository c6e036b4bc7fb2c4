package platform

import (
	"maps"
	"strings"
	"time"

	"github.com/crawlkit/signbridge/internal/sigerr"
)

// Source records how a secret was obtained.
type Source string

const (
	SourceBrowser  Source = "browser"
	SourceHTTP     Source = "http"
	SourceComputed Source = "computed"
)

// SecretKey identifies one secret type of a platform, optionally narrowed by
// a fingerprint dimension such as a device id or a cookie value so that
// different accounts do not share material.
type SecretKey struct {
	Name      string `json:"name"`
	Dimension string `json:"dimension,omitempty"`
}

func (k SecretKey) String() string {
	if k.Dimension == "" {
		return k.Name
	}
	return k.Name + ":" + k.Dimension
}

// CacheKey is the storage key for the secret on platform p.
func (k SecretKey) CacheKey(p Platform) string {
	return string(p) + "/" + k.String()
}

// Secret is time-limited signing material. Values is opaque to everything but
// the adapter that produced it.
type Secret struct {
	Platform  Platform          `json:"platform"`
	Key       SecretKey         `json:"key"`
	Values    map[string]string `json:"values"`
	CreatedAt time.Time         `json:"createdAt"`
	ExpiresAt time.Time         `json:"expiresAt"`
	Source    Source            `json:"source"`
}

// NewSecret stamps values with the lifetime declared by spec.
func NewSecret(p Platform, spec SecretSpec, values map[string]string, source Source, now time.Time) Secret {
	return Secret{
		Platform:  p,
		Key:       spec.Key,
		Values:    maps.Clone(values),
		CreatedAt: now,
		ExpiresAt: now.Add(spec.TTL),
		Source:    source,
	}
}

// Clone returns a deep copy that shares no state with s.
func (s Secret) Clone() Secret {
	c := s
	c.Values = maps.Clone(s.Values)
	return c
}

// Expired reports whether the secret may no longer be served at now.
func (s Secret) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// TTL is the time remaining before expiry at now.
func (s Secret) TTL(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}

// Value returns a named component of the secret.
func (s Secret) Value(name string) string {
	return s.Values[name]
}

// Require checks that every named component is present and non-blank. Adapters
// call it before returning freshly extracted material so that a broken secret
// is never cached.
func (s Secret) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		if strings.TrimSpace(s.Values[n]) == "" {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return sigerr.Newf(sigerr.KindRefreshFailure, "extracted secret is missing %s", strings.Join(missing, ", ")).
			For(string(s.Platform), s.Key.String())
	}
	if !s.ExpiresAt.After(s.CreatedAt) {
		return sigerr.New(sigerr.KindRefreshFailure, "extracted secret has no lifetime").
			For(string(s.Platform), s.Key.String())
	}
	return nil
}

// Secrets is the set of secrets an adapter receives when signing, keyed by
// secret name.
type Secrets map[string]Secret

// Get returns the named secret or a signing computation error if the
// orchestrator did not supply it.
func (s Secrets) Get(name string) (Secret, error) {
	secret, ok := s[name]
	if !ok {
		return Secret{}, sigerr.Newf(sigerr.KindSigningComputation, "secret %q not supplied", name)
	}
	return secret, nil
}
