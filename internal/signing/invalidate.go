package signing

import (
	"context"

	"github.com/crawlkit/signbridge/internal/audit"
	"github.com/crawlkit/signbridge/internal/platform"
	"github.com/crawlkit/signbridge/internal/sigerr"
	"github.com/rs/zerolog/log"
)

// Invalidate drops one cached secret so the next signing request for it
// refreshes. Callers use this after the platform rejects a signed request.
func (o *Orchestrator) Invalidate(ctx context.Context, p platform.Platform, key platform.SecretKey) error {
	if _, err := o.registry.Lookup(p); err != nil {
		return err
	}

	if err := o.secrets.Invalidate(ctx, p, key); err != nil {
		return err
	}

	log.Ctx(ctx).Info().
		Str("platform", string(p)).
		Str("secret", key.String()).
		Msg("secret invalidated")

	audit.Log(ctx).Invalidated = append(audit.Log(ctx).Invalidated, key.String())
	return nil
}

// InvalidateFor drops the secrets that signing req would use. An empty name
// drops all of them; otherwise only the secret with that name. It returns the
// keys that were dropped.
func (o *Orchestrator) InvalidateFor(ctx context.Context, req platform.Request, name string) ([]platform.SecretKey, error) {
	adapter, err := o.registry.Lookup(req.Platform())
	if err != nil {
		return nil, err
	}

	var keys []platform.SecretKey
	for _, spec := range adapter.Secrets(req) {
		if name == "" || spec.Key.Name == name {
			keys = append(keys, spec.Key)
		}
	}
	if len(keys) == 0 {
		return nil, sigerr.Newf(sigerr.KindInvalidRequest, "%s has no secret named %q", req.Platform(), name)
	}

	for _, key := range keys {
		if err := o.Invalidate(ctx, req.Platform(), key); err != nil {
			return nil, err
		}
	}

	return keys, nil
}
