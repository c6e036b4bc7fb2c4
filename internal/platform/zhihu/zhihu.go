// Package zhihu signs Zhihu web API requests.
//
// The signing material is produced by Zhihu's own page script inside a leased
// browser session and cached per d_c0 device cookie. Signing combines it with
// the request path and the device cookie.
package zhihu

import (
	"context"
	"time"

	"github.com/crawlkit/signbridge/internal/platform"
	"github.com/crawlkit/signbridge/internal/sigerr"
)

const (
	secretZSE = "zse"

	// zseVersion is sent verbatim as x-zse-93.
	zseVersion = "101_3_3.0"

	defaultHome = "https://www.zhihu.com"
	defaultTTL  = 30 * time.Minute
)

// MaterialExpression reads the seed and x-zst-81 value the site script
// publishes once the home page has loaded.
const MaterialExpression = `(() => {
  const init = JSON.parse(document.getElementById('js-initialData')?.textContent || '{}');
  const zse = window.__zse_ck || localStorage.getItem('__zse_ck') || '';
  return { seed: zse, zst: (init.initialState && init.initialState.zst81) || localStorage.getItem('zst81') || '' };
})()`

// Adapter implements platform.Adapter for Zhihu.
type Adapter struct {
	HomeURL string
	TTL     time.Duration
}

func New() *Adapter {
	return &Adapter{HomeURL: defaultHome, TTL: defaultTTL}
}

func (a *Adapter) Platform() platform.Platform { return platform.Zhihu }

func (a *Adapter) Home() string { return a.HomeURL }

func (a *Adapter) Secrets(req platform.Request) []platform.SecretSpec {
	return []platform.SecretSpec{{
		Key:  platform.SecretKey{Name: secretZSE, Dimension: req.Cookie("d_c0")},
		TTL:  a.TTL,
		Mode: platform.RefreshBrowser,
	}}
}

func (a *Adapter) Refresh(ctx context.Context, spec platform.SecretSpec, rt platform.Runtime) (platform.Secret, error) {
	if spec.Key.Name != secretZSE {
		return platform.Secret{}, sigerr.Newf(sigerr.KindRefreshFailure, "unknown secret %q", spec.Key.Name)
	}

	page, err := platform.RequirePage(rt)
	if err != nil {
		return platform.Secret{}, err
	}

	if err := page.Navigate(ctx, a.HomeURL); err != nil {
		return platform.Secret{}, sigerr.Wrap(sigerr.KindRefreshFailure, err, "navigate to zhihu")
	}

	values, err := platform.EvaluateFields(ctx, page, MaterialExpression)
	if err != nil {
		return platform.Secret{}, err
	}

	cookies, err := platform.DocumentCookies(ctx, page)
	if err != nil {
		return platform.Secret{}, err
	}
	values["d_c0"] = cookies["d_c0"]
	if spec.Key.Dimension != "" {
		// the caller's device cookie wins over the session's own
		values["d_c0"] = spec.Key.Dimension
	}

	secret := platform.NewSecret(platform.Zhihu, spec, values, platform.SourceBrowser, rt.Time())
	if err := secret.Require("seed", "zst", "d_c0"); err != nil {
		return platform.Secret{}, err
	}

	return secret, nil
}

func (a *Adapter) Sign(req platform.Request, secrets platform.Secrets) (platform.Result, error) {
	secret, err := secrets.Get(secretZSE)
	if err != nil {
		return platform.Result{}, err
	}

	digest, err := platform.BodyDigest(req)
	if err != nil {
		return platform.Result{}, err
	}

	dc0 := req.Cookie("d_c0")
	if dc0 == "" {
		dc0 = secret.Value("d_c0")
	}

	sig := platform.HMACBase64(secret.Value("seed"), zseVersion, req.PathWithQuery(), dc0, digest)

	return platform.NewResult(req, map[string]string{
		"x-zse-93": zseVersion,
		"x-zse-96": "2.0_" + sig,
		"x-zst-81": secret.Value("zst"),
	}, nil), nil
}
