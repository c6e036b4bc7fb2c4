// Package xhs signs Xiaohongshu web API requests.
//
// Two secrets are involved: a long-lived device fingerprint read from the
// browser's cookies and local storage, and a shorter-lived session key
// produced by the site script. Both are scoped to the caller's a1 cookie.
package xhs

import (
	"context"
	"strconv"
	"time"

	"github.com/crawlkit/signbridge/internal/platform"
	"github.com/crawlkit/signbridge/internal/sigerr"
)

const (
	secretFingerprint = "fingerprint"
	secretSession     = "session"

	defaultHome           = "https://www.xiaohongshu.com/explore"
	defaultFingerprintTTL = 2 * time.Hour
	defaultSessionTTL     = 30 * time.Minute
)

const fingerprintExpression = `(() => ({ b1: localStorage.getItem('b1') || '', b1b1: localStorage.getItem('b1b1') || '' }))()`

const sessionExpression = `(() => {
  const s = window._webmsxyw ? window._webmsxyw('', {}) : {};
  return { key: s['X-s'] || s.key || '', version: String(window.__xhs_sign_version || '1') };
})()`

// Adapter implements platform.Adapter for Xiaohongshu.
type Adapter struct {
	HomeURL        string
	FingerprintTTL time.Duration
	SessionTTL     time.Duration
}

func New() *Adapter {
	return &Adapter{
		HomeURL:        defaultHome,
		FingerprintTTL: defaultFingerprintTTL,
		SessionTTL:     defaultSessionTTL,
	}
}

func (a *Adapter) Platform() platform.Platform { return platform.XHS }

func (a *Adapter) Home() string { return a.HomeURL }

func (a *Adapter) Secrets(req platform.Request) []platform.SecretSpec {
	device := req.Cookie("a1")
	return []platform.SecretSpec{
		{
			Key:  platform.SecretKey{Name: secretFingerprint, Dimension: device},
			TTL:  a.FingerprintTTL,
			Mode: platform.RefreshBrowser,
		},
		{
			Key:  platform.SecretKey{Name: secretSession, Dimension: device},
			TTL:  a.SessionTTL,
			Mode: platform.RefreshBrowser,
		},
	}
}

func (a *Adapter) Refresh(ctx context.Context, spec platform.SecretSpec, rt platform.Runtime) (platform.Secret, error) {
	page, err := platform.RequirePage(rt)
	if err != nil {
		return platform.Secret{}, err
	}

	if err := page.Navigate(ctx, a.HomeURL); err != nil {
		return platform.Secret{}, sigerr.Wrap(sigerr.KindRefreshFailure, err, "navigate to xiaohongshu")
	}

	switch spec.Key.Name {
	case secretFingerprint:
		return a.refreshFingerprint(ctx, page, spec, rt.Time())
	case secretSession:
		return a.refreshSession(ctx, page, spec, rt.Time())
	default:
		return platform.Secret{}, sigerr.Newf(sigerr.KindRefreshFailure, "unknown secret %q", spec.Key.Name)
	}
}

func (a *Adapter) refreshFingerprint(ctx context.Context, page platform.Page, spec platform.SecretSpec, now time.Time) (platform.Secret, error) {
	values, err := platform.EvaluateFields(ctx, page, fingerprintExpression)
	if err != nil {
		return platform.Secret{}, err
	}

	cookies, err := platform.DocumentCookies(ctx, page)
	if err != nil {
		return platform.Secret{}, err
	}
	values["a1"] = cookies["a1"]
	values["webId"] = cookies["webId"]
	if spec.Key.Dimension != "" {
		values["a1"] = spec.Key.Dimension
	}

	secret := platform.NewSecret(platform.XHS, spec, values, platform.SourceBrowser, now)
	if err := secret.Require("a1", "webId", "b1"); err != nil {
		return platform.Secret{}, err
	}

	return secret, nil
}

func (a *Adapter) refreshSession(ctx context.Context, page platform.Page, spec platform.SecretSpec, now time.Time) (platform.Secret, error) {
	values, err := platform.EvaluateFields(ctx, page, sessionExpression)
	if err != nil {
		return platform.Secret{}, err
	}

	secret := platform.NewSecret(platform.XHS, spec, values, platform.SourceBrowser, now)
	if err := secret.Require("key", "version"); err != nil {
		return platform.Secret{}, err
	}

	return secret, nil
}

func (a *Adapter) Sign(req platform.Request, secrets platform.Secrets) (platform.Result, error) {
	fp, err := secrets.Get(secretFingerprint)
	if err != nil {
		return platform.Result{}, err
	}
	session, err := secrets.Get(secretSession)
	if err != nil {
		return platform.Result{}, err
	}

	digest, err := platform.BodyDigest(req)
	if err != nil {
		return platform.Result{}, err
	}

	a1 := req.Cookie("a1")
	if a1 == "" {
		a1 = fp.Value("a1")
	}

	xt := strconv.FormatInt(req.Timestamp().UnixMilli(), 10)
	xs := platform.HMACBase64(session.Value("key"), xt, req.Method(), req.PathWithQuery(), digest, a1)
	common := platform.HMACBase64(fp.Value("b1"), a1, fp.Value("webId"), xt, session.Value("version"))

	return platform.NewResult(req, map[string]string{
		"x-s":        "XYW_" + xs,
		"x-t":        xt,
		"x-s-common": common,
	}, nil), nil
}
