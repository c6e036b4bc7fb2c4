// Package douyin signs Douyin web API requests.
//
// msToken is obtained over plain HTTP from the home page, which is cheaper
// than a browser round-trip. The web id and verifyFp pair needs a real
// browser session.
package douyin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/crawlkit/signbridge/internal/gateway"
	"github.com/crawlkit/signbridge/internal/platform"
	"github.com/crawlkit/signbridge/internal/sigerr"
)

const (
	secretMsToken = "mstoken"
	secretWebID   = "webid"

	defaultHome       = "https://www.douyin.com/"
	defaultMsTokenTTL = 20 * time.Minute
	defaultWebIDTTL   = 6 * time.Hour
)

const webIDExpression = `(() => {
  const data = JSON.parse(decodeURIComponent(document.getElementById('RENDER_DATA')?.textContent || '%7B%7D'));
  return { webid: (data.app && data.app.odin && data.app.odin.user_unique_id) || window.__webid || '' };
})()`

// Adapter implements platform.Adapter for Douyin.
type Adapter struct {
	HomeURL    string
	MsTokenTTL time.Duration
	WebIDTTL   time.Duration
}

func New() *Adapter {
	return &Adapter{
		HomeURL:    defaultHome,
		MsTokenTTL: defaultMsTokenTTL,
		WebIDTTL:   defaultWebIDTTL,
	}
}

func (a *Adapter) Platform() platform.Platform { return platform.Douyin }

func (a *Adapter) Home() string { return a.HomeURL }

func (a *Adapter) Secrets(platform.Request) []platform.SecretSpec {
	return []platform.SecretSpec{
		{Key: platform.SecretKey{Name: secretMsToken}, TTL: a.MsTokenTTL, Mode: platform.RefreshHTTP},
		{Key: platform.SecretKey{Name: secretWebID}, TTL: a.WebIDTTL, Mode: platform.RefreshBrowser},
	}
}

func (a *Adapter) Refresh(ctx context.Context, spec platform.SecretSpec, rt platform.Runtime) (platform.Secret, error) {
	switch spec.Key.Name {
	case secretMsToken:
		return a.refreshMsToken(ctx, spec, rt)
	case secretWebID:
		return a.refreshWebID(ctx, spec, rt)
	default:
		return platform.Secret{}, sigerr.Newf(sigerr.KindRefreshFailure, "unknown secret %q", spec.Key.Name)
	}
}

func (a *Adapter) refreshMsToken(ctx context.Context, spec platform.SecretSpec, rt platform.Runtime) (platform.Secret, error) {
	fetcher, err := platform.RequireHTTP(rt)
	if err != nil {
		return platform.Secret{}, err
	}

	res, err := fetcher.Do(ctx, gateway.Request{
		Method: http.MethodGet,
		URL:    a.HomeURL,
		Header: http.Header{"Accept": []string{"text/html"}},
	})
	if err != nil {
		return platform.Secret{}, sigerr.Wrap(sigerr.KindRefreshFailure, err, "fetch douyin home")
	}

	token := tokenFromCookies(res.Header)
	if token == "" {
		token, err = tokenFromDocument(res.Body)
		if err != nil {
			return platform.Secret{}, err
		}
	}

	secret := platform.NewSecret(platform.Douyin, spec, map[string]string{"token": token}, platform.SourceHTTP, rt.Time())
	if err := secret.Require("token"); err != nil {
		return platform.Secret{}, err
	}

	return secret, nil
}

func tokenFromCookies(header http.Header) string {
	for _, line := range header.Values("Set-Cookie") {
		c, err := http.ParseSetCookie(line)
		if err != nil {
			continue
		}
		if c.Name == "msToken" {
			return c.Value
		}
	}
	return ""
}

type renderData struct {
	MsToken string `json:"msToken"`
}

// tokenFromDocument reads msToken from the URL-encoded RENDER_DATA script
// embedded in the home page.
func tokenFromDocument(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", sigerr.Wrap(sigerr.KindRefreshFailure, err, "parse douyin home")
	}

	raw := strings.TrimSpace(doc.Find("script#RENDER_DATA").First().Text())
	if raw == "" {
		return "", sigerr.New(sigerr.KindRefreshFailure, "home page has no RENDER_DATA")
	}

	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", sigerr.Wrap(sigerr.KindRefreshFailure, err, "decode RENDER_DATA")
	}

	var data renderData
	if err := json.Unmarshal([]byte(decoded), &data); err != nil {
		return "", sigerr.Wrap(sigerr.KindRefreshFailure, err, "decode RENDER_DATA")
	}

	return data.MsToken, nil
}

func (a *Adapter) refreshWebID(ctx context.Context, spec platform.SecretSpec, rt platform.Runtime) (platform.Secret, error) {
	page, err := platform.RequirePage(rt)
	if err != nil {
		return platform.Secret{}, err
	}

	if err := page.Navigate(ctx, a.HomeURL); err != nil {
		return platform.Secret{}, sigerr.Wrap(sigerr.KindRefreshFailure, err, "navigate to douyin")
	}

	values, err := platform.EvaluateFields(ctx, page, webIDExpression)
	if err != nil {
		return platform.Secret{}, err
	}

	cookies, err := platform.DocumentCookies(ctx, page)
	if err != nil {
		return platform.Secret{}, err
	}
	values["verifyFp"] = cookies["s_v_web_id"]

	secret := platform.NewSecret(platform.Douyin, spec, values, platform.SourceBrowser, rt.Time())
	if err := secret.Require("webid", "verifyFp"); err != nil {
		return platform.Secret{}, err
	}

	return secret, nil
}

func (a *Adapter) Sign(req platform.Request, secrets platform.Secrets) (platform.Result, error) {
	msToken, err := secrets.Get(secretMsToken)
	if err != nil {
		return platform.Result{}, err
	}
	webID, err := secrets.Get(secretWebID)
	if err != nil {
		return platform.Result{}, err
	}

	ts := strconv.FormatInt(req.Timestamp().Unix(), 10)
	bogus := platform.HMACBase64(
		msToken.Value("token"),
		req.EncodedQuery(),
		req.Context("userAgent"),
		webID.Value("webid"),
		ts,
	)

	return platform.NewResult(req, nil, map[string]string{
		"msToken":  msToken.Value("token"),
		"webid":    webID.Value("webid"),
		"verifyFp": webID.Value("verifyFp"),
		"a_bogus":  bogus,
	}), nil
}
