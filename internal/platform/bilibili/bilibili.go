// Package bilibili signs Bilibili web API requests with WBI parameters.
//
// The WBI key pair is published by the nav endpoint and needs no browser.
package bilibili

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/crawlkit/signbridge/internal/gateway"
	"github.com/crawlkit/signbridge/internal/platform"
	"github.com/crawlkit/signbridge/internal/sigerr"
)

const (
	secretWBI = "wbi"

	defaultHome   = "https://www.bilibili.com"
	defaultNavURL = "https://api.bilibili.com/x/web-interface/nav"
	defaultTTL    = 12 * time.Hour
)

// Adapter implements platform.Adapter for Bilibili.
type Adapter struct {
	HomeURL string
	NavURL  string
	TTL     time.Duration
}

func New() *Adapter {
	return &Adapter{HomeURL: defaultHome, NavURL: defaultNavURL, TTL: defaultTTL}
}

func (a *Adapter) Platform() platform.Platform { return platform.Bilibili }

func (a *Adapter) Home() string { return a.HomeURL }

func (a *Adapter) Secrets(platform.Request) []platform.SecretSpec {
	return []platform.SecretSpec{{
		Key:  platform.SecretKey{Name: secretWBI},
		TTL:  a.TTL,
		Mode: platform.RefreshHTTP,
	}}
}

type navResponse struct {
	Code int `json:"code"`
	Data struct {
		WbiImg struct {
			ImgURL string `json:"img_url"`
			SubURL string `json:"sub_url"`
		} `json:"wbi_img"`
	} `json:"data"`
}

func (a *Adapter) Refresh(ctx context.Context, spec platform.SecretSpec, rt platform.Runtime) (platform.Secret, error) {
	if spec.Key.Name != secretWBI {
		return platform.Secret{}, sigerr.Newf(sigerr.KindRefreshFailure, "unknown secret %q", spec.Key.Name)
	}

	fetcher, err := platform.RequireHTTP(rt)
	if err != nil {
		return platform.Secret{}, err
	}

	res, err := fetcher.Do(ctx, gateway.Request{
		Method: http.MethodGet,
		URL:    a.NavURL,
		Header: http.Header{"Referer": []string{a.HomeURL + "/"}},
	})
	if err != nil {
		return platform.Secret{}, sigerr.Wrap(sigerr.KindRefreshFailure, err, "fetch wbi keys")
	}

	// the nav endpoint answers -101 for anonymous callers but still
	// publishes the keys
	var nav navResponse
	if err := json.Unmarshal(res.Body, &nav); err != nil {
		return platform.Secret{}, sigerr.Wrap(sigerr.KindRefreshFailure, err, "decode nav response")
	}

	values := map[string]string{
		"img": keyFromURL(nav.Data.WbiImg.ImgURL),
		"sub": keyFromURL(nav.Data.WbiImg.SubURL),
	}

	secret := platform.NewSecret(platform.Bilibili, spec, values, platform.SourceHTTP, rt.Time())
	if err := secret.Require("img", "sub"); err != nil {
		return platform.Secret{}, err
	}

	return secret, nil
}

// keyFromURL extracts the file stem, e.g. ".../7cd084941338484aae1ad9425b84077c.png".
func keyFromURL(u string) string {
	base := path.Base(u)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

func (a *Adapter) Sign(req platform.Request, secrets platform.Secrets) (platform.Result, error) {
	secret, err := secrets.Get(secretWBI)
	if err != nil {
		return platform.Result{}, err
	}

	for _, p := range req.Params() {
		if p.Key == "wts" || p.Key == "w_rid" {
			return platform.Result{}, sigerr.Newf(sigerr.KindSigningComputation, "request already carries %s", p.Key)
		}
	}

	mixin := platform.MD5Hex(secret.Value("img"), secret.Value("sub"))
	wts := strconv.FormatInt(req.Timestamp().Unix(), 10)

	params := append(req.Params(), platform.Param{Key: "wts", Value: wts})
	query := platform.EncodeParams(platform.SortedParams(params))

	return platform.NewResult(req, nil, map[string]string{
		"wts":   wts,
		"w_rid": platform.MD5Hex(query, mixin),
	}), nil
}
