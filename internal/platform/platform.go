// Package platform holds the data model shared by the signing core: the
// supported platforms, immutable signing requests and results, cached secrets
// and the Adapter capability each platform implements.
package platform

import (
	"slices"
	"strings"

	"github.com/crawlkit/signbridge/internal/sigerr"
)

// Platform identifies a supported target site.
type Platform string

const (
	Zhihu    Platform = "zhihu"
	XHS      Platform = "xhs"
	Douyin   Platform = "douyin"
	Bilibili Platform = "bilibili"
)

var known = []Platform{Bilibili, Douyin, XHS, Zhihu}

// All returns every platform the service knows about, sorted.
func All() []Platform {
	return slices.Clone(known)
}

// Parse resolves a platform identifier. Matching is case-insensitive and
// accepts the long name "xiaohongshu" for XHS.
func Parse(s string) (Platform, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "xiaohongshu" {
		name = string(XHS)
	}

	p := Platform(name)
	if !slices.Contains(known, p) {
		return "", sigerr.Newf(sigerr.KindUnsupportedPlatform, "platform %q is not supported", s)
	}

	return p, nil
}

func (p Platform) String() string {
	return string(p)
}
