package main

import (
	"github.com/crawlkit/signbridge/internal/platform"
	"github.com/crawlkit/signbridge/internal/platform/bilibili"
	"github.com/crawlkit/signbridge/internal/platform/douyin"
	"github.com/crawlkit/signbridge/internal/platform/xhs"
	"github.com/crawlkit/signbridge/internal/platform/zhihu"
)

func adapterFor(p platform.Platform) platform.Adapter {
	switch p {
	case platform.Zhihu:
		return zhihu.New()
	case platform.XHS:
		return xhs.New()
	case platform.Douyin:
		return douyin.New()
	case platform.Bilibili:
		return bilibili.New()
	}
	return nil
}

// newRegistry registers the named platforms, or every known platform when
// names is empty.
func newRegistry(names []string) (*platform.Registry, error) {
	enabled := platform.All()
	if len(names) > 0 {
		enabled = enabled[:0]
		for _, name := range names {
			p, err := platform.Parse(name)
			if err != nil {
				return nil, err
			}
			enabled = append(enabled, p)
		}
	}

	adapters := make([]platform.Adapter, 0, len(enabled))
	for _, p := range enabled {
		adapters = append(adapters, adapterFor(p))
	}

	return platform.NewRegistry(adapters...)
}

func platformNames(r *platform.Registry) []string {
	ps := r.Platforms()
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = string(p)
	}
	return names
}
