// Package platformtest provides fakes for exercising adapters without a
// browser.
package platformtest

import (
	"context"
	"fmt"
	"sync"
)

// Page is a scripted platform.Page. Evaluate answers from Results keyed by
// the exact expression; unknown expressions fail.
type Page struct {
	Results     map[string]any
	Errors      map[string]error
	NavigateErr error

	mu          sync.Mutex
	navigations []string
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.navigations = append(p.navigations, url)
	return p.NavigateErr
}

func (p *Page) InjectScript(ctx context.Context, script string) error {
	return nil
}

func (p *Page) Evaluate(ctx context.Context, expression string) (any, error) {
	if err, ok := p.Errors[expression]; ok {
		return nil, err
	}
	if v, ok := p.Results[expression]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("unexpected expression: %s", expression)
}

// Navigations lists the URLs visited, in order.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.navigations...)
}
