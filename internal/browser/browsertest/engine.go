// Package browsertest provides an in-memory browser engine for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/crawlkit/signbridge/internal/browser"
)

// Engine is a scripted browser.Engine. Every context it creates answers
// Evaluate from the current Results, and fails navigation while a navigation
// error is set.
type Engine struct {
	mu          sync.Mutex
	results     map[string]any
	navigateErr error
	createErr   error
	contexts    []*Context

	created atomic.Int32
	closed  atomic.Int32
}

var _ browser.Engine = (*Engine)(nil)

func NewEngine(results map[string]any) *Engine {
	e := &Engine{results: make(map[string]any)}
	for k, v := range results {
		e.results[k] = v
	}
	return e
}

// SetResult changes the value returned for expression.
func (e *Engine) SetResult(expression string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[expression] = value
}

// SetNavigateError makes every navigation fail with err until cleared with nil.
func (e *Engine) SetNavigateError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.navigateErr = err
}

// SetCreateError makes context creation fail with err until cleared with nil.
func (e *Engine) SetCreateError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.createErr = err
}

// Created is the number of contexts successfully created.
func (e *Engine) Created() int { return int(e.created.Load()) }

// Closed is the number of contexts closed.
func (e *Engine) Closed() int { return int(e.closed.Load()) }

// Contexts returns every context created so far.
func (e *Engine) Contexts() []*Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Context(nil), e.contexts...)
}

func (e *Engine) NewContext(ctx context.Context, opts browser.ContextOptions) (browser.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.createErr != nil {
		return nil, e.createErr
	}

	c := &Context{engine: e, Options: opts}
	e.contexts = append(e.contexts, c)
	e.created.Add(1)
	return c, nil
}

func (e *Engine) Close() error {
	return nil
}

// Context is a fake browser context.
type Context struct {
	engine  *Engine
	Options browser.ContextOptions

	mu          sync.Mutex
	navigations []string
	injected    []string
	closed      bool
}

func (c *Context) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.engine.mu.Lock()
	err := c.engine.navigateErr
	c.engine.mu.Unlock()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.navigations = append(c.navigations, url)
	return nil
}

func (c *Context) InjectScript(ctx context.Context, script string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.injected = append(c.injected, script)
	return nil
}

func (c *Context) Evaluate(ctx context.Context, expression string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()

	v, ok := c.engine.results[expression]
	if !ok {
		return nil, fmt.Errorf("browsertest: no result for %q", expression)
	}
	if err, ok := v.(error); ok {
		return nil, err
	}
	return v, nil
}

func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		c.engine.closed.Add(1)
	}
	return nil
}

// Navigations lists the URLs navigated to, in order.
func (c *Context) Navigations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.navigations...)
}

// IsClosed reports whether the context was closed.
func (c *Context) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
