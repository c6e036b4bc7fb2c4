package browser

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/crawlkit/signbridge/internal/config"
	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog/log"
)

// PlaywrightEngine runs contexts in a single shared Chromium process.
type PlaywrightEngine struct {
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewPlaywrightEngine starts the playwright driver and launches Chromium,
// installing the browser first when cfg.Install is set.
func NewPlaywrightEngine(cfg config.BrowserConfig) (*PlaywrightEngine, error) {
	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if cfg.Install {
		log.Info().Msg("installing playwright browser")
		if err := playwright.Install(opts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &PlaywrightEngine{pw: pw, browser: browser}, nil
}

func (e *PlaywrightEngine) NewContext(ctx context.Context, opts ContextOptions) (Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contextOpts := playwright.BrowserNewContextOptions{}
	if opts.UserAgent != "" {
		contextOpts.UserAgent = playwright.String(opts.UserAgent)
	}

	bctx, err := e.browser.NewContext(contextOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	for i, script := range opts.InitScripts {
		if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(script)}); err != nil {
			_ = bctx.Close()
			return nil, fmt.Errorf("failed to add init script %d: %w", i, err)
		}
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	timeout := opts.NavigationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	page.SetDefaultTimeout(millis(timeout))

	return &playwrightContext{context: bctx, page: page, timeout: timeout}, nil
}

func (e *PlaywrightEngine) Close() error {
	if err := e.browser.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing browser")
	}
	if err := e.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

type playwrightContext struct {
	context playwright.BrowserContext
	page    playwright.Page
	timeout time.Duration
}

func (c *playwrightContext) Navigate(ctx context.Context, url string) error {
	_, err := run(ctx, func() (struct{}, error) {
		_, err := c.page.Goto(url, playwright.PageGotoOptions{
			Timeout:   playwright.Float(millis(c.remaining(ctx))),
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		})
		if err != nil {
			return struct{}{}, fmt.Errorf("navigation failed: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *playwrightContext) InjectScript(ctx context.Context, script string) error {
	_, err := run(ctx, func() (struct{}, error) {
		if _, err := c.page.AddScriptTag(playwright.PageAddScriptTagOptions{
			Content: playwright.String(script),
		}); err != nil {
			return struct{}{}, fmt.Errorf("script injection failed: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *playwrightContext) Evaluate(ctx context.Context, expression string) (any, error) {
	return run(ctx, func() (any, error) {
		v, err := c.page.Evaluate(expression)
		if err != nil {
			return nil, fmt.Errorf("evaluation failed: %w", err)
		}
		return v, nil
	})
}

func (c *playwrightContext) Close() error {
	_ = c.page.Close()
	return c.context.Close()
}

// remaining is the navigation budget: the configured timeout, shortened to
// the caller's deadline if that comes first.
func (c *playwrightContext) remaining(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < c.timeout {
			return max(d, time.Millisecond)
		}
	}
	return c.timeout
}

// run executes a blocking playwright call, returning early if ctx ends. The
// call itself keeps running and its outcome is dropped; the session is then
// released as unhealthy by its caller and the page is discarded.
func run[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn()
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.v, o.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func millis(d time.Duration) float64 {
	return float64(d.Milliseconds())
}
