package platform

import (
	"context"
	"fmt"

	"github.com/crawlkit/signbridge/internal/sigerr"
)

// EvaluateString evaluates expression in page and requires a string result.
func EvaluateString(ctx context.Context, page Page, expression string) (string, error) {
	v, err := page.Evaluate(ctx, expression)
	if err != nil {
		return "", sigerr.Wrap(sigerr.KindRefreshFailure, err, "evaluate script")
	}

	s, ok := v.(string)
	if !ok {
		return "", sigerr.Newf(sigerr.KindRefreshFailure, "script returned %T, expected string", v)
	}

	return s, nil
}

// EvaluateFields evaluates an expression yielding a flat object and converts
// each field to a string.
func EvaluateFields(ctx context.Context, page Page, expression string) (map[string]string, error) {
	v, err := page.Evaluate(ctx, expression)
	if err != nil {
		return nil, sigerr.Wrap(sigerr.KindRefreshFailure, err, "evaluate script")
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, sigerr.Newf(sigerr.KindRefreshFailure, "script returned %T, expected object", v)
	}

	fields := make(map[string]string, len(obj))
	for k, val := range obj {
		if val == nil {
			continue
		}
		fields[k] = fmt.Sprint(val)
	}

	return fields, nil
}

// DocumentCookies reads the page's cookies through document.cookie.
func DocumentCookies(ctx context.Context, page Page) (map[string]string, error) {
	raw, err := EvaluateString(ctx, page, "document.cookie")
	if err != nil {
		return nil, err
	}

	return ParseCookies(raw), nil
}

// RequirePage returns the runtime's page or a refresh failure when the
// secret was scheduled without a browser session.
func RequirePage(rt Runtime) (Page, error) {
	if rt.Page == nil {
		return nil, sigerr.New(sigerr.KindRefreshFailure, "refresh requires a browser session")
	}
	return rt.Page, nil
}

// RequireHTTP returns the runtime's fetcher or a refresh failure when none
// was supplied.
func RequireHTTP(rt Runtime) (Fetcher, error) {
	if rt.HTTP == nil {
		return nil, sigerr.New(sigerr.KindRefreshFailure, "refresh requires an HTTP gateway")
	}
	return rt.HTTP, nil
}
