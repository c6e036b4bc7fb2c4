// Package flight coalesces concurrent calls for the same key onto a single
// execution.
//
// It wraps singleflight with two behaviours the refresh path needs: the
// shared call is detached from any one caller's context, so a caller that
// gives up does not cancel the work for everyone else, and panics are turned
// into errors delivered to every waiter.
package flight

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Group coalesces calls returning T. The zero value is ready to use.
type Group[T any] struct {
	group singleflight.Group
}

// Do runs fn once per key among concurrent callers. fn receives a context
// that carries the first caller's values but not its cancellation. If ctx is
// done before the shared call completes, Do returns ctx.Err() while the call
// continues for the remaining waiters. shared reports whether the result was
// delivered to more than one caller.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, bool, error) {
	detached := context.WithoutCancel(ctx)

	ch := g.group.DoChan(key, func() (v any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("flight %q panicked: %v", key, r)
			}
		}()
		return fn(detached)
	})

	select {
	case res := <-ch:
		var zero T
		if res.Err != nil {
			return zero, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}
