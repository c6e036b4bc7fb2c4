package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestShutdownHooks_RunNewestFirst(t *testing.T) {
	hooks := &ShutdownHooks{}
	var order []string

	for _, name := range []string{"telemetry", "cache", "browser pools"} {
		hooks.AddContext(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, hooks.Execute(context.Background()))
	assert.Equal(t, []string{"browser pools", "cache", "telemetry"}, order)
}

func TestShutdownHooks_IgnoresNil(t *testing.T) {
	hooks := &ShutdownHooks{}

	hooks.AddContext("nil-func", nil)
	hooks.AddClose("nil-closer", nil)

	assert.Zero(t, hooks.Len())
	assert.NoError(t, hooks.Execute(context.Background()))
}

func TestShutdownHooks_ContinuesAfterFailure(t *testing.T) {
	hooks := &ShutdownHooks{}
	poolErr := errors.New("browser did not exit")
	cacheErr := errors.New("connection reset")
	ran := 0

	hooks.AddClose("first", closerFunc(func() error { ran++; return nil }))
	hooks.AddClose("cache", closerFunc(func() error { ran++; return cacheErr }))
	hooks.AddClose("pools", closerFunc(func() error { ran++; return poolErr }))

	err := hooks.Execute(context.Background())
	assert.Equal(t, 3, ran)
	assert.ErrorIs(t, err, poolErr)
	assert.ErrorIs(t, err, cacheErr)
	assert.ErrorContains(t, err, "pools: browser did not exit")
}

func TestShutdownHooks_PassesDeadline(t *testing.T) {
	hooks := &ShutdownHooks{}
	var deadline time.Time

	hooks.AddContext("flush", func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	require.NoError(t, hooks.Execute(ctx))
	assert.False(t, deadline.IsZero())
}

func TestShutdownHooks_RunOnce(t *testing.T) {
	hooks := &ShutdownHooks{}
	calls := 0
	hooks.AddClose("once", closerFunc(func() error { calls++; return nil }))

	require.NoError(t, hooks.Execute(context.Background()))
	require.NoError(t, hooks.Execute(context.Background()))

	assert.Equal(t, 1, calls)
	assert.Zero(t, hooks.Len())
}
