package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type CacheTestDummy struct {
	Data string `json:"data"`
}

func TestMemory_SetAndGet(t *testing.T) {
	m, err := NewMemory[CacheTestDummy](10)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", CacheTestDummy{Data: "v"}, time.Minute))

	value, found, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", value.Data)

	_, found, err = m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemory_NeverServesExpiredEntries(t *testing.T) {
	m, err := NewMemory[CacheTestDummy](10)
	require.NoError(t, err)
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "short", CacheTestDummy{Data: "a"}, time.Second))
	require.NoError(t, m.Set(ctx, "long", CacheTestDummy{Data: "b"}, time.Hour))

	now = now.Add(time.Second)

	_, found, err := m.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, found, "an entry is expired at exactly its expiry time")

	_, found, err = m.Get(ctx, "long")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMemory_ExpiresOnWallClock(t *testing.T) {
	m, err := NewMemory[CacheTestDummy](10)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", CacheTestDummy{Data: "v"}, 30*time.Millisecond))

	assert.Eventually(t, func() bool {
		_, found, _ := m.Get(ctx, "k")
		return !found
	}, time.Second, 10*time.Millisecond)
}

func TestMemory_NonPositiveTTLRemoves(t *testing.T) {
	m, err := NewMemory[CacheTestDummy](10)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", CacheTestDummy{Data: "v"}, time.Minute))
	require.NoError(t, m.Set(ctx, "k", CacheTestDummy{Data: "w"}, 0))

	_, found, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemory_Invalidate(t *testing.T) {
	m, err := NewMemory[CacheTestDummy](10)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", CacheTestDummy{Data: "v"}, time.Minute))
	require.NoError(t, m.Invalidate(ctx, "k"))

	_, found, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, m.Invalidate(ctx, "never-set"))
	assert.NoError(t, m.Close())
}

func TestNewMemory_RejectsZeroSize(t *testing.T) {
	_, err := NewMemory[CacheTestDummy](0)
	assert.Error(t, err)
}
