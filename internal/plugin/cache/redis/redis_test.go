package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/conversation-service/internal/plugin/cache/redis"
	"github.com/chirino/conversation-service/internal/testutil/testredis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stats struct {
	Total int `json:"total"`
}

func TestRedisResultCache(t *testing.T) {
	url := testredis.NewURL(t)
	ctx := context.Background()

	c, err := redis.LoadFromURLWithTTL(ctx, url, time.Minute)
	require.NoError(t, err)
	require.True(t, c.Available())

	var got stats
	ok, err := c.Get(ctx, "stats:|", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "stats:|", stats{Total: 3}, 0))
	ok, err = c.Get(ctx, "stats:|", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, got.Total)

	require.NoError(t, c.Remove(ctx, "stats:|"))
	ok, err = c.Get(ctx, "stats:|", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "a", stats{Total: 1}, 0))
	require.NoError(t, c.Set(ctx, "b", stats{Total: 2}, 0))
	require.NoError(t, c.Clear(ctx))
	ok, err = c.Get(ctx, "a", &got)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = c.Get(ctx, "b", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}
