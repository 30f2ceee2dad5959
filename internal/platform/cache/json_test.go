package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stats struct {
	Total int `json:"total"`
}

func TestJSONFetchCachesLoaderResult(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewJSON(client, "audit:stats", time.Minute)
	key := c.Key("day")
	assert.Equal(t, "audit:stats:day", key)

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return stats{Total: 7}, nil
	}

	var first, second stats
	require.NoError(t, c.Fetch(context.Background(), key, &first, loader))
	require.NoError(t, c.Fetch(context.Background(), key, &second, loader))
	assert.Equal(t, 7, first.Total)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	mr.FastForward(2 * time.Minute)
	require.NoError(t, c.Fetch(context.Background(), key, &second, loader))
	assert.Equal(t, 2, calls)
}

func TestJSONFetchWithoutClient(t *testing.T) {
	var c *JSON
	var out stats
	require.NoError(t, c.Fetch(context.Background(), c.Key("x"), &out, func(context.Context) (any, error) {
		return stats{Total: 3}, nil
	}))
	assert.Equal(t, 3, out.Total)

	err := c.Fetch(context.Background(), "x", &out, func(context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
}
