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

type cachedPost struct {
	ID    uint   `json:"id"`
	Title string `json:"title"`
}

func withMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient(mr.Addr())
	require.NoError(t, err)
	SetClient(c)
	t.Cleanup(func() {
		SetClient(nil)
		_ = c.Close()
	})
	return mr
}

func TestAside_MissThenHit(t *testing.T) {
	mr := withMiniredis(t)
	ctx := context.Background()

	calls := 0
	fetch := func(dest *cachedPost) func() error {
		return func() error {
			calls++
			*dest = cachedPost{ID: 7, Title: "Hello"}
			return nil
		}
	}

	var first cachedPost
	require.NoError(t, Aside(ctx, PostKey(7), &first, time.Minute, fetch(&first)))
	assert.Equal(t, "Hello", first.Title)
	assert.True(t, mr.Exists("post:7"))

	var second cachedPost
	require.NoError(t, Aside(ctx, PostKey(7), &second, time.Minute, fetch(&second)))
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	mr.FastForward(2 * time.Minute)
	var third cachedPost
	require.NoError(t, Aside(ctx, PostKey(7), &third, time.Minute, fetch(&third)))
	assert.Equal(t, 2, calls)
}

func TestAside_FetchErrorIsNotCached(t *testing.T) {
	mr := withMiniredis(t)
	boom := errors.New("boom")

	var dest cachedPost
	err := Aside(context.Background(), PostKey(1), &dest, time.Minute, func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("post:1"))
}

func TestAside_WithoutClientFallsThrough(t *testing.T) {
	SetClient(nil)
	called := false
	var dest cachedPost
	require.NoError(t, Aside(context.Background(), PostKey(1), &dest, time.Minute, func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
}

func TestAside_RedisDownFallsThrough(t *testing.T) {
	SetClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond}))
	t.Cleanup(func() { SetClient(nil) })

	var dest cachedPost
	err := Aside(context.Background(), PostKey(3), &dest, time.Minute, func() error {
		dest = cachedPost{ID: 3}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint(3), dest.ID)
}

func TestInvalidatePost(t *testing.T) {
	mr := withMiniredis(t)
	require.NoError(t, mr.Set("post:9", `{"id":9}`))

	InvalidatePost(context.Background(), 9)
	assert.False(t, mr.Exists("post:9"))
}
