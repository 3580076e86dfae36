package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	rl := NewMemoryLimiter(3, time.Hour)
	defer rl.Close()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "user1")
		require.NoError(t, err)
		assert.True(t, ok)
		now = now.Add(10 * time.Minute)
	}

	ok, _ := rl.Allow(ctx, "user1")
	assert.False(t, ok, "fourth attempt inside the window")

	ok, _ = rl.Allow(ctx, "user2")
	assert.True(t, ok, "keys are independent")

	// The first attempt ages out after an hour.
	now = now.Add(31 * time.Minute)
	ok, _ = rl.Allow(ctx, "user1")
	assert.True(t, ok)
}

func TestMemoryLimiter_ZeroLimitDisables(t *testing.T) {
	rl := NewMemoryLimiter(0, time.Minute)
	defer rl.Close()

	for i := 0; i < 10; i++ {
		ok, err := rl.Allow(context.Background(), "user1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestRedisLimiter_Key(t *testing.T) {
	rl := NewRedisLimiter(nil, "app:limits:", "disputes", 3, time.Hour)
	assert.Equal(t, "app:limits:disputes:user1", rl.key(" user1 "))

	ok, err := rl.Allow(context.Background(), "user1")
	require.NoError(t, err)
	assert.True(t, ok, "no client means no throttling")

	assert.Equal(t, "settlement:rate_limit:chat:u", NewRedisLimiter(nil, "", "chat", 1, time.Second).key("u"))
}

func TestNewRedisClient(t *testing.T) {
	client, err := NewRedisClient("redis://localhost:6379/2")
	require.NoError(t, err)
	defer client.Close()

	_, err = NewRedisClient("not a url")
	assert.Error(t, err)
}
