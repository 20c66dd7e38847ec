package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("u")
	assert.True(t, ok)
	now = now.Add(20 * time.Second)
	ok, _ = rl.Allow("u")
	assert.True(t, ok)

	ok, wait := rl.Allow("u")
	assert.False(t, ok)
	assert.Equal(t, 40*time.Second, wait, "until the first attempt ages out")

	ok, _ = rl.Allow("other")
	assert.True(t, ok, "windows are per user")

	now = now.Add(41 * time.Second)
	ok, _ = rl.Allow("u")
	assert.True(t, ok, "oldest slot freed")
	ok, wait = rl.Allow("u")
	assert.False(t, ok)
	assert.Equal(t, 19*time.Second, wait)
}

func TestRateLimiter_RejectedAttemptsDoNotExtendWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("u")
	assert.True(t, ok)
	for range 5 {
		now = now.Add(10 * time.Second)
		ok, _ = rl.Allow("u")
		assert.False(t, ok)
	}
	now = now.Add(10 * time.Second)
	ok, _ = rl.Allow("u")
	assert.True(t, ok)
}

func TestRateLimiter_SweepsIdleUsers(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(3, time.Minute)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	rl.Allow("b")
	assert.Equal(t, 2, rl.Tracked())

	now = now.Add(2 * time.Minute)
	rl.Allow("c")
	assert.Equal(t, 1, rl.Tracked())
}

func TestRateLimiter_ZeroLimitAllowsOne(t *testing.T) {
	rl := NewRateLimiter(0, time.Hour)
	ok, _ := rl.Allow("u")
	assert.True(t, ok)
	ok, _ = rl.Allow("u")
	assert.False(t, ok)
}
