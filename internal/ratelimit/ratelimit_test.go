package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/testutil"
)

func newTestLimiter(t *testing.T, requests, window int) *Limiter {
	t.Helper()
	return New(testutil.NewTestRedis(t), requests, window)
}

func TestAllow_UnderBudget(t *testing.T) {
	l := newTestLimiter(t, 5, 60)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := l.Allow(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be allowed", i)
	}
}

func TestAllow_OverBudget(t *testing.T) {
	l := newTestLimiter(t, 2, 60)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAllow_PerUserIsolation(t *testing.T) {
	l := newTestLimiter(t, 1, 60)
	ctx := context.Background()

	ok, err := l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, ok, "bob's budget is independent of alice's")
}

func TestLocalLimiter_ShedsBurstBeforeRedis(t *testing.T) {
	l := newTestLimiter(t, 10, 60)
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 100; i++ {
		ok, err := l.Allow(ctx, "alice")
		require.NoError(t, err)
		if ok {
			allowed++
		}
	}
	assert.LessOrEqual(t, allowed, 20, "local token bucket burst is 2x the shared budget")
}
