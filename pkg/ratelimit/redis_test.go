package ratelimit_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/workflowhub/kbservice/pkg/ratelimit"
)

var redisContainer *tcredis.RedisContainer

func setupRedisStore(t *testing.T, cfg ratelimit.Config) ratelimit.Store {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if redisContainer == nil || !redisContainer.IsRunning() {
		var err error

		redisContainer, err = tcredis.Run(ctx, "redis:7-alpine")
		require.NoError(t, err)
	}

	url, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := ratelimit.NewStore(url, cfg, logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
		cancel()
	})

	return store
}

func TestRedisStore_ConcurrencyBoundary(t *testing.T) {
	store := setupRedisStore(t, ratelimit.Config{MaxConcurrent: 2, MaxPerWindow: 100})
	clientID := uuid.NewString()

	first, err := store.Admit(t.Context(), clientID)
	require.NoError(t, err)
	assert.True(t, first.Allowed)

	second, err := store.Admit(t.Context(), clientID)
	require.NoError(t, err)
	assert.True(t, second.Allowed)

	third, err := store.Admit(t.Context(), clientID)
	require.NoError(t, err)
	require.False(t, third.Allowed)
	assert.Equal(t, ratelimit.ReasonConcurrency, third.Reason)
	assert.Equal(t, 0, third.RetryAfter)

	require.NoError(t, store.Release(t.Context(), clientID))

	again, err := store.Admit(t.Context(), clientID)
	require.NoError(t, err)
	assert.True(t, again.Allowed)
}

func TestRedisStore_WindowNeverOveradmitsUnderConcurrency(t *testing.T) {
	store := setupRedisStore(t, ratelimit.Config{MaxConcurrent: 100, MaxPerWindow: 10})
	clientID := uuid.NewString()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)

	// All 30 requests race through admission at once. Prune, count, and
	// record run as one script per request, so the window can never hold
	// more than MaxPerWindow entries no matter how the requests interleave.
	for range 30 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			decision, err := store.Admit(context.Background(), clientID)
			if err != nil || !decision.Allowed {
				return
			}

			mu.Lock()
			allowed++
			mu.Unlock()

			_ = store.Release(context.Background(), clientID)
		}()
	}

	wg.Wait()

	assert.Equal(t, 10, allowed)

	// The window is full, so the next request is rejected on volume with a
	// positive retry hint.
	decision, err := store.Admit(t.Context(), clientID)
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	assert.Equal(t, ratelimit.ReasonHourlyVolume, decision.Reason)
	assert.Positive(t, decision.RetryAfter)
}

func TestRedisStore_RejectionsDoNotCountTowardVolume(t *testing.T) {
	store := setupRedisStore(t, ratelimit.Config{MaxConcurrent: 1, MaxPerWindow: 2})
	clientID := uuid.NewString()

	first, err := store.Admit(t.Context(), clientID)
	require.NoError(t, err)
	assert.True(t, first.Allowed)

	// Rejected on concurrency: must not consume an hourly slot.
	rejected, err := store.Admit(t.Context(), clientID)
	require.NoError(t, err)
	assert.False(t, rejected.Allowed)

	require.NoError(t, store.Release(t.Context(), clientID))

	second, err := store.Admit(t.Context(), clientID)
	require.NoError(t, err)
	assert.True(t, second.Allowed)
}

func TestRedisStore_ReleaseFloorsAtZero(t *testing.T) {
	store := setupRedisStore(t, ratelimit.Config{MaxConcurrent: 1, MaxPerWindow: 100})
	clientID := uuid.NewString()

	require.NoError(t, store.Release(t.Context(), clientID))
	require.NoError(t, store.Release(t.Context(), clientID))

	first, err := store.Admit(t.Context(), clientID)
	require.NoError(t, err)
	assert.True(t, first.Allowed)

	second, err := store.Admit(t.Context(), clientID)
	require.NoError(t, err)
	assert.False(t, second.Allowed)
}
