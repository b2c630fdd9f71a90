package idempotency

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ayo6706/stablecoin-gateway/internal/repository/memory"
	"github.com/ayo6706/stablecoin-gateway/internal/retry"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreReserveFinalizeLookup(t *testing.T) {
	store := NewStore(nil, memory.NewStore().Queries(), time.Hour)
	ctx := context.Background()

	_, err := store.Lookup(ctx, "k1", "h1")
	require.ErrorIs(t, err, ErrNotFound)

	reserved, err := store.Reserve(ctx, "k1", "h1", "POST", "/v1/withdrawals")
	require.NoError(t, err)
	require.True(t, reserved)

	_, err = store.Lookup(ctx, "k1", "h1")
	require.ErrorIs(t, err, ErrInProgress)

	reserved, err = store.Reserve(ctx, "k1", "h1", "POST", "/v1/withdrawals")
	require.NoError(t, err)
	assert.False(t, reserved)

	_, err = store.Finalize(ctx, "k1", "h1", 201, []byte(`{"id":"x"}`), "application/json")
	require.NoError(t, err)

	rec, err := store.Lookup(ctx, "k1", "h1")
	require.NoError(t, err)
	assert.Equal(t, 201, rec.Status)
	assert.JSONEq(t, `{"id":"x"}`, string(rec.Body))
	assert.Equal(t, servedByDatabase, rec.ServedBy)

	_, err = store.Lookup(ctx, "k1", "other")
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestWaitForCompletionGivesUp(t *testing.T) {
	store := NewStore(nil, memory.NewStore().Queries(), time.Hour).
		WithWait(retry.Policy{Attempts: 3, Interval: time.Millisecond})
	ctx := context.Background()

	_, err := store.Reserve(ctx, "k", "h", "POST", "/v1/withdrawals")
	require.NoError(t, err)

	_, err = store.WaitForCompletion(ctx, "k", "h")
	assert.ErrorIs(t, err, ErrInProgress)
}

func TestWaitForCompletionReturnsFinishedRecord(t *testing.T) {
	store := NewStore(nil, memory.NewStore().Queries(), time.Hour).
		WithWait(retry.Policy{Attempts: 200, Interval: 5 * time.Millisecond})
	ctx := context.Background()

	_, err := store.Reserve(ctx, "k", "h", "POST", "/v1/withdrawals")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = store.Finalize(context.Background(), "k", "h", 200, []byte(`{}`), "application/json")
	}()

	rec, err := store.WaitForCompletion(ctx, "k", "h")
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Status)
}

func TestStoreServesFromRedis(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("Skipping integration test: REDIS_URL not set")
	}
	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	store := NewStore(client, memory.NewStore().Queries(), time.Minute)
	ctx := context.Background()
	key := "test-" + uuid.NewString()

	_, err = store.Reserve(ctx, key, "h", "POST", "/v1/withdrawals")
	require.NoError(t, err)
	_, err = store.Finalize(ctx, key, "h", 201, []byte(`{}`), "application/json")
	require.NoError(t, err)

	rec, err := store.Lookup(ctx, key, "h")
	require.NoError(t, err)
	assert.Equal(t, servedByCache, rec.ServedBy)

	_, err = store.Lookup(ctx, key, "other")
	assert.ErrorIs(t, err, ErrHashMismatch)
}
