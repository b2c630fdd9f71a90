package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeysAreCaseInsensitive(t *testing.T) {
	assert.Equal(t, SweepKey("0xABcd"), SweepKey("0xabCD"))
	assert.NotEqual(t, SweepKey("0xab"), NonceKey("0xab"))
}

func testLocker(t *testing.T, l Locker) {
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	release, err := l.TryAcquire(ctx, key)
	require.NoError(t, err)

	_, err = l.TryAcquire(ctx, key)
	assert.ErrorIs(t, err, ErrNotAcquired)

	release()
	release()

	release, err = l.TryAcquire(ctx, key)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(waitCtx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	release()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, err := l.Acquire(ctx, key)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			rel()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocal(t *testing.T) {
	l := NewLocal()
	testLocker(t, l)

	release, err := l.TryAcquire(context.Background(), "held")
	require.NoError(t, err)
	assert.True(t, l.Held("held"))
	release()
	assert.False(t, l.Held("held"))
}

func TestRedis(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("Skipping integration test: REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()).Err())

	testLocker(t, NewRedis(client, time.Second))
}
