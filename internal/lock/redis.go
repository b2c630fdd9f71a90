package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/stablecoin-gateway/internal/retry"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "gateway:lock:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Redis is a Locker shared by every gateway instance. Held locks are refreshed
// until released so that a slow sweep does not outlive its TTL.
type Redis struct {
	client       redis.Cmdable
	ttl          time.Duration
	pollInterval time.Duration
}

func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Redis{client: client, ttl: ttl, pollInterval: 100 * time.Millisecond}
}

func (r *Redis) TryAcquire(ctx context.Context, key string) (Release, error) {
	token := uuid.NewString()
	redisKey := redisKeyPrefix + key
	ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return r.hold(redisKey, token), nil
}

func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	for {
		release, err := r.TryAcquire(ctx, key)
		if err == nil {
			return release, nil
		}
		if err != ErrNotAcquired {
			return nil, err
		}
		if err := retry.Sleep(ctx, r.pollInterval); err != nil {
			return nil, err
		}
	}
}

func (r *Redis) hold(redisKey, token string) Release {
	stop := make(chan struct{})
	go r.refresh(redisKey, token, stop)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Err(); err != nil {
				zap.L().Warn("redis lock release failed", zap.String("key", redisKey), zap.Error(err))
			}
		})
	}
}

func (r *Redis) refresh(redisKey, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			res, err := refreshScript.Run(ctx, r.client, []string{redisKey}, token, r.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				zap.L().Warn("redis lock refresh failed", zap.String("key", redisKey), zap.Error(err))
				continue
			}
			if res == 0 {
				zap.L().Warn("redis lock lost before release", zap.String("key", redisKey))
				return
			}
		}
	}
}
