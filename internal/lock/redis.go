package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "goodwill:lock:"

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Redis is a Locker shared by every server process talking to the same
// Redis. Locks expire after ttl so a crashed holder cannot wedge a donation.
type Redis struct {
	rdb       redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	wait      time.Duration
	logger    *zap.Logger
}

// NewRedis creates a Redis locker.
func NewRedis(rdb redis.UniversalClient, ttl, wait time.Duration, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		rdb:       rdb,
		keyPrefix: defaultKeyPrefix,
		ttl:       ttl,
		wait:      wait,
		logger:    logger,
	}
}

// acquire makes a single SET NX attempt.
func (r *Redis) acquire(ctx context.Context, key, value string) error {
	ok, err := r.rdb.SetNX(ctx, key, value, r.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAcquired
	}
	return nil
}

// Lock retries with capped exponential backoff until the wait budget runs
// out.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := r.keyPrefix + key
	value := uuid.New().String()
	deadline := time.Now().Add(r.wait)
	backoff := 10 * time.Millisecond

	for {
		err := r.acquire(ctx, lockKey, value)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrNotAcquired) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, ErrNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 500*time.Millisecond {
				backoff = 500 * time.Millisecond
			}
		}
	}

	r.logger.Debug("acquired lock", zap.String("key", lockKey))
	return func() { r.release(lockKey, value) }, nil
}

// release deletes the key only if this holder still owns it. It runs on a
// fresh context so an expired request context cannot leak the lock.
func (r *Redis) release(key, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := releaseScript.Run(ctx, r.rdb, []string{key}, value).Int64()
	switch {
	case err != nil:
		r.logger.Warn("release lock", zap.String("key", key), zap.Error(err))
	case n == 0:
		r.logger.Warn("lock expired before release", zap.String("key", key))
	}
}
