package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockExpiry = 30 * time.Second
	defaultLockTries  = 32
)

// RedisLocker is a Locker shared across service instances, built on redsync.
type RedisLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
	tries  int
	logger *slog.Logger
}

func NewRedisLocker(rdb *redis.Client, expiry time.Duration, logger *slog.Logger) *RedisLocker {
	if expiry <= 0 {
		expiry = defaultLockExpiry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(rdb)),
		expiry: expiry,
		tries:  defaultLockTries,
		logger: logger,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	mutex := l.rs.NewMutex(
		"lock:"+key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(l.tries),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled by the time we release.
			unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if _, err := mutex.UnlockContext(unlockCtx); err != nil {
				l.logger.Warn("release lock failed", "key", key, "err", err)
			}
		})
	}, nil
}
