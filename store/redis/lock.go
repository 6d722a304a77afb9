package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// unlockScript deletes the lock only if this holder still owns it.
// KEYS[1] = lock key
// ARGV[1] = owner token
var unlockScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// Locker is a single-key Redis lock that keeps one sweep running across all
// processes sharing the store. The TTL bounds how long a crashed holder
// blocks others.
type Locker struct {
	rdb goredis.UniversalClient
	key string
	ttl time.Duration
}

// NewLocker creates a sweep lock on rdb.
func NewLocker(rdb goredis.UniversalClient, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Locker{rdb: rdb, key: lockSweep, ttl: ttl}
}

// TryLock acquires the lock without waiting.
func (l *Locker) TryLock(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("herald/redis: acquire lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		_ = unlockScript.Run(context.WithoutCancel(ctx), l.rdb, []string{l.key}, token).Err()
	}
	return release, true, nil
}
