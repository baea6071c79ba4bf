package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("lock held by another process")

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out named, expiring locks backed by Redis SET NX.
type Locker struct {
	rdb    *redis.Client
	prefix string
}

func NewLocker(rdb *redis.Client, prefix string) *Locker {
	if prefix == "" {
		prefix = "lock:"
	}
	return &Locker{rdb: rdb, prefix: prefix}
}

// Lock is a held lock. Release is safe to call more than once.
type Lock struct {
	rdb   *redis.Client
	key   string
	token string
}

// Acquire takes the named lock for ttl. The TTL bounds how long a crashed
// holder can block others.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	key := l.prefix + name
	token := uuid.New().String()

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{rdb: l.rdb, key: key, token: token}, nil
}

func (k *Lock) Release(ctx context.Context) error {
	if k == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, k.rdb, []string{k.key}, k.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", k.key, err)
	}
	return nil
}
