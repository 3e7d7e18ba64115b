// Package lock provides a Redis lease used to elect one instance for
// periodic work.  It is an optimization only; correctness of number
// state never depends on holding it.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces lock keys.
const KeyPrefix = "lock:"

// releaseScript deletes the key only if it still holds our token, so
// an instance whose lease ran out cannot free someone else's lock.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`

// ErrInvalidLock is returned for an empty key or non-positive TTL.
var ErrInvalidLock = errors.New("lock: invalid key or ttl")

// RedisLocker acquires leases with SET NX PX.
type RedisLocker struct {
	rdb   *redis.Client
	token func() string
}

// NewRedisLocker returns a locker using random UUID tokens.
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb, token: func() string { return uuid.NewString() }}
}

// Lease is a held lock.
type Lease struct {
	Key   string
	Token string
	rdb   *redis.Client
}

// TryAcquire makes a single attempt.  It returns (nil, nil) when the
// lock is held by someone else.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if key == "" || ttl <= 0 {
		return nil, ErrInvalidLock
	}
	full := KeyPrefix + key
	token := l.token()
	ok, err := l.rdb.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Lease{Key: full, Token: token, rdb: l.rdb}, nil
}

// Release frees the lease if it is still ours.  It reports whether the
// key was deleted.
func (le *Lease) Release(ctx context.Context) (bool, error) {
	n, err := le.rdb.Eval(ctx, releaseScript, []string{le.Key}, le.Token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
