package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lua scripts for safe release/extend: the key is only touched if it still
// holds this instance's identifier, so an expired-and-reacquired lock is
// never deleted by a stale holder.
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("expire", KEYS[1], ARGV[2])
else
	return 0
end`)
)

// DistributedLock is a named, timeout-bound mutex over Redis. The hold
// timeout guarantees auto-expiry if a holder dies without releasing.
type DistributedLock struct {
	rdb           *redis.Client
	key           string
	identifier    string
	holdTimeout   time.Duration
	retryInterval time.Duration
}

// NewDistributedLock builds a lock on "lock:"+name. Each instance gets a
// unique identifier so release only removes its own acquisition.
func NewDistributedLock(rdb *redis.Client, name string, holdTimeout, retryInterval time.Duration) *DistributedLock {
	return &DistributedLock{
		rdb:           rdb,
		key:           "lock:" + name,
		identifier:    uuid.NewString(),
		holdTimeout:   holdTimeout,
		retryInterval: retryInterval,
	}
}

// Acquire attempts to take the lock. Non-blocking mode tries once; blocking
// mode busy-polls every retryInterval until waitTimeout elapses. Returns
// false on timeout or context cancellation, never an error the caller must
// branch on: contention is an expected outcome.
func (l *DistributedLock) Acquire(ctx context.Context, blocking bool, waitTimeout time.Duration) bool {
	deadline := time.Now().Add(waitTimeout)
	for {
		ok, err := l.rdb.SetNX(ctx, l.key, l.identifier, l.holdTimeout).Result()
		if err == nil && ok {
			return true
		}
		if !blocking || time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(l.retryInterval):
		}
	}
}

// Release deletes the key if this instance still holds it.
func (l *DistributedLock) Release(ctx context.Context) bool {
	n, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.identifier).Int()
	return err == nil && n == 1
}

// Extend pushes the expiry out by another holdTimeout if still held.
func (l *DistributedLock) Extend(ctx context.Context) bool {
	secs := int(l.holdTimeout / time.Second)
	n, err := extendScript.Run(ctx, l.rdb, []string{l.key}, l.identifier, secs).Int()
	return err == nil && n == 1
}
