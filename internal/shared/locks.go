package shared

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ReceiveLockKey builds redis keys for per-PO receive critical sections.
func ReceiveLockKey(poID int64) string {
	return fmt.Sprintf("receiving:po:%d:lock", poID)
}

// RedisLocker serialises callers across processes using redis locks.
type RedisLocker struct {
	client *redislock.Client
}

// NewRedisLocker wraps a redis client into a distributed locker.
func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb)}
}

// Acquire obtains the lock for key, retrying with linear backoff until the
// context expires. The returned release func is safe to call once.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lock, err := l.client.Obtain(ctx, key, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 100),
	})
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}, nil
}

// KeyedMutex serialises callers per string key. Used as the in-process
// fallback when no distributed lock backend is configured.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex constructs an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Acquire locks key, creating the mutex on first use. Entries are never
// evicted; the key space is bounded by the number of live POs.
func (m *KeyedMutex) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	m.mu.Unlock()
	lock.Lock()
	return lock.Unlock, nil
}
