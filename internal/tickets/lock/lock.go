package lock

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// BucketLocker serializes ticket-number assignment within one numbering
// bucket. Acquire blocks until the bucket lock is held or ctx is done and
// returns the release function for it.
type BucketLocker interface {
	Acquire(ctx context.Context, bucket string) (func(), error)
}

const (
	lockKeyPrefix = "ticket_bucket_lock:"
	pollInterval  = 10 * time.Millisecond
)

// RedisLocker coordinates across service instances with SetNX leases. The
// lock value is an owner token so an expired lease can never be released by
// a later holder.
type RedisLocker struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{Client: client, TTL: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, bucket string) (func(), error) {
	key := lockKeyPrefix + bucket
	owner := uuid.New().String()

	for {
		ok, err := l.Client.SetNX(ctx, key, owner, l.TTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			release := func() {
				val, err := l.Client.Get(context.Background(), key).Result()
				if err != nil {
					return // expired or unreachable, lease will lapse on its own
				}
				if val == owner {
					l.Client.Del(context.Background(), key)
				}
			}
			return release, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// LocalLocker is the single-instance fallback: a held-bucket map polled the
// same way as the redis lease.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) Acquire(ctx context.Context, bucket string) (func(), error) {
	for {
		l.mu.Lock()
		if !l.held[bucket] {
			l.held[bucket] = true
			l.mu.Unlock()
			release := func() {
				l.mu.Lock()
				delete(l.held, bucket)
				l.mu.Unlock()
			}
			return release, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
