package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease defaults.
const (
	DefaultLeaseTTL   = 30 * time.Second
	DefaultLeaseRetry = 25 * time.Millisecond
	defaultKeyPrefix  = "playout:lease"
)

// ErrLeaseHeld is returned by TryAcquire when another holder owns the lease.
var ErrLeaseHeld = errors.New("guard: lease held elsewhere")

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a cross-process rundown lock stored in Redis. Keys are
// "<prefix>:<rundownId>" and hold a random token for safe release.
type RedisLease struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLease creates a lease backed by client. Zero ttl or retry use the defaults.
func NewRedisLease(client redis.UniversalClient, prefix string, ttl, retry time.Duration) *RedisLease {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if retry <= 0 {
		retry = DefaultLeaseRetry
	}
	return &RedisLease{client: client, prefix: prefix, ttl: ttl, retry: retry}
}

func (l *RedisLease) key(rundownID string) string {
	return l.prefix + ":" + rundownID
}

// TryAcquire takes the lease once without waiting.
func (l *RedisLease) TryAcquire(ctx context.Context, rundownID string) (func(context.Context) error, error) {
	token := uuid.NewString()
	key := l.key(rundownID)
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("setting lease %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("releasing lease %s: %w", key, err)
		}
		return nil
	}, nil
}

// Acquire waits until the lease is free or ctx is done.
func (l *RedisLease) Acquire(ctx context.Context, rundownID string) (func(context.Context) error, error) {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		release, err := l.TryAcquire(ctx, rundownID)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, ErrLeaseHeld) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lease %s: %w", l.key(rundownID), ctx.Err())
		case <-ticker.C:
		}
	}
}
