package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/lock"
)

// Compile-time interface check.
var _ lock.Locker = (*Locker)(nil)

// claimScript takes or renews a claim. It succeeds when the key is free or
// already owned by ARGV[1].
var claimScript = goredis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == false or cur == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

// releaseScript deletes a claim only when ARGV[1] owns it.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Option configures the Locker.
type Option func(*Locker)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(lk *Locker) { lk.logger = l }
}

// Locker is a lease-based lock.Locker backed by Redis.
type Locker struct {
	client goredis.Scripter
	logger *slog.Logger
}

// NewLocker creates a Redis-backed Locker. The caller owns the Redis client
// lifecycle.
func NewLocker(client goredis.Scripter, opts ...Option) *Locker {
	lk := &Locker{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(lk)
	}
	return lk
}

// Claim takes key for owner until lease elapses.
func (lk *Locker) Claim(ctx context.Context, key, owner string, lease time.Duration) error {
	ms := lease.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	n, err := claimScript.Run(ctx, lk.client, []string{lockKey(key)}, owner, ms).Int()
	if err != nil {
		return fmt.Errorf("durable/redis: claim %q: %w: %w", key, durable.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return durable.ErrLockTaken
	}
	return nil
}

// Release drops owner's claim on key.
func (lk *Locker) Release(ctx context.Context, key, owner string) error {
	n, err := releaseScript.Run(ctx, lk.client, []string{lockKey(key)}, owner).Int()
	if err != nil {
		return fmt.Errorf("durable/redis: release %q: %w: %w", key, durable.ErrStoreUnavailable, err)
	}
	if n == 0 {
		lk.logger.Debug("release of a claim not held", slog.String("key", key))
		return durable.ErrLockNotHeld
	}
	return nil
}
