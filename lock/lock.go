// Package lock provides the distributed instance lock and scoped acquisition
// helpers on top of any Locker backend.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/id"
)

// Locker is a lease-based mutual-exclusion backend.
type Locker interface {
	// Claim takes key for owner until lease elapses. Claiming a key the
	// owner already holds extends the lease. Returns durable.ErrLockTaken
	// when another owner holds an unexpired claim.
	Claim(ctx context.Context, key, owner string, lease time.Duration) error

	// Release drops owner's claim on key. Returns durable.ErrLockNotHeld if
	// owner does not hold it.
	Release(ctx context.Context, key, owner string) error
}

// InstanceKey is the lock key serializing passes over one workflow instance.
func InstanceKey(instanceID id.ID) string {
	return "workflow-instance:" + instanceID.String()
}

// SemaphoreKey is the lock key serializing semaphore bookkeeping for one
// resource.
func SemaphoreKey(workflowFormID id.ID, resource string) string {
	return "semaphore:" + workflowFormID.String() + ":" + resource
}

// Handle is a held lock. Release is idempotent and safe to defer.
type Handle struct {
	locker Locker
	key    string
	owner  string

	mu       sync.Mutex
	released bool
}

// Acquire claims key with a fresh owner token.
func Acquire(ctx context.Context, l Locker, key string, lease time.Duration) (*Handle, error) {
	owner := uuid.NewString()
	if err := l.Claim(ctx, key, owner, lease); err != nil {
		return nil, fmt.Errorf("lock %q: %w", key, err)
	}
	return &Handle{locker: l, key: key, owner: owner}, nil
}

// AcquireWithRetry is Acquire that retries a taken lock up to attempts
// times, waiting interval between tries.
func AcquireWithRetry(ctx context.Context, l Locker, key string, lease time.Duration, attempts uint64, interval time.Duration) (*Handle, error) {
	backoff := retry.WithMaxRetries(attempts, retry.NewConstant(interval))
	return retry.DoValue(ctx, backoff, func(ctx context.Context) (*Handle, error) {
		h, err := Acquire(ctx, l, key, lease)
		if errors.Is(err, durable.ErrLockTaken) {
			return nil, retry.RetryableError(err)
		}
		return h, err
	})
}

// Key returns the locked key.
func (h *Handle) Key() string { return h.key }

// Extend renews the lease.
func (h *Handle) Extend(ctx context.Context, lease time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return fmt.Errorf("lock %q: %w", h.key, durable.ErrLockNotHeld)
	}
	return h.locker.Claim(ctx, h.key, h.owner, lease)
}

// Release drops the lock. Calling it more than once is a no-op.
func (h *Handle) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true
	if err := h.locker.Release(ctx, h.key, h.owner); err != nil {
		return fmt.Errorf("lock %q: release: %w", h.key, err)
	}
	return nil
}

// Do runs fn while holding key. The lock is released on every exit path,
// on a context that survives cancellation of ctx.
func Do(ctx context.Context, l Locker, key string, lease time.Duration, fn func(ctx context.Context) error) (err error) {
	h, err := Acquire(ctx, l, key, lease)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := h.Release(context.WithoutCancel(ctx)); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn(ctx)
}
