package semaphore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/lock"
)

// Waker re-enters a workflow instance whose queued raise was granted.
type Waker interface {
	Wake(ctx context.Context, workflowInstanceID id.ID) error
}

// RaiseRequest asks for one slot of a semaphore.
type RaiseRequest struct {
	WorkflowFormID     id.ID
	ResourceIdentifier string
	// Limit is the capacity of the semaphore. The latest value wins.
	Limit              int
	WorkflowInstanceID id.ID
	// Expiration is the lease of the granted slot. Zero uses the manager
	// default.
	Expiration time.Duration
}

// Manager raises, extends and lowers semaphores. Every operation runs under
// the distributed lock of the semaphore so bookkeeping from concurrent
// passes never interleaves.
type Manager struct {
	store        Store
	locker       lock.Locker
	waker        Waker
	expiration   time.Duration
	lockLease    time.Duration
	lockAttempts uint64
	lockInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithWaker sets the waker used to re-enter granted waiters.
func WithWaker(w Waker) ManagerOption {
	return func(m *Manager) { m.waker = w }
}

// WithExpiration sets the default lease of a raised semaphore.
func WithExpiration(d time.Duration) ManagerOption {
	return func(m *Manager) { m.expiration = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager.
func NewManager(store Store, locker lock.Locker, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:        store,
		locker:       locker,
		expiration:   5 * time.Minute,
		lockLease:    30 * time.Second,
		lockAttempts: 10,
		lockInterval: 50 * time.Millisecond,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Raise takes a slot for req.WorkflowInstanceID and returns the holder id.
// When the semaphore is at capacity the request is queued and a
// postponement is returned; the instance is woken once its turn comes.
// Raising again from an instance that already holds a slot renews and
// returns that slot.
func (m *Manager) Raise(ctx context.Context, req RaiseRequest) (id.ID, error) {
	if req.Limit < 1 {
		req.Limit = 1
	}
	expiration := req.Expiration
	if expiration <= 0 {
		expiration = m.expiration
	}

	var holderID id.ID
	key := lock.SemaphoreKey(req.WorkflowFormID, req.ResourceIdentifier)
	err := m.withLock(ctx, key, func(ctx context.Context) error {
		sem, err := m.ensure(ctx, req)
		if err != nil {
			return err
		}
		now := m.now().UTC()
		entries, err := m.reclaim(ctx, sem, now)
		if err != nil {
			return err
		}

		var own *QueueEntry
		for _, e := range entries {
			if e.WorkflowInstanceID.Equal(req.WorkflowInstanceID) {
				own = e
				break
			}
		}

		if own == nil {
			own = &QueueEntry{
				ID:                 id.NewSemaphoreQueueID(),
				SemaphoreID:        sem.ID,
				WorkflowInstanceID: req.WorkflowInstanceID,
				Lease:              expiration,
				CreatedAt:          now,
			}
			if err := m.store.CreateQueueEntry(ctx, own); err != nil {
				return fmt.Errorf("semaphore: enqueue: %w", err)
			}
			entries = append(entries, own)
		}

		if !own.Raised {
			if err := m.grant(ctx, sem, entries, now, req.WorkflowInstanceID); err != nil {
				return err
			}
		}
		if !own.Raised {
			m.logger.Debug("semaphore at capacity, queued",
				slog.String("resource", req.ResourceIdentifier),
				slog.String("workflow_instance_id", req.WorkflowInstanceID.String()),
			)
			return durable.Postpone(durable.WithRetryAfter(expiration))
		}

		// Renew on every raise so a replayed pass keeps its slot.
		exp := now.Add(expiration)
		own.ExpiresAt = &exp
		own.Lease = expiration
		if err := m.store.UpdateQueueEntry(ctx, own); err != nil {
			return fmt.Errorf("semaphore: renew: %w", err)
		}
		holderID = own.ID
		return nil
	})
	if err != nil {
		return id.Nil, err
	}
	return holderID, nil
}

// Extend renews the lease of a held slot. It returns a conflict wrapping
// durable.ErrSemaphoreExpired when the slot was lost.
func (m *Manager) Extend(ctx context.Context, holderID id.ID, expiration time.Duration) error {
	if expiration <= 0 {
		expiration = m.expiration
	}
	return m.withHolder(ctx, holderID, func(ctx context.Context, _ *Semaphore, e *QueueEntry, now time.Time) error {
		if e.Expired(now) {
			return expired(holderID)
		}
		exp := now.Add(expiration)
		e.ExpiresAt = &exp
		e.Lease = expiration
		if err := m.store.UpdateQueueEntry(ctx, e); err != nil {
			return fmt.Errorf("semaphore: extend: %w", err)
		}
		return nil
	})
}

// Lower releases a held slot and grants the freed capacity to the oldest
// waiter. It returns a conflict wrapping durable.ErrSemaphoreExpired when
// the slot had already expired; the slot is released regardless.
func (m *Manager) Lower(ctx context.Context, holderID id.ID) error {
	return m.withHolder(ctx, holderID, func(ctx context.Context, sem *Semaphore, e *QueueEntry, now time.Time) error {
		wasExpired := e.Expired(now)
		if err := m.store.DeleteQueueEntry(ctx, e.ID); err != nil {
			return fmt.Errorf("semaphore: lower: %w", err)
		}
		entries, err := m.reclaim(ctx, sem, now)
		if err != nil {
			return err
		}
		if err := m.grant(ctx, sem, entries, now, id.Nil); err != nil {
			return err
		}
		if wasExpired {
			return expired(holderID)
		}
		return nil
	})
}

// LowerAll releases every slot held, and every place queued, by a workflow
// instance.
func (m *Manager) LowerAll(ctx context.Context, workflowInstanceID id.ID) error {
	entries, err := m.store.ListQueueEntriesByInstance(ctx, workflowInstanceID)
	if err != nil {
		return fmt.Errorf("semaphore: lower all: %w", err)
	}
	for _, e := range entries {
		err := m.withHolder(ctx, e.ID, func(ctx context.Context, sem *Semaphore, e *QueueEntry, now time.Time) error {
			if err := m.store.DeleteQueueEntry(ctx, e.ID); err != nil {
				return fmt.Errorf("semaphore: lower all: %w", err)
			}
			rest, err := m.reclaim(ctx, sem, now)
			if err != nil {
				return err
			}
			return m.grant(ctx, sem, rest, now, id.Nil)
		})
		if err != nil && !errors.Is(err, durable.ErrSemaphoreExpired) {
			return err
		}
	}
	return nil
}

// ReclaimExpired releases every expired slot and grants the freed capacity.
// It returns the number of slots reclaimed.
func (m *Manager) ReclaimExpired(ctx context.Context) (int, error) {
	holders, err := m.store.ListExpiredHolders(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("semaphore: list expired: %w", err)
	}

	seen := make(map[string]bool)
	reclaimed := 0
	for _, h := range holders {
		if seen[h.SemaphoreID.String()] {
			continue
		}
		seen[h.SemaphoreID.String()] = true

		sem, err := m.store.GetSemaphore(ctx, h.SemaphoreID)
		if err != nil {
			return reclaimed, fmt.Errorf("semaphore: reclaim: %w", err)
		}
		err = m.withLock(ctx, lock.SemaphoreKey(sem.WorkflowFormID, sem.ResourceIdentifier), func(ctx context.Context) error {
			now := m.now().UTC()
			before, err := m.store.ListQueueEntries(ctx, sem.ID)
			if err != nil {
				return err
			}
			after, err := m.reclaim(ctx, sem, now)
			if err != nil {
				return err
			}
			reclaimed += len(before) - len(after)
			return m.grant(ctx, sem, after, now, id.Nil)
		})
		if err != nil {
			return reclaimed, err
		}
	}
	return reclaimed, nil
}

// ──────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────

func expired(holderID id.ID) error {
	return fmt.Errorf("semaphore: holder %s: %w: %w", holderID, durable.ErrConflict, durable.ErrSemaphoreExpired)
}

func (m *Manager) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) (err error) {
	h, err := lock.AcquireWithRetry(ctx, m.locker, key, m.lockLease, m.lockAttempts, m.lockInterval)
	if err != nil {
		if errors.Is(err, durable.ErrLockTaken) {
			return durable.TryAgain("semaphore is busy", err)
		}
		return err
	}
	defer func() {
		if relErr := h.Release(context.WithoutCancel(ctx)); relErr != nil {
			m.logger.Warn("semaphore: lock release failed",
				slog.String("key", key),
				slog.String("error", relErr.Error()),
			)
		}
	}()
	return fn(ctx)
}

// withHolder locks the semaphore of holderID and runs fn with the reloaded
// entry. A vanished entry counts as expired.
func (m *Manager) withHolder(ctx context.Context, holderID id.ID, fn func(ctx context.Context, sem *Semaphore, e *QueueEntry, now time.Time) error) error {
	e, err := m.store.GetQueueEntry(ctx, holderID)
	if errors.Is(err, durable.ErrQueueEntryNotFound) {
		return expired(holderID)
	}
	if err != nil {
		return fmt.Errorf("semaphore: get holder: %w", err)
	}
	sem, err := m.store.GetSemaphore(ctx, e.SemaphoreID)
	if err != nil {
		return fmt.Errorf("semaphore: get semaphore: %w", err)
	}

	return m.withLock(ctx, lock.SemaphoreKey(sem.WorkflowFormID, sem.ResourceIdentifier), func(ctx context.Context) error {
		e, err := m.store.GetQueueEntry(ctx, holderID)
		if errors.Is(err, durable.ErrQueueEntryNotFound) {
			return expired(holderID)
		}
		if err != nil {
			return fmt.Errorf("semaphore: get holder: %w", err)
		}
		return fn(ctx, sem, e, m.now().UTC())
	})
}

// ensure finds or creates the semaphore of req and applies its limit.
func (m *Manager) ensure(ctx context.Context, req RaiseRequest) (*Semaphore, error) {
	sem, err := m.store.FindSemaphore(ctx, req.WorkflowFormID, req.ResourceIdentifier)
	if errors.Is(err, durable.ErrSemaphoreNotFound) {
		sem = &Semaphore{
			ID:                 id.NewSemaphoreID(),
			WorkflowFormID:     req.WorkflowFormID,
			ResourceIdentifier: req.ResourceIdentifier,
			Limit:              req.Limit,
		}
		if err := m.store.CreateSemaphore(ctx, sem); err != nil {
			return nil, fmt.Errorf("semaphore: create: %w", err)
		}
		return sem, nil
	}
	if err != nil {
		return nil, fmt.Errorf("semaphore: find: %w", err)
	}
	if sem.Limit != req.Limit {
		sem.Limit = req.Limit
		if err := m.store.UpdateSemaphore(ctx, sem); err != nil {
			return nil, fmt.Errorf("semaphore: update limit: %w", err)
		}
	}
	return sem, nil
}

// reclaim deletes expired holders of sem and returns the remaining entries
// in arrival order.
func (m *Manager) reclaim(ctx context.Context, sem *Semaphore, now time.Time) ([]*QueueEntry, error) {
	entries, err := m.store.ListQueueEntries(ctx, sem.ID)
	if err != nil {
		return nil, fmt.Errorf("semaphore: list queue: %w", err)
	}
	kept := entries[:0]
	for _, e := range entries {
		if !e.Expired(now) {
			kept = append(kept, e)
			continue
		}
		if err := m.store.DeleteQueueEntry(ctx, e.ID); err != nil && !errors.Is(err, durable.ErrQueueEntryNotFound) {
			return nil, fmt.Errorf("semaphore: reclaim: %w", err)
		}
		m.logger.Info("semaphore: reclaimed expired holder",
			slog.String("resource", sem.ResourceIdentifier),
			slog.String("workflow_instance_id", e.WorkflowInstanceID.String()),
		)
	}
	return kept, nil
}

// grant raises waiters in arrival order while capacity remains and wakes
// them, except requester which is answered directly.
func (m *Manager) grant(ctx context.Context, sem *Semaphore, entries []*QueueEntry, now time.Time, requester id.ID) error {
	held := 0
	for _, e := range entries {
		if e.Raised {
			held++
		}
	}
	for _, e := range entries {
		if held >= sem.Limit {
			return nil
		}
		if e.Raised {
			continue
		}
		lease := e.Lease
		if lease <= 0 {
			lease = m.expiration
		}
		raisedAt := now
		exp := now.Add(lease)
		e.Raised = true
		e.RaisedAt = &raisedAt
		e.ExpiresAt = &exp
		if err := m.store.UpdateQueueEntry(ctx, e); err != nil {
			return fmt.Errorf("semaphore: grant: %w", err)
		}
		held++

		if e.WorkflowInstanceID.Equal(requester) || m.waker == nil {
			continue
		}
		if err := m.waker.Wake(ctx, e.WorkflowInstanceID); err != nil {
			m.logger.Warn("semaphore: wake granted waiter failed",
				slog.String("workflow_instance_id", e.WorkflowInstanceID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
