// Package memory provides a fully in-memory backend for every store
// contract, the distributed lock and the fallback blob store. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/asyncreq"
	"github.com/nexus-link/durable/fallback"
	"github.com/nexus-link/durable/journal"
	"github.com/nexus-link/durable/lock"
	"github.com/nexus-link/durable/semaphore"
	"github.com/nexus-link/durable/workflow"
)

// Ensure Store implements every contract at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ workflow.Store     = (*Store)(nil)
	_ activity.Store     = (*Store)(nil)
	_ semaphore.Store    = (*Store)(nil)
	_ journal.Store      = (*Store)(nil)
	_ asyncreq.Store     = (*Store)(nil)
	_ lock.Locker        = (*Store)(nil)
	_ fallback.BlobStore = (*Store)(nil)
)

// Fault lets tests simulate an unreachable backend. It is consulted with the
// operation name before every operation; a non-nil return aborts it.
type Fault func(op string) error

// Unavailable returns a Fault failing the named operations (all operations
// when none are named) with durable.ErrStoreUnavailable.
func Unavailable(ops ...string) Fault {
	set := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		set[op] = struct{}{}
	}
	return func(op string) error {
		if len(set) > 0 {
			if _, ok := set[op]; !ok {
				return nil
			}
		}
		return fmt.Errorf("memory: %s: %w", op, durable.ErrStoreUnavailable)
	}
}

type lockEntry struct {
	owner string
	until time.Time
}

type blobEntry struct {
	instanceID string
	data       []byte
}

// Store is a fully in-memory implementation of store.Store, lock.Locker and
// fallback.BlobStore.
type Store struct {
	mu sync.RWMutex

	forms     map[string]*workflow.Form
	versions  map[string]*workflow.Version
	instances map[string]*workflow.Instance

	activityForms     map[string]*activity.Form
	activityVersions  map[string]*activity.Version
	activityInstances map[string]*activity.Instance
	activityKeys      map[string]string // memoization key -> instance id

	semaphores map[string]*semaphore.Semaphore
	queue      map[string]*semaphore.QueueEntry

	logs     []*journal.Entry
	requests map[string]*asyncreq.Request

	locks map[string]lockEntry
	blobs map[string]blobEntry

	fault     Fault
	blobFault Fault
	now       func() time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		forms:             make(map[string]*workflow.Form),
		versions:          make(map[string]*workflow.Version),
		instances:         make(map[string]*workflow.Instance),
		activityForms:     make(map[string]*activity.Form),
		activityVersions:  make(map[string]*activity.Version),
		activityInstances: make(map[string]*activity.Instance),
		activityKeys:      make(map[string]string),
		semaphores:        make(map[string]*semaphore.Semaphore),
		queue:             make(map[string]*semaphore.QueueEntry),
		requests:          make(map[string]*asyncreq.Request),
		locks:             make(map[string]lockEntry),
		blobs:             make(map[string]blobEntry),
		now:               time.Now,
	}
}

// SetFault installs a fault for the primary tables (everything except locks
// and blobs). Nil clears it.
func (m *Store) SetFault(f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

// SetBlobFault installs a fault for the blob store. Nil clears it.
func (m *Store) SetBlobFault(f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobFault = f
}

// SetClock overrides the time source used for lock leases.
func (m *Store) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// check must be called with mu held.
func (m *Store) check(op string) error {
	if m.fault == nil {
		return nil
	}
	return m.fault(op)
}

func newEtag() string { return uuid.NewString() }

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping reports a simulated outage, if any.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.check("Ping")
}

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
