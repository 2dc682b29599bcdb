package memory

import (
	"context"
	"sort"
	"time"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/semaphore"
)

// CreateSemaphore persists a new semaphore.
func (m *Store) CreateSemaphore(_ context.Context, sem *semaphore.Semaphore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("CreateSemaphore"); err != nil {
		return err
	}

	for _, s := range m.semaphores {
		if s.WorkflowFormID.Equal(sem.WorkflowFormID) && s.ResourceIdentifier == sem.ResourceIdentifier {
			return durable.ErrAlreadyExists
		}
	}
	sem.Etag = newEtag()
	cp := *sem
	m.semaphores[sem.ID.String()] = &cp
	return nil
}

// GetSemaphore retrieves a semaphore by ID.
func (m *Store) GetSemaphore(_ context.Context, semaphoreID id.ID) (*semaphore.Semaphore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("GetSemaphore"); err != nil {
		return nil, err
	}

	s, ok := m.semaphores[semaphoreID.String()]
	if !ok {
		return nil, durable.ErrSemaphoreNotFound
	}
	cp := *s
	return &cp, nil
}

// FindSemaphore retrieves a semaphore by form and resource identifier.
func (m *Store) FindSemaphore(_ context.Context, workflowFormID id.ID, resource string) (*semaphore.Semaphore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("FindSemaphore"); err != nil {
		return nil, err
	}

	for _, s := range m.semaphores {
		if s.WorkflowFormID.Equal(workflowFormID) && s.ResourceIdentifier == resource {
			cp := *s
			return &cp, nil
		}
	}
	return nil, durable.ErrSemaphoreNotFound
}

// UpdateSemaphore persists a changed limit.
func (m *Store) UpdateSemaphore(_ context.Context, sem *semaphore.Semaphore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("UpdateSemaphore"); err != nil {
		return err
	}

	cur, ok := m.semaphores[sem.ID.String()]
	if !ok {
		return durable.ErrSemaphoreNotFound
	}
	if cur.Etag != sem.Etag {
		return durable.ErrConflict
	}
	sem.Etag = newEtag()
	cp := *sem
	m.semaphores[sem.ID.String()] = &cp
	return nil
}

// CreateQueueEntry persists a new holder or waiter.
func (m *Store) CreateQueueEntry(_ context.Context, entry *semaphore.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("CreateQueueEntry"); err != nil {
		return err
	}

	if _, exists := m.queue[entry.ID.String()]; exists {
		return durable.ErrAlreadyExists
	}
	cp := *entry
	m.queue[entry.ID.String()] = &cp
	return nil
}

// GetQueueEntry retrieves a queue entry by ID.
func (m *Store) GetQueueEntry(_ context.Context, entryID id.ID) (*semaphore.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("GetQueueEntry"); err != nil {
		return nil, err
	}

	e, ok := m.queue[entryID.String()]
	if !ok {
		return nil, durable.ErrQueueEntryNotFound
	}
	cp := *e
	return &cp, nil
}

// UpdateQueueEntry persists a changed queue entry.
func (m *Store) UpdateQueueEntry(_ context.Context, entry *semaphore.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("UpdateQueueEntry"); err != nil {
		return err
	}

	if _, ok := m.queue[entry.ID.String()]; !ok {
		return durable.ErrQueueEntryNotFound
	}
	cp := *entry
	m.queue[entry.ID.String()] = &cp
	return nil
}

// DeleteQueueEntry removes a queue entry.
func (m *Store) DeleteQueueEntry(_ context.Context, entryID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("DeleteQueueEntry"); err != nil {
		return err
	}

	if _, ok := m.queue[entryID.String()]; !ok {
		return durable.ErrQueueEntryNotFound
	}
	delete(m.queue, entryID.String())
	return nil
}

// ListQueueEntries returns the entries of a semaphore in arrival order.
func (m *Store) ListQueueEntries(_ context.Context, semaphoreID id.ID) ([]*semaphore.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("ListQueueEntries"); err != nil {
		return nil, err
	}

	return m.collectQueue(func(e *semaphore.QueueEntry) bool { return e.SemaphoreID.Equal(semaphoreID) }), nil
}

// ListQueueEntriesByInstance returns every entry of a workflow instance.
func (m *Store) ListQueueEntriesByInstance(_ context.Context, workflowInstanceID id.ID) ([]*semaphore.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("ListQueueEntriesByInstance"); err != nil {
		return nil, err
	}

	return m.collectQueue(func(e *semaphore.QueueEntry) bool { return e.WorkflowInstanceID.Equal(workflowInstanceID) }), nil
}

// ListExpiredHolders returns raised entries whose lease ended before now.
func (m *Store) ListExpiredHolders(_ context.Context, now time.Time) ([]*semaphore.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("ListExpiredHolders"); err != nil {
		return nil, err
	}

	return m.collectQueue(func(e *semaphore.QueueEntry) bool { return e.Expired(now) }), nil
}

func (m *Store) collectQueue(match func(*semaphore.QueueEntry) bool) []*semaphore.QueueEntry {
	var result []*semaphore.QueueEntry
	for _, e := range m.queue {
		if match(e) {
			cp := *e
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result
}
