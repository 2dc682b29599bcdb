package semaphore

import (
	"context"
	"time"

	"github.com/nexus-link/durable/id"
)

// Store defines the persistence contract for semaphores and their queue.
type Store interface {
	// CreateSemaphore persists a new semaphore. Returns
	// durable.ErrAlreadyExists if the form and resource are taken.
	CreateSemaphore(ctx context.Context, sem *Semaphore) error

	// GetSemaphore retrieves a semaphore by ID.
	GetSemaphore(ctx context.Context, semaphoreID id.ID) (*Semaphore, error)

	// FindSemaphore retrieves a semaphore by form and resource identifier.
	FindSemaphore(ctx context.Context, workflowFormID id.ID, resource string) (*Semaphore, error)

	// UpdateSemaphore persists a changed limit (ETag-checked).
	UpdateSemaphore(ctx context.Context, sem *Semaphore) error

	// CreateQueueEntry persists a new holder or waiter.
	CreateQueueEntry(ctx context.Context, entry *QueueEntry) error

	// GetQueueEntry retrieves a queue entry by ID.
	GetQueueEntry(ctx context.Context, entryID id.ID) (*QueueEntry, error)

	// UpdateQueueEntry persists a changed queue entry.
	UpdateQueueEntry(ctx context.Context, entry *QueueEntry) error

	// DeleteQueueEntry removes a queue entry.
	DeleteQueueEntry(ctx context.Context, entryID id.ID) error

	// ListQueueEntries returns the entries of a semaphore in arrival order.
	ListQueueEntries(ctx context.Context, semaphoreID id.ID) ([]*QueueEntry, error)

	// ListQueueEntriesByInstance returns every entry of a workflow instance.
	ListQueueEntriesByInstance(ctx context.Context, workflowInstanceID id.ID) ([]*QueueEntry, error)

	// ListExpiredHolders returns raised entries whose lease ended before now.
	ListExpiredHolders(ctx context.Context, now time.Time) ([]*QueueEntry, error)
}
