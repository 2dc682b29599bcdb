// Package semaphore implements named, leased, capacity-bounded admission
// gates shared across workflow instances, with a FIFO wait queue.
//
// A semaphore is identified by a workflow form and a resource identifier.
// Holders and waiters are both rows of the queue: a row with Raised set is a
// holder whose lease ends at ExpiresAt, a row without is a waiter. Waiters
// are granted in arrival order.
package semaphore

import (
	"time"

	"github.com/nexus-link/durable/id"
)

// Semaphore is a named gate with a fixed capacity.
type Semaphore struct {
	ID                 id.ID  `json:"id"`
	WorkflowFormID     id.ID  `json:"workflow_form_id"`
	ResourceIdentifier string `json:"resource_identifier"`
	Limit              int    `json:"limit"`
	Etag               string `json:"etag"`
}

// QueueEntry is a holder (Raised) or a waiter of a Semaphore.
type QueueEntry struct {
	ID                 id.ID         `json:"id"`
	SemaphoreID        id.ID         `json:"semaphore_id"`
	WorkflowInstanceID id.ID         `json:"workflow_instance_id"`
	Raised             bool          `json:"raised"`
	RaisedAt           *time.Time    `json:"raised_at,omitempty"`
	ExpiresAt          *time.Time    `json:"expires_at,omitempty"`
	Lease              time.Duration `json:"lease"`
	CreatedAt          time.Time     `json:"created_at"`
}

// Expired reports whether a holder's lease has ended at now.
func (e *QueueEntry) Expired(now time.Time) bool {
	return e.Raised && e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}
