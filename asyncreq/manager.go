package asyncreq

import (
	"context"
	"fmt"
	"time"

	"github.com/nexus-link/durable/id"
)

// Manager creates and wakes re-entry requests.
type Manager struct {
	store Store
	now   func() time.Time
}

// NewManager returns a Manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// Enqueue parks workflowInstanceID for re-entry after delay and returns the
// request handle.
func (m *Manager) Enqueue(ctx context.Context, workflowInstanceID id.ID, after time.Duration) (id.ID, error) {
	now := m.now().UTC()
	req := &Request{
		ID:                 id.NewAsyncRequestID(),
		WorkflowInstanceID: workflowInstanceID,
		State:              StatePending,
		RunAt:              now.Add(after),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := m.store.UpsertRequest(ctx, req); err != nil {
		return id.Nil, fmt.Errorf("asyncreq: enqueue %s: %w", workflowInstanceID, err)
	}
	return req.ID, nil
}

// Wake makes the instance due for re-entry now.
func (m *Manager) Wake(ctx context.Context, workflowInstanceID id.ID) error {
	_, err := m.Enqueue(ctx, workflowInstanceID, 0)
	return err
}
