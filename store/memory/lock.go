package memory

import (
	"context"
	"time"

	"github.com/nexus-link/durable"
)

// Claim takes key for owner until lease elapses.
func (m *Store) Claim(_ context.Context, key, owner string, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if cur, ok := m.locks[key]; ok && cur.owner != owner && now.Before(cur.until) {
		return durable.ErrLockTaken
	}
	m.locks[key] = lockEntry{owner: owner, until: now.Add(lease)}
	return nil
}

// Release drops owner's claim on key.
func (m *Store) Release(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.locks[key]
	if !ok || cur.owner != owner {
		return durable.ErrLockNotHeld
	}
	delete(m.locks, key)
	return nil
}
