package memory

import (
	"context"
	"time"

	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/journal"
)

// CreateLog appends an entry.
func (m *Store) CreateLog(_ context.Context, entry *journal.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("CreateLog"); err != nil {
		return err
	}

	cp := *entry
	m.logs = append(m.logs, &cp)
	return nil
}

// ListLogs returns the entries of a workflow instance oldest first.
func (m *Store) ListLogs(_ context.Context, workflowInstanceID id.ID, opts journal.ListOpts) ([]*journal.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("ListLogs"); err != nil {
		return nil, err
	}

	var result []*journal.Entry
	for _, e := range m.logs {
		if !e.WorkflowInstanceID.Equal(workflowInstanceID) {
			continue
		}
		if !opts.ActivityInstanceID.IsNil() && !e.ActivityInstanceID.Equal(opts.ActivityInstanceID) {
			continue
		}
		if e.Severity < opts.MinSeverity {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return paginate(result, opts.Offset, opts.Limit), nil
}

// PurgeLogs removes entries older than before.
func (m *Store) PurgeLogs(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("PurgeLogs"); err != nil {
		return 0, err
	}

	kept := m.logs[:0]
	var purged int64
	for _, e := range m.logs {
		if e.TimeStamp.Before(before) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	m.logs = kept
	return purged, nil
}
