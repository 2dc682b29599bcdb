package memory

import (
	"context"
	"sort"
	"time"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/asyncreq"
	"github.com/nexus-link/durable/id"
)

// UpsertRequest schedules a re-entry, reusing the instance's existing row.
func (m *Store) UpsertRequest(_ context.Context, req *asyncreq.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("UpsertRequest"); err != nil {
		return err
	}

	for _, cur := range m.requests {
		if !cur.WorkflowInstanceID.Equal(req.WorkflowInstanceID) {
			continue
		}
		switch cur.State {
		case asyncreq.StatePending:
			if req.RunAt.Before(cur.RunAt) {
				cur.RunAt = req.RunAt
			}
		case asyncreq.StateFailed:
			cur.Attempts = 0
			cur.LastError = ""
			fallthrough
		default:
			cur.State = asyncreq.StatePending
			cur.RunAt = req.RunAt
		}
		cur.UpdatedAt = req.UpdatedAt
		*req = *cur
		return nil
	}

	req.State = asyncreq.StatePending
	cp := *req
	m.requests[req.ID.String()] = &cp
	return nil
}

// GetRequest retrieves a request by ID.
func (m *Store) GetRequest(_ context.Context, requestID id.ID) (*asyncreq.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("GetRequest"); err != nil {
		return nil, err
	}

	r, ok := m.requests[requestID.String()]
	if !ok {
		return nil, durable.ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

// GetRequestByInstance retrieves the request of a workflow instance.
func (m *Store) GetRequestByInstance(_ context.Context, workflowInstanceID id.ID) (*asyncreq.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("GetRequestByInstance"); err != nil {
		return nil, err
	}

	for _, r := range m.requests {
		if r.WorkflowInstanceID.Equal(workflowInstanceID) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, durable.ErrRequestNotFound
}

// DequeueRequests atomically claims up to limit due pending requests.
func (m *Store) DequeueRequests(_ context.Context, now time.Time, limit int) ([]*asyncreq.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("DequeueRequests"); err != nil {
		return nil, err
	}

	candidates := make([]*asyncreq.Request, 0, len(m.requests))
	for _, r := range m.requests {
		if r.State != asyncreq.StatePending || r.RunAt.After(now) {
			continue
		}
		candidates = append(candidates, r)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].RunAt.Before(candidates[j].RunAt) })

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*asyncreq.Request, len(candidates))
	for i, r := range candidates {
		r.State = asyncreq.StateRunning
		r.UpdatedAt = now
		cp := *r
		result[i] = &cp
	}
	return result, nil
}

// UpdateRequest persists changes to a request.
func (m *Store) UpdateRequest(_ context.Context, req *asyncreq.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("UpdateRequest"); err != nil {
		return err
	}

	if _, ok := m.requests[req.ID.String()]; !ok {
		return durable.ErrRequestNotFound
	}
	cp := *req
	m.requests[req.ID.String()] = &cp
	return nil
}

// DeleteRequest removes a request.
func (m *Store) DeleteRequest(_ context.Context, requestID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("DeleteRequest"); err != nil {
		return err
	}

	if _, ok := m.requests[requestID.String()]; !ok {
		return durable.ErrRequestNotFound
	}
	delete(m.requests, requestID.String())
	return nil
}

// ListRequests returns requests matching opts ordered by RunAt.
func (m *Store) ListRequests(_ context.Context, opts asyncreq.ListOpts) ([]*asyncreq.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("ListRequests"); err != nil {
		return nil, err
	}

	result := make([]*asyncreq.Request, 0, len(m.requests))
	for _, r := range m.requests {
		if opts.State != "" && r.State != opts.State {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RunAt.Before(result[j].RunAt) })
	return paginate(result, opts.Offset, opts.Limit), nil
}
