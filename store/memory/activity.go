package memory

import (
	"context"
	"sort"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/id"
)

// ──────────────────────────────────────────────────
// Activity forms and versions
// ──────────────────────────────────────────────────

// CreateActivityForm persists a new activity form.
func (m *Store) CreateActivityForm(_ context.Context, form *activity.Form) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("CreateActivityForm"); err != nil {
		return err
	}

	for _, f := range m.activityForms {
		if f.WorkflowFormID.Equal(form.WorkflowFormID) && f.Title == form.Title {
			return durable.ErrAlreadyExists
		}
	}
	cp := *form
	m.activityForms[form.ID.String()] = &cp
	return nil
}

// FindActivityForm retrieves a form by workflow form and title.
func (m *Store) FindActivityForm(_ context.Context, workflowFormID id.ID, title string) (*activity.Form, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("FindActivityForm"); err != nil {
		return nil, err
	}

	for _, f := range m.activityForms {
		if f.WorkflowFormID.Equal(workflowFormID) && f.Title == title {
			cp := *f
			return &cp, nil
		}
	}
	return nil, durable.ErrActivityNotFound
}

// CreateActivityVersion persists a new activity version.
func (m *Store) CreateActivityVersion(_ context.Context, version *activity.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("CreateActivityVersion"); err != nil {
		return err
	}

	for _, v := range m.activityVersions {
		if v.WorkflowVersionID.Equal(version.WorkflowVersionID) && v.ActivityFormID.Equal(version.ActivityFormID) {
			return durable.ErrAlreadyExists
		}
	}
	cp := *version
	m.activityVersions[version.ID.String()] = &cp
	return nil
}

// FindActivityVersion retrieves the version of an activity form within a
// workflow version.
func (m *Store) FindActivityVersion(_ context.Context, workflowVersionID, activityFormID id.ID) (*activity.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("FindActivityVersion"); err != nil {
		return nil, err
	}

	for _, v := range m.activityVersions {
		if v.WorkflowVersionID.Equal(workflowVersionID) && v.ActivityFormID.Equal(activityFormID) {
			cp := *v
			return &cp, nil
		}
	}
	return nil, durable.ErrActivityNotFound
}

// ListActivityVersions returns the activity versions of a workflow version
// ordered by position.
func (m *Store) ListActivityVersions(_ context.Context, workflowVersionID id.ID) ([]*activity.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("ListActivityVersions"); err != nil {
		return nil, err
	}

	var result []*activity.Version
	for _, v := range m.activityVersions {
		if v.WorkflowVersionID.Equal(workflowVersionID) {
			cp := *v
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Position < result[j].Position })
	return result, nil
}

// ──────────────────────────────────────────────────
// Activity instances
// ──────────────────────────────────────────────────

// CreateActivityInstance persists a new instance with a caller-chosen ID.
func (m *Store) CreateActivityInstance(_ context.Context, inst *activity.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("CreateActivityInstance"); err != nil {
		return err
	}

	key := inst.ID.String()
	if _, exists := m.activityInstances[key]; exists {
		return durable.ErrAlreadyExists
	}
	memo := inst.Key().String()
	if _, exists := m.activityKeys[memo]; exists {
		return durable.ErrAlreadyExists
	}
	inst.Etag = newEtag()
	m.activityInstances[key] = inst.Clone()
	m.activityKeys[memo] = key
	return nil
}

// GetActivityInstance retrieves an instance by ID.
func (m *Store) GetActivityInstance(_ context.Context, instanceID id.ID) (*activity.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("GetActivityInstance"); err != nil {
		return nil, err
	}

	inst, ok := m.activityInstances[instanceID.String()]
	if !ok {
		return nil, durable.ErrActivityNotFound
	}
	return inst.Clone(), nil
}

// UpdateActivityInstance persists changes to an existing instance.
func (m *Store) UpdateActivityInstance(_ context.Context, inst *activity.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("UpdateActivityInstance"); err != nil {
		return err
	}

	key := inst.ID.String()
	cur, ok := m.activityInstances[key]
	if !ok {
		return durable.ErrActivityNotFound
	}
	if cur.Etag != inst.Etag {
		return durable.ErrConflict
	}
	inst.Etag = newEtag()
	m.activityInstances[key] = inst.Clone()
	return nil
}

// ListActivityInstances returns the activity instances of a workflow
// instance ordered by start time.
func (m *Store) ListActivityInstances(_ context.Context, workflowInstanceID id.ID) ([]*activity.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("ListActivityInstances"); err != nil {
		return nil, err
	}

	var result []*activity.Instance
	for _, inst := range m.activityInstances {
		if inst.WorkflowInstanceID.Equal(workflowInstanceID) {
			result = append(result, inst.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.Before(result[j].StartedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}
