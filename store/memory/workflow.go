package memory

import (
	"context"
	"sort"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/workflow"
)

// ──────────────────────────────────────────────────
// Workflow forms and versions
// ──────────────────────────────────────────────────

// CreateForm persists a new form.
func (m *Store) CreateForm(_ context.Context, form *workflow.Form) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("CreateForm"); err != nil {
		return err
	}

	for _, f := range m.forms {
		if f.CapabilityName == form.CapabilityName && f.Title == form.Title {
			return durable.ErrAlreadyExists
		}
	}
	form.Etag = newEtag()
	cp := *form
	m.forms[form.ID.String()] = &cp
	return nil
}

// GetForm retrieves a form by ID.
func (m *Store) GetForm(_ context.Context, formID id.ID) (*workflow.Form, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("GetForm"); err != nil {
		return nil, err
	}

	f, ok := m.forms[formID.String()]
	if !ok {
		return nil, durable.ErrFormNotFound
	}
	cp := *f
	return &cp, nil
}

// FindForm retrieves a form by capability name and title.
func (m *Store) FindForm(_ context.Context, capabilityName, title string) (*workflow.Form, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("FindForm"); err != nil {
		return nil, err
	}

	for _, f := range m.forms {
		if f.CapabilityName == capabilityName && f.Title == title {
			cp := *f
			return &cp, nil
		}
	}
	return nil, durable.ErrFormNotFound
}

// UpdateForm persists administrative edits to a form.
func (m *Store) UpdateForm(_ context.Context, form *workflow.Form) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("UpdateForm"); err != nil {
		return err
	}

	cur, ok := m.forms[form.ID.String()]
	if !ok {
		return durable.ErrFormNotFound
	}
	if cur.Etag != form.Etag {
		return durable.ErrConflict
	}
	form.Etag = newEtag()
	cp := *form
	m.forms[form.ID.String()] = &cp
	return nil
}

// CreateVersion persists a new version of a form.
func (m *Store) CreateVersion(_ context.Context, version *workflow.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("CreateVersion"); err != nil {
		return err
	}

	for _, v := range m.versions {
		if v.FormID.Equal(version.FormID) && v.MajorVersion == version.MajorVersion && v.MinorVersion == version.MinorVersion {
			return durable.ErrAlreadyExists
		}
	}
	version.Etag = newEtag()
	cp := *version
	m.versions[version.ID.String()] = &cp
	return nil
}

// GetVersion retrieves a version by ID.
func (m *Store) GetVersion(_ context.Context, versionID id.ID) (*workflow.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("GetVersion"); err != nil {
		return nil, err
	}

	v, ok := m.versions[versionID.String()]
	if !ok {
		return nil, durable.ErrVersionNotFound
	}
	cp := *v
	return &cp, nil
}

// FindVersion retrieves the version of a form with the given numbers.
func (m *Store) FindVersion(_ context.Context, formID id.ID, major, minor int) (*workflow.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("FindVersion"); err != nil {
		return nil, err
	}

	for _, v := range m.versions {
		if v.FormID.Equal(formID) && v.MajorVersion == major && v.MinorVersion == minor {
			cp := *v
			return &cp, nil
		}
	}
	return nil, durable.ErrVersionNotFound
}

// UpdateVersion persists administrative edits to a version.
func (m *Store) UpdateVersion(_ context.Context, version *workflow.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("UpdateVersion"); err != nil {
		return err
	}

	cur, ok := m.versions[version.ID.String()]
	if !ok {
		return durable.ErrVersionNotFound
	}
	if cur.Etag != version.Etag {
		return durable.ErrConflict
	}
	version.Etag = newEtag()
	cp := *version
	m.versions[version.ID.String()] = &cp
	return nil
}

// ──────────────────────────────────────────────────
// Workflow instances
// ──────────────────────────────────────────────────

// CreateInstance persists a new instance with a caller-chosen ID.
func (m *Store) CreateInstance(_ context.Context, inst *workflow.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("CreateInstance"); err != nil {
		return err
	}

	key := inst.ID.String()
	if _, exists := m.instances[key]; exists {
		return durable.ErrAlreadyExists
	}
	inst.Etag = newEtag()
	cp := *inst
	m.instances[key] = &cp
	return nil
}

// GetInstance retrieves an instance by ID.
func (m *Store) GetInstance(_ context.Context, instanceID id.ID) (*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("GetInstance"); err != nil {
		return nil, err
	}

	inst, ok := m.instances[instanceID.String()]
	if !ok {
		return nil, durable.ErrInstanceNotFound
	}
	cp := *inst
	return &cp, nil
}

// UpdateInstance persists changes to an existing instance.
func (m *Store) UpdateInstance(_ context.Context, inst *workflow.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("UpdateInstance"); err != nil {
		return err
	}

	key := inst.ID.String()
	cur, ok := m.instances[key]
	if !ok {
		return durable.ErrInstanceNotFound
	}
	if cur.Etag != inst.Etag {
		return durable.ErrConflict
	}
	inst.Etag = newEtag()
	cp := *inst
	m.instances[key] = &cp
	return nil
}

// ListInstances returns instances matching the given options, oldest first.
func (m *Store) ListInstances(_ context.Context, opts workflow.ListOpts) ([]*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("ListInstances"); err != nil {
		return nil, err
	}

	result := make([]*workflow.Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		if opts.State != "" && inst.State != opts.State {
			continue
		}
		cp := *inst
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.Before(result[j].StartedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}
