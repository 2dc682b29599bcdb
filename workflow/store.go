package workflow

import (
	"context"

	"github.com/nexus-link/durable/id"
)

// ListOpts controls pagination for instance list queries.
type ListOpts struct {
	// Limit is the maximum number of instances to return. Zero means no limit.
	Limit int
	// Offset is the number of instances to skip.
	Offset int
	// State filters by instance state. Empty means all states.
	State State
}

// Store defines the persistence contract for workflow forms, versions and
// instances. Every Update compares the caller's Etag with the stored one and
// returns durable.ErrConflict on mismatch; on success the new Etag is
// written back into the argument.
type Store interface {
	// CreateForm persists a new form. Returns durable.ErrAlreadyExists if
	// the capability name and title are taken.
	CreateForm(ctx context.Context, form *Form) error

	// GetForm retrieves a form by ID.
	GetForm(ctx context.Context, formID id.ID) (*Form, error)

	// FindForm retrieves a form by capability name and title.
	FindForm(ctx context.Context, capabilityName, title string) (*Form, error)

	// UpdateForm persists administrative edits to a form.
	UpdateForm(ctx context.Context, form *Form) error

	// CreateVersion persists a new version of a form.
	CreateVersion(ctx context.Context, version *Version) error

	// GetVersion retrieves a version by ID.
	GetVersion(ctx context.Context, versionID id.ID) (*Version, error)

	// FindVersion retrieves the version of a form with the given numbers.
	FindVersion(ctx context.Context, formID id.ID, major, minor int) (*Version, error)

	// UpdateVersion persists administrative edits to a version.
	UpdateVersion(ctx context.Context, version *Version) error

	// CreateInstance persists a new instance with a caller-chosen ID.
	CreateInstance(ctx context.Context, inst *Instance) error

	// GetInstance retrieves an instance by ID.
	GetInstance(ctx context.Context, instanceID id.ID) (*Instance, error)

	// UpdateInstance persists changes to an existing instance.
	UpdateInstance(ctx context.Context, inst *Instance) error

	// ListInstances returns instances matching the given options.
	ListInstances(ctx context.Context, opts ListOpts) ([]*Instance, error)
}
