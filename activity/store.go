package activity

import (
	"context"

	"github.com/nexus-link/durable/id"
)

// Store defines the persistence contract for activity forms, versions and
// instances. UpdateInstance is ETag-checked like workflow.Store.
type Store interface {
	// CreateActivityForm persists a new activity form.
	CreateActivityForm(ctx context.Context, form *Form) error

	// FindActivityForm retrieves a form by workflow form and title.
	FindActivityForm(ctx context.Context, workflowFormID id.ID, title string) (*Form, error)

	// CreateActivityVersion persists a new activity version.
	CreateActivityVersion(ctx context.Context, version *Version) error

	// FindActivityVersion retrieves the version of an activity form within
	// a workflow version.
	FindActivityVersion(ctx context.Context, workflowVersionID, activityFormID id.ID) (*Version, error)

	// ListActivityVersions returns every activity version of a workflow
	// version ordered by position.
	ListActivityVersions(ctx context.Context, workflowVersionID id.ID) ([]*Version, error)

	// CreateActivityInstance persists a new instance with a caller-chosen
	// ID. Returns durable.ErrAlreadyExists if the memoization key is taken.
	CreateActivityInstance(ctx context.Context, inst *Instance) error

	// GetActivityInstance retrieves an instance by ID.
	GetActivityInstance(ctx context.Context, instanceID id.ID) (*Instance, error)

	// UpdateActivityInstance persists changes to an existing instance.
	UpdateActivityInstance(ctx context.Context, inst *Instance) error

	// ListActivityInstances returns all activity instances of a workflow
	// instance ordered by start time.
	ListActivityInstances(ctx context.Context, workflowInstanceID id.ID) ([]*Instance, error)
}
