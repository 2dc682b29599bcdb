package asyncreq

import (
	"context"
	"time"

	"github.com/nexus-link/durable/id"
)

// ListOpts controls pagination for request list queries.
type ListOpts struct {
	// Limit is the maximum number of requests to return. Zero means no limit.
	Limit int
	// Offset is the number of requests to skip.
	Offset int
	// State filters by request state. Empty means all states.
	State State
}

// Store defines the persistence contract for re-entry requests.
type Store interface {
	// UpsertRequest schedules a re-entry of req.WorkflowInstanceID. If the
	// instance already has a request, that row is reused: a pending row
	// keeps the earlier RunAt, a running or failed row becomes pending at
	// req.RunAt. req is updated with the stored row.
	UpsertRequest(ctx context.Context, req *Request) error

	// GetRequest retrieves a request by ID.
	GetRequest(ctx context.Context, requestID id.ID) (*Request, error)

	// GetRequestByInstance retrieves the request of a workflow instance.
	GetRequestByInstance(ctx context.Context, workflowInstanceID id.ID) (*Request, error)

	// DequeueRequests atomically moves up to limit pending requests whose
	// RunAt is not after now into the running state and returns them.
	DequeueRequests(ctx context.Context, now time.Time, limit int) ([]*Request, error)

	// UpdateRequest persists changes to a request.
	UpdateRequest(ctx context.Context, req *Request) error

	// DeleteRequest removes a request.
	DeleteRequest(ctx context.Context, requestID id.ID) error

	// ListRequests returns requests matching opts ordered by RunAt.
	ListRequests(ctx context.Context, opts ListOpts) ([]*Request, error)
}
