package journal

import (
	"context"
	"time"

	"github.com/nexus-link/durable/id"
)

// ListOpts controls pagination and filtering for log reads.
type ListOpts struct {
	// ActivityInstanceID restricts the result to one activity. Nil means
	// every entry of the workflow instance.
	ActivityInstanceID id.ID
	// MinSeverity drops entries below this level.
	MinSeverity Severity
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
}

// Store defines the persistence contract for the journal.
type Store interface {
	// CreateLog appends an entry.
	CreateLog(ctx context.Context, entry *Entry) error

	// ListLogs returns the entries of a workflow instance oldest first.
	ListLogs(ctx context.Context, workflowInstanceID id.ID, opts ListOpts) ([]*Entry, error)

	// PurgeLogs removes entries older than before and returns how many
	// were removed. Used by maintenance only.
	PurgeLogs(ctx context.Context, before time.Time) (int64, error)
}
