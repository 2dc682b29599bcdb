package ext

import (
	"context"
	"time"

	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Workflow lifecycle hooks
// ──────────────────────────────────────────────────

// WorkflowStarted is called when the first pass over an instance begins.
type WorkflowStarted interface {
	OnWorkflowStarted(ctx context.Context, inst *workflow.Instance) error
}

// WorkflowCompleted is called after an instance reaches Success.
type WorkflowCompleted interface {
	OnWorkflowCompleted(ctx context.Context, inst *workflow.Instance, elapsed time.Duration) error
}

// WorkflowPostponed is called when a pass ends without an outcome.
type WorkflowPostponed interface {
	OnWorkflowPostponed(ctx context.Context, inst *workflow.Instance, err error) error
}

// WorkflowHalted is called when an instance reaches Halted.
type WorkflowHalted interface {
	OnWorkflowHalted(ctx context.Context, inst *workflow.Instance, err error) error
}

// WorkflowFailed is called when an instance reaches Failed.
type WorkflowFailed interface {
	OnWorkflowFailed(ctx context.Context, inst *workflow.Instance, err error) error
}

// WorkflowCancelled is called when an instance reaches Cancelled.
type WorkflowCancelled interface {
	OnWorkflowCancelled(ctx context.Context, inst *workflow.Instance) error
}

// ──────────────────────────────────────────────────
// Activity lifecycle hooks
// ──────────────────────────────────────────────────

// ActivityStarted is called before an activity's method runs. It is not
// called for memoized results.
type ActivityStarted interface {
	OnActivityStarted(ctx context.Context, a *activity.Instance, title string) error
}

// ActivityCompleted is called after an activity reaches Success.
type ActivityCompleted interface {
	OnActivityCompleted(ctx context.Context, a *activity.Instance, title string, elapsed time.Duration) error
}

// ActivityPostponed is called when an activity waits on an external event.
type ActivityPostponed interface {
	OnActivityPostponed(ctx context.Context, a *activity.Instance, title string, err error) error
}

// ActivityFailed is called after an activity reaches Failed.
type ActivityFailed interface {
	OnActivityFailed(ctx context.Context, a *activity.Instance, title string, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// MaintenanceRan is called after a maintenance task ran. affected counts
// the rows the task reclaimed or purged.
type MaintenanceRan interface {
	OnMaintenanceRan(ctx context.Context, task string, affected int64, err error) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
