package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/workflow"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

func add[H any](list []entry[H], e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(list, entry[H]{name: e.Name(), hook: h})
	}
	return list
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	workflowStarted   []entry[WorkflowStarted]
	workflowCompleted []entry[WorkflowCompleted]
	workflowPostponed []entry[WorkflowPostponed]
	workflowHalted    []entry[WorkflowHalted]
	workflowFailed    []entry[WorkflowFailed]
	workflowCancelled []entry[WorkflowCancelled]
	activityStarted   []entry[ActivityStarted]
	activityCompleted []entry[ActivityCompleted]
	activityPostponed []entry[ActivityPostponed]
	activityFailed    []entry[ActivityFailed]
	maintenanceRan    []entry[MaintenanceRan]
	shutdown          []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)

	r.workflowStarted = add(r.workflowStarted, e)
	r.workflowCompleted = add(r.workflowCompleted, e)
	r.workflowPostponed = add(r.workflowPostponed, e)
	r.workflowHalted = add(r.workflowHalted, e)
	r.workflowFailed = add(r.workflowFailed, e)
	r.workflowCancelled = add(r.workflowCancelled, e)
	r.activityStarted = add(r.activityStarted, e)
	r.activityCompleted = add(r.activityCompleted, e)
	r.activityPostponed = add(r.activityPostponed, e)
	r.activityFailed = add(r.activityFailed, e)
	r.maintenanceRan = add(r.maintenanceRan, e)
	r.shutdown = add(r.shutdown, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Workflow event emitters
// ──────────────────────────────────────────────────

// EmitWorkflowStarted notifies all extensions that implement WorkflowStarted.
func (r *Registry) EmitWorkflowStarted(ctx context.Context, inst *workflow.Instance) {
	for _, e := range r.workflowStarted {
		if err := e.hook.OnWorkflowStarted(ctx, inst); err != nil {
			r.logHookError("OnWorkflowStarted", e.name, err)
		}
	}
}

// EmitWorkflowCompleted notifies all extensions that implement WorkflowCompleted.
func (r *Registry) EmitWorkflowCompleted(ctx context.Context, inst *workflow.Instance, elapsed time.Duration) {
	for _, e := range r.workflowCompleted {
		if err := e.hook.OnWorkflowCompleted(ctx, inst, elapsed); err != nil {
			r.logHookError("OnWorkflowCompleted", e.name, err)
		}
	}
}

// EmitWorkflowPostponed notifies all extensions that implement WorkflowPostponed.
func (r *Registry) EmitWorkflowPostponed(ctx context.Context, inst *workflow.Instance, cause error) {
	for _, e := range r.workflowPostponed {
		if err := e.hook.OnWorkflowPostponed(ctx, inst, cause); err != nil {
			r.logHookError("OnWorkflowPostponed", e.name, err)
		}
	}
}

// EmitWorkflowHalted notifies all extensions that implement WorkflowHalted.
func (r *Registry) EmitWorkflowHalted(ctx context.Context, inst *workflow.Instance, cause error) {
	for _, e := range r.workflowHalted {
		if err := e.hook.OnWorkflowHalted(ctx, inst, cause); err != nil {
			r.logHookError("OnWorkflowHalted", e.name, err)
		}
	}
}

// EmitWorkflowFailed notifies all extensions that implement WorkflowFailed.
func (r *Registry) EmitWorkflowFailed(ctx context.Context, inst *workflow.Instance, cause error) {
	for _, e := range r.workflowFailed {
		if err := e.hook.OnWorkflowFailed(ctx, inst, cause); err != nil {
			r.logHookError("OnWorkflowFailed", e.name, err)
		}
	}
}

// EmitWorkflowCancelled notifies all extensions that implement WorkflowCancelled.
func (r *Registry) EmitWorkflowCancelled(ctx context.Context, inst *workflow.Instance) {
	for _, e := range r.workflowCancelled {
		if err := e.hook.OnWorkflowCancelled(ctx, inst); err != nil {
			r.logHookError("OnWorkflowCancelled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Activity event emitters
// ──────────────────────────────────────────────────

// EmitActivityStarted notifies all extensions that implement ActivityStarted.
func (r *Registry) EmitActivityStarted(ctx context.Context, a *activity.Instance, title string) {
	for _, e := range r.activityStarted {
		if err := e.hook.OnActivityStarted(ctx, a, title); err != nil {
			r.logHookError("OnActivityStarted", e.name, err)
		}
	}
}

// EmitActivityCompleted notifies all extensions that implement ActivityCompleted.
func (r *Registry) EmitActivityCompleted(ctx context.Context, a *activity.Instance, title string, elapsed time.Duration) {
	for _, e := range r.activityCompleted {
		if err := e.hook.OnActivityCompleted(ctx, a, title, elapsed); err != nil {
			r.logHookError("OnActivityCompleted", e.name, err)
		}
	}
}

// EmitActivityPostponed notifies all extensions that implement ActivityPostponed.
func (r *Registry) EmitActivityPostponed(ctx context.Context, a *activity.Instance, title string, cause error) {
	for _, e := range r.activityPostponed {
		if err := e.hook.OnActivityPostponed(ctx, a, title, cause); err != nil {
			r.logHookError("OnActivityPostponed", e.name, err)
		}
	}
}

// EmitActivityFailed notifies all extensions that implement ActivityFailed.
func (r *Registry) EmitActivityFailed(ctx context.Context, a *activity.Instance, title string, cause error) {
	for _, e := range r.activityFailed {
		if err := e.hook.OnActivityFailed(ctx, a, title, cause); err != nil {
			r.logHookError("OnActivityFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitMaintenanceRan notifies all extensions that implement MaintenanceRan.
func (r *Registry) EmitMaintenanceRan(ctx context.Context, task string, affected int64, taskErr error) {
	for _, e := range r.maintenanceRan {
		if err := e.hook.OnMaintenanceRan(ctx, task, affected, taskErr); err != nil {
			r.logHookError("OnMaintenanceRan", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
