package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/ext"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*Extension)(nil)
	_ ext.WorkflowStarted   = (*Extension)(nil)
	_ ext.WorkflowCompleted = (*Extension)(nil)
	_ ext.WorkflowPostponed = (*Extension)(nil)
	_ ext.WorkflowHalted    = (*Extension)(nil)
	_ ext.WorkflowFailed    = (*Extension)(nil)
	_ ext.WorkflowCancelled = (*Extension)(nil)
	_ ext.ActivityStarted   = (*Extension)(nil)
	_ ext.ActivityCompleted = (*Extension)(nil)
	_ ext.ActivityPostponed = (*Extension)(nil)
	_ ext.ActivityFailed    = (*Extension)(nil)
	_ ext.MaintenanceRan    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one lifecycle transition.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID         string         `json:"resource_id,omitempty"`
	WorkflowInstanceID id.ID          `json:"workflow_instance_id,omitempty"`
	ActivityInstanceID id.ID          `json:"activity_instance_id,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	Outcome            string         `json:"outcome"`
	Severity           string         `json:"severity"`
	Reason             string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomePending = "pending"
	OutcomeFailure = "failure"
)

// Extension bridges engine lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Workflow lifecycle hooks ────────────────────────

// OnWorkflowStarted implements ext.WorkflowStarted.
func (e *Extension) OnWorkflowStarted(ctx context.Context, inst *workflow.Instance) error {
	return e.recordWorkflow(ctx, ActionWorkflowStarted, SeverityInfo, OutcomeSuccess, inst, nil)
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (e *Extension) OnWorkflowCompleted(ctx context.Context, inst *workflow.Instance, elapsed time.Duration) error {
	return e.recordWorkflow(ctx, ActionWorkflowCompleted, SeverityInfo, OutcomeSuccess, inst, nil,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnWorkflowPostponed implements ext.WorkflowPostponed.
func (e *Extension) OnWorkflowPostponed(ctx context.Context, inst *workflow.Instance, cause error) error {
	return e.recordWorkflow(ctx, ActionWorkflowPostponed, SeverityInfo, OutcomePending, inst, cause)
}

// OnWorkflowHalted implements ext.WorkflowHalted.
func (e *Extension) OnWorkflowHalted(ctx context.Context, inst *workflow.Instance, cause error) error {
	return e.recordWorkflow(ctx, ActionWorkflowHalted, SeverityWarning, OutcomeFailure, inst, cause)
}

// OnWorkflowFailed implements ext.WorkflowFailed.
func (e *Extension) OnWorkflowFailed(ctx context.Context, inst *workflow.Instance, cause error) error {
	return e.recordWorkflow(ctx, ActionWorkflowFailed, SeverityCritical, OutcomeFailure, inst, cause)
}

// OnWorkflowCancelled implements ext.WorkflowCancelled.
func (e *Extension) OnWorkflowCancelled(ctx context.Context, inst *workflow.Instance) error {
	return e.recordWorkflow(ctx, ActionWorkflowCancelled, SeverityWarning, OutcomeFailure, inst, nil)
}

// ── Activity lifecycle hooks ────────────────────────

// OnActivityStarted implements ext.ActivityStarted.
func (e *Extension) OnActivityStarted(ctx context.Context, a *activity.Instance, title string) error {
	return e.recordActivity(ctx, ActionActivityStarted, SeverityInfo, OutcomeSuccess, a, title, nil)
}

// OnActivityCompleted implements ext.ActivityCompleted.
func (e *Extension) OnActivityCompleted(ctx context.Context, a *activity.Instance, title string, elapsed time.Duration) error {
	return e.recordActivity(ctx, ActionActivityCompleted, SeverityInfo, OutcomeSuccess, a, title, nil,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnActivityPostponed implements ext.ActivityPostponed.
func (e *Extension) OnActivityPostponed(ctx context.Context, a *activity.Instance, title string, cause error) error {
	return e.recordActivity(ctx, ActionActivityPostponed, SeverityInfo, OutcomePending, a, title, cause)
}

// OnActivityFailed implements ext.ActivityFailed.
func (e *Extension) OnActivityFailed(ctx context.Context, a *activity.Instance, title string, cause error) error {
	return e.recordActivity(ctx, ActionActivityFailed, SeverityCritical, OutcomeFailure, a, title, cause,
		"category", string(a.ExceptionCategory),
	)
}

// ── Maintenance hooks ───────────────────────────────

// OnMaintenanceRan implements ext.MaintenanceRan.
func (e *Extension) OnMaintenanceRan(ctx context.Context, task string, affected int64, taskErr error) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	if taskErr != nil {
		severity, outcome = SeverityWarning, OutcomeFailure
	}
	return e.record(ctx, &AuditEvent{
		Action:     ActionMaintenanceRan,
		Resource:   ResourceMaintenance,
		Category:   CategoryMaintenance,
		ResourceID: task,
		Outcome:    outcome,
		Severity:   severity,
	}, taskErr, "affected", affected)
}

// ── Internal helpers ────────────────────────────────

func (e *Extension) recordWorkflow(
	ctx context.Context,
	action, severity, outcome string,
	inst *workflow.Instance,
	err error,
	kvPairs ...any,
) error {
	return e.record(ctx, &AuditEvent{
		Action:             action,
		Resource:           ResourceWorkflow,
		Category:           CategoryWorkflow,
		ResourceID:         inst.ID.String(),
		WorkflowInstanceID: inst.ID,
		Outcome:            outcome,
		Severity:           severity,
	}, err, append([]any{"title", inst.Title, "state", string(inst.State)}, kvPairs...)...)
}

func (e *Extension) recordActivity(
	ctx context.Context,
	action, severity, outcome string,
	a *activity.Instance,
	title string,
	err error,
	kvPairs ...any,
) error {
	return e.record(ctx, &AuditEvent{
		Action:             action,
		Resource:           ResourceActivity,
		Category:           CategoryActivity,
		ResourceID:         a.ID.String(),
		WorkflowInstanceID: a.WorkflowInstanceID,
		ActivityInstanceID: a.ID,
		Outcome:            outcome,
		Severity:           severity,
	}, err, append([]any{"title", title, "iteration", a.Iteration}, kvPairs...)...)
}

// record fills Metadata and Reason and sends the event if the action is
// enabled. The kvPairs argument is a list of key-value pairs.
func (e *Extension) record(ctx context.Context, evt *AuditEvent, err error, kvPairs ...any) error {
	if e.enabled != nil && !e.enabled[evt.Action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}
	if err != nil {
		evt.Reason = err.Error()
		meta["error"] = err.Error()
	}
	evt.Metadata = meta

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", evt.Action,
			"resource_id", evt.ResourceID,
			"error", recErr,
		)
	}
	return nil
}
