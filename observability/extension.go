package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/ext"
	"github.com/nexus-link/durable/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*MetricsExtension)(nil)
	_ ext.WorkflowStarted   = (*MetricsExtension)(nil)
	_ ext.WorkflowCompleted = (*MetricsExtension)(nil)
	_ ext.WorkflowPostponed = (*MetricsExtension)(nil)
	_ ext.WorkflowHalted    = (*MetricsExtension)(nil)
	_ ext.WorkflowFailed    = (*MetricsExtension)(nil)
	_ ext.WorkflowCancelled = (*MetricsExtension)(nil)
	_ ext.ActivityCompleted = (*MetricsExtension)(nil)
	_ ext.ActivityPostponed = (*MetricsExtension)(nil)
	_ ext.ActivityFailed    = (*MetricsExtension)(nil)
	_ ext.MaintenanceRan    = (*MetricsExtension)(nil)
)

const meterName = "github.com/nexus-link/durable/observability"

// MetricsExtension records system-wide lifecycle metrics. Register it as
// an engine extension to track workflow outcomes, activity outcomes and
// maintenance runs.
type MetricsExtension struct {
	WorkflowStarted   metric.Int64Counter
	WorkflowCompleted metric.Int64Counter
	WorkflowPostponed metric.Int64Counter
	WorkflowHalted    metric.Int64Counter
	WorkflowFailed    metric.Int64Counter
	WorkflowCancelled metric.Int64Counter
	WorkflowDuration  metric.Float64Histogram
	ActivityCompleted metric.Int64Counter
	ActivityPostponed metric.Int64Counter
	ActivityFailed    metric.Int64Counter
	MaintenanceRuns   metric.Int64Counter
	MaintenanceRows   metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. On instrument errors the API hands back noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	duration, _ := meter.Float64Histogram("durable.workflow.duration",
		metric.WithDescription("Time from instance start to success in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		WorkflowStarted:   counter("durable.workflow.started", "Workflow instances that began their first pass"),
		WorkflowCompleted: counter("durable.workflow.completed", "Workflow instances that reached success"),
		WorkflowPostponed: counter("durable.workflow.postponed", "Passes that ended waiting for re-entry"),
		WorkflowHalted:    counter("durable.workflow.halted", "Workflow instances halted by an activity failure"),
		WorkflowFailed:    counter("durable.workflow.failed", "Workflow instances that failed"),
		WorkflowCancelled: counter("durable.workflow.cancelled", "Workflow instances that were cancelled"),
		WorkflowDuration:  duration,
		ActivityCompleted: counter("durable.activity.completed", "Activity instances that reached success"),
		ActivityPostponed: counter("durable.activity.postponed", "Activity invocations waiting on an external event"),
		ActivityFailed:    counter("durable.activity.failed", "Activity instances that failed"),
		MaintenanceRuns:   counter("durable.maintenance.runs", "Maintenance task runs"),
		MaintenanceRows:   counter("durable.maintenance.rows", "Rows reclaimed or purged by maintenance"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Workflow lifecycle hooks ────────────────────────

// OnWorkflowStarted implements ext.WorkflowStarted.
func (m *MetricsExtension) OnWorkflowStarted(ctx context.Context, _ *workflow.Instance) error {
	m.WorkflowStarted.Add(ctx, 1)
	return nil
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (m *MetricsExtension) OnWorkflowCompleted(ctx context.Context, _ *workflow.Instance, elapsed time.Duration) error {
	m.WorkflowCompleted.Add(ctx, 1)
	m.WorkflowDuration.Record(ctx, elapsed.Seconds())
	return nil
}

// OnWorkflowPostponed implements ext.WorkflowPostponed.
func (m *MetricsExtension) OnWorkflowPostponed(ctx context.Context, _ *workflow.Instance, _ error) error {
	m.WorkflowPostponed.Add(ctx, 1)
	return nil
}

// OnWorkflowHalted implements ext.WorkflowHalted.
func (m *MetricsExtension) OnWorkflowHalted(ctx context.Context, _ *workflow.Instance, _ error) error {
	m.WorkflowHalted.Add(ctx, 1)
	return nil
}

// OnWorkflowFailed implements ext.WorkflowFailed.
func (m *MetricsExtension) OnWorkflowFailed(ctx context.Context, _ *workflow.Instance, _ error) error {
	m.WorkflowFailed.Add(ctx, 1)
	return nil
}

// OnWorkflowCancelled implements ext.WorkflowCancelled.
func (m *MetricsExtension) OnWorkflowCancelled(ctx context.Context, _ *workflow.Instance) error {
	m.WorkflowCancelled.Add(ctx, 1)
	return nil
}

// ── Activity lifecycle hooks ────────────────────────

// OnActivityCompleted implements ext.ActivityCompleted.
func (m *MetricsExtension) OnActivityCompleted(ctx context.Context, _ *activity.Instance, title string, _ time.Duration) error {
	m.ActivityCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("activity", title)))
	return nil
}

// OnActivityPostponed implements ext.ActivityPostponed.
func (m *MetricsExtension) OnActivityPostponed(ctx context.Context, _ *activity.Instance, title string, _ error) error {
	m.ActivityPostponed.Add(ctx, 1, metric.WithAttributes(attribute.String("activity", title)))
	return nil
}

// OnActivityFailed implements ext.ActivityFailed.
func (m *MetricsExtension) OnActivityFailed(ctx context.Context, a *activity.Instance, title string, _ error) error {
	m.ActivityFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("activity", title),
		attribute.String("category", string(a.ExceptionCategory)),
	))
	return nil
}

// ── Maintenance hooks ───────────────────────────────

// OnMaintenanceRan implements ext.MaintenanceRan.
func (m *MetricsExtension) OnMaintenanceRan(ctx context.Context, task string, affected int64, taskErr error) error {
	outcome := "ok"
	if taskErr != nil {
		outcome = "error"
	}
	m.MaintenanceRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task", task),
		attribute.String("outcome", outcome),
	))
	if affected > 0 {
		m.MaintenanceRows.Add(ctx, affected, metric.WithAttributes(attribute.String("task", task)))
	}
	return nil
}
