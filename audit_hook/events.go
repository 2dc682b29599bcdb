package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionWorkflowStarted   = "workflow.started"
	ActionWorkflowCompleted = "workflow.completed"
	ActionWorkflowPostponed = "workflow.postponed"
	ActionWorkflowHalted    = "workflow.halted"
	ActionWorkflowFailed    = "workflow.failed"
	ActionWorkflowCancelled = "workflow.cancelled"
	ActionActivityStarted   = "activity.started"
	ActionActivityCompleted = "activity.completed"
	ActionActivityPostponed = "activity.postponed"
	ActionActivityFailed    = "activity.failed"
	ActionMaintenanceRan    = "maintenance.ran"
)

// Audit event categories group related actions.
const (
	CategoryWorkflow    = "durable.workflow"
	CategoryActivity    = "durable.activity"
	CategoryMaintenance = "durable.maintenance"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceWorkflow    = "workflow_instance"
	ResourceActivity    = "activity_instance"
	ResourceMaintenance = "maintenance_task"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionWorkflowStarted,
		ActionWorkflowCompleted,
		ActionWorkflowPostponed,
		ActionWorkflowHalted,
		ActionWorkflowFailed,
		ActionWorkflowCancelled,
		ActionActivityStarted,
		ActionActivityCompleted,
		ActionActivityPostponed,
		ActionActivityFailed,
		ActionMaintenanceRan,
	}
}
