// Package ext defines the extension system for the durable engine.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, journaling, alerting on halted workflows, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnWorkflowHalted(ctx context.Context, inst *workflow.Instance, err error) error {
//	    log.Printf("workflow %s halted: %v", inst.ID, err)
//	    return nil
//	}
//
// # Workflow Lifecycle Hooks
//
//   - [WorkflowStarted]: the first pass over an instance began
//   - [WorkflowCompleted]: the workflow function returned
//   - [WorkflowPostponed]: a pass ended waiting for re-entry
//   - [WorkflowHalted]: an activity failure parked the instance
//   - [WorkflowFailed]: the instance failed terminally
//   - [WorkflowCancelled]: the instance was cancelled
//
// # Activity Lifecycle Hooks
//
//   - [ActivityStarted]: an activity's method is about to run
//   - [ActivityCompleted]: the method returned a result
//   - [ActivityPostponed]: the method is waiting on an external event
//   - [ActivityFailed]: the method failed
//
// # Other Hooks
//
//   - [MaintenanceRan]: a maintenance task finished
//   - [Shutdown]: the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never affect the workflow.
package ext
