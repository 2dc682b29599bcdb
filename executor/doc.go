// Package executor runs workflow instances by replay.
//
// A pass calls the workflow function from its first statement. Every
// activity call inside it resolves its activity instance by memoization
// key: a Success instance returns its stored result without running user
// code, anything else runs the user method and records the outcome. The
// pass ends when the function returns, fails, or postpones; no goroutine
// waits between passes.
//
// Activities are called through package functions that take a Scope:
//
//	func ship(wf *executor.Workflow, order Order) (Receipt, error) {
//	    id, err := executor.Function(wf, "reserve stock", func(ctx context.Context, a *executor.Activity) (string, error) {
//	        return inventory.Reserve(ctx, order.Items)
//	    })
//	    if err != nil {
//	        return Receipt{}, err
//	    }
//	    return executor.Function(wf, "create shipment", func(ctx context.Context, a *executor.Activity) (Receipt, error) {
//	        return carrier.Ship(ctx, id)
//	    }, executor.WithFailUrgency(activity.UrgencyCancelWorkflow))
//	}
//
// Container activities (ForEachSequential, ForEachParallel, If, Lock,
// Throttle) hand their body an *Activity scope; activities called on it
// are nested under the container and keyed by the loop iteration.
package executor
