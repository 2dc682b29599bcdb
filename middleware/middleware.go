package middleware

import (
	"context"
	"time"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/id"
)

// Info describes the activity invocation being wrapped.
type Info struct {
	WorkflowInstanceID id.ID
	ActivityInstanceID id.ID
	Title              string
	Type               activity.Type
	Iteration          int
	// Attempt is 1 for the first invocation of the activity instance.
	Attempt int
	// Timeout bounds this invocation. Zero means no bound.
	Timeout time.Duration
}

// Handler is the terminal function that runs the activity's user method.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the invocation being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, info *Info, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, info *Info, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, info, prev)
			}
		}
		return h(ctx)
	}
}

// Outcome names the result of an invocation for logs, spans and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case durable.IsPostponement(err):
		return "postponed"
	default:
		return "error"
	}
}
