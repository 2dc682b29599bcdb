// Package middleware provides composable middleware for activity
// invocations.
//
// A [Middleware] wraps the call of an activity's user method. It runs only
// when the method really executes: memoized results returned during replay
// bypass the chain. Middleware are composed with [Chain] and applied
// right-to-left: the first middleware in the slice is the outermost
// wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs activity title, instance, duration, and outcome
//   - [Recover]: catches panics and converts them to errors
//   - [Timeout]: cancels the method context after Info.Timeout
//   - [Tracing]: wraps the invocation in an OpenTelemetry span
//   - [Metrics]: records per-activity duration and outcome counters
//
// A postponement returned by the method is not a failure: Logging, Tracing
// and Metrics report it with the outcome "postponed".
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, info *middleware.Info, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
