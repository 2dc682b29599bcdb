package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, info *Info, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("activity panicked",
					slog.String("activity", info.Title),
					slog.String("activity_instance_id", info.ActivityInstanceID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in activity %s: %v", info.Title, r)
			}
		}()
		return next(ctx)
	}
}
