package middleware

import (
	"context"
	"log/slog"
)

// Timeout returns middleware that enforces Info.Timeout. When the deadline
// passes the method context is cancelled; the method should return
// context.DeadlineExceeded.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, info *Info, next Handler) error {
		if info.Timeout > 0 {
			logger.Debug("activity timeout set",
				slog.String("activity_instance_id", info.ActivityInstanceID.String()),
				slog.Duration("timeout", info.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, info.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
