package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs activity start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, info *Info, next Handler) error {
		logger.Debug("activity started",
			slog.String("activity", info.Title),
			slog.String("activity_instance_id", info.ActivityInstanceID.String()),
			slog.String("workflow_instance_id", info.WorkflowInstanceID.String()),
			slog.Int("attempt", info.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		switch Outcome(err) {
		case "ok":
			logger.Info("activity completed",
				slog.String("activity", info.Title),
				slog.String("activity_instance_id", info.ActivityInstanceID.String()),
				slog.Duration("elapsed", elapsed),
			)
		case "postponed":
			logger.Debug("activity postponed",
				slog.String("activity", info.Title),
				slog.String("activity_instance_id", info.ActivityInstanceID.String()),
				slog.Duration("elapsed", elapsed),
			)
		default:
			logger.Warn("activity failed",
				slog.String("activity", info.Title),
				slog.String("activity_instance_id", info.ActivityInstanceID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		}

		return err
	}
}
