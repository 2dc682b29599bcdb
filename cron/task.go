package cron

import "context"

// Task is a maintenance job.
type Task struct {
	// Name identifies the task and its lock.
	Name string

	// Schedule is a cron expression (e.g. "*/5 * * * *" or "@every 30s").
	Schedule string

	// Run performs the task and reports how many rows it affected.
	Run func(ctx context.Context) (int64, error)
}
