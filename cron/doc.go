// Package cron runs engine maintenance tasks on cron schedules.
//
// Every process of a deployment may run a [Scheduler]; each firing of a
// task claims a distributed lock first, so a task runs on one process at a
// time. A firing that finds the lock taken is skipped.
//
// # Tasks
//
// A [Task] has a unique name, a schedule in standard 5-field cron syntax or
// a descriptor such as "@every 1m", and a function reporting how many rows
// it affected:
//
//	s.Register(cron.Task{
//	    Name:     "reclaim-semaphores",
//	    Schedule: "@every 1m",
//	    Run: func(ctx context.Context) (int64, error) {
//	        n, err := sems.ReclaimExpired(ctx)
//	        return int64(n), err
//	    },
//	})
//
// The [Emitter] is notified after every run; ext.Registry satisfies it.
package cron
