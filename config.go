package durable

import "time"

// Config holds engine-wide tuning.
type Config struct {
	// LockLease is how long a pass holds the instance lock before another
	// process may claim it.
	LockLease time.Duration

	// SaveMargin is carved off the caller's deadline so that user code is
	// cancelled early enough to leave room for the final save.
	SaveMargin time.Duration

	// SaveTimeout bounds the final, non-cancellable save of a pass.
	SaveTimeout time.Duration

	// SemaphoreExpiration is the default lease of a raised semaphore.
	SemaphoreExpiration time.Duration

	// PostponeRetryAfter is the re-entry delay used when a postponement
	// carries no hint of its own.
	PostponeRetryAfter time.Duration

	// JournalThreshold is the lowest severity written to the journal.
	JournalThreshold string

	// ReentryPollInterval is how often the re-entry pool polls for due
	// requests.
	ReentryPollInterval time.Duration

	// ReentryConcurrency is the number of passes the pool runs at once.
	ReentryConcurrency int

	// ReentryRateLimit caps re-entries per second. Zero disables the limit.
	ReentryRateLimit float64

	// ReentryMaxAttempts is how often a failing re-entry is retried before
	// the request is given up.
	ReentryMaxAttempts int

	// ReclaimSchedule is the cron expression of expired semaphore holder
	// reclamation. Empty disables the task.
	ReclaimSchedule string

	// JournalPurgeSchedule is the cron expression of journal purging.
	// Empty disables the task.
	JournalPurgeSchedule string

	// JournalRetention is how long journal entries are kept.
	JournalRetention time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LockLease:           2 * time.Minute,
		SaveMargin:          5 * time.Second,
		SaveTimeout:         10 * time.Second,
		SemaphoreExpiration: 5 * time.Minute,
		PostponeRetryAfter:  30 * time.Second,
		JournalThreshold:    "information",
		ReentryPollInterval: 1 * time.Second,
		ReentryConcurrency:  10,
		ReentryRateLimit:    0,
		ReentryMaxAttempts:  10,

		ReclaimSchedule:      "@every 1m",
		JournalPurgeSchedule: "@daily",
		JournalRetention:     30 * 24 * time.Hour,
	}
}
