package durable

import "errors"

var (
	// Store errors.
	ErrNoStore          = errors.New("durable: no store configured")
	ErrStoreUnavailable = errors.New("durable: store unavailable")
	ErrMigrationFailed  = errors.New("durable: migration failed")

	// Not found errors.
	ErrFormNotFound         = errors.New("durable: workflow form not found")
	ErrVersionNotFound      = errors.New("durable: workflow version not found")
	ErrInstanceNotFound     = errors.New("durable: workflow instance not found")
	ErrActivityNotFound     = errors.New("durable: activity not found")
	ErrSemaphoreNotFound    = errors.New("durable: semaphore not found")
	ErrQueueEntryNotFound   = errors.New("durable: semaphore queue entry not found")
	ErrSummaryNotFound      = errors.New("durable: workflow summary not found")
	ErrRequestNotFound      = errors.New("durable: async request not found")
	ErrDefinitionNotFound   = errors.New("durable: workflow definition not found")
	ErrLogNotFound          = errors.New("durable: log entry not found")
	ErrMaintenanceTaskExist = errors.New("durable: maintenance task already registered")

	// Conflict errors.
	ErrConflict      = errors.New("durable: etag conflict")
	ErrAlreadyExists = errors.New("durable: already exists")

	// Coordination errors.
	ErrLockTaken        = errors.New("durable: lock taken")
	ErrLockNotHeld      = errors.New("durable: lock not held")
	ErrSemaphoreExpired = errors.New("durable: semaphore holder expired")

	// State errors.
	ErrInvalidState = errors.New("durable: invalid state transition")
)
