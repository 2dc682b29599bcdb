package store

import (
	"context"

	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/asyncreq"
	"github.com/nexus-link/durable/journal"
	"github.com/nexus-link/durable/semaphore"
	"github.com/nexus-link/durable/workflow"
)

// Store is the aggregate persistence interface.
type Store interface {
	workflow.Store
	activity.Store
	semaphore.Store
	journal.Store
	asyncreq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
