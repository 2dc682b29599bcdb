package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/semaphore"
)

// ──────────────────────────────────────────────────
// Semaphores
// ──────────────────────────────────────────────────

// CreateSemaphore persists a new semaphore.
func (s *Store) CreateSemaphore(ctx context.Context, sem *semaphore.Semaphore) error {
	etag := newEtag()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO durable_semaphores (id, workflow_form_id, resource_identifier, limit_count, etag)
		VALUES ($1, $2, $3, $4, $5)`,
		sem.ID, sem.WorkflowFormID, sem.ResourceIdentifier, sem.Limit, etag,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return durable.ErrAlreadyExists
		}
		return wrap("create semaphore", err)
	}
	sem.Etag = etag
	return nil
}

const semaphoreColumns = `id, workflow_form_id, resource_identifier, limit_count, etag`

func scanSemaphore(row pgx.Row) (*semaphore.Semaphore, error) {
	sem := new(semaphore.Semaphore)
	if err := row.Scan(&sem.ID, &sem.WorkflowFormID, &sem.ResourceIdentifier, &sem.Limit, &sem.Etag); err != nil {
		return nil, err
	}
	return sem, nil
}

// GetSemaphore retrieves a semaphore by ID.
func (s *Store) GetSemaphore(ctx context.Context, semaphoreID id.ID) (*semaphore.Semaphore, error) {
	sem, err := scanSemaphore(s.pool.QueryRow(ctx,
		`SELECT `+semaphoreColumns+` FROM durable_semaphores WHERE id = $1`, semaphoreID))
	if err != nil {
		if isNoRows(err) {
			return nil, durable.ErrSemaphoreNotFound
		}
		return nil, wrap("get semaphore", err)
	}
	return sem, nil
}

// FindSemaphore retrieves a semaphore by form and resource identifier.
func (s *Store) FindSemaphore(ctx context.Context, workflowFormID id.ID, resource string) (*semaphore.Semaphore, error) {
	sem, err := scanSemaphore(s.pool.QueryRow(ctx,
		`SELECT `+semaphoreColumns+` FROM durable_semaphores
		WHERE workflow_form_id = $1 AND resource_identifier = $2`,
		workflowFormID, resource))
	if err != nil {
		if isNoRows(err) {
			return nil, durable.ErrSemaphoreNotFound
		}
		return nil, wrap("find semaphore", err)
	}
	return sem, nil
}

// UpdateSemaphore persists a changed limit.
func (s *Store) UpdateSemaphore(ctx context.Context, sem *semaphore.Semaphore) error {
	etag := newEtag()
	tag, err := s.pool.Exec(ctx, `
		UPDATE durable_semaphores SET limit_count = $3, etag = $4
		WHERE id = $1 AND etag = $2`,
		sem.ID, sem.Etag, sem.Limit, etag,
	)
	if err != nil {
		return wrap("update semaphore", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, "durable_semaphores", sem.ID, durable.ErrSemaphoreNotFound)
	}
	sem.Etag = etag
	return nil
}

// ──────────────────────────────────────────────────
// Semaphore queue
// ──────────────────────────────────────────────────

const queueColumns = `id, semaphore_id, workflow_instance_id, raised, raised_at, expires_at, lease, created_at`

func scanQueueEntry(row pgx.Row) (*semaphore.QueueEntry, error) {
	e := new(semaphore.QueueEntry)
	var lease int64
	if err := row.Scan(&e.ID, &e.SemaphoreID, &e.WorkflowInstanceID, &e.Raised, &e.RaisedAt, &e.ExpiresAt, &lease, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Lease = time.Duration(lease)
	return e, nil
}

func collectQueueEntries(rows pgx.Rows) ([]*semaphore.QueueEntry, error) {
	defer rows.Close()
	var out []*semaphore.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("durable/postgres: scan queue row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate queue rows", err)
	}
	return out, nil
}

// CreateQueueEntry persists a new holder or waiter.
func (s *Store) CreateQueueEntry(ctx context.Context, e *semaphore.QueueEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO durable_semaphore_queue (`+queueColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.SemaphoreID, e.WorkflowInstanceID, e.Raised, e.RaisedAt, e.ExpiresAt, e.Lease.Nanoseconds(), e.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return durable.ErrAlreadyExists
		}
		return wrap("create queue entry", err)
	}
	return nil
}

// GetQueueEntry retrieves a queue entry by ID.
func (s *Store) GetQueueEntry(ctx context.Context, entryID id.ID) (*semaphore.QueueEntry, error) {
	e, err := scanQueueEntry(s.pool.QueryRow(ctx,
		`SELECT `+queueColumns+` FROM durable_semaphore_queue WHERE id = $1`, entryID))
	if err != nil {
		if isNoRows(err) {
			return nil, durable.ErrQueueEntryNotFound
		}
		return nil, wrap("get queue entry", err)
	}
	return e, nil
}

// UpdateQueueEntry persists a changed queue entry.
func (s *Store) UpdateQueueEntry(ctx context.Context, e *semaphore.QueueEntry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE durable_semaphore_queue
		SET raised = $2, raised_at = $3, expires_at = $4, lease = $5
		WHERE id = $1`,
		e.ID, e.Raised, e.RaisedAt, e.ExpiresAt, e.Lease.Nanoseconds(),
	)
	if err != nil {
		return wrap("update queue entry", err)
	}
	if tag.RowsAffected() == 0 {
		return durable.ErrQueueEntryNotFound
	}
	return nil
}

// DeleteQueueEntry removes a queue entry.
func (s *Store) DeleteQueueEntry(ctx context.Context, entryID id.ID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM durable_semaphore_queue WHERE id = $1`, entryID)
	if err != nil {
		return wrap("delete queue entry", err)
	}
	if tag.RowsAffected() == 0 {
		return durable.ErrQueueEntryNotFound
	}
	return nil
}

// ListQueueEntries returns the entries of a semaphore in arrival order.
func (s *Store) ListQueueEntries(ctx context.Context, semaphoreID id.ID) ([]*semaphore.QueueEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+queueColumns+` FROM durable_semaphore_queue
		WHERE semaphore_id = $1 ORDER BY created_at ASC, id ASC`, semaphoreID)
	if err != nil {
		return nil, wrap("list queue entries", err)
	}
	return collectQueueEntries(rows)
}

// ListQueueEntriesByInstance returns every entry of a workflow instance.
func (s *Store) ListQueueEntriesByInstance(ctx context.Context, workflowInstanceID id.ID) ([]*semaphore.QueueEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+queueColumns+` FROM durable_semaphore_queue
		WHERE workflow_instance_id = $1 ORDER BY created_at ASC, id ASC`, workflowInstanceID)
	if err != nil {
		return nil, wrap("list queue entries by instance", err)
	}
	return collectQueueEntries(rows)
}

// ListExpiredHolders returns raised entries whose lease ended before now.
func (s *Store) ListExpiredHolders(ctx context.Context, now time.Time) ([]*semaphore.QueueEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+queueColumns+` FROM durable_semaphore_queue
		WHERE raised AND expires_at <= $1 ORDER BY created_at ASC, id ASC`, now)
	if err != nil {
		return nil, wrap("list expired holders", err)
	}
	return collectQueueEntries(rows)
}
