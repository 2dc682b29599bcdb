package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/asyncreq"
	"github.com/nexus-link/durable/id"
)

const requestColumns = `id, workflow_instance_id, state, run_at, attempts, last_error, created_at, updated_at`

func scanRequest(row pgx.Row) (*asyncreq.Request, error) {
	r := new(asyncreq.Request)
	var state string
	if err := row.Scan(&r.ID, &r.WorkflowInstanceID, &state, &r.RunAt, &r.Attempts, &r.LastError, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.State = asyncreq.State(state)
	return r, nil
}

func collectRequests(rows pgx.Rows) ([]*asyncreq.Request, error) {
	defer rows.Close()
	var out []*asyncreq.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("durable/postgres: scan request row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate request rows", err)
	}
	return out, nil
}

// UpsertRequest schedules a re-entry, reusing the instance's existing row.
// A pending row keeps the earlier run_at; a failed row starts over.
func (s *Store) UpsertRequest(ctx context.Context, req *asyncreq.Request) error {
	r, err := scanRequest(s.pool.QueryRow(ctx, `
		INSERT INTO durable_async_requests (`+requestColumns+`)
		VALUES ($1, $2, 'pending', $3, 0, '', $4, $5)
		ON CONFLICT (workflow_instance_id) DO UPDATE SET
			run_at = CASE
				WHEN durable_async_requests.state = 'pending'
					THEN LEAST(durable_async_requests.run_at, EXCLUDED.run_at)
				ELSE EXCLUDED.run_at
			END,
			attempts = CASE
				WHEN durable_async_requests.state = 'failed' THEN 0
				ELSE durable_async_requests.attempts
			END,
			last_error = CASE
				WHEN durable_async_requests.state = 'failed' THEN ''
				ELSE durable_async_requests.last_error
			END,
			state = 'pending',
			updated_at = EXCLUDED.updated_at
		RETURNING `+requestColumns,
		req.ID, req.WorkflowInstanceID, req.RunAt, req.CreatedAt, req.UpdatedAt,
	))
	if err != nil {
		return wrap("upsert request", err)
	}
	*req = *r
	return nil
}

// GetRequest retrieves a request by ID.
func (s *Store) GetRequest(ctx context.Context, requestID id.ID) (*asyncreq.Request, error) {
	r, err := scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM durable_async_requests WHERE id = $1`, requestID))
	if err != nil {
		if isNoRows(err) {
			return nil, durable.ErrRequestNotFound
		}
		return nil, wrap("get request", err)
	}
	return r, nil
}

// GetRequestByInstance retrieves the request of a workflow instance.
func (s *Store) GetRequestByInstance(ctx context.Context, workflowInstanceID id.ID) (*asyncreq.Request, error) {
	r, err := scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM durable_async_requests WHERE workflow_instance_id = $1`, workflowInstanceID))
	if err != nil {
		if isNoRows(err) {
			return nil, durable.ErrRequestNotFound
		}
		return nil, wrap("get request by instance", err)
	}
	return r, nil
}

// DequeueRequests atomically claims up to limit due pending requests,
// sets them to running, and returns them. Uses SELECT FOR UPDATE SKIP
// LOCKED for concurrent-safe dequeue.
func (s *Store) DequeueRequests(ctx context.Context, now time.Time, limit int) ([]*asyncreq.Request, error) {
	rows, err := s.pool.Query(ctx, `
		WITH dequeued AS (
			UPDATE durable_async_requests
			SET state = 'running', updated_at = $1
			WHERE id IN (
				SELECT id FROM durable_async_requests
				WHERE state = 'pending' AND run_at <= $1
				ORDER BY run_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+requestColumns+`
		)
		SELECT * FROM dequeued ORDER BY run_at ASC`,
		now, limit,
	)
	if err != nil {
		return nil, wrap("dequeue requests", err)
	}
	return collectRequests(rows)
}

// UpdateRequest persists changes to a request.
func (s *Store) UpdateRequest(ctx context.Context, req *asyncreq.Request) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE durable_async_requests
		SET state = $2, run_at = $3, attempts = $4, last_error = $5, updated_at = $6
		WHERE id = $1`,
		req.ID, string(req.State), req.RunAt, req.Attempts, req.LastError, req.UpdatedAt,
	)
	if err != nil {
		return wrap("update request", err)
	}
	if tag.RowsAffected() == 0 {
		return durable.ErrRequestNotFound
	}
	return nil
}

// DeleteRequest removes a request.
func (s *Store) DeleteRequest(ctx context.Context, requestID id.ID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM durable_async_requests WHERE id = $1`, requestID)
	if err != nil {
		return wrap("delete request", err)
	}
	if tag.RowsAffected() == 0 {
		return durable.ErrRequestNotFound
	}
	return nil
}

// ListRequests returns requests matching opts ordered by RunAt.
func (s *Store) ListRequests(ctx context.Context, opts asyncreq.ListOpts) ([]*asyncreq.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM durable_async_requests`
	var args []any
	if opts.State != "" {
		query += ` WHERE state = $1`
		args = append(args, string(opts.State))
	}
	query += ` ORDER BY run_at ASC`
	tail, args := limitOffset(opts.Limit, opts.Offset, len(args), args)

	rows, err := s.pool.Query(ctx, query+tail, args...)
	if err != nil {
		return nil, wrap("list requests", err)
	}
	return collectRequests(rows)
}
