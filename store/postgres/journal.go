package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/journal"
)

// CreateLog appends an entry.
func (s *Store) CreateLog(ctx context.Context, e *journal.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO durable_logs (id, workflow_instance_id, activity_instance_id, severity, message, data, time_stamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.WorkflowInstanceID, e.ActivityInstanceID, int(e.Severity), e.Message, e.Data, e.TimeStamp,
	)
	if err != nil {
		return wrap("create log", err)
	}
	return nil
}

// ListLogs returns the entries of a workflow instance oldest first.
func (s *Store) ListLogs(ctx context.Context, workflowInstanceID id.ID, opts journal.ListOpts) ([]*journal.Entry, error) {
	query := `SELECT id, workflow_instance_id, activity_instance_id, severity, message, data, time_stamp
		FROM durable_logs WHERE workflow_instance_id = $1 AND severity >= $2`
	args := []any{workflowInstanceID, int(opts.MinSeverity)}
	if !opts.ActivityInstanceID.IsNil() {
		query += ` AND activity_instance_id = $3`
		args = append(args, opts.ActivityInstanceID)
	}
	query += ` ORDER BY time_stamp ASC, id ASC`
	tail, args := limitOffset(opts.Limit, opts.Offset, len(args), args)

	rows, err := s.pool.Query(ctx, query+tail, args...)
	if err != nil {
		return nil, wrap("list logs", err)
	}
	defer rows.Close()

	var out []*journal.Entry
	for rows.Next() {
		e := new(journal.Entry)
		var sev int
		if err := rows.Scan(&e.ID, &e.WorkflowInstanceID, &e.ActivityInstanceID, &sev, &e.Message, &e.Data, &e.TimeStamp); err != nil {
			return nil, fmt.Errorf("durable/postgres: scan log row: %w", err)
		}
		e.Severity = journal.Severity(sev)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate log rows", err)
	}
	return out, nil
}

// PurgeLogs removes entries older than before.
func (s *Store) PurgeLogs(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM durable_logs WHERE time_stamp < $1`, before)
	if err != nil {
		return 0, wrap("purge logs", err)
	}
	return tag.RowsAffected(), nil
}
