package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/id"
)

// ──────────────────────────────────────────────────
// Activity forms and versions
// ──────────────────────────────────────────────────

// CreateActivityForm persists a new activity form.
func (s *Store) CreateActivityForm(ctx context.Context, form *activity.Form) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO durable_activity_forms (id, workflow_form_id, type, title)
		VALUES ($1, $2, $3, $4)`,
		form.ID, form.WorkflowFormID, string(form.Type), form.Title,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return durable.ErrAlreadyExists
		}
		return wrap("create activity form", err)
	}
	return nil
}

// FindActivityForm retrieves a form by workflow form and title.
func (s *Store) FindActivityForm(ctx context.Context, workflowFormID id.ID, title string) (*activity.Form, error) {
	f := new(activity.Form)
	var typ string
	err := s.pool.QueryRow(ctx, `
		SELECT id, workflow_form_id, type, title
		FROM durable_activity_forms
		WHERE workflow_form_id = $1 AND title = $2`,
		workflowFormID, title,
	).Scan(&f.ID, &f.WorkflowFormID, &typ, &f.Title)
	if err != nil {
		if isNoRows(err) {
			return nil, durable.ErrActivityNotFound
		}
		return nil, wrap("find activity form", err)
	}
	f.Type = activity.Type(typ)
	return f, nil
}

// CreateActivityVersion persists a new activity version.
func (s *Store) CreateActivityVersion(ctx context.Context, v *activity.Version) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO durable_activity_versions
			(id, workflow_version_id, activity_form_id, position, parent_activity_version_id, fail_urgency)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.WorkflowVersionID, v.ActivityFormID, v.Position, v.ParentActivityVersionID, string(v.FailUrgency),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return durable.ErrAlreadyExists
		}
		return wrap("create activity version", err)
	}
	return nil
}

const activityVersionColumns = `id, workflow_version_id, activity_form_id, position, parent_activity_version_id, fail_urgency`

func scanActivityVersion(row pgx.Row) (*activity.Version, error) {
	v := new(activity.Version)
	var urgency string
	if err := row.Scan(&v.ID, &v.WorkflowVersionID, &v.ActivityFormID, &v.Position, &v.ParentActivityVersionID, &urgency); err != nil {
		return nil, err
	}
	v.FailUrgency = activity.FailUrgency(urgency)
	return v, nil
}

// FindActivityVersion retrieves the version of an activity form within a
// workflow version.
func (s *Store) FindActivityVersion(ctx context.Context, workflowVersionID, activityFormID id.ID) (*activity.Version, error) {
	v, err := scanActivityVersion(s.pool.QueryRow(ctx,
		`SELECT `+activityVersionColumns+` FROM durable_activity_versions
		WHERE workflow_version_id = $1 AND activity_form_id = $2`,
		workflowVersionID, activityFormID))
	if err != nil {
		if isNoRows(err) {
			return nil, durable.ErrActivityNotFound
		}
		return nil, wrap("find activity version", err)
	}
	return v, nil
}

// ListActivityVersions returns the activity versions of a workflow version
// ordered by position.
func (s *Store) ListActivityVersions(ctx context.Context, workflowVersionID id.ID) ([]*activity.Version, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+activityVersionColumns+` FROM durable_activity_versions
		WHERE workflow_version_id = $1 ORDER BY position ASC`,
		workflowVersionID)
	if err != nil {
		return nil, wrap("list activity versions", err)
	}
	defer rows.Close()

	var out []*activity.Version
	for rows.Next() {
		v, scanErr := scanActivityVersion(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("durable/postgres: scan activity version row: %w", scanErr)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate activity version rows", err)
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Activity instances
// ──────────────────────────────────────────────────

const activityInstanceColumns = `id, workflow_instance_id, activity_version_id, parent_activity_instance_id,
	iteration, parent_iteration, state, result_as_json, context_dictionary,
	exception_category, exception_technical_message, exception_friendly_message,
	async_request_id, exception_alert_handled, attempts, started_at, finished_at, etag`

func scanActivityInstance(row pgx.Row) (*activity.Instance, error) {
	a := new(activity.Instance)
	var state, category string
	err := row.Scan(
		&a.ID, &a.WorkflowInstanceID, &a.ActivityVersionID, &a.ParentActivityInstanceID,
		&a.Iteration, &a.ParentIteration, &state, &a.ResultAsJSON, &a.ContextDictionary,
		&category, &a.ExceptionTechnicalMessage, &a.ExceptionFriendlyMessage,
		&a.AsyncRequestID, &a.ExceptionAlertHandled, &a.Attempts, &a.StartedAt, &a.FinishedAt, &a.Etag,
	)
	if err != nil {
		return nil, err
	}
	a.State = activity.State(state)
	a.ExceptionCategory = durable.Category(category)
	return a, nil
}

// CreateActivityInstance persists a new instance with a caller-chosen ID.
func (s *Store) CreateActivityInstance(ctx context.Context, a *activity.Instance) error {
	etag := newEtag()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO durable_activity_instances (`+activityInstanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		a.ID, a.WorkflowInstanceID, a.ActivityVersionID, a.ParentActivityInstanceID,
		a.Iteration, a.ParentIteration, string(a.State), a.ResultAsJSON, a.ContextDictionary,
		string(a.ExceptionCategory), a.ExceptionTechnicalMessage, a.ExceptionFriendlyMessage,
		a.AsyncRequestID, a.ExceptionAlertHandled, a.Attempts, a.StartedAt, a.FinishedAt, etag,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return durable.ErrAlreadyExists
		}
		return wrap("create activity instance", err)
	}
	a.Etag = etag
	return nil
}

// GetActivityInstance retrieves an instance by ID.
func (s *Store) GetActivityInstance(ctx context.Context, instanceID id.ID) (*activity.Instance, error) {
	a, err := scanActivityInstance(s.pool.QueryRow(ctx,
		`SELECT `+activityInstanceColumns+` FROM durable_activity_instances WHERE id = $1`, instanceID))
	if err != nil {
		if isNoRows(err) {
			return nil, durable.ErrActivityNotFound
		}
		return nil, wrap("get activity instance", err)
	}
	return a, nil
}

// UpdateActivityInstance persists changes to an existing instance.
func (s *Store) UpdateActivityInstance(ctx context.Context, a *activity.Instance) error {
	etag := newEtag()
	tag, err := s.pool.Exec(ctx, `
		UPDATE durable_activity_instances SET
			state = $3, result_as_json = $4, context_dictionary = $5,
			exception_category = $6, exception_technical_message = $7,
			exception_friendly_message = $8, async_request_id = $9,
			exception_alert_handled = $10, attempts = $11, started_at = $12,
			finished_at = $13, etag = $14
		WHERE id = $1 AND etag = $2`,
		a.ID, a.Etag,
		string(a.State), a.ResultAsJSON, a.ContextDictionary,
		string(a.ExceptionCategory), a.ExceptionTechnicalMessage,
		a.ExceptionFriendlyMessage, a.AsyncRequestID,
		a.ExceptionAlertHandled, a.Attempts, a.StartedAt,
		a.FinishedAt, etag,
	)
	if err != nil {
		return wrap("update activity instance", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, "durable_activity_instances", a.ID, durable.ErrActivityNotFound)
	}
	a.Etag = etag
	return nil
}

// ListActivityInstances returns the activity instances of a workflow
// instance ordered by start time.
func (s *Store) ListActivityInstances(ctx context.Context, workflowInstanceID id.ID) ([]*activity.Instance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+activityInstanceColumns+` FROM durable_activity_instances
		WHERE workflow_instance_id = $1 ORDER BY started_at ASC, id ASC`,
		workflowInstanceID)
	if err != nil {
		return nil, wrap("list activity instances", err)
	}
	defer rows.Close()

	var out []*activity.Instance
	for rows.Next() {
		a, scanErr := scanActivityInstance(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("durable/postgres: scan activity instance row: %w", scanErr)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate activity instance rows", err)
	}
	return out, nil
}
