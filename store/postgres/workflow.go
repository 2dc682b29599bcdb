package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/workflow"
)

// ──────────────────────────────────────────────────
// Workflow forms and versions
// ──────────────────────────────────────────────────

// CreateForm persists a new form.
func (s *Store) CreateForm(ctx context.Context, form *workflow.Form) error {
	etag := newEtag()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO durable_workflow_forms (id, capability_name, title, etag)
		VALUES ($1, $2, $3, $4)`,
		form.ID, form.CapabilityName, form.Title, etag,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return durable.ErrAlreadyExists
		}
		return wrap("create form", err)
	}
	form.Etag = etag
	return nil
}

const formColumns = `id, capability_name, title, etag`

func scanForm(row pgx.Row) (*workflow.Form, error) {
	f := new(workflow.Form)
	if err := row.Scan(&f.ID, &f.CapabilityName, &f.Title, &f.Etag); err != nil {
		return nil, err
	}
	return f, nil
}

// GetForm retrieves a form by ID.
func (s *Store) GetForm(ctx context.Context, formID id.ID) (*workflow.Form, error) {
	f, err := scanForm(s.pool.QueryRow(ctx,
		`SELECT `+formColumns+` FROM durable_workflow_forms WHERE id = $1`, formID))
	if err != nil {
		if isNoRows(err) {
			return nil, durable.ErrFormNotFound
		}
		return nil, wrap("get form", err)
	}
	return f, nil
}

// FindForm retrieves a form by capability name and title.
func (s *Store) FindForm(ctx context.Context, capabilityName, title string) (*workflow.Form, error) {
	f, err := scanForm(s.pool.QueryRow(ctx,
		`SELECT `+formColumns+` FROM durable_workflow_forms WHERE capability_name = $1 AND title = $2`,
		capabilityName, title))
	if err != nil {
		if isNoRows(err) {
			return nil, durable.ErrFormNotFound
		}
		return nil, wrap("find form", err)
	}
	return f, nil
}

// UpdateForm persists administrative edits to a form.
func (s *Store) UpdateForm(ctx context.Context, form *workflow.Form) error {
	etag := newEtag()
	tag, err := s.pool.Exec(ctx, `
		UPDATE durable_workflow_forms
		SET capability_name = $3, title = $4, etag = $5
		WHERE id = $1 AND etag = $2`,
		form.ID, form.Etag, form.CapabilityName, form.Title, etag,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return durable.ErrAlreadyExists
		}
		return wrap("update form", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, "durable_workflow_forms", form.ID, durable.ErrFormNotFound)
	}
	form.Etag = etag
	return nil
}

// CreateVersion persists a new version of a form.
func (s *Store) CreateVersion(ctx context.Context, v *workflow.Version) error {
	etag := newEtag()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO durable_workflow_versions (id, form_id, major_version, minor_version, dynamic_create, etag)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.FormID, v.MajorVersion, v.MinorVersion, v.DynamicCreate, etag,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return durable.ErrAlreadyExists
		}
		return wrap("create version", err)
	}
	v.Etag = etag
	return nil
}

const versionColumns = `id, form_id, major_version, minor_version, dynamic_create, etag`

func scanVersion(row pgx.Row) (*workflow.Version, error) {
	v := new(workflow.Version)
	if err := row.Scan(&v.ID, &v.FormID, &v.MajorVersion, &v.MinorVersion, &v.DynamicCreate, &v.Etag); err != nil {
		return nil, err
	}
	return v, nil
}

// GetVersion retrieves a version by ID.
func (s *Store) GetVersion(ctx context.Context, versionID id.ID) (*workflow.Version, error) {
	v, err := scanVersion(s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM durable_workflow_versions WHERE id = $1`, versionID))
	if err != nil {
		if isNoRows(err) {
			return nil, durable.ErrVersionNotFound
		}
		return nil, wrap("get version", err)
	}
	return v, nil
}

// FindVersion retrieves the version of a form with the given numbers.
func (s *Store) FindVersion(ctx context.Context, formID id.ID, major, minor int) (*workflow.Version, error) {
	v, err := scanVersion(s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM durable_workflow_versions
		WHERE form_id = $1 AND major_version = $2 AND minor_version = $3`,
		formID, major, minor))
	if err != nil {
		if isNoRows(err) {
			return nil, durable.ErrVersionNotFound
		}
		return nil, wrap("find version", err)
	}
	return v, nil
}

// UpdateVersion persists administrative edits to a version.
func (s *Store) UpdateVersion(ctx context.Context, v *workflow.Version) error {
	etag := newEtag()
	tag, err := s.pool.Exec(ctx, `
		UPDATE durable_workflow_versions
		SET dynamic_create = $3, etag = $4
		WHERE id = $1 AND etag = $2`,
		v.ID, v.Etag, v.DynamicCreate, etag,
	)
	if err != nil {
		return wrap("update version", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, "durable_workflow_versions", v.ID, durable.ErrVersionNotFound)
	}
	v.Etag = etag
	return nil
}

// ──────────────────────────────────────────────────
// Workflow instances
// ──────────────────────────────────────────────────

const instanceColumns = `id, version_id, title, state, input, started_at, finished_at, cancelled_at,
	result_as_json, exception_friendly_message, exception_technical_message, is_complete, etag`

func scanInstance(row pgx.Row) (*workflow.Instance, error) {
	inst := new(workflow.Instance)
	var state string
	err := row.Scan(
		&inst.ID, &inst.VersionID, &inst.Title, &state, &inst.Input,
		&inst.StartedAt, &inst.FinishedAt, &inst.CancelledAt,
		&inst.ResultAsJSON, &inst.ExceptionFriendlyMessage, &inst.ExceptionTechnicalMessage,
		&inst.IsComplete, &inst.Etag,
	)
	if err != nil {
		return nil, err
	}
	inst.State = workflow.State(state)
	return inst, nil
}

// CreateInstance persists a new instance with a caller-chosen ID.
func (s *Store) CreateInstance(ctx context.Context, inst *workflow.Instance) error {
	etag := newEtag()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO durable_workflow_instances (`+instanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		inst.ID, inst.VersionID, inst.Title, string(inst.State), inst.Input,
		inst.StartedAt, inst.FinishedAt, inst.CancelledAt,
		inst.ResultAsJSON, inst.ExceptionFriendlyMessage, inst.ExceptionTechnicalMessage,
		inst.IsComplete, etag,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return durable.ErrAlreadyExists
		}
		return wrap("create instance", err)
	}
	inst.Etag = etag
	return nil
}

// GetInstance retrieves an instance by ID.
func (s *Store) GetInstance(ctx context.Context, instanceID id.ID) (*workflow.Instance, error) {
	inst, err := scanInstance(s.pool.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM durable_workflow_instances WHERE id = $1`, instanceID))
	if err != nil {
		if isNoRows(err) {
			return nil, durable.ErrInstanceNotFound
		}
		return nil, wrap("get instance", err)
	}
	return inst, nil
}

// UpdateInstance persists changes to an existing instance.
func (s *Store) UpdateInstance(ctx context.Context, inst *workflow.Instance) error {
	etag := newEtag()
	tag, err := s.pool.Exec(ctx, `
		UPDATE durable_workflow_instances SET
			title = $3, state = $4, finished_at = $5, cancelled_at = $6,
			result_as_json = $7, exception_friendly_message = $8,
			exception_technical_message = $9, is_complete = $10, etag = $11
		WHERE id = $1 AND etag = $2`,
		inst.ID, inst.Etag,
		inst.Title, string(inst.State), inst.FinishedAt, inst.CancelledAt,
		inst.ResultAsJSON, inst.ExceptionFriendlyMessage,
		inst.ExceptionTechnicalMessage, inst.IsComplete, etag,
	)
	if err != nil {
		return wrap("update instance", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, "durable_workflow_instances", inst.ID, durable.ErrInstanceNotFound)
	}
	inst.Etag = etag
	return nil
}

// ListInstances returns instances matching the given options, oldest first.
func (s *Store) ListInstances(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM durable_workflow_instances`
	var args []any
	if opts.State != "" {
		query += ` WHERE state = $1`
		args = append(args, string(opts.State))
	}
	query += ` ORDER BY started_at ASC, id ASC`
	tail, args := limitOffset(opts.Limit, opts.Offset, len(args), args)

	rows, err := s.pool.Query(ctx, query+tail, args...)
	if err != nil {
		return nil, wrap("list instances", err)
	}
	defer rows.Close()

	var out []*workflow.Instance
	for rows.Next() {
		inst, scanErr := scanInstance(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("durable/postgres: scan instance row: %w", scanErr)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate instance rows", err)
	}
	return out, nil
}

// missingOrConflict explains an etag-guarded update that matched no row.
func (s *Store) missingOrConflict(ctx context.Context, table string, rowID id.ID, notFound error) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id = $1)`, rowID,
	).Scan(&exists)
	if err != nil {
		return wrap("check "+table, err)
	}
	if !exists {
		return notFound
	}
	return durable.ErrConflict
}
