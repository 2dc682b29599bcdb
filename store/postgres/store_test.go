//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/asyncreq"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/journal"
	"github.com/nexus-link/durable/lock"
	"github.com/nexus-link/durable/semaphore"
	"github.com/nexus-link/durable/store/postgres"
	"github.com/nexus-link/durable/workflow"
)

// setupTestStore creates a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("durable_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	store, err := postgres.New(ctx, connStr, postgres.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}
	// A second run must be a no-op.
	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("second migrate: %v", migErr)
	}

	return store
}

func seedInstance(t *testing.T, s *postgres.Store) (*workflow.Form, *workflow.Version, *workflow.Instance) {
	t.Helper()
	ctx := context.Background()

	form := &workflow.Form{ID: id.NewWorkflowFormID(), CapabilityName: "orders", Title: "ship order"}
	if err := s.CreateForm(ctx, form); err != nil {
		t.Fatalf("create form: %v", err)
	}
	version := &workflow.Version{ID: id.NewWorkflowVersionID(), FormID: form.ID, MajorVersion: 1, DynamicCreate: true}
	if err := s.CreateVersion(ctx, version); err != nil {
		t.Fatalf("create version: %v", err)
	}
	inst := &workflow.Instance{
		ID:        id.NewWorkflowInstanceID(),
		VersionID: version.ID,
		Title:     "ship order 42",
		State:     workflow.StateWaiting,
		Input:     []byte(`{"id":42}`),
		StartedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := s.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("create instance: %v", err)
	}
	return form, version, inst
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Workflow tests
// ──────────────────────────────────────────────────

func TestStore_FormsAndVersions(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	form, version, _ := seedInstance(t, s)

	dup := &workflow.Form{ID: id.NewWorkflowFormID(), CapabilityName: "orders", Title: "ship order"}
	if err := s.CreateForm(ctx, dup); !errors.Is(err, durable.ErrAlreadyExists) {
		t.Fatalf("duplicate form: err = %v, want ErrAlreadyExists", err)
	}

	got, err := s.FindForm(ctx, "orders", "ship order")
	if err != nil {
		t.Fatalf("find form: %v", err)
	}
	if !got.ID.Equal(form.ID) {
		t.Errorf("form id = %s, want %s", got.ID, form.ID)
	}

	v, err := s.FindVersion(ctx, form.ID, 1, 0)
	if err != nil {
		t.Fatalf("find version: %v", err)
	}
	if !v.ID.Equal(version.ID) || !v.DynamicCreate {
		t.Errorf("version = %+v", v)
	}

	if _, err := s.FindVersion(ctx, form.ID, 2, 0); !errors.Is(err, durable.ErrVersionNotFound) {
		t.Errorf("missing version: err = %v", err)
	}
}

func TestStore_InstanceEtag(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	_, _, inst := seedInstance(t, s)

	a, err := s.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, err := s.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	a.State = workflow.StateExecuting
	if err := s.UpdateInstance(ctx, a); err != nil {
		t.Fatalf("update a: %v", err)
	}
	b.State = workflow.StateCancelled
	if err := s.UpdateInstance(ctx, b); !errors.Is(err, durable.ErrConflict) {
		t.Fatalf("update b: err = %v, want ErrConflict", err)
	}

	got, err := s.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != workflow.StateExecuting || string(got.Input) != `{"id":42}` {
		t.Errorf("instance = %+v", got)
	}

	missing := &workflow.Instance{ID: id.NewWorkflowInstanceID(), Etag: "x"}
	if err := s.UpdateInstance(ctx, missing); !errors.Is(err, durable.ErrInstanceNotFound) {
		t.Errorf("update missing: err = %v", err)
	}

	list, err := s.ListInstances(ctx, workflow.ListOpts{State: workflow.StateExecuting})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("list len = %d, want 1", len(list))
	}
}

// ──────────────────────────────────────────────────
// Activity tests
// ──────────────────────────────────────────────────

func TestStore_ActivityInstances(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	form, version, inst := seedInstance(t, s)

	af := &activity.Form{ID: id.NewActivityFormID(), WorkflowFormID: form.ID, Type: activity.TypeAction, Title: "charge card"}
	if err := s.CreateActivityForm(ctx, af); err != nil {
		t.Fatalf("create activity form: %v", err)
	}
	av := &activity.Version{
		ID:                id.NewActivityVersionID(),
		WorkflowVersionID: version.ID,
		ActivityFormID:    af.ID,
		Position:          1,
		FailUrgency:       activity.UrgencyHandleLater,
	}
	if err := s.CreateActivityVersion(ctx, av); err != nil {
		t.Fatalf("create activity version: %v", err)
	}

	handled := false
	a := &activity.Instance{
		ID:                    id.NewActivityInstanceID(),
		WorkflowInstanceID:    inst.ID,
		ActivityVersionID:     av.ID,
		State:                 activity.StateWaiting,
		ContextDictionary:     map[string]string{"semaphore_holder": "h1"},
		ExceptionAlertHandled: &handled,
		StartedAt:             time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := s.CreateActivityInstance(ctx, a); err != nil {
		t.Fatalf("create activity instance: %v", err)
	}

	// Same memoization key with a nil parent is rejected.
	dup := &activity.Instance{
		ID:                 id.NewActivityInstanceID(),
		WorkflowInstanceID: inst.ID,
		ActivityVersionID:  av.ID,
		State:              activity.StateWaiting,
		StartedAt:          time.Now().UTC(),
	}
	if err := s.CreateActivityInstance(ctx, dup); !errors.Is(err, durable.ErrAlreadyExists) {
		t.Fatalf("duplicate key: err = %v, want ErrAlreadyExists", err)
	}

	a.State = activity.StateSuccess
	a.ResultAsJSON = []byte(`{"ok":true}`)
	if err := s.UpdateActivityInstance(ctx, a); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetActivityInstance(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != activity.StateSuccess || got.ContextDictionary["semaphore_holder"] != "h1" {
		t.Errorf("activity = %+v", got)
	}
	if got.ExceptionAlertHandled == nil || *got.ExceptionAlertHandled {
		t.Errorf("alert handled = %v", got.ExceptionAlertHandled)
	}
	if !got.ParentActivityInstanceID.IsNil() {
		t.Errorf("parent = %s, want nil", got.ParentActivityInstanceID)
	}

	versions, err := s.ListActivityVersions(ctx, version.ID)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 1 || versions[0].FailUrgency != activity.UrgencyHandleLater {
		t.Errorf("versions = %+v", versions)
	}
}

// ──────────────────────────────────────────────────
// Semaphore, journal, request and lock tests
// ──────────────────────────────────────────────────

func TestStore_SemaphoreManager(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	m := semaphore.NewManager(s, s)
	form := id.NewWorkflowFormID()
	a, b := id.NewWorkflowInstanceID(), id.NewWorkflowInstanceID()

	holder, err := m.Raise(ctx, semaphore.RaiseRequest{WorkflowFormID: form, ResourceIdentifier: "partner-api", Limit: 1, WorkflowInstanceID: a})
	if err != nil {
		t.Fatalf("raise a: %v", err)
	}
	_, err = m.Raise(ctx, semaphore.RaiseRequest{WorkflowFormID: form, ResourceIdentifier: "partner-api", Limit: 1, WorkflowInstanceID: b})
	if !durable.IsPostponement(err) {
		t.Fatalf("raise b: err = %v, want postponement", err)
	}
	if err := m.Lower(ctx, holder); err != nil {
		t.Fatalf("lower: %v", err)
	}
	if _, err := m.Raise(ctx, semaphore.RaiseRequest{WorkflowFormID: form, ResourceIdentifier: "partner-api", Limit: 1, WorkflowInstanceID: b}); err != nil {
		t.Fatalf("raise b after lower: %v", err)
	}
}

func TestStore_Journal(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	wfi := id.NewWorkflowInstanceID()
	old := time.Now().UTC().Add(-48 * time.Hour)

	for i, sev := range []journal.Severity{journal.SeverityDebug, journal.SeverityWarning, journal.SeverityError} {
		e := &journal.Entry{
			ID:                 id.NewLogID(),
			WorkflowInstanceID: wfi,
			Severity:           sev,
			Message:            "entry",
			TimeStamp:          old.Add(time.Duration(i) * 24 * time.Hour),
		}
		if err := s.CreateLog(ctx, e); err != nil {
			t.Fatalf("create log: %v", err)
		}
	}

	logs, err := s.ListLogs(ctx, wfi, journal.ListOpts{MinSeverity: journal.SeverityWarning})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("got %d logs, want 2", len(logs))
	}

	n, err := s.PurgeLogs(ctx, old.Add(time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
}

func TestStore_Requests(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	m := asyncreq.NewManager(s)
	wfi := id.NewWorkflowInstanceID()

	first, err := m.Enqueue(ctx, wfi, time.Hour)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := m.Wake(ctx, wfi); err != nil {
		t.Fatalf("wake: %v", err)
	}

	req, err := s.GetRequestByInstance(ctx, wfi)
	if err != nil {
		t.Fatalf("get by instance: %v", err)
	}
	if !req.ID.Equal(first) {
		t.Errorf("wake created a second row")
	}

	due, err := s.DequeueRequests(ctx, time.Now().UTC().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(due) != 1 || due[0].State != asyncreq.StateRunning {
		t.Fatalf("dequeued %+v", due)
	}
	again, err := s.DequeueRequests(ctx, time.Now().UTC().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("second dequeue: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("running request dequeued twice")
	}
	if err := s.DeleteRequest(ctx, first); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestStore_Locker(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	h, err := lock.Acquire(ctx, s, "instance:1", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := lock.Acquire(ctx, s, "instance:1", time.Minute); !errors.Is(err, durable.ErrLockTaken) {
		t.Fatalf("second acquire: err = %v, want ErrLockTaken", err)
	}
	if err := h.Extend(ctx, time.Minute); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	short, err := lock.Acquire(ctx, s, "instance:2", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire short: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := lock.Acquire(ctx, s, "instance:2", time.Minute); err != nil {
		t.Fatalf("takeover of expired claim: %v", err)
	}
	if err := short.Release(ctx); !errors.Is(err, durable.ErrLockNotHeld) {
		t.Errorf("release of lost claim: err = %v, want ErrLockNotHeld", err)
	}
}
