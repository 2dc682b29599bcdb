package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/activity"
	ah "github.com/nexus-link/durable/audit_hook"
	"github.com/nexus-link/durable/ext"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/journal"
	"github.com/nexus-link/durable/store/memory"
	"github.com/nexus-link/durable/workflow"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// ── Test helpers ─────────────────────────────────────

func newTestInstance() *workflow.Instance {
	return &workflow.Instance{
		ID:    id.NewWorkflowInstanceID(),
		Title: "ship order 42",
		State: workflow.StateExecuting,
	}
}

func newTestActivity(inst *workflow.Instance) *activity.Instance {
	return &activity.Instance{
		ID:                 id.NewActivityInstanceID(),
		WorkflowInstanceID: inst.ID,
		Iteration:          2,
		ExceptionCategory:  durable.CategoryTechnicalError,
	}
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	e := ah.New(&mockRecorder{})
	if e.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", e.Name())
	}
}

func TestExtension_WorkflowEvents(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance()

	tests := []struct {
		action   string
		severity string
		outcome  string
		reason   string
		fire     func(e *ah.Extension) error
	}{
		{ah.ActionWorkflowStarted, ah.SeverityInfo, ah.OutcomeSuccess, "",
			func(e *ah.Extension) error { return e.OnWorkflowStarted(ctx, inst) }},
		{ah.ActionWorkflowCompleted, ah.SeverityInfo, ah.OutcomeSuccess, "",
			func(e *ah.Extension) error { return e.OnWorkflowCompleted(ctx, inst, 2*time.Second) }},
		{ah.ActionWorkflowPostponed, ah.SeverityInfo, ah.OutcomePending, "waiting for partner",
			func(e *ah.Extension) error { return e.OnWorkflowPostponed(ctx, inst, errors.New("waiting for partner")) }},
		{ah.ActionWorkflowHalted, ah.SeverityWarning, ah.OutcomeFailure, "card declined",
			func(e *ah.Extension) error { return e.OnWorkflowHalted(ctx, inst, errors.New("card declined")) }},
		{ah.ActionWorkflowFailed, ah.SeverityCritical, ah.OutcomeFailure, "bad input",
			func(e *ah.Extension) error { return e.OnWorkflowFailed(ctx, inst, errors.New("bad input")) }},
		{ah.ActionWorkflowCancelled, ah.SeverityWarning, ah.OutcomeFailure, "",
			func(e *ah.Extension) error { return e.OnWorkflowCancelled(ctx, inst) }},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			rec := &mockRecorder{}
			if err := tt.fire(ah.New(rec)); err != nil {
				t.Fatalf("hook: %v", err)
			}
			evt := rec.last()
			if evt == nil {
				t.Fatal("no event recorded")
			}
			if evt.Action != tt.action {
				t.Errorf("Action: want %q, got %q", tt.action, evt.Action)
			}
			if evt.Resource != ah.ResourceWorkflow || evt.Category != ah.CategoryWorkflow {
				t.Errorf("unexpected resource/category: %q %q", evt.Resource, evt.Category)
			}
			if evt.ResourceID != inst.ID.String() {
				t.Errorf("ResourceID: want %q, got %q", inst.ID.String(), evt.ResourceID)
			}
			if evt.Severity != tt.severity {
				t.Errorf("Severity: want %q, got %q", tt.severity, evt.Severity)
			}
			if evt.Outcome != tt.outcome {
				t.Errorf("Outcome: want %q, got %q", tt.outcome, evt.Outcome)
			}
			if evt.Reason != tt.reason {
				t.Errorf("Reason: want %q, got %q", tt.reason, evt.Reason)
			}
			if evt.Metadata["title"] != "ship order 42" {
				t.Errorf("title metadata: got %v", evt.Metadata["title"])
			}
		})
	}
}

func TestExtension_CompletedElapsed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	_ = e.OnWorkflowCompleted(context.Background(), newTestInstance(), 1500*time.Millisecond)

	if got := rec.last().Metadata["elapsed_ms"]; got != int64(1500) {
		t.Errorf("elapsed_ms: want 1500, got %v", got)
	}
}

func TestExtension_ActivityFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	inst := newTestInstance()
	a := newTestActivity(inst)

	if err := e.OnActivityFailed(context.Background(), a, "charge card", errors.New("gateway timeout")); err != nil {
		t.Fatalf("OnActivityFailed: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionActivityFailed || evt.Severity != ah.SeverityCritical {
		t.Errorf("unexpected event: %+v", evt)
	}
	if !evt.WorkflowInstanceID.Equal(inst.ID) || !evt.ActivityInstanceID.Equal(a.ID) {
		t.Error("expected workflow and activity ids on event")
	}
	if evt.Metadata["category"] != "TechnicalError" {
		t.Errorf("category: got %v", evt.Metadata["category"])
	}
	if evt.Metadata["iteration"] != 2 {
		t.Errorf("iteration: got %v", evt.Metadata["iteration"])
	}
}

func TestExtension_MaintenanceRan(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	_ = e.OnMaintenanceRan(context.Background(), "purge-logs", 7, nil)
	evt := rec.last()
	if evt.ResourceID != "purge-logs" || evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("unexpected event: %+v", evt)
	}
	if evt.Metadata["affected"] != int64(7) {
		t.Errorf("affected: got %v", evt.Metadata["affected"])
	}

	_ = e.OnMaintenanceRan(context.Background(), "purge-logs", 0, errors.New("store down"))
	if evt := rec.last(); evt.Severity != ah.SeverityWarning || evt.Reason != "store down" {
		t.Errorf("unexpected failure event: %+v", evt)
	}
}

func TestExtension_WithActionsFilters(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionWorkflowHalted))
	ctx := context.Background()
	inst := newTestInstance()

	_ = e.OnWorkflowStarted(ctx, inst)
	_ = e.OnWorkflowHalted(ctx, inst, errors.New("halt"))
	_ = e.OnActivityStarted(ctx, newTestActivity(inst), "reserve stock")

	if rec.count() != 1 {
		t.Fatalf("expected 1 event, got %d", rec.count())
	}
	if rec.last().Action != ah.ActionWorkflowHalted {
		t.Errorf("unexpected action %q", rec.last().Action)
	}
}

func TestExtension_RecorderErrorSwallowed(t *testing.T) {
	failing := ah.RecorderFunc(func(_ context.Context, _ *ah.AuditEvent) error {
		return errors.New("audit backend down")
	})
	e := ah.New(failing, ah.WithLogger(quiet))

	if err := e.OnWorkflowFailed(context.Background(), newTestInstance(), errors.New("x")); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestExtension_AllActionsCovered(t *testing.T) {
	rec := &mockRecorder{}
	r := ext.NewRegistry(quiet)
	r.Register(ah.New(rec))

	ctx := context.Background()
	inst := newTestInstance()
	a := newTestActivity(inst)
	r.EmitWorkflowStarted(ctx, inst)
	r.EmitWorkflowCompleted(ctx, inst, time.Second)
	r.EmitWorkflowPostponed(ctx, inst, durable.Postpone())
	r.EmitWorkflowHalted(ctx, inst, errors.New("x"))
	r.EmitWorkflowFailed(ctx, inst, errors.New("x"))
	r.EmitWorkflowCancelled(ctx, inst)
	r.EmitActivityStarted(ctx, a, "t")
	r.EmitActivityCompleted(ctx, a, "t", time.Millisecond)
	r.EmitActivityPostponed(ctx, a, "t", durable.Postpone())
	r.EmitActivityFailed(ctx, a, "t", errors.New("x"))
	r.EmitMaintenanceRan(ctx, "t", 1, nil)

	if rec.count() != len(ah.AllActions()) {
		t.Errorf("expected %d events, got %d", len(ah.AllActions()), rec.count())
	}
}

func TestJournalRecorder_WritesInstanceLog(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	w := journal.NewWriter(s, journal.SeverityInformation, quiet)
	e := ah.New(ah.JournalRecorder(w))

	inst := newTestInstance()
	a := newTestActivity(inst)
	_ = e.OnWorkflowHalted(ctx, inst, errors.New("card declined"))
	_ = e.OnActivityFailed(ctx, a, "charge card", errors.New("card declined"))
	_ = e.OnMaintenanceRan(ctx, "purge-logs", 3, nil)

	entries, err := s.ListLogs(ctx, inst.ID, journal.ListOpts{})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != ah.ActionWorkflowHalted || entries[0].Severity != journal.SeverityWarning {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Severity != journal.SeverityError || !entries[1].ActivityInstanceID.Equal(a.ID) {
		t.Errorf("unexpected second entry: %+v", entries[1])
	}
}
