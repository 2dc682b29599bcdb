package ext_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/ext"
	"github.com/nexus-link/durable/workflow"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// allHooksExt implements every lifecycle hook and records the call order.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) record(name string) error {
	e.calls = append(e.calls, name)
	return nil
}

func (e *allHooksExt) OnWorkflowStarted(_ context.Context, _ *workflow.Instance) error {
	return e.record("OnWorkflowStarted")
}

func (e *allHooksExt) OnWorkflowCompleted(_ context.Context, _ *workflow.Instance, _ time.Duration) error {
	return e.record("OnWorkflowCompleted")
}

func (e *allHooksExt) OnWorkflowPostponed(_ context.Context, _ *workflow.Instance, _ error) error {
	return e.record("OnWorkflowPostponed")
}

func (e *allHooksExt) OnWorkflowHalted(_ context.Context, _ *workflow.Instance, _ error) error {
	return e.record("OnWorkflowHalted")
}

func (e *allHooksExt) OnWorkflowFailed(_ context.Context, _ *workflow.Instance, _ error) error {
	return e.record("OnWorkflowFailed")
}

func (e *allHooksExt) OnWorkflowCancelled(_ context.Context, _ *workflow.Instance) error {
	return e.record("OnWorkflowCancelled")
}

func (e *allHooksExt) OnActivityStarted(_ context.Context, _ *activity.Instance, _ string) error {
	return e.record("OnActivityStarted")
}

func (e *allHooksExt) OnActivityCompleted(_ context.Context, _ *activity.Instance, _ string, _ time.Duration) error {
	return e.record("OnActivityCompleted")
}

func (e *allHooksExt) OnActivityPostponed(_ context.Context, _ *activity.Instance, _ string, _ error) error {
	return e.record("OnActivityPostponed")
}

func (e *allHooksExt) OnActivityFailed(_ context.Context, _ *activity.Instance, _ string, _ error) error {
	return e.record("OnActivityFailed")
}

func (e *allHooksExt) OnMaintenanceRan(_ context.Context, _ string, _ int64, _ error) error {
	return e.record("OnMaintenanceRan")
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	return e.record("OnShutdown")
}

// haltOnlyExt only cares about halted workflows.
type haltOnlyExt struct {
	calls []string
}

func (e *haltOnlyExt) Name() string { return "halt-only" }

func (e *haltOnlyExt) OnWorkflowHalted(_ context.Context, _ *workflow.Instance, _ error) error {
	e.calls = append(e.calls, "OnWorkflowHalted")
	return nil
}

// failingExt returns an error from its hook.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnWorkflowHalted(_ context.Context, _ *workflow.Instance, _ error) error {
	return errors.New("pager unreachable")
}

func assertCalls(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d calls, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(quiet)
	r.Register(&allHooksExt{})

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(quiet)
	all := &allHooksExt{}
	halt := &haltOnlyExt{}
	r.Register(all)
	r.Register(halt)

	ctx := context.Background()
	inst := &workflow.Instance{Title: "ship order 42"}

	r.EmitWorkflowHalted(ctx, inst, errors.New("card declined"))
	assertCalls(t, all.calls, []string{"OnWorkflowHalted"})
	assertCalls(t, halt.calls, []string{"OnWorkflowHalted"})

	r.EmitWorkflowStarted(ctx, inst)
	assertCalls(t, all.calls, []string{"OnWorkflowHalted", "OnWorkflowStarted"})
	assertCalls(t, halt.calls, []string{"OnWorkflowHalted"})
}

func TestRegistry_AllWorkflowHooksFire(t *testing.T) {
	r := ext.NewRegistry(quiet)
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	inst := &workflow.Instance{Title: "ship order 42"}

	r.EmitWorkflowStarted(ctx, inst)
	r.EmitWorkflowPostponed(ctx, inst, errors.New("waiting"))
	r.EmitWorkflowHalted(ctx, inst, errors.New("halt"))
	r.EmitWorkflowFailed(ctx, inst, errors.New("fail"))
	r.EmitWorkflowCancelled(ctx, inst)
	r.EmitWorkflowCompleted(ctx, inst, time.Second)

	assertCalls(t, all.calls, []string{
		"OnWorkflowStarted", "OnWorkflowPostponed", "OnWorkflowHalted",
		"OnWorkflowFailed", "OnWorkflowCancelled", "OnWorkflowCompleted",
	})
}

func TestRegistry_AllActivityHooksFire(t *testing.T) {
	r := ext.NewRegistry(quiet)
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	a := &activity.Instance{Iteration: 1}

	r.EmitActivityStarted(ctx, a, "reserve stock")
	r.EmitActivityPostponed(ctx, a, "reserve stock", errors.New("later"))
	r.EmitActivityFailed(ctx, a, "reserve stock", errors.New("out of stock"))
	r.EmitActivityCompleted(ctx, a, "reserve stock", time.Millisecond)

	assertCalls(t, all.calls, []string{
		"OnActivityStarted", "OnActivityPostponed", "OnActivityFailed", "OnActivityCompleted",
	})
}

func TestRegistry_MaintenanceAndShutdownHooksFire(t *testing.T) {
	r := ext.NewRegistry(quiet)
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	r.EmitMaintenanceRan(ctx, "reclaim-semaphores", 3, nil)
	r.EmitShutdown(ctx)

	assertCalls(t, all.calls, []string{"OnMaintenanceRan", "OnShutdown"})
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(quiet)
	all := &allHooksExt{}
	r.Register(&failingExt{})
	r.Register(all)

	r.EmitWorkflowHalted(context.Background(), &workflow.Instance{}, errors.New("halt"))

	assertCalls(t, all.calls, []string{"OnWorkflowHalted"})
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(nil)
	ctx := context.Background()
	inst := &workflow.Instance{}
	a := &activity.Instance{}

	r.EmitWorkflowStarted(ctx, inst)
	r.EmitWorkflowCompleted(ctx, inst, time.Second)
	r.EmitWorkflowPostponed(ctx, inst, errors.New("x"))
	r.EmitWorkflowHalted(ctx, inst, errors.New("x"))
	r.EmitWorkflowFailed(ctx, inst, errors.New("x"))
	r.EmitWorkflowCancelled(ctx, inst)
	r.EmitActivityStarted(ctx, a, "t")
	r.EmitActivityCompleted(ctx, a, "t", time.Second)
	r.EmitActivityPostponed(ctx, a, "t", errors.New("x"))
	r.EmitActivityFailed(ctx, a, "t", errors.New("x"))
	r.EmitMaintenanceRan(ctx, "t", 0, nil)
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := ext.NewRegistry(quiet)
	var order []string
	r.Register(&orderExt{name: "first", order: &order})
	r.Register(&orderExt{name: "second", order: &order})

	r.EmitShutdown(context.Background())

	assertCalls(t, order, []string{"first", "second"})
}

type orderExt struct {
	name  string
	order *[]string
}

func (e *orderExt) Name() string { return e.name }

func (e *orderExt) OnShutdown(_ context.Context) error {
	*e.order = append(*e.order, e.name)
	return nil
}
