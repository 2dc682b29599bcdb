package executor_test

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
	"github.com/nexus-link/durable/asyncreq"
	"github.com/nexus-link/durable/executor"
	"github.com/nexus-link/durable/ext"
	"github.com/nexus-link/durable/fallback"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/lock"
	"github.com/nexus-link/durable/store/memory"
	"github.com/nexus-link/durable/workflow"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store   *memory.Store
	x       *executor.Executor
	form    *workflow.Form
	version *workflow.Version
}

func newHarness(t *testing.T, opts ...executor.Option) *harness {
	t.Helper()
	return newHarnessWithStore(t, memory.New(), opts...)
}

func newHarnessWithStore(t *testing.T, s *memory.Store, opts ...executor.Option) *harness {
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
	protocol := fallback.New(s, fallback.WithLogger(quiet), fallback.WithBlobRetries(0, time.Millisecond))
	opts = append([]executor.Option{executor.WithLogger(quiet)}, opts...)
	return &harness{
		store:   s,
		x:       executor.New(s, protocol, s, opts...),
		form:    form,
		version: version,
	}
}

func (h *harness) run(instanceID id.ID, fn executor.Func) (*workflow.Instance, error) {
	return h.x.Execute(context.Background(), executor.Request{
		Form:       h.form,
		Version:    h.version,
		InstanceID: instanceID,
		Title:      "ship order 42",
		Input:      []byte(`{"order":42}`),
		Func:       fn,
	})
}

func (h *harness) activities(t *testing.T, instanceID id.ID) []*activity.Instance {
	t.Helper()
	rows, err := h.store.ListActivityInstances(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	return rows
}

func TestCompletedActivitiesAreNotRerun(t *testing.T) {
	h := newHarness(t)
	instanceID := id.NewWorkflowInstanceID()

	reserved, charged := 0, 0
	ready := false
	fn := func(wf *executor.Workflow, _ []byte) ([]byte, error) {
		stock, err := executor.Function(wf, "reserve stock", func(context.Context, *executor.Activity) (int, error) {
			reserved++
			return 3, nil
		})
		if err != nil {
			return nil, err
		}
		if err := executor.Action(wf, "charge card", func(context.Context, *executor.Activity) error {
			charged++
			if !ready {
				return durable.Postpone()
			}
			return nil
		}); err != nil {
			return nil, err
		}
		if stock != 3 {
			t.Errorf("expected memoized stock 3, got %d", stock)
		}
		return []byte(`"shipped"`), nil
	}

	inst, err := h.run(instanceID, fn)
	if durable.KindOf(err) != durable.KindPostponed {
		t.Fatalf("expected postponement, got %v", err)
	}
	if inst.State != workflow.StateExecuting {
		t.Errorf("expected executing, got %s", inst.State)
	}

	ready = true
	inst, err = h.run(instanceID, fn)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if inst.State != workflow.StateSuccess || string(inst.ResultAsJSON) != `"shipped"` {
		t.Errorf("unexpected instance: %s %s", inst.State, inst.ResultAsJSON)
	}
	if reserved != 1 {
		t.Errorf("expected reserve stock once, got %d", reserved)
	}
	if charged != 2 {
		t.Errorf("expected charge card twice, got %d", charged)
	}

	// A finished instance answers without replaying.
	if _, err := h.run(instanceID, fn); err != nil {
		t.Fatalf("third pass: %v", err)
	}
	if reserved != 1 || charged != 2 {
		t.Errorf("finished instance was replayed: %d %d", reserved, charged)
	}
}

func TestSameTitleInOneScopeIsMemoized(t *testing.T) {
	h := newHarness(t)
	calls := 0
	fn := func(wf *executor.Workflow, _ []byte) ([]byte, error) {
		for range 2 {
			if _, err := executor.Function(wf, "quote", func(context.Context, *executor.Activity) (int, error) {
				calls++
				return calls, nil
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	if _, err := h.run(id.NewWorkflowInstanceID(), fn); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected one call, got %d", calls)
	}
}

func TestFailUrgency(t *testing.T) {
	outOfStock := func(context.Context, *executor.Activity) (int, error) {
		return 0, durable.ActivityFailed(durable.CategoryBusinessError, "sku 7 out of stock", "The item is out of stock.")
	}

	tests := []struct {
		name    string
		urgency activity.FailUrgency
		state   workflow.State
		kind    durable.Kind
	}{
		{"ignore", activity.UrgencyIgnore, workflow.StateSuccess, 0},
		{"handle later", activity.UrgencyHandleLater, workflow.StateSuccess, 0},
		{"cancel workflow", activity.UrgencyCancelWorkflow, workflow.StateFailed, durable.KindWorkflowFailed},
		{"stopping", activity.UrgencyStopping, workflow.StateHalted, durable.KindActivityFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			instanceID := id.NewWorkflowInstanceID()
			var got int
			fn := func(wf *executor.Workflow, _ []byte) ([]byte, error) {
				v, err := executor.Function(wf, "reserve stock", outOfStock,
					executor.WithFailUrgency(tt.urgency),
					executor.WithDefault(func() int { return -1 }))
				if err != nil {
					return nil, err
				}
				got = v
				return []byte(`"done"`), nil
			}

			inst, err := h.run(instanceID, fn)
			if inst.State != tt.state {
				t.Fatalf("expected %s, got %s (%v)", tt.state, inst.State, err)
			}
			if tt.kind == 0 {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				if got != -1 {
					t.Errorf("expected default value, got %d", got)
				}
			} else if durable.KindOf(err) != tt.kind {
				t.Fatalf("expected %s, got %v", tt.kind, err)
			}
			if e, ok := durable.AsError(err); ok && e.Category != durable.CategoryBusinessError {
				t.Errorf("expected business category, got %s", e.Category)
			}

			rows := h.activities(t, instanceID)
			if len(rows) != 1 || rows[0].State != activity.StateFailed {
				t.Fatalf("expected one failed activity, got %+v", rows)
			}
			a := rows[0]
			if a.ExceptionCategory != durable.CategoryBusinessError || a.ExceptionTechnicalMessage != "sku 7 out of stock" {
				t.Errorf("unexpected exception: %s %q", a.ExceptionCategory, a.ExceptionTechnicalMessage)
			}
			if tt.urgency == activity.UrgencyHandleLater {
				if a.ExceptionAlertHandled == nil || *a.ExceptionAlertHandled {
					t.Error("expected unhandled alert")
				}
			}
		})
	}
}

func TestHaltedInstanceIsNotReplayed(t *testing.T) {
	h := newHarness(t)
	instanceID := id.NewWorkflowInstanceID()
	calls := 0
	fn := func(wf *executor.Workflow, _ []byte) ([]byte, error) {
		return nil, executor.Action(wf, "notify partner", func(context.Context, *executor.Activity) error {
			calls++
			return errors.New("connection refused")
		})
	}

	inst, err := h.run(instanceID, fn)
	if inst.State != workflow.StateHalted {
		t.Fatalf("expected halted, got %s", inst.State)
	}
	first, _ := durable.AsError(err)
	if first == nil || first.Category != durable.CategoryTechnicalError {
		t.Fatalf("expected technical failure, got %v", err)
	}
	if inst.ExceptionTechnicalMessage != "connection refused" {
		t.Errorf("unexpected message %q", inst.ExceptionTechnicalMessage)
	}

	inst, err = h.run(instanceID, fn)
	if inst.State != workflow.StateHalted || durable.KindOf(err) != durable.KindActivityFailed {
		t.Fatalf("expected halted again, got %s %v", inst.State, err)
	}
	again, _ := durable.AsError(err)
	if !again.ActivityInstanceID.Equal(first.ActivityInstanceID) {
		t.Errorf("expected same failed activity, got %s and %s", again.ActivityInstanceID, first.ActivityInstanceID)
	}
	if calls != 1 {
		t.Errorf("expected one call, got %d", calls)
	}
}

func TestRetryActivityFromCatch(t *testing.T) {
	h := newHarness(t)
	instanceID := id.NewWorkflowInstanceID()
	calls := 0
	fn := func(wf *executor.Workflow, _ []byte) ([]byte, error) {
		n, err := executor.Function(wf, "charge card", func(context.Context, *executor.Activity) (int, error) {
			calls++
			if calls == 1 {
				return 0, errors.New("card declined")
			}
			return 42, nil
		})
		if err != nil {
			return nil, durable.RetryActivityFromCatch(err, time.Minute)
		}
		if n != 42 {
			t.Errorf("expected 42, got %d", n)
		}
		return []byte(`"paid"`), nil
	}

	inst, err := h.run(instanceID, fn)
	e, ok := durable.AsError(err)
	if !ok || e.Kind != durable.KindPostponed || e.RetryAfter != time.Minute {
		t.Fatalf("expected postponement after a minute, got %v", err)
	}
	if inst.State != workflow.StateExecuting {
		t.Errorf("expected executing, got %s", inst.State)
	}
	rows := h.activities(t, instanceID)
	if rows[0].State != activity.StateWaiting || rows[0].ExceptionTechnicalMessage != "" {
		t.Fatalf("expected reset activity, got %+v", rows[0])
	}

	inst, err = h.run(instanceID, fn)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if inst.State != workflow.StateSuccess {
		t.Errorf("expected success, got %s", inst.State)
	}
	rows = h.activities(t, instanceID)
	if rows[0].Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", rows[0].Attempts)
	}
}

func TestWorkflowPanicFailsInstance(t *testing.T) {
	h := newHarness(t)
	inst, err := h.run(id.NewWorkflowInstanceID(), func(*executor.Workflow, []byte) ([]byte, error) {
		panic("nil map")
	})
	e, ok := durable.AsError(err)
	if !ok || e.Kind != durable.KindWorkflowFailed || e.Category != durable.CategoryWorkflowImplementationError {
		t.Fatalf("expected implementation failure, got %v", err)
	}
	if inst.State != workflow.StateFailed || !inst.IsComplete || inst.FinishedAt == nil {
		t.Errorf("expected finished failed instance, got %+v", inst)
	}
}

func TestActivityPanicHaltsInstance(t *testing.T) {
	h := newHarness(t)
	instanceID := id.NewWorkflowInstanceID()
	inst, err := h.run(instanceID, func(wf *executor.Workflow, _ []byte) ([]byte, error) {
		return nil, executor.Action(wf, "parse reply", func(context.Context, *executor.Activity) error {
			panic("index out of range")
		})
	})
	if durable.KindOf(err) != durable.KindActivityFailed {
		t.Fatalf("expected activity failure, got %v", err)
	}
	if inst.State != workflow.StateHalted {
		t.Errorf("expected halted, got %s", inst.State)
	}
}

func TestUnclassifiedWorkflowErrorFails(t *testing.T) {
	h := newHarness(t)
	inst, err := h.run(id.NewWorkflowInstanceID(), func(*executor.Workflow, []byte) ([]byte, error) {
		return nil, errors.New("unexpected input")
	})
	if durable.KindOf(err) != durable.KindWorkflowFailed {
		t.Fatalf("expected workflow failure, got %v", err)
	}
	if inst.ExceptionTechnicalMessage != "unexpected input" {
		t.Errorf("unexpected message %q", inst.ExceptionTechnicalMessage)
	}
}

func TestInstanceLockIsExclusive(t *testing.T) {
	h := newHarness(t)
	instanceID := id.NewWorkflowInstanceID()
	if err := h.store.Claim(context.Background(), lock.InstanceKey(instanceID), "another-process", time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}

	calls := 0
	_, err := h.run(instanceID, func(*executor.Workflow, []byte) ([]byte, error) {
		calls++
		return nil, nil
	})
	if durable.KindOf(err) != durable.KindTryAgain {
		t.Fatalf("expected try again, got %v", err)
	}
	if !errors.Is(err, durable.ErrLockTaken) {
		t.Errorf("expected lock taken cause, got %v", err)
	}
	if calls != 0 {
		t.Error("workflow ran without the lock")
	}
}

func TestPrimaryOutageRoundTrip(t *testing.T) {
	h := newHarness(t)
	instanceID := id.NewWorkflowInstanceID()
	calls := 0
	fn := func(wf *executor.Workflow, _ []byte) ([]byte, error) {
		shipment, err := executor.Function(wf, "create shipment", func(context.Context, *executor.Activity) (string, error) {
			calls++
			return "shp-1", nil
		})
		if err != nil {
			return nil, err
		}
		return []byte(`"` + shipment + `"`), nil
	}

	h.store.SetFault(memory.Unavailable("UpdateActivityInstance"))
	_, err := h.run(instanceID, fn)
	e, ok := durable.AsError(err)
	if !ok || e.Kind != durable.KindPostponed || !e.Fallback {
		t.Fatalf("expected fallback postponement, got %v", err)
	}
	if h.store.BlobCount() != 1 {
		t.Fatalf("expected summary blob, got %d", h.store.BlobCount())
	}

	h.store.SetFault(nil)
	inst, err := h.run(instanceID, fn)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if inst.State != workflow.StateSuccess || string(inst.ResultAsJSON) != `"shp-1"` {
		t.Errorf("unexpected instance: %s %s", inst.State, inst.ResultAsJSON)
	}
	if calls != 1 {
		t.Errorf("expected one call, got %d", calls)
	}
	if h.store.BlobCount() != 0 {
		t.Errorf("expected summary deleted, got %d", h.store.BlobCount())
	}
	rows := h.activities(t, instanceID)
	if len(rows) != 1 || rows[0].State != activity.StateSuccess {
		t.Errorf("expected persisted success, got %+v", rows)
	}
}

func TestInstanceOfAnotherVersionIsRefused(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	instanceID := id.NewWorkflowInstanceID()

	_, err := h.run(instanceID, func(wf *executor.Workflow, _ []byte) ([]byte, error) {
		return nil, executor.Action(wf, "book carrier", func(context.Context, *executor.Activity) error {
			return durable.Postpone()
		})
	})
	if !durable.IsPostponement(err) {
		t.Fatalf("expected postponement, got %v", err)
	}

	refundForm := &workflow.Form{ID: id.NewWorkflowFormID(), CapabilityName: "orders", Title: "refund order"}
	if err := h.store.CreateForm(ctx, refundForm); err != nil {
		t.Fatalf("create form: %v", err)
	}
	refundVersion := &workflow.Version{ID: id.NewWorkflowVersionID(), FormID: refundForm.ID, MajorVersion: 1, DynamicCreate: true}
	if err := h.store.CreateVersion(ctx, refundVersion); err != nil {
		t.Fatalf("create version: %v", err)
	}

	ran := false
	inst, err := h.x.Execute(ctx, executor.Request{
		Form:       refundForm,
		Version:    refundVersion,
		InstanceID: instanceID,
		Func: func(*executor.Workflow, []byte) ([]byte, error) {
			ran = true
			return []byte(`"refunded"`), nil
		},
	})
	if !errors.Is(err, durable.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if e, ok := durable.AsError(err); !ok || e.Kind != durable.KindWorkflowFailed || e.Category != durable.CategoryWorkflowCapabilityError {
		t.Errorf("expected capability failure, got %v", err)
	}
	if ran {
		t.Error("workflow function ran against another version's instance")
	}

	stored, err := h.store.GetInstance(ctx, instanceID)
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	if !stored.VersionID.Equal(h.version.ID) || stored.State != workflow.StateExecuting {
		t.Errorf("instance was modified: version %s state %s", stored.VersionID, stored.State)
	}
	if inst == nil || inst.State != workflow.StateExecuting {
		t.Errorf("unexpected returned instance: %+v", inst)
	}
	if rows := h.activities(t, instanceID); len(rows) != 1 {
		t.Errorf("expected only the original activity, got %d", len(rows))
	}
}

// cancelAwareStore fails activity writes made on a cancelled context, as a
// database driver does.
type cancelAwareStore struct {
	*memory.Store
}

func (s cancelAwareStore) UpdateActivityInstance(ctx context.Context, inst *activity.Instance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.UpdateActivityInstance(ctx, inst)
}

func (s cancelAwareStore) CreateActivityInstance(ctx context.Context, inst *activity.Instance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.CreateActivityInstance(ctx, inst)
}

func TestActivitySaveSurvivesCallerCancellation(t *testing.T) {
	h := newHarness(t)
	store := cancelAwareStore{Store: h.store}
	protocol := fallback.New(h.store, fallback.WithLogger(quiet))
	x := executor.New(store, protocol, h.store, executor.WithLogger(quiet))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	instanceID := id.NewWorkflowInstanceID()
	inst, err := x.Execute(ctx, executor.Request{
		Form:       h.form,
		Version:    h.version,
		InstanceID: instanceID,
		Func: func(wf *executor.Workflow, _ []byte) ([]byte, error) {
			label, err := executor.Function(wf, "print label", func(context.Context, *executor.Activity) (string, error) {
				cancel()
				return "lbl-9", nil
			})
			if err != nil {
				return nil, err
			}
			return []byte(`"` + label + `"`), nil
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if inst.State == workflow.StateHalted {
		t.Fatal("a cancelled caller halted the instance")
	}
	rows := h.activities(t, instanceID)
	if len(rows) != 1 || rows[0].State != activity.StateSuccess {
		t.Errorf("expected the activity recorded as success, got %+v", rows)
	}
}

func TestLoadOutageIsTryAgain(t *testing.T) {
	h := newHarness(t)
	h.store.SetFault(memory.Unavailable("GetInstance"))
	_, err := h.run(id.NewWorkflowInstanceID(), func(*executor.Workflow, []byte) ([]byte, error) {
		return nil, nil
	})
	if durable.KindOf(err) != durable.KindTryAgain {
		t.Fatalf("expected try again, got %v", err)
	}
}

func TestCancelReturnsDefaults(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	instanceID := id.NewWorkflowInstanceID()

	calls := 0
	var quote int
	fn := func(wf *executor.Workflow, _ []byte) ([]byte, error) {
		v, err := executor.Function(wf, "request quote", func(context.Context, *executor.Activity) (int, error) {
			calls++
			return 0, durable.Postpone(durable.WithAsyncRequestID("quote-9"))
		}, executor.WithDefault(func() int { return 7 }))
		if err != nil {
			return nil, err
		}
		quote = v
		return []byte(`"ok"`), nil
	}

	if _, err := h.run(instanceID, fn); !durable.IsPostponement(err) {
		t.Fatalf("expected postponement, got %v", err)
	}
	rows := h.activities(t, instanceID)
	if rows[0].AsyncRequestID != "quote-9" {
		t.Errorf("expected async request id, got %q", rows[0].AsyncRequestID)
	}

	row, err := h.store.GetInstance(ctx, instanceID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	now := time.Now().UTC()
	row.CancelledAt = &now
	if err := h.store.UpdateInstance(ctx, row); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	inst, err := h.run(instanceID, fn)
	if durable.KindOf(err) != durable.KindCancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if inst.State != workflow.StateCancelled || !inst.IsComplete {
		t.Errorf("expected cancelled instance, got %s", inst.State)
	}
	if quote != 7 {
		t.Errorf("expected default quote, got %d", quote)
	}
	if calls != 1 {
		t.Errorf("expected one call, got %d", calls)
	}
}

func TestCancelBeforeStart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	instanceID := id.NewWorkflowInstanceID()
	now := time.Now().UTC()
	if err := h.store.CreateInstance(ctx, &workflow.Instance{
		ID:          instanceID,
		VersionID:   h.version.ID,
		State:       workflow.StateWaiting,
		StartedAt:   now,
		CancelledAt: &now,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	ran := false
	inst, err := h.run(instanceID, func(*executor.Workflow, []byte) ([]byte, error) {
		ran = true
		return nil, nil
	})
	if durable.KindOf(err) != durable.KindCancelled || inst.State != workflow.StateCancelled {
		t.Fatalf("expected cancelled, got %s %v", inst.State, err)
	}
	if ran {
		t.Error("cancelled instance was replayed")
	}
}

func TestPostponementEnqueuesReentry(t *testing.T) {
	s := memory.New()
	h := newHarnessWithStore(t, s, executor.WithReentry(asyncreq.NewManager(s)))
	instanceID := id.NewWorkflowInstanceID()

	_, err := h.run(instanceID, func(wf *executor.Workflow, _ []byte) ([]byte, error) {
		return nil, executor.Action(wf, "await approval", func(context.Context, *executor.Activity) error {
			return durable.Postpone(durable.WithRetryAfter(time.Hour))
		})
	})
	if !durable.IsPostponement(err) {
		t.Fatalf("expected postponement, got %v", err)
	}

	req, err := s.GetRequestByInstance(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("expected re-entry request: %v", err)
	}
	if until := time.Until(req.RunAt); until < 59*time.Minute || until > time.Hour {
		t.Errorf("expected run in about an hour, got %s", until)
	}
}

func TestPassDeadlineLeavesRoomToSave(t *testing.T) {
	cfg := durable.DefaultConfig()
	cfg.SaveMargin = time.Hour
	h := newHarness(t, executor.WithConfig(cfg))
	instanceID := id.NewWorkflowInstanceID()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	inst, err := h.x.Execute(ctx, executor.Request{
		Form:       h.form,
		Version:    h.version,
		InstanceID: instanceID,
		Func: func(wf *executor.Workflow, _ []byte) ([]byte, error) {
			return nil, executor.Action(wf, "slow call", func(context.Context, *executor.Activity) error {
				t.Error("activity ran after the pass deadline")
				return nil
			})
		},
	})
	if durable.KindOf(err) != durable.KindTryAgain {
		t.Fatalf("expected try again, got %v", err)
	}
	if inst.State != workflow.StateExecuting {
		t.Errorf("expected executing, got %s", inst.State)
	}
	if _, err := h.store.GetInstance(context.Background(), instanceID); err != nil {
		t.Errorf("expected instance saved: %v", err)
	}
}

type lifecycle struct {
	mu     sync.Mutex
	events []string
}

func (l *lifecycle) Name() string { return "lifecycle" }

func (l *lifecycle) add(e string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *lifecycle) OnWorkflowStarted(context.Context, *workflow.Instance) error {
	return l.add("workflow started")
}

func (l *lifecycle) OnWorkflowCompleted(context.Context, *workflow.Instance, time.Duration) error {
	return l.add("workflow completed")
}

func (l *lifecycle) OnActivityStarted(_ context.Context, _ *activity.Instance, title string) error {
	return l.add(title + " started")
}

func (l *lifecycle) OnActivityCompleted(_ context.Context, _ *activity.Instance, title string, _ time.Duration) error {
	return l.add(title + " completed")
}

func TestLifecycleHooks(t *testing.T) {
	rec := &lifecycle{}
	reg := ext.NewRegistry(quiet)
	reg.Register(rec)
	h := newHarness(t, executor.WithExtensions(reg))

	_, err := h.run(id.NewWorkflowInstanceID(), func(wf *executor.Workflow, _ []byte) ([]byte, error) {
		return nil, executor.Action(wf, "send mail", func(context.Context, *executor.Activity) error { return nil })
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{"workflow started", "send mail started", "send mail completed", "workflow completed"}
	if len(rec.events) != len(want) {
		t.Fatalf("expected %v, got %v", want, rec.events)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Errorf("event %d: expected %q, got %q", i, want[i], rec.events[i])
		}
	}
}
