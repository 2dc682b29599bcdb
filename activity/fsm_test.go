package activity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/id"
)

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	inst := &activity.Instance{ID: id.NewActivityInstanceID(), State: activity.StateWaiting}

	if err := activity.Fire(ctx, inst, activity.TriggerStart, now); err != nil {
		t.Fatal(err)
	}
	if inst.State != activity.StateExecuting || inst.Attempts != 1 || inst.StartedAt.IsZero() {
		t.Fatalf("unexpected instance after start: %+v", inst)
	}

	// A postponed activity is started again on the next pass.
	if err := activity.Fire(ctx, inst, activity.TriggerStart, now); err != nil {
		t.Fatal(err)
	}
	if inst.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", inst.Attempts)
	}

	if err := activity.Fire(ctx, inst, activity.TriggerSucceed, now); err != nil {
		t.Fatal(err)
	}
	if inst.State != activity.StateSuccess || inst.FinishedAt == nil {
		t.Fatalf("unexpected instance after success: %+v", inst)
	}

	err := activity.Fire(ctx, inst, activity.TriggerReset, now)
	if !errors.Is(err, durable.ErrInvalidState) {
		t.Fatalf("success is final, got %v", err)
	}
}

func TestResetClearsFailure(t *testing.T) {
	ctx := context.Background()
	handled := true
	inst := &activity.Instance{
		ID:                        id.NewActivityInstanceID(),
		State:                     activity.StateFailed,
		ExceptionCategory:         durable.CategoryBusinessError,
		ExceptionTechnicalMessage: "rejected",
		ExceptionAlertHandled:     &handled,
	}

	if err := activity.Fire(ctx, inst, activity.TriggerReset, time.Now()); err != nil {
		t.Fatal(err)
	}
	if inst.State != activity.StateWaiting {
		t.Fatalf("expected waiting, got %s", inst.State)
	}
	if inst.ExceptionCategory != durable.CategoryNone || inst.ExceptionTechnicalMessage != "" || inst.ExceptionAlertHandled != nil {
		t.Errorf("failure not cleared: %+v", inst)
	}
}

func TestKeyString(t *testing.T) {
	wfi := id.NewWorkflowInstanceID()
	acv := id.NewActivityVersionID()
	a := activity.Key{WorkflowInstanceID: wfi, ActivityVersionID: acv, Iteration: 1}
	b := activity.Key{WorkflowInstanceID: wfi, ActivityVersionID: acv, Iteration: 2}
	if a.String() == b.String() {
		t.Error("iterations must produce distinct keys")
	}
	inst := &activity.Instance{WorkflowInstanceID: wfi, ActivityVersionID: acv, Iteration: 1}
	if inst.Key().String() != a.String() {
		t.Error("Key() mismatch")
	}
}

func TestParseFailUrgency(t *testing.T) {
	u, err := activity.ParseFailUrgency("")
	if err != nil || u != activity.UrgencyStopping {
		t.Fatalf("empty urgency should default to stopping, got %q %v", u, err)
	}
	if _, err := activity.ParseFailUrgency("panic"); err == nil {
		t.Error("expected error")
	}
}
