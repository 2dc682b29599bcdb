package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/nexus-link/durable"
)

// Trigger is an event that moves an Instance between states.
type Trigger string

const (
	// TriggerStart begins (or continues) a replay pass.
	TriggerStart Trigger = "start"
	// TriggerComplete records that the workflow function returned.
	TriggerComplete Trigger = "complete"
	// TriggerHalt records an activity failure that stops the workflow.
	TriggerHalt Trigger = "halt"
	// TriggerPark finishes a halt once it has been persisted.
	TriggerPark Trigger = "park"
	// TriggerFail records a workflow-ending failure.
	TriggerFail Trigger = "fail"
	// TriggerCancel records an administrative cancellation.
	TriggerCancel Trigger = "cancel"
	// TriggerRetry re-arms a halted instance.
	TriggerRetry Trigger = "retry"
)

// machine binds a stateless state machine to inst. The instance itself is
// the external state storage so every transition is reflected in the row
// the caller persists.
func machine(inst *Instance, now time.Time) *stateless.StateMachine {
	sm := stateless.NewStateMachineWithExternalStorage(
		func(context.Context) (stateless.State, error) { return inst.State, nil },
		func(_ context.Context, s stateless.State) error {
			inst.State = s.(State) //nolint:forcetypeassert // only State values are configured
			return nil
		},
		stateless.FiringImmediate,
	)

	finish := func(context.Context, ...any) error {
		if inst.FinishedAt == nil {
			t := now
			inst.FinishedAt = &t
		}
		inst.IsComplete = true
		return nil
	}

	sm.Configure(StateWaiting).
		Permit(TriggerStart, StateExecuting).
		Permit(TriggerCancel, StateCancelled)

	sm.Configure(StateExecuting).
		PermitReentry(TriggerStart).
		Permit(TriggerComplete, StateSuccess).
		Permit(TriggerHalt, StateHalting).
		Permit(TriggerFail, StateFailed).
		Permit(TriggerCancel, StateCancelled)

	sm.Configure(StateHalting).
		Permit(TriggerPark, StateHalted)

	sm.Configure(StateHalted).
		Permit(TriggerRetry, StateWaiting).
		Permit(TriggerCancel, StateCancelled)

	sm.Configure(StateWaiting).
		OnEntryFrom(TriggerRetry, func(context.Context, ...any) error {
			inst.ExceptionFriendlyMessage = ""
			inst.ExceptionTechnicalMessage = ""
			return nil
		})

	sm.Configure(StateSuccess).OnEntry(finish)
	sm.Configure(StateFailed).OnEntry(finish)
	sm.Configure(StateCancelled).OnEntry(func(ctx context.Context, args ...any) error {
		if inst.CancelledAt == nil {
			t := now
			inst.CancelledAt = &t
		}
		return finish(ctx, args...)
	})

	return sm
}

// Fire applies trigger to inst at time now. It returns an error wrapping
// durable.ErrInvalidState when the transition is not permitted; inst is
// left unchanged in that case.
func Fire(ctx context.Context, inst *Instance, trigger Trigger, now time.Time) error {
	if err := machine(inst, now).FireCtx(ctx, trigger); err != nil {
		return fmt.Errorf("workflow %s: %s from %s: %w", inst.ID, trigger, inst.State, durable.ErrInvalidState)
	}
	return nil
}

// CanFire reports whether trigger is permitted in inst's current state.
func CanFire(ctx context.Context, inst *Instance, trigger Trigger) bool {
	ok, err := machine(inst, time.Time{}).CanFireCtx(ctx, trigger)
	return err == nil && ok
}
