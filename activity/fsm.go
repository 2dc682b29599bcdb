package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/nexus-link/durable"
)

// Trigger is an event that moves an activity Instance between states.
type Trigger string

// Activity triggers.
const (
	TriggerStart   Trigger = "start"
	TriggerSucceed Trigger = "succeed"
	TriggerFail    Trigger = "fail"
	TriggerReset   Trigger = "reset"
)

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
		t := now
		inst.FinishedAt = &t
		return nil
	}

	sm.Configure(StateWaiting).
		Permit(TriggerStart, StateExecuting).
		OnEntryFrom(TriggerReset, func(context.Context, ...any) error {
			inst.ExceptionCategory = durable.CategoryNone
			inst.ExceptionTechnicalMessage = ""
			inst.ExceptionFriendlyMessage = ""
			inst.ExceptionAlertHandled = nil
			inst.AsyncRequestID = ""
			inst.FinishedAt = nil
			return nil
		})

	sm.Configure(StateExecuting).
		PermitReentry(TriggerStart).
		Permit(TriggerSucceed, StateSuccess).
		Permit(TriggerFail, StateFailed).
		Permit(TriggerReset, StateWaiting).
		OnEntryFrom(TriggerStart, func(context.Context, ...any) error {
			if inst.StartedAt.IsZero() {
				inst.StartedAt = now
			}
			inst.Attempts++
			return nil
		})

	sm.Configure(StateSuccess).OnEntry(finish)

	sm.Configure(StateFailed).
		Permit(TriggerReset, StateWaiting).
		OnEntry(finish)

	return sm
}

// Fire applies trigger to inst at time now. It returns an error wrapping
// durable.ErrInvalidState when the transition is not permitted.
func Fire(ctx context.Context, inst *Instance, trigger Trigger, now time.Time) error {
	if err := machine(inst, now).FireCtx(ctx, trigger); err != nil {
		return fmt.Errorf("activity %s: %s from %s: %w", inst.ID, trigger, inst.State, durable.ErrInvalidState)
	}
	return nil
}
