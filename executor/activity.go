package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/cache"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/journal"
	"github.com/nexus-link/durable/middleware"
)

const friendlyTechnicalFailure = "The step could not be completed because of a technical problem."

// execute runs one activity call: memoization lookup, state transitions,
// user method invocation and outcome classification.
func execute[T any](s Scope, title string, typ activity.Type, opts []CallOption, body func(ctx context.Context, a *Activity) (T, error)) (T, error) {
	var zero T
	f := s.frame()
	p := f.p
	o := newOptions(opts)

	version, err := p.cache.ActivityVersion(f.ctx, cache.Definition{
		Title:                   title,
		Type:                    typ,
		ParentActivityVersionID: f.parentVersionID,
		Position:                p.nextPosition(),
		FailUrgency:             o.urgency,
	})
	if err != nil {
		return zero, p.storageError(fmt.Sprintf("resolve activity %q", title), err)
	}

	key := activity.Key{
		WorkflowInstanceID:       p.instanceID,
		ActivityVersionID:        version.ID,
		ParentActivityInstanceID: f.parentID,
		Iteration:                f.iteration,
	}
	inst, ok := p.cache.Activity(key)
	if !ok {
		inst = &activity.Instance{
			ID:                       id.NewActivityInstanceID(),
			WorkflowInstanceID:       p.instanceID,
			ActivityVersionID:        version.ID,
			ParentActivityInstanceID: f.parentID,
			Iteration:                f.iteration,
			ParentIteration:          f.parentIteration,
			State:                    activity.StateWaiting,
		}
	}

	switch inst.State {
	case activity.StateSuccess:
		var out T
		if err := json.Unmarshal(inst.ResultAsJSON, &out); err != nil {
			return zero, durable.ActivityInternal(inst.ID, fmt.Sprintf("decode result of %q", title), err)
		}
		return out, nil
	case activity.StateFailed:
		return escalate[T](inst, version.FailUrgency, o)
	}

	if p.cache.CancelRequested() {
		if v, ok := fallbackValue[T](o); ok {
			return v, nil
		}
		e := durable.Cancelled("workflow instance cancelled")
		e.ActivityInstanceID = inst.ID
		return zero, e
	}
	if p.ctx.Err() != nil {
		return zero, stamp(durable.TryAgain("pass deadline reached", p.ctx.Err()), inst.ID)
	}

	now := p.x.now().UTC()
	if err := activity.Fire(f.ctx, inst, activity.TriggerStart, now); err != nil {
		return zero, durable.ActivityInternal(inst.ID, "start activity", err)
	}

	if o.maxTime > 0 && now.Sub(inst.StartedAt) >= o.maxTime {
		failure := durable.ActivityFailed(durable.CategoryMaxTimeReachedError,
			fmt.Sprintf("activity %q exceeded its maximum execution time of %s", title, o.maxTime),
			"The step took too long to complete.")
		return fail[T](p, f.ctx, inst, title, version.FailUrgency, o, failure)
	}

	p.cache.Put(inst)
	if err := p.save(f.ctx); err != nil {
		return zero, stamp(err, inst.ID)
	}
	p.x.hooks.EmitActivityStarted(f.ctx, inst, title)

	act := &Activity{p: p, ctx: f.ctx, state: &activityState{inst: inst}, title: title}

	actx, cancel := f.ctx, context.CancelFunc(func() {})
	var timeout time.Duration
	if o.maxTime > 0 {
		timeout = o.maxTime - now.Sub(inst.StartedAt)
		actx, cancel = context.WithTimeout(f.ctx, timeout)
	}
	defer cancel()
	act.ctx = actx

	info := &middleware.Info{
		WorkflowInstanceID: p.instanceID,
		ActivityInstanceID: inst.ID,
		Title:              title,
		Type:               typ,
		Iteration:          inst.Iteration,
		Attempt:            inst.Attempts,
		Timeout:            timeout,
	}

	start := time.Now()
	out, runErr := invoke(p, actx, info, act, body)
	elapsed := time.Since(start)

	act.state.mu.Lock()
	inst = act.state.inst
	act.state.mu.Unlock()

	if runErr == nil {
		result, err := json.Marshal(out)
		if err != nil {
			return zero, durable.ActivityInternal(inst.ID, fmt.Sprintf("encode result of %q", title), err)
		}
		inst.ResultAsJSON = result
		if err := activity.Fire(f.ctx, inst, activity.TriggerSucceed, p.x.now().UTC()); err != nil {
			return zero, durable.ActivityInternal(inst.ID, "complete activity", err)
		}
		p.cache.Put(inst)
		if err := p.save(f.ctx); err != nil {
			return zero, stamp(err, inst.ID)
		}
		p.x.hooks.EmitActivityCompleted(f.ctx, inst, title, elapsed)
		return out, nil
	}

	e, tagged := durable.AsError(runErr)
	foreign := tagged && !e.ActivityInstanceID.IsNil() && !e.ActivityInstanceID.Equal(inst.ID)

	switch {
	case foreign, tagged && passesThrough(e.Kind):
		// A nested activity's signal, or an engine signal; this activity
		// stays Executing and is re-run on the next pass.
		p.cache.Put(inst)
		return zero, runErr

	case durable.IsPostponement(runErr):
		inst.AsyncRequestID = e.AsyncRequestID
		e.ActivityInstanceID = inst.ID
		p.cache.Put(inst)
		if err := p.save(f.ctx); err != nil {
			return zero, stamp(err, inst.ID)
		}
		p.x.hooks.EmitActivityPostponed(f.ctx, inst, title, runErr)
		return zero, runErr

	case o.maxTime > 0 && errors.Is(actx.Err(), context.DeadlineExceeded) && p.ctx.Err() == nil:
		failure := durable.ActivityFailed(durable.CategoryMaxTimeReachedError,
			fmt.Sprintf("activity %q exceeded its maximum execution time of %s: %v", title, o.maxTime, runErr),
			"The step took too long to complete.")
		return fail[T](p, f.ctx, inst, title, version.FailUrgency, o, failure)

	case p.ctx.Err() != nil:
		p.cache.Put(inst)
		return zero, stamp(durable.TryAgain("pass deadline reached", runErr), inst.ID)
	}

	return fail[T](p, f.ctx, inst, title, version.FailUrgency, o, classify(runErr))
}

// passesThrough reports whether a signal of this kind is never recorded
// as a failure of the activity it escapes from.
func passesThrough(k durable.Kind) bool {
	switch k {
	case durable.KindRetryActivity, durable.KindCancelled, durable.KindInternal, durable.KindActivityInternal:
		return true
	default:
		return false
	}
}

// classify turns an error returned by user code into a failure record.
func classify(err error) *durable.Error {
	if e, ok := durable.AsError(err); ok {
		switch e.Kind {
		case durable.KindActivityFailed, durable.KindWorkflowFailed:
			out := *e
			if out.Category == durable.CategoryNone {
				out.Category = durable.CategoryTechnicalError
			}
			if out.TechnicalMessage == "" && out.Err != nil {
				out.TechnicalMessage = out.Err.Error()
			}
			return &out
		}
	}
	f := durable.ActivityFailed(durable.CategoryTechnicalError, err.Error(), friendlyTechnicalFailure)
	f.Err = err
	return f
}

// fail records failure on inst and applies the fail urgency.
func fail[T any](p *pass, ctx context.Context, inst *activity.Instance, title string, urgency activity.FailUrgency, o *options, failure *durable.Error) (T, error) {
	var zero T
	inst.ExceptionCategory = failure.Category
	inst.ExceptionTechnicalMessage = failure.TechnicalMessage
	inst.ExceptionFriendlyMessage = failure.FriendlyMessage
	if urgency == activity.UrgencyHandleLater {
		handled := false
		inst.ExceptionAlertHandled = &handled
	}
	if err := activity.Fire(ctx, inst, activity.TriggerFail, p.x.now().UTC()); err != nil {
		return zero, durable.ActivityInternal(inst.ID, "fail activity", err)
	}
	p.cache.Put(inst)
	if err := p.save(ctx); err != nil {
		return zero, stamp(err, inst.ID)
	}

	p.x.logger.Info("activity failed",
		slog.String("workflow_instance_id", p.instanceID.String()),
		slog.String("activity", title),
		slog.String("category", string(failure.Category)),
		slog.String("urgency", string(urgency)),
		slog.String("error", failure.TechnicalMessage),
	)
	p.x.journal.Write(ctx, p.instanceID, inst.ID, journal.SeverityWarning,
		fmt.Sprintf("activity %q failed: %s", title, failure.TechnicalMessage), nil)
	p.x.hooks.EmitActivityFailed(ctx, inst, title, failure)

	if failure.Kind == durable.KindWorkflowFailed {
		return zero, stamp(durable.WorkflowFailed(failure.Category, failure.TechnicalMessage, failure.FriendlyMessage), inst.ID)
	}
	return escalate[T](inst, urgency, o)
}

// escalate decides what a Failed activity returns to its caller.
func escalate[T any](inst *activity.Instance, urgency activity.FailUrgency, o *options) (T, error) {
	var zero T
	switch urgency {
	case activity.UrgencyIgnore, activity.UrgencyHandleLater:
		v, _ := fallbackValue[T](o)
		return v, nil
	case activity.UrgencyCancelWorkflow:
		e := durable.WorkflowFailed(inst.ExceptionCategory, inst.ExceptionTechnicalMessage, inst.ExceptionFriendlyMessage)
		e.ActivityInstanceID = inst.ID
		return zero, e
	default:
		return zero, inst.Failure()
	}
}

// invoke runs body through the middleware chain. A panic becomes an error.
func invoke[T any](p *pass, ctx context.Context, info *middleware.Info, act *Activity, body func(ctx context.Context, a *Activity) (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.x.logger.Error("activity panicked",
				slog.String("activity", info.Title),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in activity %s: %v", info.Title, r)
		}
	}()
	handler := func(ctx context.Context) error {
		var err error
		out, err = body(ctx, act)
		return err
	}
	if p.x.chain == nil {
		return out, handler(ctx)
	}
	return out, p.x.chain(ctx, info, handler)
}

// stamp attributes an untagged engine signal to the activity it escaped.
func stamp(err error, activityInstanceID id.ID) error {
	if e, ok := durable.AsError(err); ok && e.ActivityInstanceID.IsNil() {
		e.ActivityInstanceID = activityInstanceID
	}
	return err
}

// storageError maps a store failure outside the fallback protocol to a
// signal the caller can act on.
func (p *pass) storageError(what string, err error) error {
	if durable.IsPostponement(err) {
		return err
	}
	if errors.Is(err, durable.ErrStoreUnavailable) || errors.Is(err, durable.ErrConflict) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return durable.TryAgain(what, err)
	}
	return durable.Internal(what, err)
}
