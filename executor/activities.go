package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/semaphore"
)

const (
	contextCondition = "condition"
	contextWakeAt    = "wake_at"
	contextHolder    = "semaphore_holder"
)

// Action runs fn as an activity without a result.
func Action(s Scope, title string, fn func(ctx context.Context, a *Activity) error, opts ...CallOption) error {
	_, err := execute(s, title, activity.TypeAction, opts, func(ctx context.Context, a *Activity) (struct{}, error) {
		return struct{}{}, fn(ctx, a)
	})
	return err
}

// Function runs fn as an activity and memoizes its result. On replay the
// stored result is returned without calling fn.
func Function[T any](s Scope, title string, fn func(ctx context.Context, a *Activity) (T, error), opts ...CallOption) (T, error) {
	return execute(s, title, activity.TypeFunction, opts, fn)
}

// ForEachSequential runs body once per item, in order. Activities called
// from body are keyed by the 1-based iteration, so each item's work is
// memoized separately.
func ForEachSequential[T any](s Scope, title string, items []T, body func(ctx context.Context, a *Activity, item T) error, opts ...CallOption) error {
	_, err := execute(s, title, activity.TypeForEachSequential, opts, func(ctx context.Context, a *Activity) (struct{}, error) {
		for i, item := range items {
			if err := body(ctx, a.at(i+1), item); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	return err
}

// ForEachParallel runs body for every item concurrently. Iterations are not
// cancelled when a sibling fails; once all have returned, the most severe
// error is reported.
func ForEachParallel[T any](s Scope, title string, items []T, body func(ctx context.Context, a *Activity, item T) error, opts ...CallOption) error {
	_, err := execute(s, title, activity.TypeForEachParallel, opts, func(ctx context.Context, a *Activity) (struct{}, error) {
		errs := make([]error, len(items))
		var g errgroup.Group
		for i, item := range items {
			scope := a.at(i + 1)
			g.Go(func() error {
				errs[i] = body(ctx, scope, item)
				return nil
			})
		}
		_ = g.Wait()
		return struct{}{}, mostSevere(errs)
	})
	return err
}

// mostSevere returns the first error that is not a postponement, falling
// back to the first postponement.
func mostSevere(errs []error) error {
	var postponed error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if !durable.IsPostponement(err) {
			return err
		}
		if postponed == nil {
			postponed = err
		}
	}
	return postponed
}

// If evaluates cond once and runs then or otherwise depending on the
// result. The decision is remembered, so a replay takes the same branch
// even if cond would now answer differently.
func If(s Scope, title string, cond func(ctx context.Context, a *Activity) (bool, error), then, otherwise func(ctx context.Context, a *Activity) error, opts ...CallOption) error {
	_, err := execute(s, title, activity.TypeIf, opts, func(ctx context.Context, a *Activity) (struct{}, error) {
		ok, err := condition(ctx, a, cond)
		if err != nil {
			return struct{}{}, err
		}
		branch := otherwise
		if ok {
			branch = then
		}
		if branch == nil {
			return struct{}{}, nil
		}
		return struct{}{}, branch(ctx, a)
	})
	return err
}

func condition(ctx context.Context, a *Activity, cond func(ctx context.Context, a *Activity) (bool, error)) (bool, error) {
	if v, ok := a.GetContext(contextCondition); ok {
		return strconv.ParseBool(v)
	}
	ok, err := cond(ctx, a)
	if err != nil {
		return false, err
	}
	a.SetContext(contextCondition, strconv.FormatBool(ok))
	return ok, nil
}

// Lock runs body while holding the resource exclusively across all
// instances of the workflow form.
func Lock[T any](s Scope, title, resource string, body func(ctx context.Context, a *Activity) (T, error), opts ...CallOption) (T, error) {
	return throttle(s, title, activity.TypeLock, resource, 1, body, opts)
}

// Throttle runs body while holding one of limit slots of the resource.
// When no slot is free the instance is postponed and woken once one is.
func Throttle[T any](s Scope, title, resource string, limit int, body func(ctx context.Context, a *Activity) (T, error), opts ...CallOption) (T, error) {
	return throttle(s, title, activity.TypeThrottle, resource, limit, body, opts)
}

func throttle[T any](s Scope, title string, typ activity.Type, resource string, limit int, body func(ctx context.Context, a *Activity) (T, error), opts []CallOption) (T, error) {
	return execute(s, title, typ, opts, func(ctx context.Context, a *Activity) (T, error) {
		var zero T
		x := a.p.x
		if x.semaphores == nil {
			return zero, durable.Internal(fmt.Sprintf("activity %q needs a semaphore manager", title), nil)
		}

		holderID, err := x.semaphores.Raise(ctx, semaphore.RaiseRequest{
			WorkflowFormID:     a.p.cache.Form().ID,
			ResourceIdentifier: resource,
			Limit:              limit,
			WorkflowInstanceID: a.p.instanceID,
			Expiration:         x.cfg.SemaphoreExpiration,
		})
		if err != nil {
			return zero, err
		}
		a.SetContext(contextHolder, holderID.String())

		stop := x.heartbeat(ctx, holderID, resource)
		out, err := body(ctx, a)
		stop()

		if durable.IsPostponement(err) {
			return out, err
		}
		if lerr := x.semaphores.Lower(context.WithoutCancel(ctx), holderID); lerr != nil {
			x.logger.Warn("semaphore lower failed",
				slog.String("resource", resource),
				slog.String("holder_id", holderID.String()),
				slog.String("error", lerr.Error()),
			)
		}
		return out, err
	})
}

// heartbeat extends the semaphore holder until the returned func is called.
func (x *Executor) heartbeat(ctx context.Context, holderID id.ID, resource string) func() {
	expiration := x.cfg.SemaphoreExpiration
	if expiration <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(expiration / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := x.semaphores.Extend(ctx, holderID, expiration); err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					x.logger.Warn("semaphore holder lost",
						slog.String("resource", resource),
						slog.String("holder_id", holderID.String()),
						slog.String("error", err.Error()),
					)
					if errors.Is(err, durable.ErrSemaphoreExpired) {
						return
					}
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Sleep postpones the workflow until d has passed since the activity
// first ran.
func Sleep(s Scope, title string, d time.Duration) error {
	_, err := execute(s, title, activity.TypeSleep, nil, func(_ context.Context, a *Activity) (struct{}, error) {
		now := a.p.x.now().UTC()
		wakeAt := now.Add(d)
		if v, ok := a.GetContext(contextWakeAt); ok {
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return struct{}{}, fmt.Errorf("parse wake time %q: %w", v, err)
			}
			wakeAt = t
		} else {
			a.SetContext(contextWakeAt, wakeAt.Format(time.RFC3339Nano))
		}
		if !now.Before(wakeAt) {
			return struct{}{}, nil
		}
		return struct{}{}, durable.Postpone(durable.WithRetryAfter(wakeAt.Sub(now)))
	})
	return err
}
