package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/backoff"
	"github.com/nexus-link/durable/cache"
	"github.com/nexus-link/durable/ext"
	"github.com/nexus-link/durable/fallback"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/journal"
	"github.com/nexus-link/durable/lock"
	"github.com/nexus-link/durable/middleware"
	"github.com/nexus-link/durable/semaphore"
	"github.com/nexus-link/durable/workflow"
)

// Func is a workflow function. It is replayed from the start on every
// pass; activities it calls return memoized results for work already done.
type Func func(wf *Workflow, input []byte) ([]byte, error)

// Request asks for one pass over a workflow instance.
type Request struct {
	Form    *workflow.Form
	Version *workflow.Version
	// InstanceID identifies the instance. A nil ID starts a new instance.
	InstanceID id.ID
	Title      string
	Input      []byte
	Func       Func
}

// Reentry parks an instance for a later pass.
type Reentry interface {
	Enqueue(ctx context.Context, workflowInstanceID id.ID, after time.Duration) (id.ID, error)
}

// Executor runs replay passes over workflow instances.
type Executor struct {
	store      cache.Store
	protocol   *fallback.Protocol
	locker     lock.Locker
	semaphores *semaphore.Manager
	reentry    Reentry
	journal    *journal.Writer
	hooks      *ext.Registry
	chain      middleware.Middleware
	cfg        durable.Config
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithSemaphores enables Lock and Throttle activities.
func WithSemaphores(m *semaphore.Manager) Option {
	return func(x *Executor) { x.semaphores = m }
}

// WithReentry sets where postponed instances are parked.
func WithReentry(r Reentry) Option {
	return func(x *Executor) { x.reentry = r }
}

// WithJournal sets the instance journal.
func WithJournal(w *journal.Writer) Option {
	return func(x *Executor) { x.journal = w }
}

// WithExtensions sets the lifecycle hook registry.
func WithExtensions(r *ext.Registry) Option {
	return func(x *Executor) { x.hooks = r }
}

// WithMiddleware wraps every activity invocation. The first middleware is
// the outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(x *Executor) {
		if len(mws) > 0 {
			x.chain = middleware.Chain(mws...)
		}
	}
}

// WithConfig sets engine tuning.
func WithConfig(cfg durable.Config) Option {
	return func(x *Executor) { x.cfg = cfg }
}

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Executor) { x.logger = l }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(x *Executor) { x.now = now }
}

// New creates an Executor.
func New(store cache.Store, protocol *fallback.Protocol, locker lock.Locker, opts ...Option) *Executor {
	x := &Executor{
		store:    store,
		protocol: protocol,
		locker:   locker,
		cfg:      durable.DefaultConfig(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.hooks == nil {
		x.hooks = ext.NewRegistry(x.logger)
	}
	return x
}

// Execute runs one pass over the instance. It returns the instance as it
// was left and the outcome of the pass:
//
//   - nil: the workflow succeeded.
//   - KindPostponed or KindTryAgain: the instance will continue later.
//   - KindActivityFailed: the instance is halted until an administrative
//     retry.
//   - KindWorkflowFailed: the instance failed.
//   - KindCancelled: the instance was cancelled.
func (x *Executor) Execute(ctx context.Context, req Request) (*workflow.Instance, error) {
	if req.InstanceID.IsNil() {
		req.InstanceID = id.NewWorkflowInstanceID()
	}
	if req.Func == nil {
		return nil, durable.Internal("executor: nil workflow function", nil)
	}

	h, err := lock.Acquire(ctx, x.locker, lock.InstanceKey(req.InstanceID), x.cfg.LockLease)
	if err != nil {
		return nil, durable.TryAgain("instance lock", err)
	}
	defer func() {
		if relErr := h.Release(context.WithoutCancel(ctx)); relErr != nil {
			x.logger.Warn("instance lock release failed",
				slog.String("workflow_instance_id", req.InstanceID.String()),
				slog.String("error", relErr.Error()),
			)
		}
	}()
	stop := x.keepLease(ctx, h)
	defer stop()

	c, err := cache.Load(ctx, x.store, x.protocol, req.Form, req.Version, req.InstanceID, x.logger)
	if err != nil {
		if errors.Is(err, durable.ErrStoreUnavailable) {
			return nil, durable.TryAgain("load instance", err)
		}
		return nil, durable.Internal("load instance", err)
	}

	inst := c.Instance()
	if inst == nil {
		inst = &workflow.Instance{
			ID:        req.InstanceID,
			VersionID: req.Version.ID,
			Title:     req.Title,
			State:     workflow.StateWaiting,
			Input:     req.Input,
			StartedAt: x.now().UTC(),
		}
		c.Create(inst)
	} else if !inst.VersionID.Equal(req.Version.ID) {
		failure := durable.WorkflowFailed(durable.CategoryWorkflowCapabilityError,
			fmt.Sprintf("workflow instance %s runs version %s, not %s", inst.ID, inst.VersionID, req.Version.ID),
			"The request does not match the workflow of this instance.")
		failure.Err = durable.ErrInvalidState
		return snapshot(inst), failure
	}

	saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(ctx), x.cfg.SaveTimeout)
	defer cancelSave()

	switch inst.State {
	case workflow.StateSuccess:
		return snapshot(inst), nil
	case workflow.StateFailed:
		return snapshot(inst), durable.WorkflowFailed(durable.CategoryNone, inst.ExceptionTechnicalMessage, inst.ExceptionFriendlyMessage)
	case workflow.StateCancelled:
		return snapshot(inst), durable.Cancelled("workflow instance cancelled")
	case workflow.StateHalted:
		return snapshot(inst), haltSignal(c)
	case workflow.StateHalting:
		if err := x.transition(saveCtx, c, inst, workflow.TriggerPark); err != nil {
			return snapshot(inst), err
		}
		return snapshot(inst), haltSignal(c)
	case workflow.StateWaiting:
		if inst.CancelRequested() {
			if err := x.transition(saveCtx, c, inst, workflow.TriggerCancel); err != nil {
				return snapshot(inst), err
			}
			x.lowerAll(saveCtx, inst.ID)
			x.hooks.EmitWorkflowCancelled(saveCtx, inst)
			return snapshot(inst), durable.Cancelled("workflow instance cancelled")
		}
	}

	wasWaiting := inst.State == workflow.StateWaiting
	if err := workflow.Fire(ctx, inst, workflow.TriggerStart, x.now().UTC()); err != nil {
		return snapshot(inst), durable.Internal("start pass", err)
	}
	c.MarkInstanceDirty()
	if wasWaiting {
		x.hooks.EmitWorkflowStarted(ctx, inst)
		x.journal.Write(ctx, inst.ID, id.Nil, journal.SeverityInformation, "workflow started", nil)
	}

	passCtx, cancelPass := x.reduce(ctx)
	defer cancelPass()

	p := &pass{x: x, ctx: passCtx, cache: c, instanceID: inst.ID}
	wf := &Workflow{p: p, ctx: passCtx, title: inst.Title}
	out, runErr := x.replay(wf, req.Func, inst.Input)

	return x.conclude(saveCtx, c, inst, passCtx, out, runErr)
}

// conclude maps the result of the workflow function onto the instance,
// persists it and reports the outcome.
func (x *Executor) conclude(ctx context.Context, c *cache.Cache, inst *workflow.Instance, passCtx context.Context, out []byte, runErr error) (*workflow.Instance, error) {
	e, tagged := durable.AsError(runErr)

	switch {
	case c.CancelRequested() || (tagged && e.Kind == durable.KindCancelled):
		if err := x.transition(ctx, c, inst, workflow.TriggerCancel); err != nil {
			return snapshot(inst), err
		}
		x.lowerAll(ctx, inst.ID)
		x.journal.Write(ctx, inst.ID, id.Nil, journal.SeverityWarning, "workflow cancelled", nil)
		x.hooks.EmitWorkflowCancelled(ctx, inst)
		return snapshot(inst), durable.Cancelled("workflow instance cancelled")

	case runErr == nil:
		inst.ResultAsJSON = out
		if err := x.transition(ctx, c, inst, workflow.TriggerComplete); err != nil {
			return snapshot(inst), err
		}
		x.lowerAll(ctx, inst.ID)
		x.journal.Write(ctx, inst.ID, id.Nil, journal.SeverityInformation, "workflow completed", nil)
		x.hooks.EmitWorkflowCompleted(ctx, inst, x.now().Sub(inst.StartedAt))
		return snapshot(inst), nil

	case tagged && e.Kind == durable.KindRetryActivity:
		after, err := x.resetActivity(ctx, c, e)
		if err != nil {
			return x.halt(ctx, c, inst, err)
		}
		return x.postpone(ctx, c, inst, durable.Postpone(durable.WithRetryAfter(after)))

	case durable.IsPostponement(runErr):
		return x.postpone(ctx, c, inst, runErr)

	case tagged && (e.Kind == durable.KindActivityFailed || e.Kind == durable.KindInternal || e.Kind == durable.KindActivityInternal):
		return x.halt(ctx, c, inst, runErr)

	case tagged && e.Kind == durable.KindWorkflowFailed:
		return x.fail(ctx, c, inst, e)

	case !tagged && passCtx.Err() != nil:
		return x.postpone(ctx, c, inst, durable.TryAgain("pass deadline reached", runErr))
	}

	failure := durable.WorkflowFailed(durable.CategoryWorkflowImplementationError, runErr.Error(),
		"The workflow stopped because of an error in its implementation.")
	failure.Err = runErr
	return x.fail(ctx, c, inst, failure)
}

func (x *Executor) postpone(ctx context.Context, c *cache.Cache, inst *workflow.Instance, cause error) (*workflow.Instance, error) {
	c.MarkInstanceDirty()
	if err := c.Save(ctx); err != nil {
		return snapshot(inst), err
	}
	if durable.KindOf(cause) == durable.KindPostponed {
		x.park(ctx, inst.ID, cause)
	}
	x.hooks.EmitWorkflowPostponed(ctx, inst, cause)
	return snapshot(inst), cause
}

// park schedules the next pass of a postponed instance.
func (x *Executor) park(ctx context.Context, instanceID id.ID, cause error) {
	if x.reentry == nil {
		return
	}
	after := x.cfg.PostponeRetryAfter
	if e, ok := durable.AsError(cause); ok && e.RetryAfter > 0 {
		after = e.RetryAfter
	}
	if _, err := x.reentry.Enqueue(ctx, instanceID, after); err != nil {
		x.logger.Error("re-entry enqueue failed",
			slog.String("workflow_instance_id", instanceID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (x *Executor) halt(ctx context.Context, c *cache.Cache, inst *workflow.Instance, cause error) (*workflow.Instance, error) {
	if e, ok := durable.AsError(cause); ok {
		inst.ExceptionTechnicalMessage = e.TechnicalMessage
		if inst.ExceptionTechnicalMessage == "" {
			inst.ExceptionTechnicalMessage = e.Error()
		}
		inst.ExceptionFriendlyMessage = e.FriendlyMessage
	} else {
		inst.ExceptionTechnicalMessage = cause.Error()
	}
	if err := x.transition(ctx, c, inst, workflow.TriggerHalt); err != nil {
		return snapshot(inst), err
	}
	if err := x.transition(ctx, c, inst, workflow.TriggerPark); err != nil {
		return snapshot(inst), err
	}
	x.logger.Warn("workflow halted",
		slog.String("workflow_instance_id", inst.ID.String()),
		slog.String("error", inst.ExceptionTechnicalMessage),
	)
	x.journal.Write(ctx, inst.ID, id.Nil, journal.SeverityError, "workflow halted: "+inst.ExceptionTechnicalMessage, nil)
	x.hooks.EmitWorkflowHalted(ctx, inst, cause)
	if durable.KindOf(cause) == durable.KindActivityFailed {
		return snapshot(inst), cause
	}
	return snapshot(inst), haltSignal(c)
}

func (x *Executor) fail(ctx context.Context, c *cache.Cache, inst *workflow.Instance, failure *durable.Error) (*workflow.Instance, error) {
	inst.ExceptionTechnicalMessage = failure.TechnicalMessage
	inst.ExceptionFriendlyMessage = failure.FriendlyMessage
	if err := x.transition(ctx, c, inst, workflow.TriggerFail); err != nil {
		return snapshot(inst), err
	}
	x.lowerAll(ctx, inst.ID)
	x.logger.Warn("workflow failed",
		slog.String("workflow_instance_id", inst.ID.String()),
		slog.String("category", string(failure.Category)),
		slog.String("error", failure.TechnicalMessage),
	)
	x.journal.Write(ctx, inst.ID, id.Nil, journal.SeverityCritical, "workflow failed: "+failure.TechnicalMessage, nil)
	x.hooks.EmitWorkflowFailed(ctx, inst, failure)
	return snapshot(inst), failure
}

// transition fires trigger and saves the instance.
func (x *Executor) transition(ctx context.Context, c *cache.Cache, inst *workflow.Instance, trigger workflow.Trigger) error {
	if err := workflow.Fire(ctx, inst, trigger, x.now().UTC()); err != nil {
		return durable.Internal(string(trigger), err)
	}
	c.MarkInstanceDirty()
	return c.Save(ctx)
}

// resetActivity re-arms the activity named by a retry signal and returns
// how long to wait before its next attempt.
func (x *Executor) resetActivity(ctx context.Context, c *cache.Cache, e *durable.Error) (time.Duration, error) {
	a, ok := c.ActivityByID(e.ActivityInstanceID)
	if !ok {
		return 0, durable.Internal(fmt.Sprintf("retry unknown activity %s", e.ActivityInstanceID), nil)
	}
	if err := activity.Fire(ctx, a, activity.TriggerReset, x.now().UTC()); err != nil {
		return 0, durable.ActivityInternal(a.ID, "reset activity", err)
	}
	c.Put(a)
	if e.RetryAfter > 0 {
		return e.RetryAfter, nil
	}
	return backoff.Next(backoff.ActivityRetryStrategy(), a.Attempts, 0), nil
}

// replay runs the workflow function, converting a panic into an error.
func (x *Executor) replay(wf *Workflow, fn Func, input []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.Error("workflow panicked",
				slog.String("workflow_instance_id", wf.InstanceID().String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in workflow: %v", r)
		}
	}()
	return fn(wf, input)
}

// reduce derives the pass context, ending SaveMargin before ctx does.
func (x *Executor) reduce(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline.Add(-x.cfg.SaveMargin))
}

// keepLease extends the instance lock until the returned func is called.
func (x *Executor) keepLease(ctx context.Context, h *lock.Handle) func() {
	if x.cfg.LockLease <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(x.cfg.LockLease / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := h.Extend(ctx, x.cfg.LockLease); err != nil && ctx.Err() == nil {
					x.logger.Warn("instance lock extend failed",
						slog.String("key", h.Key()),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (x *Executor) lowerAll(ctx context.Context, instanceID id.ID) {
	if x.semaphores == nil {
		return
	}
	if err := x.semaphores.LowerAll(ctx, instanceID); err != nil {
		x.logger.Warn("semaphore release on finish failed",
			slog.String("workflow_instance_id", instanceID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// haltSignal reports the failure that halted the instance.
func haltSignal(c *cache.Cache) error {
	inst := c.Instance()
	acts := c.Activities()
	for i := len(acts) - 1; i >= 0; i-- {
		a := acts[i]
		if a.State == activity.StateFailed && a.ExceptionTechnicalMessage == inst.ExceptionTechnicalMessage {
			return a.Failure()
		}
	}
	return durable.ActivityFailed(durable.CategoryTechnicalError, inst.ExceptionTechnicalMessage, inst.ExceptionFriendlyMessage)
}

func snapshot(inst *workflow.Instance) *workflow.Instance {
	cp := *inst
	return &cp
}
