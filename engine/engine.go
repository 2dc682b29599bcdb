package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/asyncreq"
	"github.com/nexus-link/durable/cron"
	"github.com/nexus-link/durable/executor"
	"github.com/nexus-link/durable/ext"
	"github.com/nexus-link/durable/fallback"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/journal"
	"github.com/nexus-link/durable/lock"
	mw "github.com/nexus-link/durable/middleware"
	"github.com/nexus-link/durable/observability"
	"github.com/nexus-link/durable/semaphore"
	"github.com/nexus-link/durable/store"
	"github.com/nexus-link/durable/workflow"
)

// Maintenance task names.
const (
	TaskReclaimSemaphores = "reclaim-semaphores"
	TaskPurgeJournal      = "purge-journal"
)

// Engine owns the executor, the re-entry pool and the maintenance
// scheduler of one process.
type Engine struct {
	store    store.Store
	locker   lock.Locker
	protocol *fallback.Protocol
	cfg      durable.Config
	logger   *slog.Logger

	extensions *ext.Registry
	mws        []mw.Middleware
	codec      fallback.Codec

	journal    *journal.Writer
	reentry    *asyncreq.Manager
	semaphores *semaphore.Manager
	executor   *executor.Executor
	pool       *asyncreq.Pool
	scheduler  *cron.Scheduler

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu        sync.RWMutex
	byName    map[string]*registration
	byVersion map[string]*registration
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets engine tuning. Unset fields are not defaulted; start from
// durable.DefaultConfig().
func WithConfig(cfg durable.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware adds middleware around every activity invocation. It runs
// inside the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithCodec sets the encoding of fallback summaries.
func WithCodec(c fallback.Codec) Option {
	return func(eng *Engine) { eng.codec = c }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension. If not set, the global
// otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New creates an Engine. blobs receives fallback summaries while s is
// unavailable; it may be nil, in which case a primary outage ends passes
// with a try-again error.
func New(s store.Store, blobs fallback.BlobStore, locker lock.Locker, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, durable.ErrNoStore
	}
	if locker == nil {
		return nil, errors.New("durable: no locker configured")
	}

	eng := &Engine{
		store:     s,
		locker:    locker,
		cfg:       durable.DefaultConfig(),
		logger:    slog.Default(),
		codec:     fallback.JSONCodec{},
		byName:    make(map[string]*registration),
		byVersion: make(map[string]*registration),
	}
	// The registry exists before options so WithExtension can use it; its
	// logger is replaced once WithLogger has been applied.
	eng.extensions = ext.NewRegistry(nil)
	for _, opt := range opts {
		opt(eng)
	}
	registered := eng.extensions.Extensions()
	eng.extensions = ext.NewRegistry(eng.logger)
	for _, e := range registered {
		eng.extensions.Register(e)
	}

	threshold, err := journal.ParseSeverity(eng.cfg.JournalThreshold)
	if err != nil {
		return nil, fmt.Errorf("durable: journal threshold: %w", err)
	}
	eng.journal = journal.NewWriter(s, threshold, eng.logger)

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter("github.com/nexus-link/durable/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	eng.protocol = fallback.New(blobs,
		fallback.WithCodec(eng.codec),
		fallback.WithLogger(eng.logger),
		fallback.WithRetryAfter(eng.cfg.PostponeRetryAfter),
	)
	eng.reentry = asyncreq.NewManager(s)
	eng.semaphores = semaphore.NewManager(s, locker,
		semaphore.WithWaker(eng.reentry),
		semaphore.WithExpiration(eng.cfg.SemaphoreExpiration),
		semaphore.WithLogger(eng.logger),
	)

	eng.executor = executor.New(s, eng.protocol, locker,
		executor.WithSemaphores(eng.semaphores),
		executor.WithReentry(eng.reentry),
		executor.WithJournal(eng.journal),
		executor.WithExtensions(eng.extensions),
		executor.WithMiddleware(eng.middleware()...),
		executor.WithConfig(eng.cfg),
		executor.WithLogger(eng.logger),
	)

	eng.pool = asyncreq.NewPool(s, eng.resume,
		asyncreq.WithConcurrency(eng.cfg.ReentryConcurrency),
		asyncreq.WithPollInterval(eng.cfg.ReentryPollInterval),
		asyncreq.WithMaxAttempts(eng.cfg.ReentryMaxAttempts),
		asyncreq.WithRateLimit(eng.cfg.ReentryRateLimit, eng.cfg.ReentryConcurrency),
		asyncreq.WithLogger(eng.logger),
	)

	eng.scheduler = cron.NewScheduler(locker, eng.extensions, eng.logger)
	if err := eng.registerMaintenance(); err != nil {
		return nil, err
	}

	return eng, nil
}

// middleware builds the default stack: recover → tracing → metrics →
// logging → timeout, followed by the user middleware.
func (eng *Engine) middleware() []mw.Middleware {
	tracingMw := mw.Tracing()
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/nexus-link/durable"))
	}
	metricsMw := mw.Metrics()
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/nexus-link/durable"))
	}

	all := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger),
	}
	return append(all, eng.mws...)
}

func (eng *Engine) registerMaintenance() error {
	if eng.cfg.ReclaimSchedule != "" {
		if err := eng.scheduler.Register(cron.Task{
			Name:     TaskReclaimSemaphores,
			Schedule: eng.cfg.ReclaimSchedule,
			Run: func(ctx context.Context) (int64, error) {
				n, err := eng.semaphores.ReclaimExpired(ctx)
				return int64(n), err
			},
		}); err != nil {
			return err
		}
	}
	if eng.cfg.JournalPurgeSchedule != "" && eng.cfg.JournalRetention > 0 {
		if err := eng.scheduler.Register(cron.Task{
			Name:     TaskPurgeJournal,
			Schedule: eng.cfg.JournalPurgeSchedule,
			Run: func(ctx context.Context) (int64, error) {
				return eng.store.PurgeLogs(ctx, time.Now().UTC().Add(-eng.cfg.JournalRetention))
			},
		}); err != nil {
			return err
		}
	}
	return nil
}

// Start begins re-entering postponed instances and running maintenance.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start maintenance scheduler: %w", err)
	}
	return eng.pool.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("maintenance scheduler stop error", slog.String("error", err.Error()))
	}
	err := eng.pool.Stop(ctx)
	eng.extensions.EmitShutdown(ctx)
	return err
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Executor returns the workflow executor.
func (eng *Engine) Executor() *executor.Executor { return eng.executor }

// Pool returns the re-entry pool.
func (eng *Engine) Pool() *asyncreq.Pool { return eng.pool }

// Scheduler returns the maintenance scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Semaphores returns the semaphore manager.
func (eng *Engine) Semaphores() *semaphore.Manager { return eng.semaphores }

// Store returns the primary store.
func (eng *Engine) Store() store.Store { return eng.store }

// Journal returns the journal writer.
func (eng *Engine) Journal() *journal.Writer { return eng.journal }

// Execute runs one pass of the named workflow. A nil instanceID starts a
// new instance. See executor.Executor.Execute for the outcomes.
func (eng *Engine) Execute(ctx context.Context, name string, instanceID id.ID, input []byte) (*workflow.Instance, error) {
	reg, err := eng.lookup(name)
	if err != nil {
		return nil, err
	}
	if !instanceID.IsNil() {
		// An existing instance continues on the version it started with.
		if inst, err := eng.store.GetInstance(ctx, instanceID); err == nil && !inst.VersionID.Equal(reg.version.ID) {
			if prior, ok := eng.registrationFor(inst.VersionID); ok && prior.form.ID.Equal(reg.form.ID) {
				reg = prior
			}
		}
	}
	return eng.executor.Execute(ctx, executor.Request{
		Form:       reg.form,
		Version:    reg.version,
		InstanceID: instanceID,
		Title:      reg.name,
		Input:      input,
		Func:       reg.fn,
	})
}

// resume is the re-entry handler. It returns an error only when the pass
// should be retried by the pool rather than by a scheduled re-entry.
func (eng *Engine) resume(ctx context.Context, instanceID id.ID) error {
	inst, err := eng.store.GetInstance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("resume %s: %w", instanceID, err)
	}
	reg, ok := eng.registrationFor(inst.VersionID)
	if !ok {
		return fmt.Errorf("resume %s: version %s: %w", instanceID, inst.VersionID, durable.ErrDefinitionNotFound)
	}
	_, err = eng.executor.Execute(ctx, executor.Request{
		Form:       reg.form,
		Version:    reg.version,
		InstanceID: instanceID,
		Title:      inst.Title,
		Input:      inst.Input,
		Func:       reg.fn,
	})
	return reentryError(err)
}

func reentryError(err error) error {
	e, ok := durable.AsError(err)
	if !ok {
		return err
	}
	switch e.Kind {
	case durable.KindTryAgain:
		return err
	case durable.KindPostponed:
		if e.Fallback {
			return err
		}
		return nil
	default:
		return nil
	}
}

// ──────────────────────────────────────────────────
// Administration
// ──────────────────────────────────────────────────

// GetInstance returns a workflow instance.
func (eng *Engine) GetInstance(ctx context.Context, instanceID id.ID) (*workflow.Instance, error) {
	return eng.store.GetInstance(ctx, instanceID)
}

// ListInstances returns workflow instances.
func (eng *Engine) ListInstances(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Instance, error) {
	return eng.store.ListInstances(ctx, opts)
}

// ListActivities returns the activity instances of a workflow instance.
func (eng *Engine) ListActivities(ctx context.Context, instanceID id.ID) ([]*activity.Instance, error) {
	return eng.store.ListActivityInstances(ctx, instanceID)
}

// ListLogs returns the journal of a workflow instance.
func (eng *Engine) ListLogs(ctx context.Context, instanceID id.ID, opts journal.ListOpts) ([]*journal.Entry, error) {
	return eng.store.ListLogs(ctx, instanceID, opts)
}

// RetryHalted re-arms a halted instance: its failed Stopping activities
// are reset and the instance is re-entered.
func (eng *Engine) RetryHalted(ctx context.Context, instanceID id.ID) error {
	return eng.withInstance(ctx, instanceID, func(ctx context.Context, inst *workflow.Instance) error {
		if inst.State != workflow.StateHalted {
			return fmt.Errorf("retry %s in state %s: %w", instanceID, inst.State, durable.ErrInvalidState)
		}

		versions, err := eng.store.ListActivityVersions(ctx, inst.VersionID)
		if err != nil {
			return err
		}
		urgency := make(map[string]activity.FailUrgency, len(versions))
		for _, v := range versions {
			urgency[v.ID.String()] = v.FailUrgency
		}

		acts, err := eng.store.ListActivityInstances(ctx, instanceID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, a := range acts {
			if a.State != activity.StateFailed || urgency[a.ActivityVersionID.String()] != activity.UrgencyStopping {
				continue
			}
			if err := activity.Fire(ctx, a, activity.TriggerReset, now); err != nil {
				return err
			}
			if err := eng.store.UpdateActivityInstance(ctx, a); err != nil {
				return err
			}
		}

		if err := workflow.Fire(ctx, inst, workflow.TriggerRetry, now); err != nil {
			return err
		}
		if err := eng.store.UpdateInstance(ctx, inst); err != nil {
			return err
		}
		eng.journal.Write(ctx, instanceID, id.Nil, journal.SeverityInformation, "halted workflow retried", nil)
		return eng.reentry.Wake(ctx, instanceID)
	})
}

// RetryActivity resets one failed activity to Waiting. A halted instance
// is re-armed as well.
func (eng *Engine) RetryActivity(ctx context.Context, activityInstanceID id.ID) error {
	a, err := eng.store.GetActivityInstance(ctx, activityInstanceID)
	if err != nil {
		return err
	}
	return eng.withInstance(ctx, a.WorkflowInstanceID, func(ctx context.Context, inst *workflow.Instance) error {
		if inst.State.IsTerminal() {
			return fmt.Errorf("retry activity of %s in state %s: %w", inst.ID, inst.State, durable.ErrInvalidState)
		}
		a, err := eng.store.GetActivityInstance(ctx, activityInstanceID)
		if err != nil {
			return err
		}
		if a.State != activity.StateFailed {
			return fmt.Errorf("retry activity %s in state %s: %w", a.ID, a.State, durable.ErrInvalidState)
		}
		now := time.Now().UTC()
		if err := activity.Fire(ctx, a, activity.TriggerReset, now); err != nil {
			return err
		}
		if err := eng.store.UpdateActivityInstance(ctx, a); err != nil {
			return err
		}
		if inst.State == workflow.StateHalted {
			if err := workflow.Fire(ctx, inst, workflow.TriggerRetry, now); err != nil {
				return err
			}
			if err := eng.store.UpdateInstance(ctx, inst); err != nil {
				return err
			}
		}
		eng.journal.Write(ctx, inst.ID, a.ID, journal.SeverityInformation, "activity retried", nil)
		return eng.reentry.Wake(ctx, inst.ID)
	})
}

// CancelInstance cancels a workflow instance. A Waiting or Halted instance
// is cancelled at once. For a running instance the cancellation is
// requested: its next pass returns default values from the remaining
// activities and ends Cancelled.
func (eng *Engine) CancelInstance(ctx context.Context, instanceID id.ID) error {
	err := eng.withInstance(ctx, instanceID, func(ctx context.Context, inst *workflow.Instance) error {
		switch inst.State {
		case workflow.StateHalting:
			if err := workflow.Fire(ctx, inst, workflow.TriggerPark, time.Now().UTC()); err != nil {
				return err
			}
			fallthrough
		case workflow.StateWaiting, workflow.StateHalted:
			if err := workflow.Fire(ctx, inst, workflow.TriggerCancel, time.Now().UTC()); err != nil {
				return err
			}
			if err := eng.store.UpdateInstance(ctx, inst); err != nil {
				return err
			}
			if err := eng.semaphores.LowerAll(ctx, instanceID); err != nil {
				eng.logger.Warn("semaphore release on cancel failed",
					slog.String("workflow_instance_id", instanceID.String()),
					slog.String("error", err.Error()),
				)
			}
			eng.journal.Write(ctx, instanceID, id.Nil, journal.SeverityWarning, "workflow cancelled", nil)
			eng.extensions.EmitWorkflowCancelled(ctx, inst)
			return nil
		case workflow.StateExecuting:
			return eng.requestCancel(ctx, inst)
		default:
			return fmt.Errorf("cancel %s in state %s: %w", instanceID, inst.State, durable.ErrInvalidState)
		}
	})
	if !errors.Is(err, durable.ErrLockTaken) {
		return err
	}

	// A pass is running. Record the request; the pass either sees it or
	// loses its next save to the etag change and retries.
	inst, err := eng.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.State.IsTerminal() {
		return fmt.Errorf("cancel %s in state %s: %w", instanceID, inst.State, durable.ErrInvalidState)
	}
	if err := eng.requestCancel(ctx, inst); err != nil {
		if errors.Is(err, durable.ErrConflict) {
			return durable.TryAgain("cancel raced with a running pass", err)
		}
		return err
	}
	return nil
}

func (eng *Engine) requestCancel(ctx context.Context, inst *workflow.Instance) error {
	if inst.CancelledAt == nil {
		now := time.Now().UTC()
		inst.CancelledAt = &now
		if err := eng.store.UpdateInstance(ctx, inst); err != nil {
			return err
		}
	}
	eng.journal.Write(ctx, inst.ID, id.Nil, journal.SeverityWarning, "workflow cancellation requested", nil)
	return eng.reentry.Wake(ctx, inst.ID)
}

// MarkAlertHandled acknowledges the failure of a HandleLater activity.
func (eng *Engine) MarkAlertHandled(ctx context.Context, activityInstanceID id.ID) error {
	a, err := eng.store.GetActivityInstance(ctx, activityInstanceID)
	if err != nil {
		return err
	}
	if a.ExceptionAlertHandled == nil {
		return fmt.Errorf("activity %s has no pending alert: %w", a.ID, durable.ErrInvalidState)
	}
	if *a.ExceptionAlertHandled {
		return nil
	}
	handled := true
	a.ExceptionAlertHandled = &handled
	return eng.store.UpdateActivityInstance(ctx, a)
}

// withInstance runs fn on the primary row of the instance while holding
// its lock. An instance whose latest state only exists as a fallback
// summary is not touched; its next pass writes the summary back first.
func (eng *Engine) withInstance(ctx context.Context, instanceID id.ID, fn func(ctx context.Context, inst *workflow.Instance) error) error {
	h, err := lock.AcquireWithRetry(ctx, eng.locker, lock.InstanceKey(instanceID), eng.cfg.LockLease, 3, 100*time.Millisecond)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := h.Release(context.WithoutCancel(ctx)); relErr != nil {
			eng.logger.Warn("instance lock release failed",
				slog.String("workflow_instance_id", instanceID.String()),
				slog.String("error", relErr.Error()),
			)
		}
	}()

	inst, err := eng.store.GetInstance(ctx, instanceID)
	if err != nil && !errors.Is(err, durable.ErrInstanceNotFound) {
		return err
	}
	if s, _, loadErr := eng.protocol.Load(ctx, instanceID); loadErr == nil && !s.IsStale(inst) {
		if wakeErr := eng.reentry.Wake(ctx, instanceID); wakeErr != nil {
			eng.logger.Warn("wake for summary write-back failed",
				slog.String("workflow_instance_id", instanceID.String()),
				slog.String("error", wakeErr.Error()),
			)
		}
		return durable.TryAgain("instance has unsaved progress in a fallback summary", nil)
	}
	if err != nil {
		return err
	}
	return fn(ctx, inst)
}
