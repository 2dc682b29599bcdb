package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/lock"
)

// Emitter is notified after every task run.
// ext.Registry satisfies this interface via EmitMaintenanceRan.
type Emitter interface {
	EmitMaintenanceRan(ctx context.Context, task string, affected int64, err error)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLockTTL sets the lease of the per-task lock.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// WithTaskTimeout bounds a single task run.
func WithTaskTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.timeout = d }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler fires registered tasks on their schedules.
type Scheduler struct {
	locker  lock.Locker
	emitter Emitter
	logger  *slog.Logger
	lockTTL time.Duration
	timeout time.Duration

	mu      sync.Mutex
	cron    *cronlib.Cron
	tasks   map[string]Task
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a Scheduler.
func NewScheduler(locker lock.Locker, emitter Emitter, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		locker:  locker,
		emitter: emitter,
		logger:  logger,
		lockTTL: 5 * time.Minute,
		timeout: 5 * time.Minute,
		tasks:   make(map[string]Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cronlib.New(cronlib.WithParser(cronParser))
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Register adds a task. Returns durable.ErrMaintenanceTaskExist if the name
// is taken.
func (s *Scheduler) Register(t Task) error {
	if t.Name == "" || t.Run == nil {
		return errors.New("cron: task needs a name and a run function")
	}
	sched, err := ParseSchedule(t.Schedule)
	if err != nil {
		return fmt.Errorf("cron: invalid schedule %q for %s: %w", t.Schedule, t.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.Name]; ok {
		return fmt.Errorf("cron: %s: %w", t.Name, durable.ErrMaintenanceTaskExist)
	}
	s.tasks[t.Name] = t
	s.cron.Schedule(sched, cronlib.FuncJob(func() {
		if _, err := s.fire(s.ctx, t); err != nil && !errors.Is(err, durable.ErrLockTaken) {
			s.logger.Error("maintenance task failed",
				slog.String("task", t.Name),
				slog.String("error", err.Error()),
			)
		}
	}))
	s.logger.Debug("maintenance task registered",
		slog.String("task", t.Name),
		slog.String("schedule", t.Schedule),
	)
	return nil
}

// Tasks returns the registered task names.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		out = append(out, name)
	}
	return out
}

// Start begins firing tasks. It returns immediately.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.cron.Start()
	s.logger.Info("maintenance scheduler started", slog.Int("tasks", len(s.tasks)))
	return nil
}

// Stop stops firing and waits for running tasks. When ctx expires first,
// running tasks are cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("maintenance scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("maintenance scheduler shutdown timed out, cancelling tasks")
		s.cancel()
		<-done.Done()
	}
	return nil
}

// RunNow fires the named task immediately, under its lock. It returns
// durable.ErrLockTaken when another process is running it.
func (s *Scheduler) RunNow(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("cron: unknown task %q", name)
	}
	return s.fire(ctx, t)
}

func (s *Scheduler) fire(ctx context.Context, t Task) (affected int64, err error) {
	h, err := lock.Acquire(ctx, s.locker, "maintenance:"+t.Name, s.lockTTL)
	if err != nil {
		if errors.Is(err, durable.ErrLockTaken) {
			s.logger.Debug("maintenance task running elsewhere", slog.String("task", t.Name))
		}
		return 0, err
	}
	defer func() {
		if relErr := h.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logger.Warn("release maintenance lock failed",
				slog.String("task", t.Name),
				slog.String("error", relErr.Error()),
			)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	affected, err = s.run(runCtx, t)

	if s.emitter != nil {
		s.emitter.EmitMaintenanceRan(ctx, t.Name, affected, err)
	}
	if err == nil {
		s.logger.Info("maintenance task ran",
			slog.String("task", t.Name),
			slog.Int64("affected", affected),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
	return affected, err
}

// run calls the task, converting a panic into an error.
func (s *Scheduler) run(ctx context.Context, t Task) (affected int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("maintenance task panicked",
				slog.String("task", t.Name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("cron: task %s panic: %v", t.Name, r)
		}
	}()
	return t.Run(ctx)
}
