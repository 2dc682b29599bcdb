package asyncreq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/backoff"
	"github.com/nexus-link/durable/id"
)

// Handler re-enters a workflow instance. A nil return means the pass
// reached an outcome (which may itself be a new postponement).
type Handler func(ctx context.Context, workflowInstanceID id.ID) error

// Pool manages a set of worker goroutines that poll for due requests and
// re-enter their instances through the Handler.
type Pool struct {
	store        Store
	handler      Handler
	concurrency  int
	pollInterval time.Duration
	maxAttempts  int
	strategy     backoff.Strategy
	limiter      *rate.Limiter
	logger       *slog.Logger
	now          func() time.Time

	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how often idle workers poll for due requests.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithMaxAttempts sets how many failed re-entries a request survives.
func WithMaxAttempts(n int) PoolOption {
	return func(p *Pool) { p.maxAttempts = n }
}

// WithBackoff sets the delay strategy between failed re-entries.
func WithBackoff(s backoff.Strategy) PoolOption {
	return func(p *Pool) { p.strategy = s }
}

// WithRateLimit caps re-entries per second across the pool. Zero disables
// the limit.
func WithRateLimit(perSecond float64, burst int) PoolOption {
	return func(p *Pool) {
		if perSecond <= 0 {
			p.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the pool logger.
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a re-entry pool.
func NewPool(store Store, handler Handler, opts ...PoolOption) *Pool {
	p := &Pool{
		store:        store,
		handler:      handler,
		concurrency:  10,
		pollInterval: time.Second,
		maxAttempts:  10,
		strategy:     backoff.DefaultStrategy(),
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel

	p.logger.Info("re-entry pool starting", slog.Int("concurrency", p.concurrency))

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop(runCtx)
	}
	return nil
}

// Stop signals all workers to stop and waits for them to finish. When ctx
// expires first, in-flight passes are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("re-entry pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("re-entry pool shutdown timed out, cancelling active passes")
		p.cancel()
		p.wg.Wait()
	}
	p.cancel()
	return nil
}

// RunOnce processes every request that is due now and returns how many
// were handled. It is used by one-shot workers and tests.
func (p *Pool) RunOnce(ctx context.Context) (int, error) {
	handled := 0
	for {
		reqs, err := p.store.DequeueRequests(ctx, p.now().UTC(), p.concurrency)
		if err != nil {
			return handled, fmt.Errorf("asyncreq: dequeue: %w", err)
		}
		if len(reqs) == 0 {
			return handled, nil
		}
		for _, req := range reqs {
			if err := p.wait(ctx); err != nil {
				return handled, err
			}
			p.process(ctx, req)
			handled++
		}
	}
}

func (p *Pool) dequeueLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		reqs, err := p.store.DequeueRequests(ctx, p.now().UTC(), 1)
		if err != nil {
			p.logger.Error("dequeue error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if len(reqs) == 0 {
			p.sleep()
			continue
		}

		if err := p.wait(ctx); err != nil {
			// Shutting down; hand the request back untouched.
			p.reschedule(context.WithoutCancel(ctx), reqs[0], 0, "")
			return
		}
		p.process(ctx, reqs[0])
	}
}

func (p *Pool) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

func (p *Pool) process(ctx context.Context, req *Request) {
	err := p.invoke(ctx, req.WorkflowInstanceID)
	saveCtx := context.WithoutCancel(ctx)

	current, getErr := p.store.GetRequest(saveCtx, req.ID)
	if errors.Is(getErr, durable.ErrRequestNotFound) {
		return
	}
	if getErr != nil {
		p.logger.Error("re-entry: reload request failed",
			slog.String("request_id", req.ID.String()),
			slog.String("error", getErr.Error()),
		)
		return
	}

	if err == nil {
		// A pass that postponed again has already rescheduled the request.
		if current.State == StateRunning {
			if delErr := p.store.DeleteRequest(saveCtx, current.ID); delErr != nil {
				p.logger.Error("re-entry: delete request failed",
					slog.String("request_id", current.ID.String()),
					slog.String("error", delErr.Error()),
				)
			}
		}
		return
	}

	p.logger.Debug("re-entry failed",
		slog.String("workflow_instance_id", req.WorkflowInstanceID.String()),
		slog.String("error", err.Error()),
	)

	current.Attempts++
	if current.Attempts >= p.maxAttempts {
		current.State = StateFailed
		current.LastError = err.Error()
		current.UpdatedAt = p.now().UTC()
		if updErr := p.store.UpdateRequest(saveCtx, current); updErr != nil {
			p.logger.Error("re-entry: mark failed",
				slog.String("request_id", current.ID.String()),
				slog.String("error", updErr.Error()),
			)
		}
		p.logger.Warn("re-entry attempts exhausted",
			slog.String("workflow_instance_id", current.WorkflowInstanceID.String()),
			slog.Int("attempts", current.Attempts),
			slog.String("error", err.Error()),
		)
		return
	}

	delay := p.strategy.Delay(current.Attempts)
	if e, ok := durable.AsError(err); ok && e.RetryAfter > delay {
		delay = e.RetryAfter
	}
	p.reschedule(saveCtx, current, delay, err.Error())
}

func (p *Pool) reschedule(ctx context.Context, req *Request, delay time.Duration, lastErr string) {
	now := p.now().UTC()
	req.State = StatePending
	req.RunAt = now.Add(delay)
	req.LastError = lastErr
	req.UpdatedAt = now
	if err := p.store.UpdateRequest(ctx, req); err != nil {
		p.logger.Error("re-entry: reschedule failed",
			slog.String("request_id", req.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// invoke runs the handler, converting a panic into an error.
func (p *Pool) invoke(ctx context.Context, workflowInstanceID id.ID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("re-entry handler panicked",
				slog.String("workflow_instance_id", workflowInstanceID.String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("asyncreq: handler panic: %v", r)
		}
	}()
	return p.handler(ctx, workflowInstanceID)
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}
