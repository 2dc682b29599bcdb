package asyncreq_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/asyncreq"
	"github.com/nexus-link/durable/backoff"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/store/memory"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestEnqueueKeepsOneRequestPerInstance(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	m := asyncreq.NewManager(s)
	wfi := id.NewWorkflowInstanceID()

	first, err := m.Enqueue(ctx, wfi, time.Hour)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	second, err := m.Enqueue(ctx, wfi, 2*time.Hour)
	if err != nil {
		t.Fatalf("enqueue again: %v", err)
	}
	if !first.Equal(second) {
		t.Errorf("expected the same request, got %s and %s", first, second)
	}

	req, err := s.GetRequestByInstance(ctx, wfi)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if req.RunAt.After(time.Now().Add(time.Hour + time.Minute)) {
		t.Errorf("expected the earlier run time to win, got %s", req.RunAt)
	}

	if err := m.Wake(ctx, wfi); err != nil {
		t.Fatalf("wake: %v", err)
	}
	req, _ = s.GetRequestByInstance(ctx, wfi)
	if req.RunAt.After(time.Now()) {
		t.Errorf("expected wake to make the request due, got %s", req.RunAt)
	}
}

func TestRunOnceDeletesCompletedRequest(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	m := asyncreq.NewManager(s)
	wfi := id.NewWorkflowInstanceID()
	if _, err := m.Enqueue(ctx, wfi, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var got id.ID
	p := asyncreq.NewPool(s, func(_ context.Context, workflowInstanceID id.ID) error {
		got = workflowInstanceID
		return nil
	}, asyncreq.WithLogger(quiet))

	n, err := p.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 1 || !got.Equal(wfi) {
		t.Fatalf("expected one pass for %s, got %d for %s", wfi, n, got)
	}
	if _, err := s.GetRequestByInstance(ctx, wfi); !errors.Is(err, durable.ErrRequestNotFound) {
		t.Errorf("expected request removed, got %v", err)
	}
}

func TestRunOnceKeepsRescheduledRequest(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	m := asyncreq.NewManager(s)
	wfi := id.NewWorkflowInstanceID()
	if _, err := m.Enqueue(ctx, wfi, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// The pass postpones again and parks the instance for later.
	p := asyncreq.NewPool(s, func(ctx context.Context, workflowInstanceID id.ID) error {
		_, err := m.Enqueue(ctx, workflowInstanceID, time.Hour)
		return err
	}, asyncreq.WithLogger(quiet))

	if _, err := p.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	req, err := s.GetRequestByInstance(ctx, wfi)
	if err != nil {
		t.Fatalf("expected request kept: %v", err)
	}
	if req.State != asyncreq.StatePending || !req.RunAt.After(time.Now()) {
		t.Errorf("expected pending in the future, got %s at %s", req.State, req.RunAt)
	}
}

func TestRunOnceGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	m := asyncreq.NewManager(s)
	wfi := id.NewWorkflowInstanceID()
	if _, err := m.Enqueue(ctx, wfi, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var calls atomic.Int32
	p := asyncreq.NewPool(s, func(context.Context, id.ID) error {
		calls.Add(1)
		return errors.New("partner down")
	},
		asyncreq.WithMaxAttempts(3),
		asyncreq.WithBackoff(backoff.NewConstant(0)),
		asyncreq.WithLogger(quiet),
	)

	if _, err := p.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
	req, err := s.GetRequestByInstance(ctx, wfi)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if req.State != asyncreq.StateFailed || req.Attempts != 3 || req.LastError != "partner down" {
		t.Errorf("unexpected request: %+v", req)
	}

	// A new enqueue revives a failed request.
	if _, err := m.Enqueue(ctx, wfi, 0); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	req, _ = s.GetRequestByInstance(ctx, wfi)
	if req.State != asyncreq.StatePending || req.Attempts != 0 {
		t.Errorf("expected revived request, got %+v", req)
	}
}

func TestRunOnceHonoursRetryAfter(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	m := asyncreq.NewManager(s)
	wfi := id.NewWorkflowInstanceID()
	if _, err := m.Enqueue(ctx, wfi, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	p := asyncreq.NewPool(s, func(context.Context, id.ID) error {
		e := durable.TryAgain("semaphore busy", nil)
		e.RetryAfter = time.Hour
		return e
	}, asyncreq.WithBackoff(backoff.NewConstant(0)), asyncreq.WithLogger(quiet))

	n, err := p.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one pass, got %d", n)
	}
	req, err := s.GetRequestByInstance(ctx, wfi)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if req.State != asyncreq.StatePending || req.RunAt.Before(time.Now().Add(59*time.Minute)) {
		t.Errorf("expected rescheduled an hour out, got %s at %s", req.State, req.RunAt)
	}
}

func TestRunOnceRecoversPanic(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	m := asyncreq.NewManager(s)
	wfi := id.NewWorkflowInstanceID()
	if _, err := m.Enqueue(ctx, wfi, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	p := asyncreq.NewPool(s, func(context.Context, id.ID) error {
		panic("boom")
	}, asyncreq.WithMaxAttempts(1), asyncreq.WithLogger(quiet))

	if _, err := p.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	req, err := s.GetRequestByInstance(ctx, wfi)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if req.State != asyncreq.StateFailed {
		t.Errorf("expected failed after panic, got %s", req.State)
	}
}

func TestPoolStartStop(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	m := asyncreq.NewManager(s)
	wfi := id.NewWorkflowInstanceID()

	done := make(chan id.ID, 1)
	p := asyncreq.NewPool(s, func(_ context.Context, workflowInstanceID id.ID) error {
		done <- workflowInstanceID
		return nil
	},
		asyncreq.WithConcurrency(2),
		asyncreq.WithPollInterval(5*time.Millisecond),
		asyncreq.WithRateLimit(100, 1),
		asyncreq.WithLogger(quiet),
	)
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := p.Stop(stopCtx); err != nil {
			t.Errorf("stop: %v", err)
		}
	}()

	if err := m.Wake(ctx, wfi); err != nil {
		t.Fatalf("wake: %v", err)
	}
	select {
	case got := <-done:
		if !got.Equal(wfi) {
			t.Errorf("unexpected instance %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not re-enter the instance")
	}
}
