package middleware_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/middleware"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestInfo() *middleware.Info {
	return &middleware.Info{
		WorkflowInstanceID: id.NewWorkflowInstanceID(),
		ActivityInstanceID: id.NewActivityInstanceID(),
		Title:              "reserve-stock",
		Type:               activity.TypeFunction,
		Iteration:          3,
		Attempt:            2,
	}
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *middleware.Info, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}

	mw2 := func(ctx context.Context, _ *middleware.Info, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	handler := func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	}

	if err := chain(context.Background(), newTestInfo(), handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	called := false
	err := middleware.Chain()(context.Background(), newTestInfo(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	mw := func(ctx context.Context, _ *middleware.Info, next middleware.Handler) error {
		return next(ctx)
	}
	want := errors.New("handler error")

	err := middleware.Chain(mw)(context.Background(), newTestInfo(), func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	mw := middleware.Recover(quiet)

	err := mw(context.Background(), newTestInfo(), func(_ context.Context) error {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if got := err.Error(); got != "panic in activity reserve-stock: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	called := false
	err := middleware.Recover(quiet)(context.Background(), newTestInfo(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Outcomes(t *testing.T) {
	mw := middleware.Logging(quiet)
	fail := errors.New("fail")

	for _, want := range []error{nil, fail, durable.Postpone()} {
		err := mw(context.Background(), newTestInfo(), func(_ context.Context) error {
			return want
		})
		if !errors.Is(err, want) && err != want {
			t.Errorf("expected %v, got %v", want, err)
		}
	}
}

func TestTimeout_CancelsContext(t *testing.T) {
	info := newTestInfo()
	info.Timeout = 10 * time.Millisecond

	err := middleware.Timeout(quiet)(context.Background(), info, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestTimeout_ZeroMeansNoDeadline(t *testing.T) {
	err := middleware.Timeout(quiet)(context.Background(), newTestInfo(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("expected no deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{durable.Postpone(), "postponed"},
		{durable.TryAgain("busy", nil), "postponed"},
		{durable.ActivityFailed(durable.CategoryTechnicalError, "x", ""), "error"},
		{errors.New("plain"), "error"},
	}
	for _, tt := range tests {
		if got := middleware.Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
