package backoff_test

import (
	"testing"
	"time"

	"github.com/nexus-link/durable/backoff"
)

func TestConstant(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 5; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", attempt, got)
		}
	}
}

func TestExponentialCapped(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{30, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialWithJitterWithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 10*time.Second)
	for attempt := 1; attempt <= 5; attempt++ {
		for range 50 {
			got := e.Delay(attempt)
			if got < 0 || got > 10*time.Second {
				t.Fatalf("Delay(%d) = %v out of bounds", attempt, got)
			}
		}
	}
}

func TestNextFloor(t *testing.T) {
	c := backoff.NewConstant(time.Second)
	if got := backoff.Next(c, 1, 3*time.Second); got != 3*time.Second {
		t.Errorf("expected floor, got %v", got)
	}
	if got := backoff.Next(backoff.NewExponential(time.Second, time.Hour), 0, 0); got != time.Second {
		t.Errorf("attempt 0 should be treated as 1, got %v", got)
	}
}

func TestActivityRetryStrategy(t *testing.T) {
	s := backoff.ActivityRetryStrategy()
	if got := s.Delay(1); got != 5*time.Second {
		t.Errorf("Delay(1) = %v, want 5s", got)
	}
	if got := s.Delay(100); got != time.Hour {
		t.Errorf("Delay(100) = %v, want 1h", got)
	}
}
