package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestWindowLimiter_AllowWithinWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	w := NewWindowLimiter(3, time.Second)
	w.now = clock.now

	for i := 0; i < 3; i++ {
		if !w.Allow() {
			t.Fatalf("expected event %d to be admitted", i)
		}
		clock.advance(100 * time.Millisecond)
	}
	if w.Allow() {
		t.Error("expected the fourth event in the window to be refused")
	}
	if w.Recent() != 3 {
		t.Errorf("expected 3 recent events, got %d", w.Recent())
	}

	// The first event was at t=0; at t=1s it leaves the window.
	clock.advance(700 * time.Millisecond)
	if !w.Allow() {
		t.Error("expected room once the oldest event left the window")
	}
}

func TestWindowLimiter_WaitHonorsRollingWindow(t *testing.T) {
	w := PerSecond(5)
	ctx := context.Background()
	var starts []time.Time
	deadline := time.Now().Add(1500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if err := w.Wait(ctx); err != nil {
			t.Fatal(err)
		}
		starts = append(starts, time.Now())
	}

	for i := range starts {
		n := 0
		for j := i; j < len(starts) && starts[j].Sub(starts[i]) < 900*time.Millisecond; j++ {
			n++
		}
		if n > 5 {
			t.Fatalf("found %d starts within 900ms starting at %d", n, i)
		}
	}
	if len(starts) < 6 {
		t.Errorf("expected the limiter to admit more after the first window, got %d", len(starts))
	}
}

func TestWindowLimiter_WaitRespectsContext(t *testing.T) {
	w := NewWindowLimiter(1, time.Hour)
	w.Allow()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestWindowLimiter_Unlimited(t *testing.T) {
	w := NewWindowLimiter(0, time.Second)
	for i := 0; i < 100; i++ {
		if !w.Allow() {
			t.Fatal("expected an unlimited limiter to admit everything")
		}
	}
}
