package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRateLimiter_BurstThenLimit(t *testing.T) {
	var limited atomic.Int32
	rl := NewRateLimiter(RateLimiterConfig{
		Name: "test", Rate: 1, Burst: 2,
		OnLimit: func(string) { limited.Add(1) },
	})
	noop := func() error { return nil }
	if err := rl.Execute(noop); err != nil {
		t.Fatalf("expected first call allowed, got %v", err)
	}
	if err := rl.Execute(noop); err != nil {
		t.Fatalf("expected second call allowed, got %v", err)
	}
	if err := rl.Execute(noop); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
	if limited.Load() != 1 {
		t.Errorf("expected OnLimit once, got %d", limited.Load())
	}
}

func TestRateLimiter_WaitRespectsContext(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.1, Burst: 1})
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Error("expected wait to fail when the next token is far away")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 2.5})
	if rl.Rate() != 2.5 {
		t.Errorf("expected rate 2.5, got %v", rl.Rate())
	}
	if rl.Burst() != 3 {
		t.Errorf("expected burst rounded up to 3, got %d", rl.Burst())
	}
	if rl.Tokens() < 2.9 {
		t.Errorf("expected a full bucket, got %v", rl.Tokens())
	}
}
