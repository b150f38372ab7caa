package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBulkhead_NeverExceedsMaxConcurrent(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "test", MaxConcurrent: 3, MaxWait: -1})
	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), func() error {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				active.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	if peak.Load() > 3 {
		t.Errorf("expected at most 3 concurrent, got %d", peak.Load())
	}
}

func TestBulkhead_RejectsWhenFull(t *testing.T) {
	var rejected atomic.Int32
	b := NewBulkhead(BulkheadConfig{
		Name: "test", MaxConcurrent: 1,
		OnReject: func(string) { rejected.Add(1) },
	})
	if !b.TryAcquire() {
		t.Fatal("expected first slot")
	}
	defer b.Release()

	err := b.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, ErrBulkheadFull) {
		t.Errorf("expected ErrBulkheadFull, got %v", err)
	}
	if rejected.Load() != 1 {
		t.Errorf("expected OnReject once, got %d", rejected.Load())
	}
}

func TestBulkhead_TimesOutWaiting(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxWait: 20 * time.Millisecond})
	b.TryAcquire()
	defer b.Release()

	err := b.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, ErrBulkheadTimeout) {
		t.Errorf("expected ErrBulkheadTimeout, got %v", err)
	}
}

func TestBulkhead_AcquireRespectsContext(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	b.TryAcquire()
	defer b.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if b.InUse() != 1 {
		t.Errorf("a failed acquire must not hold a slot, in use %d", b.InUse())
	}
}

func TestBulkhead_Counters(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 0})
	if b.MaxConcurrent() != 1 {
		t.Errorf("expected MaxConcurrent to normalize to 1, got %d", b.MaxConcurrent())
	}
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if b.InUse() != 1 || b.Available() != 0 {
		t.Errorf("expected 1 in use and 0 available, got %d/%d", b.InUse(), b.Available())
	}
	b.Release()
	if b.InUse() != 0 || b.Available() != 1 {
		t.Errorf("expected slot released, got %d/%d", b.InUse(), b.Available())
	}
}
