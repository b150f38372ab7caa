package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Common bulkhead errors.
var (
	ErrBulkheadFull    = errors.New("bulkhead is full")
	ErrBulkheadTimeout = errors.New("bulkhead wait timeout")
)

// BulkheadConfig configures a bulkhead.
type BulkheadConfig struct {
	// Name identifies this bulkhead for logging.
	Name string
	// MaxConcurrent is the maximum number of slots held at once.
	MaxConcurrent int
	// MaxWait bounds how long Execute waits for a slot. 0 means fail
	// immediately; a negative value waits until the context is done.
	MaxWait time.Duration
	// OnReject is called when Execute is refused a slot.
	OnReject func(name string)
}

// Bulkhead caps the number of operations in flight.
type Bulkhead struct {
	config BulkheadConfig
	sem    *semaphore.Weighted
	inUse  atomic.Int64
}

// NewBulkhead creates a bulkhead. MaxConcurrent <= 0 is treated as 1.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	return &Bulkhead{
		config: config,
		sem:    semaphore.NewWeighted(int64(config.MaxConcurrent)),
	}
}

// Acquire blocks until a slot is free or ctx is done. Slots are granted in
// request order. Every successful Acquire must be paired with Release.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	b.inUse.Add(1)
	return nil
}

// TryAcquire takes a slot without waiting.
func (b *Bulkhead) TryAcquire() bool {
	if !b.sem.TryAcquire(1) {
		return false
	}
	b.inUse.Add(1)
	return true
}

// Release returns a slot.
func (b *Bulkhead) Release() {
	b.inUse.Add(-1)
	b.sem.Release(1)
}

// Execute runs fn while holding a slot, honoring MaxWait.
func (b *Bulkhead) Execute(ctx context.Context, fn func() error) error {
	if err := b.acquireWithin(ctx); err != nil {
		if b.config.OnReject != nil {
			b.config.OnReject(b.config.Name)
		}
		return err
	}
	defer b.Release()
	return fn()
}

func (b *Bulkhead) acquireWithin(ctx context.Context) error {
	if b.TryAcquire() {
		return nil
	}
	switch {
	case b.config.MaxWait == 0:
		return ErrBulkheadFull
	case b.config.MaxWait < 0:
		return b.Acquire(ctx)
	}

	waitCtx, cancel := context.WithTimeout(ctx, b.config.MaxWait)
	defer cancel()
	if err := b.Acquire(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrBulkheadTimeout
	}
	return nil
}

// InUse returns the number of slots currently held.
func (b *Bulkhead) InUse() int { return int(b.inUse.Load()) }

// Available returns the number of free slots.
func (b *Bulkhead) Available() int { return b.config.MaxConcurrent - b.InUse() }

// MaxConcurrent returns the slot count.
func (b *Bulkhead) MaxConcurrent() int { return b.config.MaxConcurrent }
