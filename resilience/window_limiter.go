package resilience

import (
	"context"
	"sync"
	"time"
)

// WindowLimiter admits at most Limit events within any rolling window. It
// records the time of each admitted event and makes a caller wait until the
// oldest one falls out of the window, so the bound is exact rather than
// approximated by a bucket.
type WindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	stamp []time.Time
}

// NewWindowLimiter creates a limiter admitting limit events per window.
// A limit <= 0 admits everything.
func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{limit: limit, window: window, now: time.Now}
}

// PerSecond creates a limiter admitting n events in any rolling second.
func PerSecond(n int) *WindowLimiter {
	return NewWindowLimiter(n, time.Second)
}

// Allow admits an event if the window has room.
func (w *WindowLimiter) Allow() bool {
	if w.limit <= 0 {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.admitLocked(w.now())
	return ok
}

// Wait blocks until an event is admitted or ctx is done.
func (w *WindowLimiter) Wait(ctx context.Context) error {
	if w.limit <= 0 {
		return ctx.Err()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.mu.Lock()
		delay, ok := w.admitLocked(w.now())
		w.mu.Unlock()
		if ok {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Recent returns the number of events admitted within the current window.
func (w *WindowLimiter) Recent() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(w.now())
	return len(w.stamp)
}

// admitLocked records an event at now if there is room, otherwise it returns
// how long until the oldest event leaves the window.
func (w *WindowLimiter) admitLocked(now time.Time) (time.Duration, bool) {
	w.pruneLocked(now)
	if len(w.stamp) < w.limit {
		w.stamp = append(w.stamp, now)
		return 0, true
	}
	return w.stamp[0].Add(w.window).Sub(now), false
}

func (w *WindowLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamp) && !w.stamp[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamp = append(w.stamp[:0], w.stamp[i:]...)
	}
}
