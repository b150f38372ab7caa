package future

import (
	"fmt"
	"sync"

	"github.com/kbukum/conduit/errors"
	"github.com/kbukum/conduit/job"
	"github.com/kbukum/conduit/logger"
)

// State is the lifecycle state of a Future.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Compute produces the value of a Future. It runs at most once, under the job
// that first requested the value, and hands its result to deliver.
type Compute[T any] func(j *job.Job, deliver func(T))

// Future is a memoized, lazily started, cancellable computation. Every
// subscriber receives the same value.
type Future[T any] struct {
	compute Compute[T]

	mu        sync.Mutex
	state     State
	value     T
	owner     *job.Job
	callbacks []func(T)
	done      chan struct{}
}

// New creates a future that runs compute on first request.
func New[T any](compute Compute[T]) *Future[T] {
	return &Future[T]{compute: compute, done: make(chan struct{})}
}

// Resolved creates a future that is already completed with v.
func Resolved[T any](v T) *Future[T] {
	f := &Future[T]{state: StateCompleted, value: v, done: make(chan struct{})}
	close(f.done)
	return f
}

// Get delivers the value to callback. A completed future calls back
// synchronously. A future that has not started begins computing under j on
// another goroutine. A cancelled future never calls back. callback may be nil
// to only start the computation.
func (f *Future[T]) Get(j *job.Job, callback func(T)) {
	f.mu.Lock()
	switch f.state {
	case StateCompleted:
		v := f.value
		f.mu.Unlock()
		if callback != nil {
			callback(v)
		}
		return
	case StateCancelled:
		f.mu.Unlock()
		return
	case StateRunning:
		if callback != nil {
			f.callbacks = append(f.callbacks, callback)
		}
		f.mu.Unlock()
		return
	}

	f.state = StateRunning
	f.owner = j
	if callback != nil {
		f.callbacks = append(f.callbacks, callback)
	}
	f.mu.Unlock()

	j.Async(func() { f.run(j) })
}

// Await blocks until the value is available. It returns errors.ErrCancelled
// when j is cancelled first or when the future ends without a result.
func (f *Future[T]) Await(j *job.Job) (T, error) {
	var zero T
	f.Get(j, nil)

	select {
	case <-f.done:
	case <-j.Context().Done():
		return zero, errors.Cancelled("await")
	}
	if v, ok := f.Result(); ok {
		return v, nil
	}
	return zero, errors.Cancelled("await")
}

// Cancel ends the computation without a result. Pending callbacks are dropped
// and Result reports no value afterwards. A completed future is unaffected.
func (f *Future[T]) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateCompleted || f.state == StateCancelled {
		return
	}
	f.state = StateCancelled
	f.callbacks = nil
	close(f.done)
}

// Result returns the memoized value, if any.
func (f *Future[T]) Result() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateCompleted {
		var zero T
		return zero, false
	}
	return f.value, true
}

// State returns the current lifecycle state.
func (f *Future[T]) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Done returns a channel closed once the future is completed or cancelled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

func (f *Future[T]) run(j *job.Job) {
	defer func() {
		if r := recover(); r != nil {
			j.Log().Error("future computation panicked", logger.Fields("panic", r))
			f.Cancel()
		}
	}()
	f.compute(j, f.complete)
}

// complete memoizes v unless the future already left the running state. A
// delivery after the owning job was cancelled ends the future without a result.
func (f *Future[T]) complete(v T) {
	f.mu.Lock()
	if f.state != StateRunning {
		f.mu.Unlock()
		return
	}
	if f.owner != nil && f.owner.IsCancelled() {
		f.state = StateCancelled
		f.callbacks = nil
		close(f.done)
		f.mu.Unlock()
		return
	}
	f.state = StateCompleted
	f.value = v
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v)
	}
}
