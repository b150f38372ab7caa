package future

import "github.com/kbukum/conduit/job"

// Result is a success-or-failure outcome carried as a future's value, so
// that failures reach every subscriber the same way values do.
type Result[T any] struct {
	Value T
	Err   error
}

// Succeed wraps a value.
func Succeed[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail wraps an error.
func Fail[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// OK reports whether the result carries a value.
func (r Result[T]) OK() bool { return r.Err == nil }

// Unwrap returns the value and error.
func (r Result[T]) Unwrap() (T, error) {
	return r.Value, r.Err
}

// AwaitValue waits on a future of results and flattens the outcome into a
// value and an error. Cancellation is reported as errors.ErrCancelled.
func AwaitValue[T any](j *job.Job, f *Future[Result[T]]) (T, error) {
	r, err := f.Await(j)
	if err != nil {
		var zero T
		return zero, err
	}
	return r.Unwrap()
}
