// Package future provides Future, a memoized asynchronous computation that
// starts on first request, runs at most once and delivers the same value to
// every subscriber.
//
// Subscribers either register a callback with Get or block with Await. A
// future can be cancelled, after which it never produces a value; owners that
// need the value again replace the future with a fresh one instead of
// restarting it.
//
// Failures are carried as values with Result:
//
//	f := future.New(func(j *job.Job, deliver func(future.Result[int])) {
//		n, err := count(j)
//		if err != nil {
//			deliver(future.Fail[int](err))
//			return
//		}
//		deliver(future.Succeed(n))
//	})
//	r, err := f.Await(j)
package future
