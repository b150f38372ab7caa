// Package job provides the cancellation and scheduling token every
// asynchronous operation of the engine runs under.
//
// A Job has an identity, a priority class and a monotonic cancellation flag
// backed by a context.Context. Observers attached to a job are told about its
// progress and its cancellation; a *Job is itself an Observer, which is how a
// reader waiting on shared work follows that work's lifetime.
//
//	j := job.New(job.PriorityUserInitiated)
//	defer j.Cancel()
//	j.Async(func() {
//		if j.IsCancelled() {
//			return
//		}
//		// ...
//	})
package job
