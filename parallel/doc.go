// Package parallel runs an operation over a list of items with a cap on
// operations in flight and on operation starts per rolling second.
//
// Operations signal completion through a done callback, so an operation may
// hand its work to another goroutine and return immediately. Cancellation
// of the governing job stops new starts; operations already started are
// never interrupted.
package parallel
