// Package bootstrap runs the conduit binary's lifecycle: config defaults and
// validation, logger setup, ordered component start, hooks, a startup
// summary and graceful shutdown.
//
// Long-running processes use Run, which blocks until SIGINT or SIGTERM.
// One-shot commands use RunTask, which cancels the task's context on a
// signal and shuts down once it returns.
package bootstrap
