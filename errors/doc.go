// Package errors provides the structured error type carried through futures,
// streams and the preview API. Errors have machine-readable codes, an HTTP
// status mapping and retryable detection; cancellation is a distinct code so
// callers can tell "cancelled, never produced" apart from a failure.
package errors
