package httpfetch

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/kbukum/conduit/errors"
	"github.com/kbukum/conduit/resilience"
)

// statusError marks a response whose status is worth retrying. The response
// travels with it so that the last one can be returned once retries run out.
type statusError struct {
	resp *Response
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.resp.StatusCode, e.resp.URL)
}

// retryableStatus reports whether a response status is transient.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// classify converts a transport failure into an AppError.
func classify(ctx context.Context, rawURL string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.AsAppError(err); ok {
		return err
	}
	switch {
	case stderrors.Is(err, context.Canceled) && ctx.Err() != nil:
		return errors.Cancelled("fetch").WithCause(err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.Timeout("fetch").WithDetail("url", rawURL).WithCause(err)
	case stderrors.Is(err, resilience.ErrCircuitOpen):
		return errors.New(errors.ErrCodeExternalService, "Too many recent failures, requests are paused.", http.StatusServiceUnavailable).
			WithDetail("url", rawURL).WithCause(err)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.Timeout("fetch").WithDetail("url", rawURL).WithCause(err)
	}
	host := rawURL
	if u, perr := url.Parse(rawURL); perr == nil && u.Host != "" {
		host = u.Host
	}
	return errors.ConnectionFailed(host).WithCause(err)
}

// bodyTooLarge is returned when a response exceeds Config.MaxBodyBytes.
func bodyTooLarge(rawURL string, limit int64) error {
	e := errors.New(errors.ErrCodeExternalService,
		fmt.Sprintf("Response body exceeds %d bytes.", limit), http.StatusBadGateway)
	e.Retryable = false
	return e.WithDetail("url", rawURL)
}

// isTransportFailure decides which errors count against the circuit breaker.
func isTransportFailure(err error) bool {
	if errors.IsCancelled(err) || stderrors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if stderrors.As(err, &se) {
		return se.resp.StatusCode >= 500
	}
	return true
}

// Message returns the text a crawl step stores for a failed fetch.
func Message(err error) string {
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr.Message
	}
	return err.Error()
}
