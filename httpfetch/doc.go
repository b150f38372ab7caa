// Package httpfetch fetches pages for crawl steps.
//
// Client wraps net/http with a response size cap, an optional process-wide
// token bucket, retries with exponential backoff for transport failures and
// 429/5xx responses, and an optional circuit breaker. Any HTTP response is a
// successful fetch; errors are returned as errors.AppError values classified
// as TIMEOUT, CONNECTION_FAILED, INVALID_URL, EXTERNAL_SERVICE_ERROR or
// CANCELLED.
package httpfetch
