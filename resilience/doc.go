// Package resilience holds the admission and failure-handling primitives
// used by the engine.
//
//   - Bulkhead caps operations in flight (the bounded map's slots).
//   - WindowLimiter caps starts within any rolling window.
//   - RateLimiter is a token bucket for politeness towards remote hosts.
//   - Retry and CircuitBreaker wrap calls to unreliable dependencies.
package resilience
