// Package server provides the HTTP server behind the preview API: a Gin
// engine served with h2c, wrapped in the middleware stack of
// server/middleware and registered with the component registry.
//
// Built-in middleware (server/middleware):
//
//   - Recovery: panic recovery with structured logging
//   - RequestID: request ID generation and propagation
//   - CORS: cross-origin resource sharing
//   - BodySizeLimit: request body size limit
//   - RateLimit: token bucket limit across all clients
//   - RequestLogger: request logging with duration
//
// Built-in endpoints (server/endpoint): /health and /info.
package server
