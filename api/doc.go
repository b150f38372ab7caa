// Package api exposes chain previews over HTTP.
//
// Every request runs under its own job derived from the request context, so
// a client that disconnects cancels the work done on its behalf. Shared work,
// such as a cache materialization, keeps running for other readers.
//
//	GET  /api/chains
//	GET  /api/chains/:id/columns
//	GET  /api/chains/:id/rows?limit=N
//	POST /api/chains/:id/invalidate
package api
