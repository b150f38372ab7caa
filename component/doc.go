// Package component defines the lifecycle contract shared by conduit's
// infrastructure: the SQLite cache store, the preview HTTP server and the
// telemetry exporters.
//
// Components are registered with a Registry, started in registration order
// and stopped in reverse order. The optional Describable and RouteProvider
// interfaces feed the startup summary printed by the bootstrap package.
package component
