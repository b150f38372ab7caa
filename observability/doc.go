// Package observability wires OpenTelemetry tracing and metrics.
//
// Both providers are optional: until InitTracer and InitMeter run, spans and
// instruments go to the global no-op providers. The engine records its
// counters through Engine():
//
//	observability.Engine().CacheBuild(ctx, key)
package observability
