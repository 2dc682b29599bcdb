// Package observability provides an OpenTelemetry metrics extension for
// the durable engine. The MetricsExtension implements lifecycle hooks to
// record system-wide counters for workflow outcomes, activity outcomes
// and maintenance runs.
//
// For per-invocation tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
