// Package observability provides structured logging, Prometheus metrics,
// health endpoints, OpenTelemetry wiring, and graceful shutdown for the
// subloop server.
package observability
