// Package observability wires Prometheus metrics and OpenTelemetry tracing
// for both binaries.
//
// metrics.go registers the compute, gRPC, alert and WebSocket collectors and
// serves them in the Prometheus text exposition format. tracing.go installs
// the global tracer provider (stdout or OTLP/gRPC exporter); the engine opens
// one span per compute call through otel.Tracer.
package observability
