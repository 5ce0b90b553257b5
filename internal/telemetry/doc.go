// Package telemetry sets up OpenTelemetry tracing and metrics for learnd.
//
// Telemetry is disabled by default. When enabled, spans and metrics are
// exported over OTLP (gRPC or HTTP/protobuf) and the providers are
// installed as the otel globals, so packages instrument themselves with
// otel.Tracer and otel.Meter without a handle on this package.
//
// Exporter failures never stop the service: New marks the instance
// degraded and instrumentation falls back to the no-op providers.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
