// Package telemetry wires OpenTelemetry tracing and metrics for fuzagent.
//
// New installs OTLP (gRPC or HTTP) exporters as the global providers when
// enabled. Instrumented packages call otel.Tracer/otel.Meter directly and
// stay no-op otherwise. NewTestTelemetry records into memory for tests.
package telemetry
