// Package otel exposes SCA metrics through OpenTelemetry observable
// instruments. One callback reads the metrics snapshot per collection cycle.
// Callers own the MeterProvider.
package otel
