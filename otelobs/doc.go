// Package otelobs binds the outbox metrics contract to OpenTelemetry.
//
// New builds the instrument set named exactly as the outbox.Metrics
// documentation requires, on a caller-supplied meter provider or the global
// one. Exporter and SDK setup stay with the host process.
package otelobs
