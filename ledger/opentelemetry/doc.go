// Package opentelemetry bootstraps OTLP trace and metric providers and offers
// the span helpers used across the ledger packages.
//
// Trace context travels with reconciliation messages through
// PrepareQueueHeaders and ExtractTraceContextFromQueueHeaders.
package opentelemetry
