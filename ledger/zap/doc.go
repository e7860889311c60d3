// Package zap bridges the ledger/log abstraction to go.uber.org/zap.
//
// Log lines carry trace_id/span_id when the context holds an active span, and
// every entry is teed to the OpenTelemetry logs bridge.
package zap
