// Package metrics wraps an OpenTelemetry meter with a lazily populated,
// concurrency-safe instrument cache and fluent builders, plus the transfer
// counters and histograms recorded by the ledger packages.
package metrics
