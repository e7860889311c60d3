// Package runtime provides panic recovery that logs the stack, records a span
// event on the active span, and optionally hides panic details in production.
package runtime
