// Package backoff computes capped exponential delays with full jitter and
// retries fallible operations against a context deadline.
package backoff
