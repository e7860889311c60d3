// Package errgroup runs goroutines that share a cancellation context, turns
// panics into errors, and optionally bounds how many run at once.
package errgroup
