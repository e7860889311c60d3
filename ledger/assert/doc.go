// Package assert checks runtime invariants without panicking. A failed
// assertion is logged, recorded on the active span and counted, and comes
// back to the caller as an *AssertionError.
package assert
