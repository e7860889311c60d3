// Package circuitbreaker guards calls to the account store with named
// sony/gobreaker breakers. An open breaker fails fast with ErrUnavailable so a
// degraded store rejects new transfers before any balance is touched.
package circuitbreaker
