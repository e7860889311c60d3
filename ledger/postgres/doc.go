// Package postgres manages the primary/replica connection pair behind the
// account store and applies schema migrations with golang-migrate.
//
// Client opens lazily, pings with retry and swaps connections atomically on
// reconnect. Migrator is separate so services decide when schema changes run.
package postgres
