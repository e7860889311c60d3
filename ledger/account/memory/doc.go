// Package memory is an in-process account store with real transaction
// semantics: sessions see their own writes, hold per-account locks until they
// finish, support nested savepoints and publish nothing until Commit. Rolling
// back to a savepoint releases the locks taken after it. Lock waits are
// bounded by DefaultLockTimeout.
//
// FailNext injects a one-shot failure into a chosen primitive, which lets
// tests drive every recovery path of a transfer without a database.
package memory
