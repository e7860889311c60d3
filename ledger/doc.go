// Package ledger holds the cross-cutting helpers shared by the transfer
// packages: business error rendering and environment-driven configuration.
//
// The transfer protocol itself lives in subpackages:
//
//	uow       unit of work over an account store (begin, checkpoint, rollback, commit)
//	executor  debit, credit and audit steps applied inside a unit of work
//	transfer  the checkpoint and recovery controller
//
// Storage adapters live under account/postgres and account/memory.
package ledger
