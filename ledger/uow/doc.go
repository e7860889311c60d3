// Package uow implements the unit of work a transfer runs in: one store
// session opened with implicit commit disabled, at most one live stack of
// named checkpoints, and exactly one terminal outcome (committed or aborted).
//
// A UnitOfWork is single use. Begin opens it, Commit or RollbackAll ends it,
// and every further lifecycle call returns ErrAlreadyFinalized.
package uow
