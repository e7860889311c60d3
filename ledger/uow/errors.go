package uow

import "errors"

var (
	// ErrNilStore is returned by New when no account store is supplied.
	ErrNilStore = errors.New("uow: account store is required")
	// ErrConnection is returned when the store cannot open a session.
	ErrConnection = errors.New("uow: store connection failed")
	// ErrBeginTimeout is wrapped into ErrConnection when Begin exceeds its bound.
	ErrBeginTimeout = errors.New("uow: begin timed out")
	// ErrTransactionActive is returned by Begin on an already active unit.
	ErrTransactionActive = errors.New("uow: transaction already active")
	// ErrNoActiveTransaction is returned by operations that require Begin first.
	ErrNoActiveTransaction = errors.New("uow: no active transaction")
	// ErrNoMutation is returned by Checkpoint before any recorded mutation.
	ErrNoMutation = errors.New("uow: checkpoint requires a prior mutation")
	// ErrInvalidCheckpointName is returned for names that are not SQL identifiers.
	ErrInvalidCheckpointName = errors.New("uow: invalid checkpoint name")
	// ErrUnknownCheckpoint is returned by RollbackTo for a name never set.
	ErrUnknownCheckpoint = errors.New("uow: unknown checkpoint")
	// ErrAlreadyFinalized is returned by lifecycle calls after Commit or RollbackAll.
	ErrAlreadyFinalized = errors.New("uow: already finalized")
	// ErrCommitFailed wraps the store error of a failed Commit. The unit is aborted.
	ErrCommitFailed = errors.New("uow: commit failed")
	// ErrRollbackFailed wraps the store error of a failed rollback.
	ErrRollbackFailed = errors.New("uow: rollback failed")
)
