package transfer

import (
	"errors"

	constant "github.com/LerianStudio/lib-ledger/ledger/constants"
	"github.com/LerianStudio/lib-ledger/ledger/executor"
	"github.com/LerianStudio/lib-ledger/ledger/idempotency"
	"github.com/LerianStudio/lib-ledger/ledger/uow"
)

var (
	// ErrNilStore is returned by NewService without an account store.
	ErrNilStore = errors.New("transfer: account store is required")
	// ErrConnection is returned when the unit of work cannot begin.
	ErrConnection = uow.ErrConnection
	// ErrInsufficientFunds is returned when the source cannot cover the amount.
	ErrInsufficientFunds = executor.ErrInsufficientFunds
	// ErrAccountNotFound is returned when either account does not exist.
	ErrAccountNotFound = executor.ErrAccountNotFound
	// ErrDuplicateRequest is returned when the idempotency key was already used.
	ErrDuplicateRequest = idempotency.ErrDuplicate
	// ErrTransferReversed is returned under ModeFullReversal when the credit
	// step failed and the withdrawal was discarded.
	ErrTransferReversed = constant.ErrTransferReversed
	// ErrRecoveryFailed is returned when the rollback to the checkpoint or the
	// commit of the partial state failed. Nothing was persisted.
	ErrRecoveryFailed = errors.New("transfer: recovery failed")
)
