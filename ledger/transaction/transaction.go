package transaction

import (
	"fmt"
	"strings"
	"time"

	constant "github.com/LerianStudio/lib-ledger/ledger/constants"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Operation represents the balance operation applied to an account.
type Operation string

const (
	// OperationDebit decreases the source balance.
	OperationDebit Operation = constant.DEBIT
	// OperationCredit increases the destination balance.
	OperationCredit Operation = constant.CREDIT
)

// State is a transfer lifecycle state.
type State string

const (
	StateStarted            State = "STARTED"
	StateDebited            State = "DEBITED"
	StateCheckpointed       State = "CHECKPOINTED"
	StateCredited           State = "CREDITED"
	StateCommitted          State = "COMMITTED"
	StateRecovering         State = "RECOVERING"
	StatePartiallyCommitted State = "PARTIALLY_COMMITTED"
	StateAborted            State = "ABORTED"
)

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == StateCommitted || s == StatePartiallyCommitted || s == StateAborted
}

func (s State) String() string { return string(s) }

// Mode selects what happens when the credit step fails.
type Mode string

const (
	// ModeCheckpoint rolls back to the post-debit checkpoint and commits the
	// withdrawal alone. The transfer ends PARTIALLY_COMMITTED.
	ModeCheckpoint Mode = "checkpoint"
	// ModeFullReversal rolls back the whole unit of work. The transfer ends ABORTED.
	ModeFullReversal Mode = "full_reversal"
)

// ParseMode accepts "checkpoint" and "full_reversal", case-insensitively.
// The empty string is ModeCheckpoint.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeCheckpoint:
		return ModeCheckpoint, nil
	case ModeFullReversal:
		return ModeFullReversal, nil
	default:
		return "", NewDomainError(ErrorInvalidInput, "mode", fmt.Sprintf("unsupported mode %q", s))
	}
}

// ErrorCode is a domain error code used by transfer validations.
type ErrorCode string

const (
	// ErrorInsufficientFunds indicates the source balance cannot cover the amount.
	ErrorInsufficientFunds ErrorCode = "0018"
	// ErrorAccountIneligibility indicates an account does not exist.
	ErrorAccountIneligibility ErrorCode = "0019"
	// ErrorInvalidInput indicates request validation failed.
	ErrorInvalidInput ErrorCode = "1001"
	// ErrorInvalidStateTransition indicates an edge outside the lifecycle graph.
	ErrorInvalidStateTransition ErrorCode = "1002"
)

// DomainError represents a structured transfer validation error.
type DomainError struct {
	Code    ErrorCode
	Field   string
	Message string
}

// Error returns the formatted domain error string.
func (e DomainError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
}

// NewDomainError creates a domain error with code, field, and message.
func NewDomainError(code ErrorCode, field, message string) error {
	return DomainError{Code: code, Field: field, Message: message}
}

// TransferRequest asks to move Amount from SourceID to DestinationID.
// It is passed by value and never mutated after submission.
type TransferRequest struct {
	ID             uuid.UUID       `json:"id"`
	SourceID       int64           `json:"sourceId"`
	DestinationID  int64           `json:"destinationId"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// NewTransferRequest returns a request with a fresh v4 id.
func NewTransferRequest(sourceID, destinationID int64, amount decimal.Decimal) TransferRequest {
	return TransferRequest{
		ID:            uuid.New(),
		SourceID:      sourceID,
		DestinationID: destinationID,
		Amount:        amount,
	}
}

// Validate checks the request shape. It does not consult balances.
func (r TransferRequest) Validate() error {
	if r.ID == uuid.Nil {
		return NewDomainError(ErrorInvalidInput, "id", "id is required")
	}

	if r.SourceID <= 0 {
		return NewDomainError(ErrorInvalidInput, "sourceId", "sourceId must be positive")
	}

	if r.DestinationID <= 0 {
		return NewDomainError(ErrorInvalidInput, "destinationId", "destinationId must be positive")
	}

	if r.SourceID == r.DestinationID {
		return NewDomainError(ErrorInvalidInput, "destinationId", "source and destination must differ")
	}

	if !r.Amount.IsPositive() {
		return NewDomainError(ErrorInvalidInput, "amount", "amount must be greater than zero")
	}

	return nil
}

// CheckpointName is the savepoint name for this transfer: the prefix followed
// by the id as 32 lowercase hex digits. It is always a valid SQL identifier.
func (r TransferRequest) CheckpointName() string {
	return constant.CheckpointPrefix + strings.ReplaceAll(r.ID.String(), "-", "")
}

// WithdrawalDescription is the audit text paired with the debit.
func (r TransferRequest) WithdrawalDescription() string {
	return fmt.Sprintf(constant.WithdrawalTemplate, r.Amount.String(), r.SourceID)
}

// DepositDescription is the audit text paired with the credit.
func (r TransferRequest) DepositDescription() string {
	return fmt.Sprintf(constant.DepositTemplate, r.Amount.String(), r.DestinationID)
}

// Outcome is the result of a transfer that reached a terminal state.
type Outcome struct {
	TransferID          uuid.UUID        `json:"transferId"`
	State               State            `json:"state"`
	Mode                Mode             `json:"mode"`
	SourceBalance       *decimal.Decimal `json:"sourceBalance,omitempty"`
	DestinationCredited bool             `json:"destinationCredited"`
	NeedsReconciliation bool             `json:"needsReconciliation"`
	Cause               error            `json:"-"`
	Duration            time.Duration    `json:"duration"`
}

// Partial reports whether the withdrawal was committed without the deposit.
func (o Outcome) Partial() bool {
	return o.State == StatePartiallyCommitted
}
