package ledger

import (
	"errors"

	constant "github.com/LerianStudio/lib-ledger/ledger/constants"
)

// Response represents a business error with code, title, and message.
type Response struct {
	EntityType string `json:"entityType,omitempty"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"err,omitempty"`
}

func (e Response) Error() string {
	return e.Message
}

// Unwrap exposes the original cause.
func (e Response) Unwrap() error {
	return e.Err
}

var businessErrors = []struct {
	sentinel error
	title    string
	message  string
}{
	{
		sentinel: constant.ErrInsufficientFunds,
		title:    "Insufficient Funds Response",
		message:  "The transfer could not be completed due to insufficient funds in the source account. No balance was changed.",
	},
	{
		sentinel: constant.ErrAccountIneligibility,
		title:    "Account Ineligibility Response",
		message:  "One or more accounts listed in the transfer do not exist or cannot participate. Please review the account ids and try again.",
	},
	{
		sentinel: constant.ErrTransferPartiallyCommitted,
		title:    "Transfer Partially Committed",
		message:  "Funds were withdrawn from the source account but never reached the destination. The transfer requires reconciliation.",
	},
	{
		sentinel: constant.ErrTransferReversed,
		title:    "Transfer Reversed",
		message:  "The deposit step failed and the withdrawal was reversed. No balance was changed.",
	},
	{
		sentinel: constant.ErrDuplicateTransfer,
		title:    "Duplicate Transfer",
		message:  "A transfer with the same idempotency key was already submitted.",
	},
	{
		sentinel: constant.ErrStoreUnavailable,
		title:    "Account Store Unavailable",
		message:  "The account store could not be reached. No balance was changed.",
	},
}

// ValidateBusinessError maps an error chain carrying one of the business
// sentinels in the constants package to a Response. Other errors are returned
// unchanged.
func ValidateBusinessError(err error, entityType string) error {
	if err == nil {
		return nil
	}

	for _, be := range businessErrors {
		if errors.Is(err, be.sentinel) {
			return Response{
				EntityType: entityType,
				Code:       be.sentinel.Error(),
				Title:      be.title,
				Message:    be.message,
				Err:        err,
			}
		}
	}

	return err
}
