package constant

import "errors"

// Business error codes. The code string is the error text so callers can map
// sentinels into rendered responses without a lookup table per package.
var (
	// ErrInsufficientFunds maps to transfer error code 0018.
	ErrInsufficientFunds = errors.New("0018")
	// ErrAccountIneligibility maps to transfer error code 0019 (unknown or unusable account).
	ErrAccountIneligibility = errors.New("0019")
	// ErrTransferPartiallyCommitted maps to transfer error code 0042.
	ErrTransferPartiallyCommitted = errors.New("0042")
	// ErrTransferReversed maps to transfer error code 0043.
	ErrTransferReversed = errors.New("0043")
	// ErrDuplicateTransfer maps to transfer error code 0084.
	ErrDuplicateTransfer = errors.New("0084")
	// ErrStoreUnavailable maps to transfer error code 0096.
	ErrStoreUnavailable = errors.New("0096")
)
