package constant

const (
	// DEBIT identifies debit operations.
	DEBIT = "DEBIT"
	// CREDIT identifies credit operations.
	CREDIT = "CREDIT"

	// WithdrawalTemplate is the audit text written after a successful debit.
	WithdrawalTemplate = "withdrawal of %s from account %d"
	// DepositTemplate is the audit text written after a successful credit.
	DepositTemplate = "deposit of %s to account %d"

	// CheckpointPrefix prefixes savepoint names derived from transfer ids.
	CheckpointPrefix = "transfer_"
)
