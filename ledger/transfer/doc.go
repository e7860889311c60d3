// Package transfer runs checkpointed transfers.
//
// A transfer debits the source and writes its withdrawal audit entry, sets a
// checkpoint named after the transfer id, then credits the destination and
// writes the deposit entry, all in one unit of work:
//
//	STARTED -> DEBITED -> CHECKPOINTED -> CREDITED -> COMMITTED
//
// Under ModeCheckpoint, the default, a failure after the checkpoint rolls
// back to it and commits the withdrawal alone:
//
//	CHECKPOINTED|CREDITED -> RECOVERING -> PARTIALLY_COMMITTED
//
// The outcome is then flagged for reconciliation and handed to the configured
// Notifier. Under ModeFullReversal the same failure discards the whole unit
// and the transfer ends ABORTED with ErrTransferReversed. Failures before the
// checkpoint always end ABORTED with nothing persisted.
package transfer
