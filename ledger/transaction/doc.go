// Package transaction defines the transfer request, its lifecycle states and
// the typed domain errors shared by the executor and the transfer controller.
//
// Lifecycle:
//
//	STARTED → DEBITED → CHECKPOINTED → CREDITED → COMMITTED
//	CHECKPOINTED | CREDITED → RECOVERING → PARTIALLY_COMMITTED
//	STARTED | DEBITED | CHECKPOINTED | CREDITED | RECOVERING → ABORTED
//
// ValidateTransition enforces the graph; any other edge is ErrorInvalidStateTransition.
package transaction
