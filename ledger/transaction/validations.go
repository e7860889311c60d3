package transaction

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var transitions = map[State][]State{
	StateStarted:      {StateDebited, StateAborted},
	StateDebited:      {StateCheckpointed, StateAborted},
	StateCheckpointed: {StateCredited, StateRecovering, StateAborted},
	StateCredited:     {StateCommitted, StateRecovering, StateAborted},
	StateRecovering:   {StatePartiallyCommitted, StateAborted},
}

// ValidateTransition returns nil when from → to is an edge of the lifecycle.
func ValidateTransition(from, to State) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}

	return NewDomainError(
		ErrorInvalidStateTransition,
		"state",
		fmt.Sprintf("transition %s -> %s is not allowed", from, to),
	)
}

// ApplyOperation returns balance after op by amount. A debit that would take
// the balance below zero is ErrorInsufficientFunds.
func ApplyOperation(balance decimal.Decimal, op Operation, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return balance, NewDomainError(ErrorInvalidInput, "amount", "amount must be greater than zero")
	}

	switch op {
	case OperationDebit:
		result := balance.Sub(amount)
		if result.IsNegative() {
			return balance, NewDomainError(ErrorInsufficientFunds, "amount", "operation would result in negative balance")
		}

		return result, nil
	case OperationCredit:
		return balance.Add(amount), nil
	default:
		return balance, NewDomainError(ErrorInvalidInput, "operation", "unsupported operation")
	}
}
