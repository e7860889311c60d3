package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/LerianStudio/lib-ledger/ledger/account"
	constant "github.com/LerianStudio/lib-ledger/ledger/constants"
	"github.com/LerianStudio/lib-ledger/ledger/internal/nilcheck"
	"github.com/LerianStudio/lib-ledger/ledger/log"
	"github.com/LerianStudio/lib-ledger/ledger/transaction"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds is returned when a debit would leave a negative balance.
	ErrInsufficientFunds = constant.ErrInsufficientFunds
	// ErrAccountNotFound is returned when the account id does not exist.
	ErrAccountNotFound = constant.ErrAccountIneligibility
	// ErrNilUnit is returned when no unit of work is supplied.
	ErrNilUnit = errors.New("executor: unit of work is required")
)

// Unit is the part of a unit of work the executor needs.
type Unit interface {
	Session() (account.Session, error)
	Record()
}

// Executor runs transfer steps. The zero value is usable and does not log.
type Executor struct {
	logger log.Logger
}

// New returns an Executor that logs through logger.
func New(logger log.Logger) *Executor {
	if nilcheck.Interface(logger) {
		logger = log.NewNop()
	}

	return &Executor{logger: logger}
}

func (e *Executor) getLogger() log.Logger {
	if e == nil || nilcheck.Interface(e.logger) {
		return log.NewNop()
	}

	return e.logger
}

//nolint:ireturn
func session(unit Unit) (account.Session, error) {
	if nilcheck.Interface(unit) {
		return nil, ErrNilUnit
	}

	return unit.Session()
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return transaction.NewDomainError(transaction.ErrorInvalidInput, "amount", "amount must be greater than zero")
	}

	return nil
}

// Debit subtracts amount from accountID only if the balance covers it.
func (e *Executor) Debit(ctx context.Context, unit Unit, accountID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validateAmount(amount); err != nil {
		return decimal.Zero, err
	}

	s, err := session(unit)
	if err != nil {
		return decimal.Zero, err
	}

	balance, err := s.Decrement(ctx, accountID, amount)
	if err != nil {
		err = mapAccountError(err, accountID)
		e.getLogger().Log(ctx, log.LevelWarn, "debit failed", log.Int64("account_id", accountID), log.Err(err))

		return decimal.Zero, err
	}

	unit.Record()

	return balance, nil
}

// Credit adds amount to accountID.
func (e *Executor) Credit(ctx context.Context, unit Unit, accountID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validateAmount(amount); err != nil {
		return decimal.Zero, err
	}

	s, err := session(unit)
	if err != nil {
		return decimal.Zero, err
	}

	balance, err := s.Increment(ctx, accountID, amount)
	if err != nil {
		err = mapAccountError(err, accountID)
		e.getLogger().Log(ctx, log.LevelWarn, "credit failed", log.Int64("account_id", accountID), log.Err(err))

		return decimal.Zero, err
	}

	unit.Record()

	return balance, nil
}

// LogEvent appends one audit entry.
func (e *Executor) LogEvent(ctx context.Context, unit Unit, description string) (account.AuditEntry, error) {
	s, err := session(unit)
	if err != nil {
		return account.AuditEntry{}, err
	}

	entry, err := s.AppendAudit(ctx, description)
	if err != nil {
		e.getLogger().Log(ctx, log.LevelWarn, "audit append failed", log.Err(err))

		return account.AuditEntry{}, fmt.Errorf("append audit entry: %w", err)
	}

	unit.Record()

	return entry, nil
}

// DebitWithAudit debits and records description as the withdrawal audit entry.
func (e *Executor) DebitWithAudit(ctx context.Context, unit Unit, accountID int64, amount decimal.Decimal, description string) (decimal.Decimal, error) {
	balance, err := e.Debit(ctx, unit, accountID, amount)
	if err != nil {
		return decimal.Zero, err
	}

	if _, err := e.LogEvent(ctx, unit, description); err != nil {
		return decimal.Zero, err
	}

	return balance, nil
}

// CreditWithAudit credits and records description as the deposit audit entry.
func (e *Executor) CreditWithAudit(ctx context.Context, unit Unit, accountID int64, amount decimal.Decimal, description string) (decimal.Decimal, error) {
	balance, err := e.Credit(ctx, unit, accountID, amount)
	if err != nil {
		return decimal.Zero, err
	}

	if _, err := e.LogEvent(ctx, unit, description); err != nil {
		return decimal.Zero, err
	}

	return balance, nil
}

// businessError pairs a business sentinel with the DomainError describing
// it. Both match errors.Is/As and the code is rendered once.
type businessError struct {
	sentinel error
	domain   transaction.DomainError
}

func (e businessError) Error() string { return e.domain.Error() }

func (e businessError) Unwrap() []error { return []error{e.sentinel, e.domain} }

// mapAccountError turns store sentinels into business errors.
func mapAccountError(err error, accountID int64) error {
	switch {
	case errors.Is(err, account.ErrInsufficientBalance):
		return businessError{sentinel: ErrInsufficientFunds, domain: transaction.DomainError{
			Code:    transaction.ErrorInsufficientFunds,
			Field:   "amount",
			Message: fmt.Sprintf("account %d cannot cover the amount", accountID),
		}}
	case errors.Is(err, account.ErrNotFound):
		return businessError{sentinel: ErrAccountNotFound, domain: transaction.DomainError{
			Code:    transaction.ErrorAccountIneligibility,
			Field:   "accountId",
			Message: fmt.Sprintf("account %d does not exist", accountID),
		}}
	default:
		return err
	}
}
