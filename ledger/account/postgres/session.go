package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/LerianStudio/lib-ledger/ledger/account"
	"github.com/LerianStudio/lib-ledger/ledger/log"
	"github.com/LerianStudio/lib-ledger/ledger/transaction"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type session struct {
	tx         *sql.Tx
	logger     log.Logger
	savepoints []string
	closed     bool
}

func (s *session) open() error {
	if s.closed {
		return account.ErrSessionClosed
	}

	return nil
}

func positive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return transaction.NewDomainError(transaction.ErrorInvalidInput, "amount", "amount must be greater than zero")
	}

	return nil
}

func (s *session) Decrement(ctx context.Context, id int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := s.open(); err != nil {
		return decimal.Zero, err
	}

	if err := positive(amount); err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal

	err := s.tx.QueryRowContext(ctx, `
UPDATE accounts SET balance = balance - $1, updated_at = now()
WHERE id = $2 AND balance >= $1
RETURNING balance`, amount, id).Scan(&balance)
	if err == nil {
		return balance, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("failed to decrement account %d: %w", id, classify(err))
	}

	// No row matched: either the account is missing or it cannot cover amount.
	err = s.tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = $1`, id).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: %d", account.ErrNotFound, id)
	}

	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read account %d: %w", id, classify(err))
	}

	return balance, fmt.Errorf("%w: account %d", account.ErrInsufficientBalance, id)
}

func (s *session) Increment(ctx context.Context, id int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := s.open(); err != nil {
		return decimal.Zero, err
	}

	if err := positive(amount); err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal

	err := s.tx.QueryRowContext(ctx, `
UPDATE accounts SET balance = balance + $1, updated_at = now()
WHERE id = $2
RETURNING balance`, amount, id).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: %d", account.ErrNotFound, id)
	}

	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to increment account %d: %w", id, classify(err))
	}

	return balance, nil
}

func (s *session) AppendAudit(ctx context.Context, description string) (account.AuditEntry, error) {
	if err := s.open(); err != nil {
		return account.AuditEntry{}, err
	}

	entry := account.AuditEntry{Description: description}

	err := s.tx.QueryRowContext(ctx, `INSERT INTO audit_log (event) VALUES ($1) RETURNING id, created_at`, description).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return account.AuditEntry{}, fmt.Errorf("failed to append audit entry: %w", classify(err))
	}

	return entry, nil
}

func (s *session) Savepoint(ctx context.Context, name string) error {
	if !account.ValidIdentifier(name) {
		return fmt.Errorf("%w: %q", account.ErrInvalidSavepoint, name)
	}

	if err := s.open(); err != nil {
		return err
	}

	if _, err := s.tx.ExecContext(ctx, "SAVEPOINT "+pgx.Identifier{name}.Sanitize()); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", classify(err))
	}

	s.savepoints = slices.DeleteFunc(s.savepoints, func(existing string) bool { return existing == name })
	s.savepoints = append(s.savepoints, name)

	return nil
}

// RollbackToSavepoint checks the name locally first: a failed ROLLBACK TO
// would abort the whole transaction server-side.
func (s *session) RollbackToSavepoint(ctx context.Context, name string) error {
	if err := s.open(); err != nil {
		return err
	}

	idx := slices.Index(s.savepoints, name)
	if idx < 0 {
		return fmt.Errorf("%w: %q", account.ErrUnknownSavepoint, name)
	}

	if _, err := s.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+pgx.Identifier{name}.Sanitize()); err != nil {
		return fmt.Errorf("failed to roll back to savepoint: %w", classify(err))
	}

	s.savepoints = s.savepoints[:idx+1]

	return nil
}

func (s *session) Rollback(ctx context.Context) error {
	if err := s.open(); err != nil {
		return err
	}

	s.closed = true

	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.logger.Log(ctx, log.LevelWarn, "transaction rollback failed", log.Err(err))

		return fmt.Errorf("failed to roll back transaction: %w", err)
	}

	return nil
}

func (s *session) Commit(ctx context.Context) error {
	if err := s.open(); err != nil {
		return err
	}

	s.closed = true

	if err := s.tx.Commit(); err != nil {
		s.logger.Log(ctx, log.LevelError, "transaction commit failed", log.Err(err))

		return fmt.Errorf("failed to commit transaction: %w", classify(err))
	}

	return nil
}
