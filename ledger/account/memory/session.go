package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/LerianStudio/lib-ledger/ledger/account"
	"github.com/LerianStudio/lib-ledger/ledger/transaction"
	"github.com/shopspring/decimal"
)

type savepoint struct {
	name     string
	balances map[int64]decimal.Decimal
	auditLen int
	heldLen  int
}

type session struct {
	store      *Store
	balances   map[int64]decimal.Decimal
	held       []*row
	audit      []account.AuditEntry
	savepoints []savepoint
	closed     bool
}

func (s *session) guard(ctx context.Context, op Op) error {
	if s.closed {
		return account.ErrSessionClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return s.store.takeFault(op)
}

// acquire locks id on first touch and loads its latest committed balance.
func (s *session) acquire(ctx context.Context, id int64) (decimal.Decimal, error) {
	if balance, ok := s.balances[id]; ok {
		return balance, nil
	}

	r, ok := s.store.row(id)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %d", account.ErrNotFound, id)
	}

	if err := s.store.lock(ctx, r); err != nil {
		return decimal.Zero, fmt.Errorf("lock account %d: %w", id, err)
	}

	s.held = append(s.held, r)

	s.store.mu.Lock()
	balance := r.balance
	s.store.mu.Unlock()

	s.balances[id] = balance

	return balance, nil
}

func (s *session) apply(ctx context.Context, op Op, id int64, kind transaction.Operation, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := s.guard(ctx, op); err != nil {
		return decimal.Zero, err
	}

	balance, err := s.acquire(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}

	next, err := transaction.ApplyOperation(balance, kind, amount)
	if err != nil {
		var domainErr transaction.DomainError
		if errors.As(err, &domainErr) && domainErr.Code == transaction.ErrorInsufficientFunds {
			return balance, fmt.Errorf("%w: account %d", account.ErrInsufficientBalance, id)
		}

		return balance, err
	}

	s.balances[id] = next

	return next, nil
}

func (s *session) Decrement(ctx context.Context, id int64, amount decimal.Decimal) (decimal.Decimal, error) {
	return s.apply(ctx, OpDecrement, id, transaction.OperationDebit, amount)
}

func (s *session) Increment(ctx context.Context, id int64, amount decimal.Decimal) (decimal.Decimal, error) {
	return s.apply(ctx, OpIncrement, id, transaction.OperationCredit, amount)
}

func (s *session) AppendAudit(ctx context.Context, description string) (account.AuditEntry, error) {
	if err := s.guard(ctx, OpAppendAudit); err != nil {
		return account.AuditEntry{}, err
	}

	s.store.mu.Lock()
	s.store.nextAuditID++
	entry := account.AuditEntry{ID: s.store.nextAuditID, Description: description, CreatedAt: s.store.now()}
	s.store.mu.Unlock()

	s.audit = append(s.audit, entry)

	return entry, nil
}

func (s *session) Savepoint(ctx context.Context, name string) error {
	if !account.ValidIdentifier(name) {
		return fmt.Errorf("%w: %q", account.ErrInvalidSavepoint, name)
	}

	if err := s.guard(ctx, OpSavepoint); err != nil {
		return err
	}

	for i := range s.savepoints {
		if s.savepoints[i].name == name {
			s.savepoints = append(s.savepoints[:i], s.savepoints[i+1:]...)
			break
		}
	}

	s.savepoints = append(s.savepoints, savepoint{
		name:     name,
		balances: maps.Clone(s.balances),
		auditLen: len(s.audit),
		heldLen:  len(s.held),
	})

	return nil
}

func (s *session) RollbackToSavepoint(ctx context.Context, name string) error {
	if err := s.guard(ctx, OpRollbackToSavepoint); err != nil {
		return err
	}

	for i := len(s.savepoints) - 1; i >= 0; i-- {
		sp := s.savepoints[i]
		if sp.name != name {
			continue
		}

		// Rows first locked after the savepoint are released with it.
		for _, r := range s.held[sp.heldLen:] {
			<-r.lock
		}

		s.held = s.held[:sp.heldLen]
		s.balances = maps.Clone(sp.balances)
		s.audit = s.audit[:sp.auditLen]
		s.savepoints = s.savepoints[:i+1]

		return nil
	}

	return fmt.Errorf("%w: %q", account.ErrUnknownSavepoint, name)
}

// Rollback always ends the session, even when an injected fault is returned.
func (s *session) Rollback(_ context.Context) error {
	if s.closed {
		return account.ErrSessionClosed
	}

	err := s.store.takeFault(OpRollback)
	s.finish()

	return err
}

func (s *session) Commit(ctx context.Context) error {
	if err := s.guard(ctx, OpCommit); err != nil {
		if !errors.Is(err, account.ErrSessionClosed) {
			s.finish()
		}

		return err
	}

	s.store.mu.Lock()
	now := s.store.now()

	for id, balance := range s.balances {
		if r, ok := s.store.accounts[id]; ok && !r.balance.Equal(balance) {
			r.balance = balance
			r.updatedAt = now
		}
	}

	s.store.audit = append(s.store.audit, s.audit...)
	s.store.mu.Unlock()

	s.finish()

	return nil
}

// finish releases locks and discards the session state.
func (s *session) finish() {
	for _, r := range s.held {
		<-r.lock
	}

	s.held = nil
	s.balances = nil
	s.audit = nil
	s.savepoints = nil
	s.closed = true
}
