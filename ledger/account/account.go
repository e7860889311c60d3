package account

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when an account id does not exist.
	ErrNotFound = errors.New("account: not found")
	// ErrInsufficientBalance is returned when a conditional decrement matches no row.
	ErrInsufficientBalance = errors.New("account: insufficient balance")
	// ErrUnknownSavepoint is returned when rolling back to a savepoint never created.
	ErrUnknownSavepoint = errors.New("account: unknown savepoint")
	// ErrInvalidSavepoint is returned for names that are not SQL identifiers.
	ErrInvalidSavepoint = errors.New("account: invalid savepoint name")
	// ErrSessionClosed is returned by any call after Commit or Rollback.
	ErrSessionClosed = errors.New("account: session closed")
	// ErrLockTimeout is returned when an account row lock is not acquired in time.
	ErrLockTimeout = errors.New("account: lock timeout")

	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)
)

// Account is a balance holder.
type Account struct {
	ID        int64           `json:"id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// AuditEntry is one append-only audit row.
type AuditEntry struct {
	ID          int64     `json:"id"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store opens sessions.
type Store interface {
	Begin(ctx context.Context) (Session, error)
}

// Session is an open store transaction. Writes are invisible to other
// sessions until Commit. Accounts touched by Decrement or Increment stay
// locked against other sessions until Commit or Rollback.
type Session interface {
	// Decrement subtracts amount only if the balance covers it and returns the
	// new balance. ErrInsufficientBalance leaves the balance unchanged.
	Decrement(ctx context.Context, id int64, amount decimal.Decimal) (decimal.Decimal, error)
	// Increment adds amount and returns the new balance.
	Increment(ctx context.Context, id int64, amount decimal.Decimal) (decimal.Decimal, error)
	// AppendAudit inserts one audit row.
	AppendAudit(ctx context.Context, description string) (AuditEntry, error)
	// Savepoint marks a restore point. Reusing a name moves it.
	Savepoint(ctx context.Context, name string) error
	// RollbackToSavepoint discards work after name. The savepoint survives;
	// savepoints created after it do not.
	RollbackToSavepoint(ctx context.Context, name string) error
	Rollback(ctx context.Context) error
	Commit(ctx context.Context) error
}

// Reader exposes committed state.
type Reader interface {
	GetAccount(ctx context.Context, id int64) (Account, error)
	ListAudit(ctx context.Context) ([]AuditEntry, error)
}

// ValidIdentifier reports whether name can be used unquoted as a savepoint name.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}
