package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-ledger/ledger/account"
	"github.com/LerianStudio/lib-ledger/ledger/internal/nilcheck"
	"github.com/LerianStudio/lib-ledger/ledger/log"
	libPostgres "github.com/LerianStudio/lib-ledger/ledger/postgres"
	"github.com/bxcodec/dbresolver/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const (
	pgLockNotAvailable = "55P03"
	pgCheckViolation   = "23514"
)

var (
	// ErrConnectionRequired is returned by NewStore for a nil client.
	ErrConnectionRequired = errors.New("postgres connection is required")
	// ErrStoreNotInitialized is returned by methods called on a nil *Store.
	ErrStoreNotInitialized = errors.New("account store not initialized")
)

type Option func(*Store)

func WithLogger(logger log.Logger) Option {
	return func(s *Store) {
		if nilcheck.Interface(logger) {
			return
		}

		s.logger = logger
	}
}

// WithLockTimeout bounds how long a session waits for a row lock. Zero keeps
// the server default.
func WithLockTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout >= 0 {
			s.lockTimeout = timeout
		}
	}
}

// WithIsolationLevel overrides the session isolation level.
func WithIsolationLevel(level sql.IsolationLevel) Option {
	return func(s *Store) {
		s.isolation = level
	}
}

// Store opens sessions on the primary and reads committed state from the replica.
type Store struct {
	client          *libPostgres.Client
	logger          log.Logger
	lockTimeout     time.Duration
	isolation       sql.IsolationLevel
	primaryDBLookup func(context.Context) (*sql.DB, error)
	readerLookup    func(context.Context) (dbresolver.DB, error)
}

// NewStore returns a Store over client.
func NewStore(client *libPostgres.Client, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, ErrConnectionRequired
	}

	s := &Store{
		client:    client,
		logger:    log.NewNop(),
		isolation: sql.LevelReadCommitted,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s, nil
}

func (s *Store) primaryDB(ctx context.Context) (*sql.DB, error) {
	if s.primaryDBLookup != nil {
		return s.primaryDBLookup(ctx)
	}

	if _, err := s.client.Resolver(ctx); err != nil {
		return nil, err
	}

	return s.client.Primary()
}

//nolint:ireturn
func (s *Store) reader(ctx context.Context) (dbresolver.DB, error) {
	if s.readerLookup != nil {
		return s.readerLookup(ctx)
	}

	return s.client.Resolver(ctx)
}

// Begin opens a transaction with implicit commit disabled.
//
//nolint:ireturn
func (s *Store) Begin(ctx context.Context) (account.Session, error) {
	if s == nil || s.client == nil {
		return nil, ErrStoreNotInitialized
	}

	db, err := s.primaryDB(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve primary database: %w", err)
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: s.isolation})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if s.lockTimeout > 0 {
		// SET does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()

			return nil, fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	return &session{tx: tx, logger: s.logger}, nil
}

// Put creates id with balance or overwrites its balance. It runs in its own
// transaction and is meant for seeding.
func (s *Store) Put(ctx context.Context, id int64, balance decimal.Decimal) error {
	if s == nil || s.client == nil {
		return ErrStoreNotInitialized
	}

	db, err := s.primaryDB(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve primary database: %w", err)
	}

	_, err = db.ExecContext(ctx, `
INSERT INTO accounts (id, balance, updated_at) VALUES ($1, $2, now())
ON CONFLICT (id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = now()`, id, balance)
	if err != nil {
		return fmt.Errorf("failed to put account %d: %w", id, err)
	}

	return nil
}

func (s *Store) GetAccount(ctx context.Context, id int64) (account.Account, error) {
	if s == nil || s.client == nil {
		return account.Account{}, ErrStoreNotInitialized
	}

	db, err := s.reader(ctx)
	if err != nil {
		return account.Account{}, err
	}

	var a account.Account

	err = db.QueryRowContext(ctx, `SELECT id, balance, updated_at FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.Balance, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, fmt.Errorf("%w: %d", account.ErrNotFound, id)
	}

	if err != nil {
		return account.Account{}, fmt.Errorf("failed to get account %d: %w", id, err)
	}

	return a, nil
}

func (s *Store) ListAudit(ctx context.Context) ([]account.AuditEntry, error) {
	if s == nil || s.client == nil {
		return nil, ErrStoreNotInitialized
	}

	db, err := s.reader(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, event, created_at FROM audit_log ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	defer rows.Close()

	var entries []account.AuditEntry

	for rows.Next() {
		var e account.AuditEntry
		if err := rows.Scan(&e.ID, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit log: %w", err)
	}

	return entries, nil
}

// classify maps server errors that have an account meaning.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgLockNotAvailable:
		return fmt.Errorf("%w: %w", account.ErrLockTimeout, err)
	case pgCheckViolation:
		return fmt.Errorf("%w: %w", account.ErrInsufficientBalance, err)
	default:
		return err
	}
}
