package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/LerianStudio/lib-ledger/ledger/account"
	"github.com/shopspring/decimal"
)

// ErrLockTimeout aliases account.ErrLockTimeout.
var ErrLockTimeout = account.ErrLockTimeout

// Op names a session primitive for fault injection.
type Op string

const (
	OpBegin               Op = "begin"
	OpDecrement           Op = "decrement"
	OpIncrement           Op = "increment"
	OpAppendAudit         Op = "append_audit"
	OpSavepoint           Op = "savepoint"
	OpRollbackToSavepoint Op = "rollback_to_savepoint"
	OpRollback            Op = "rollback"
	OpCommit              Op = "commit"
)

type row struct {
	balance   decimal.Decimal
	updatedAt time.Time
	lock      chan struct{}
}

// Store is safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	accounts    map[int64]*row
	audit       []account.AuditEntry
	nextAuditID int64
	faults      map[Op][]error
	lockTimeout time.Duration
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// DefaultLockTimeout bounds lock waits unless WithLockTimeout says otherwise.
// Sessions that lock the same accounts in opposite order fail instead of
// waiting forever.
const DefaultLockTimeout = 5 * time.Second

// WithLockTimeout bounds how long a session waits for an account lock.
// Zero waits until the context is done.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store whose sessions wait at most DefaultLockTimeout
// for a lock.
func New(opts ...Option) *Store {
	s := &Store{
		accounts:    make(map[int64]*row),
		faults:      make(map[Op][]error),
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Put creates or overwrites an account balance outside any session.
func (s *Store) Put(id int64, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.accounts[id]; ok {
		r.balance = balance
		r.updatedAt = s.now()

		return
	}

	s.accounts[id] = &row{balance: balance, updatedAt: s.now(), lock: make(chan struct{}, 1)}
}

// FailNext makes the next call to op fail with err. Calls queue in order and
// a nil err lets its call through, so FailNext(op, nil) followed by
// FailNext(op, err) fails the second call.
func (s *Store) FailNext(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.faults[op] = append(s.faults[op], err)
}

func (s *Store) takeFault(op Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.faults[op]
	if len(queue) == 0 {
		return nil
	}

	s.faults[op] = queue[1:]

	return queue[0]
}

// Begin opens a session.
//
//nolint:ireturn
func (s *Store) Begin(ctx context.Context) (account.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := s.takeFault(OpBegin); err != nil {
		return nil, err
	}

	return &session{
		store:    s,
		balances: make(map[int64]decimal.Decimal),
	}, nil
}

// GetAccount returns the committed state of id.
func (s *Store) GetAccount(_ context.Context, id int64) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.accounts[id]
	if !ok {
		return account.Account{}, fmt.Errorf("%w: %d", account.ErrNotFound, id)
	}

	return account.Account{ID: id, Balance: r.balance, UpdatedAt: r.updatedAt}, nil
}

// ListAudit returns committed audit rows ordered by id.
func (s *Store) ListAudit(_ context.Context) ([]account.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]account.AuditEntry, len(s.audit))
	copy(out, s.audit)

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (s *Store) row(id int64) (*row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.accounts[id]

	return r, ok
}

func (s *Store) lock(ctx context.Context, r *row) error {
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}

	select {
	case r.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrLockTimeout
		}

		return ctx.Err()
	}
}
