package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	constant "github.com/LerianStudio/lib-ledger/ledger/constants"
	"github.com/LerianStudio/lib-ledger/ledger/internal/nilcheck"
	"github.com/LerianStudio/lib-ledger/ledger/log"
	"github.com/LerianStudio/lib-ledger/ledger/transaction"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a claimed key is remembered.
	DefaultTTL = 24 * time.Hour
	// DefaultPrefix namespaces guard keys.
	DefaultPrefix = "ledger:idempotency:"

	// StateInProgress marks a claimed key whose transfer has not finished.
	StateInProgress transaction.State = "IN_PROGRESS"
)

var (
	// ErrDuplicate is returned by Acquire when the key was already claimed.
	ErrDuplicate = constant.ErrDuplicateTransfer
	// ErrEmptyKey is returned for a blank idempotency key.
	ErrEmptyKey = errors.New("idempotency key cannot be empty")
	// ErrNilClient is returned by NewRedisGuard for a nil client.
	ErrNilClient = errors.New("redis client is required")
	// ErrNotOwner is returned when Complete or Release targets a key claimed by another transfer.
	ErrNotOwner = errors.New("idempotency key is owned by another transfer")
)

// releaseScript deletes the key only while it still holds the caller's claim.
var releaseScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
	return 0
end
local decoded = cjson.decode(current)
if decoded["transferId"] == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return -1
`)

// Record is the stored value of a claimed key.
type Record struct {
	TransferID uuid.UUID         `json:"transferId"`
	State      transaction.State `json:"state"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// DuplicateError carries the record that already holds the key.
type DuplicateError struct {
	Key      string
	Existing Record
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate idempotency key %q: transfer %s is %s", e.Key, e.Existing.TransferID, e.Existing.State)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

// Guard claims idempotency keys.
type Guard interface {
	// Acquire claims key for transferID. A taken key is a *DuplicateError.
	Acquire(ctx context.Context, key string, transferID uuid.UUID) error
	// Complete stores the final state for key.
	Complete(ctx context.Context, key string, transferID uuid.UUID, state transaction.State) error
	// Release forgets key so the request may be retried. Used when the
	// transfer failed before changing anything.
	Release(ctx context.Context, key string, transferID uuid.UUID) error
}

type Option func(*RedisGuard)

func WithTTL(ttl time.Duration) Option {
	return func(g *RedisGuard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(g *RedisGuard) {
		g.prefix = prefix
	}
}

func WithLogger(logger log.Logger) Option {
	return func(g *RedisGuard) {
		if !nilcheck.Interface(logger) {
			g.logger = logger
		}
	}
}

// RedisGuard is a Guard backed by redis.
type RedisGuard struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger log.Logger
	now    func() time.Time
}

func NewRedisGuard(client redis.UniversalClient, opts ...Option) (*RedisGuard, error) {
	if nilcheck.Interface(client) {
		return nil, ErrNilClient
	}

	g := &RedisGuard{
		client: client,
		prefix: DefaultPrefix,
		ttl:    DefaultTTL,
		logger: log.NewNop(),
		now:    time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return g, nil
}

func (g *RedisGuard) key(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrEmptyKey
	}

	return g.prefix + key, nil
}

func (g *RedisGuard) encode(transferID uuid.UUID, state transaction.State) ([]byte, error) {
	return json.Marshal(Record{TransferID: transferID, State: state, UpdatedAt: g.now().UTC()})
}

func (g *RedisGuard) Acquire(ctx context.Context, key string, transferID uuid.UUID) error {
	redisKey, err := g.key(key)
	if err != nil {
		return err
	}

	value, err := g.encode(transferID, StateInProgress)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}

	acquired, err := g.client.SetNX(ctx, redisKey, value, g.ttl).Result()
	if err != nil {
		return fmt.Errorf("claim idempotency key: %w", err)
	}

	if acquired {
		return nil
	}

	existing, err := g.Get(ctx, key)
	if err != nil {
		// The key expired between SETNX and GET; report the duplicate anyway.
		existing = Record{State: StateInProgress}
	}

	g.logger.Log(ctx, log.LevelInfo, "duplicate transfer request rejected",
		log.String("idempotency_key", key), log.String("existing_transfer_id", existing.TransferID.String()))

	return &DuplicateError{Key: key, Existing: existing}
}

// Get returns the record stored for key. redis.Nil means the key is unknown.
func (g *RedisGuard) Get(ctx context.Context, key string) (Record, error) {
	redisKey, err := g.key(key)
	if err != nil {
		return Record{}, err
	}

	raw, err := g.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode idempotency record: %w", err)
	}

	return rec, nil
}

func (g *RedisGuard) Complete(ctx context.Context, key string, transferID uuid.UUID, state transaction.State) error {
	redisKey, err := g.key(key)
	if err != nil {
		return err
	}

	current, err := g.Get(ctx, key)
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	if err == nil && current.TransferID != transferID {
		return fmt.Errorf("%w: %s", ErrNotOwner, key)
	}

	value, err := g.encode(transferID, state)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}

	if err := g.client.Set(ctx, redisKey, value, g.ttl).Err(); err != nil {
		return fmt.Errorf("store idempotency result: %w", err)
	}

	return nil
}

func (g *RedisGuard) Release(ctx context.Context, key string, transferID uuid.UUID) error {
	redisKey, err := g.key(key)
	if err != nil {
		return err
	}

	res, err := releaseScript.Run(ctx, g.client, []string{redisKey}, transferID.String()).Int64()
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}

	if res < 0 {
		return fmt.Errorf("%w: %s", ErrNotOwner, key)
	}

	return nil
}
