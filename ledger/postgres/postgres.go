package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/LerianStudio/lib-ledger/ledger/backoff"
	"github.com/LerianStudio/lib-ledger/ledger/internal/nilcheck"
	"github.com/LerianStudio/lib-ledger/ledger/log"
	"github.com/bxcodec/dbresolver/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

var (
	// ErrInvalidConfig is returned for a missing DSN or migration source.
	ErrInvalidConfig = errors.New("postgres: invalid config")
	// ErrNilContext is returned when a nil context is passed to a blocking call.
	ErrNilContext = errors.New("postgres: nil context")
	// ErrNilClient is returned by methods invoked on a nil *Client.
	ErrNilClient = errors.New("postgres: nil client")
	// ErrNotConnected is returned by Primary before a successful Connect.
	ErrNotConnected = errors.New("postgres: not connected")

	dbOpenFn = sql.Open

	createResolverFn = func(primaryDB, replicaDB *sql.DB, logger log.Logger) (_ dbresolver.DB, err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.Log(context.Background(), log.LevelError, "resolver creation panicked", log.Any("panic", recovered))
				err = fmt.Errorf("failed to create resolver: %v", recovered)
			}
		}()

		connectionDB := dbresolver.New(
			dbresolver.WithPrimaryDBs(primaryDB),
			dbresolver.WithReplicaDBs(replicaDB),
			dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
		)

		if connectionDB == nil {
			return nil, errors.New("resolver returned nil connection")
		}

		return connectionDB, nil
	}

	connectionStringCredentialsPattern = regexp.MustCompile(`://[^@\s]+@`)
	connectionStringPasswordPattern    = regexp.MustCompile(`(?i)(password=)([^\s&]+)`)
)

// Config configures a Client.
type Config struct {
	PrimaryDSN         string
	ReplicaDSN         string
	Logger             log.Logger
	MaxOpenConnections int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
	// ConnectRetry governs the initial ping. The zero value pings once.
	ConnectRetry backoff.Policy
}

func (c Config) withDefaults() Config {
	if nilcheck.Interface(c.Logger) {
		c.Logger = log.NewNop()
	}

	if c.ReplicaDSN == "" {
		c.ReplicaDSN = c.PrimaryDSN
	}

	if c.MaxOpenConnections <= 0 {
		c.MaxOpenConnections = defaultMaxOpenConns
	}

	if c.MaxIdleConnections <= 0 {
		c.MaxIdleConnections = defaultMaxIdleConns
	}

	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = defaultConnMaxLifetime
	}

	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = defaultConnMaxIdleTime
	}

	return c
}

func (c Config) validate() error {
	if strings.TrimSpace(c.PrimaryDSN) == "" {
		return fmt.Errorf("%w: primary dsn is required", ErrInvalidConfig)
	}

	return nil
}

// Client owns the primary and replica pools.
type Client struct {
	cfg      Config
	mu       sync.RWMutex
	resolver dbresolver.DB
	primary  *sql.DB
	replica  *sql.DB
}

// New validates cfg and returns an unconnected Client.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Client{cfg: cfg}, nil
}

// Connect opens fresh pools and replaces the current ones only once the new
// resolver answers a ping. On failure the previous connection stays in use.
func (c *Client) Connect(ctx context.Context) error {
	if c == nil {
		return ErrNilClient
	}

	if ctx == nil {
		return ErrNilContext
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	logger := c.cfg.Logger

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context done before database connection: %w", err)
	}

	logger.Log(ctx, log.LevelInfo, "connecting to primary and replica databases")

	primary, replica, resolver, err := c.buildConnection(ctx)
	if err != nil {
		logger.Log(ctx, log.LevelError, "failed to connect to postgres", log.Err(err))
		return err
	}

	if c.resolver != nil {
		if err := c.resolver.Close(); err != nil {
			logger.Log(ctx, log.LevelWarn, "failed to close previous connection", log.String("error", SanitizeString(err.Error())))
		}
	}

	c.resolver, c.primary, c.replica = resolver, primary, replica

	logger.Log(ctx, log.LevelInfo, "connected to postgres")

	return nil
}

func (c *Client) buildConnection(ctx context.Context) (*sql.DB, *sql.DB, dbresolver.DB, error) {
	primary, err := c.open(c.cfg.PrimaryDSN)
	if err != nil {
		return nil, nil, nil, newSanitizedError(err, "failed to open primary database")
	}

	replica, err := c.open(c.cfg.ReplicaDSN)
	if err != nil {
		_ = primary.Close()

		return nil, nil, nil, newSanitizedError(err, "failed to open replica database")
	}

	resolver, err := createResolverFn(primary, replica, c.cfg.Logger)
	if err != nil {
		_ = primary.Close()
		_ = replica.Close()

		return nil, nil, nil, err
	}

	err = backoff.Retry(ctx, c.cfg.ConnectRetry, func(ctx context.Context) error {
		if pingErr := resolver.PingContext(ctx); pingErr != nil {
			c.cfg.Logger.Log(ctx, log.LevelWarn, "postgres ping failed", log.String("error", SanitizeString(pingErr.Error())))
			return pingErr
		}

		return nil
	})
	if err != nil {
		_ = resolver.Close()

		return nil, nil, nil, newSanitizedError(err, "failed to ping database")
	}

	return primary, replica, resolver, nil
}

func (c *Client) open(dsn string) (*sql.DB, error) {
	db, err := dbOpenFn("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(c.cfg.MaxOpenConnections)
	db.SetMaxIdleConns(c.cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(c.cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.cfg.ConnMaxIdleTime)

	return db, nil
}

// Resolver returns the primary/replica resolver, connecting on first use.
//
//nolint:ireturn
func (c *Client) Resolver(ctx context.Context) (dbresolver.DB, error) {
	if c == nil {
		return nil, ErrNilClient
	}

	if ctx == nil {
		return nil, ErrNilContext
	}

	c.mu.RLock()
	resolver := c.resolver
	c.mu.RUnlock()

	if resolver != nil {
		return resolver, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolver != nil {
		return c.resolver, nil
	}

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	return c.resolver, nil
}

// Primary returns the primary pool of a connected client.
func (c *Client) Primary() (*sql.DB, error) {
	if c == nil {
		return nil, ErrNilClient
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.primary == nil {
		return nil, ErrNotConnected
	}

	return c.primary, nil
}

// IsConnected reports whether a resolver is in place.
func (c *Client) IsConnected() (bool, error) {
	if c == nil {
		return false, ErrNilClient
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.resolver != nil, nil
}

// Close releases both pools. It is safe to call more than once.
func (c *Client) Close() error {
	if c == nil {
		return ErrNilClient
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var err error

	switch {
	case c.resolver != nil:
		err = c.resolver.Close()
	default:
		err = errors.Join(closeDB(c.primary), closeDB(c.replica))
	}

	c.resolver, c.primary, c.replica = nil, nil, nil

	return err
}

func closeDB(db *sql.DB) error {
	if db == nil {
		return nil
	}

	return db.Close()
}

// SanitizedError carries a credential-free message. Unwrap returns nil so
// the original, DSN-bearing error cannot be reached through the chain.
type SanitizedError struct {
	Message string
}

func (e *SanitizedError) Error() string { return e.Message }

// Unwrap always returns nil.
func (e *SanitizedError) Unwrap() error { return nil }

func newSanitizedError(err error, prefix string) error {
	if err == nil {
		return nil
	}

	return &SanitizedError{Message: prefix + ": " + SanitizeString(err.Error())}
}

// SanitizeString masks user:password pairs and password= values in s.
func SanitizeString(s string) string {
	s = connectionStringCredentialsPattern.ReplaceAllString(s, "://***@")

	return connectionStringPasswordPattern.ReplaceAllString(s, "${1}***")
}
