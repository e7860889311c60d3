// Command transfer moves an amount between two accounts and reports the
// terminal state of the transfer.
//
// Exit codes: 0 committed, 3 partially committed, 1 any other failure.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/LerianStudio/lib-ledger/ledger"
	accountPostgres "github.com/LerianStudio/lib-ledger/ledger/account/postgres"
	"github.com/LerianStudio/lib-ledger/ledger/assert"
	"github.com/LerianStudio/lib-ledger/ledger/circuitbreaker"
	constant "github.com/LerianStudio/lib-ledger/ledger/constants"
	"github.com/LerianStudio/lib-ledger/ledger/idempotency"
	"github.com/LerianStudio/lib-ledger/ledger/log"
	"github.com/LerianStudio/lib-ledger/ledger/opentelemetry"
	"github.com/LerianStudio/lib-ledger/ledger/postgres"
	"github.com/LerianStudio/lib-ledger/ledger/reconciliation"
	"github.com/LerianStudio/lib-ledger/ledger/transaction"
	"github.com/LerianStudio/lib-ledger/ledger/transfer"
	"github.com/LerianStudio/lib-ledger/ledger/zap"
)

const (
	exitCommitted = 0
	exitFailure   = 1
	exitPartial   = 3

	entityTransfer = "Transfer"
	breakerName    = "account-store"
	exchangeKind   = "topic"
)

type flags struct {
	source         int64
	destination    int64
	amount         string
	mode           string
	idempotencyKey string
	migrate        bool
	migrationsPath string
}

func parseFlags(args []string) (flags, error) {
	var f flags

	fs := flag.NewFlagSet("transfer", flag.ContinueOnError)
	fs.Int64Var(&f.source, "source", 0, "source account id")
	fs.Int64Var(&f.destination, "destination", 0, "destination account id")
	fs.StringVar(&f.amount, "amount", "", "amount to move, e.g. 100.00")
	fs.StringVar(&f.mode, "mode", string(transaction.ModeCheckpoint), "checkpoint or full_reversal")
	fs.StringVar(&f.idempotencyKey, "idempotency-key", "", "optional key; requires REDIS_ADDR")
	fs.BoolVar(&f.migrate, "migrate", false, "apply pending migrations first")
	fs.StringVar(&f.migrationsPath, "migrations", "", "migrations directory (default components/transfer/migrations)")

	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}

	return f, nil
}

func (f flags) request() (transaction.TransferRequest, error) {
	amount, err := decimal.NewFromString(f.amount)
	if err != nil {
		return transaction.TransferRequest{}, transaction.NewDomainError(transaction.ErrorInvalidInput, "amount", "amount is not a decimal number")
	}

	req := transaction.NewTransferRequest(f.source, f.destination, amount)
	req.IdempotencyKey = f.idempotencyKey

	if err := req.Validate(); err != nil {
		return transaction.TransferRequest{}, err
	}

	return req, nil
}

func main() {
	ledger.InitLocalEnvConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)

	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args)
	if err != nil {
		return exitFailure
	}

	req, err := f.request()
	if err != nil {
		fmt.Fprintf(stderr, "invalid request: %v\n", err)
		return exitFailure
	}

	mode, err := transaction.ParseMode(f.mode)
	if err != nil {
		fmt.Fprintf(stderr, "invalid mode: %v\n", err)
		return exitFailure
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}

	logger, err := zap.New(zap.Config{
		Environment:     zap.Environment(cfg.EnvName),
		Level:           cfg.LogLevel,
		OTelLibraryName: cfg.OtelLibraryName,
	})
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return exitFailure
	}

	defer func() { _ = logger.Sync(context.Background()) }()

	app, err := newApp(ctx, cfg, f, mode, logger)
	if err != nil {
		log.SafeError(logger, ctx, "startup failed", err, cfg.production())
		fmt.Fprintln(stderr, ledger.ValidateBusinessError(err, entityTransfer))

		return exitFailure
	}

	defer app.close()

	outcome, err := app.service.Transfer(ctx, req)
	if err != nil {
		log.SafeError(logger, ctx, "transfer failed", err, cfg.production())
	}

	if encodeErr := json.NewEncoder(stdout).Encode(outcome); encodeErr != nil {
		logger.Log(ctx, log.LevelWarn, "outcome not printed", log.Err(encodeErr))
	}

	switch {
	case err != nil:
		fmt.Fprintln(stderr, ledger.ValidateBusinessError(err, entityTransfer))
		return exitFailure
	case outcome.Partial():
		fmt.Fprintln(stderr, ledger.ValidateBusinessError(constant.ErrTransferPartiallyCommitted, entityTransfer))
		return exitPartial
	case outcome.State == transaction.StateCommitted:
		return exitCommitted
	default:
		return exitFailure
	}
}

// app owns every resource opened for one transfer.
type app struct {
	service *transfer.Service
	closers []func() error
	logger  log.Logger
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Log(context.Background(), log.LevelWarn, "close failed", log.Err(err))
		}
	}
}

func newApp(ctx context.Context, cfg *Config, f flags, mode transaction.Mode, logger log.Logger) (*app, error) {
	a := &app{logger: logger}

	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	tel, err := opentelemetry.InitializeTelemetry(ctx, &opentelemetry.TelemetryConfig{
		LibraryName:               cfg.OtelLibraryName,
		ServiceName:               cfg.OtelServiceName,
		ServiceVersion:            cfg.OtelServiceVersion,
		DeploymentEnv:             cfg.OtelDeploymentEnv,
		CollectorExporterEndpoint: cfg.OtelColExporterEndpoint,
		EnableTelemetry:           cfg.EnableTelemetry,
		Logger:                    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	a.closers = append(a.closers, func() error {
		tel.ShutdownTelemetry(context.Background())
		return nil
	})

	assert.InitAssertionMetrics(tel.MetricsFactory)

	if f.migrate {
		if err := migrate(ctx, cfg, f.migrationsPath, logger); err != nil {
			return nil, err
		}
	}

	client, err := postgres.New(postgres.Config{
		PrimaryDSN:         cfg.PrimaryDSN,
		ReplicaDSN:         cfg.ReplicaDSN,
		Logger:             logger,
		MaxOpenConnections: cfg.MaxOpenConnections,
		MaxIdleConnections: cfg.MaxIdleConnections,
	})
	if err != nil {
		return nil, err
	}

	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", constant.ErrStoreUnavailable, err)
	}

	a.closers = append(a.closers, client.Close)

	store, err := accountPostgres.NewStore(client,
		accountPostgres.WithLogger(logger),
		accountPostgres.WithLockTimeout(cfg.lockTimeout()),
	)
	if err != nil {
		return nil, err
	}

	opts := []transfer.Option{
		transfer.WithMode(mode),
		transfer.WithLogger(logger),
		transfer.WithTracer(tel.Tracer()),
		transfer.WithMetrics(tel.MetricsFactory),
		transfer.WithCircuitBreaker(circuitbreaker.NewManager(logger), breakerName),
		transfer.WithBeginTimeout(cfg.beginTimeout()),
	}

	guardOpt, err := a.idempotencyGuard(ctx, cfg, f.idempotencyKey)
	if err != nil {
		return nil, err
	}

	if guardOpt != nil {
		opts = append(opts, guardOpt)
	}

	notifier, err := a.notifier(cfg)
	if err != nil {
		return nil, err
	}

	opts = append(opts, transfer.WithNotifier(notifier))

	svc, err := transfer.NewService(store, opts...)
	if err != nil {
		return nil, err
	}

	a.service = svc
	ok = true

	return a, nil
}

func migrate(ctx context.Context, cfg *Config, path string, logger log.Logger) error {
	mcfg := postgres.MigrationConfig{
		PrimaryDSN:     cfg.PrimaryDSN,
		DatabaseName:   cfg.DBName,
		MigrationsPath: path,
		Logger:         logger,
	}

	if path == "" {
		mcfg.Component = "transfer"
	}

	m, err := postgres.NewMigrator(mcfg)
	if err != nil {
		return err
	}

	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	return nil
}

var errGuardUnavailable = errors.New("idempotency key given but REDIS_ADDR is not set")

func (a *app) idempotencyGuard(ctx context.Context, cfg *Config, key string) (transfer.Option, error) {
	if cfg.RedisAddr == "" {
		if key != "" {
			return nil, errGuardUnavailable
		}

		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	a.closers = append(a.closers, rdb.Close)

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	guard, err := idempotency.NewRedisGuard(rdb,
		idempotency.WithTTL(cfg.idempotencyTTL()),
		idempotency.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}

	return transfer.WithIdempotencyGuard(guard), nil
}

// notifier publishes reconciliation notices to RabbitMQ when a broker is
// configured and falls back to logging them.
func (a *app) notifier(cfg *Config) (reconciliation.Notifier, error) {
	if cfg.RabbitURI == "" {
		return reconciliation.NewLogNotifier(a.logger), nil
	}

	conn, err := amqp.Dial(cfg.RabbitURI)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	a.closers = append(a.closers, conn.Close)

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.RabbitExchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("rabbitmq exchange: %w", err)
	}

	pub, err := reconciliation.NewPublisher(ch, cfg.RabbitExchange, cfg.RabbitRoutingKey,
		reconciliation.WithLogger(a.logger),
	)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	a.closers = append(a.closers, pub.Close)

	return pub, nil
}
