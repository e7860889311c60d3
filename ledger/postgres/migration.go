package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/LerianStudio/lib-ledger/ledger/internal/nilcheck"
	"github.com/LerianStudio/lib-ledger/ledger/log"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

var (
	// ErrInvalidDatabaseName is returned for names postgres would reject or quote.
	ErrInvalidDatabaseName = errors.New("postgres: invalid database name")
	// ErrMigrationDirty signals a half-applied migration that needs manual repair.
	ErrMigrationDirty = errors.New("postgres: dirty migration state")

	runMigrationsFn = runMigrations

	dbNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)
)

// MigrationConfig configures a Migrator. Either MigrationsPath or Component
// must be set; Component resolves to components/<component>/migrations.
type MigrationConfig struct {
	PrimaryDSN           string
	DatabaseName         string
	MigrationsPath       string
	Component            string
	AllowMultiStatements bool
	Logger               log.Logger
}

// Migrator applies pending up-migrations.
type Migrator struct {
	cfg MigrationConfig
}

// NewMigrator validates cfg.
func NewMigrator(cfg MigrationConfig) (*Migrator, error) {
	if nilcheck.Interface(cfg.Logger) {
		cfg.Logger = log.NewNop()
	}

	if strings.TrimSpace(cfg.PrimaryDSN) == "" {
		return nil, fmt.Errorf("%w: primary dsn is required", ErrInvalidConfig)
	}

	if err := validateDBName(cfg.DatabaseName); err != nil {
		return nil, err
	}

	if cfg.MigrationsPath == "" && cfg.Component == "" {
		return nil, fmt.Errorf("%w: migrations path or component is required", ErrInvalidConfig)
	}

	return &Migrator{cfg: cfg}, nil
}

// Up runs every pending migration on the primary database.
func (m *Migrator) Up(ctx context.Context) error {
	if m == nil {
		return ErrInvalidConfig
	}

	if ctx == nil {
		return ErrNilContext
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context done before migrations: %w", err)
	}

	path, err := resolveMigrationsPath(m.cfg.MigrationsPath, m.cfg.Component)
	if err != nil {
		return err
	}

	db, err := dbOpenFn("pgx", m.cfg.PrimaryDSN)
	if err != nil {
		return newSanitizedError(err, "failed to open database for migrations")
	}

	defer db.Close()

	return runMigrationsFn(ctx, db, path, m.cfg.DatabaseName, m.cfg.AllowMultiStatements, m.cfg.Logger)
}

func resolveMigrationsPath(migrationsPath, component string) (string, error) {
	if migrationsPath != "" {
		return sanitizePath(migrationsPath)
	}

	sanitized := filepath.Base(component)
	if sanitized == "." || sanitized == string(filepath.Separator) || sanitized == ".." {
		return "", fmt.Errorf("%w: invalid component name %q", ErrInvalidConfig, component)
	}

	return filepath.Abs(filepath.Join("components", sanitized, "migrations"))
}

func sanitizePath(path string) (string, error) {
	cleaned := filepath.Clean(path)

	for _, part := range strings.Split(cleaned, string(filepath.Separator)) {
		if part == ".." {
			return "", fmt.Errorf("%w: invalid migrations path %q", ErrInvalidConfig, path)
		}
	}

	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("failed to resolve migrations path: %w", err)
	}

	return absPath, nil
}

func validateDBName(name string) error {
	if !dbNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidDatabaseName, name)
	}

	return nil
}

type migrationOutcome struct {
	err     error
	level   log.Level
	message string
	fields  []log.Field
}

func classifyMigrationError(err error) migrationOutcome {
	if err == nil {
		return migrationOutcome{}
	}

	if errors.Is(err, migrate.ErrNoChange) {
		return migrationOutcome{level: log.LevelInfo, message: "no new migrations found, skipping"}
	}

	if errors.Is(err, os.ErrNotExist) {
		return migrationOutcome{level: log.LevelWarn, message: "no migration files found, skipping"}
	}

	var dirtyErr migrate.ErrDirty
	if errors.As(err, &dirtyErr) {
		return migrationOutcome{
			err:     fmt.Errorf("%w: version %d", ErrMigrationDirty, dirtyErr.Version),
			level:   log.LevelError,
			message: "migration failed with dirty version",
			fields:  []log.Field{log.Int("dirty_version", dirtyErr.Version)},
		}
	}

	return migrationOutcome{
		err:     fmt.Errorf("migration failed: %w", err),
		level:   log.LevelError,
		message: "migration failed",
		fields:  []log.Field{log.String("error", SanitizeString(err.Error()))},
	}
}

func runMigrations(ctx context.Context, db *sql.DB, migrationsPath, dbName string, allowMultiStatements bool, logger log.Logger) error {
	sourceURL, err := url.Parse(filepath.ToSlash(migrationsPath))
	if err != nil {
		return fmt.Errorf("failed to parse migrations url: %w", err)
	}

	sourceURL.Scheme = "file"

	driver, err := migratepg.WithInstance(db, &migratepg.Config{
		MultiStatementEnabled: allowMultiStatements,
		DatabaseName:          dbName,
		SchemaName:            "public",
	})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver instance: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(sourceURL.String(), dbName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	outcome := classifyMigrationError(m.Up())
	if outcome.message != "" {
		logger.Log(ctx, outcome.level, outcome.message, outcome.fields...)
	}

	return outcome.err
}
