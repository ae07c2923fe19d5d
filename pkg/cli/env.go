package cli

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/ekaya-inc/crm-reconciler/pkg/config"
	"github.com/ekaya-inc/crm-reconciler/pkg/database"
	"github.com/ekaya-inc/crm-reconciler/pkg/logging"
	"github.com/ekaya-inc/crm-reconciler/pkg/retry"
)

// environment is what every command needs before doing real work.
type environment struct {
	cfg    *config.Config
	logger *zap.Logger
}

func loadEnvironment(opts *RootOptions) (*environment, error) {
	cfg, err := config.Load(opts.ConfigPath, opts.Version)
	if err != nil {
		return nil, err
	}
	cfg.ResolveHostsForDocker()

	logger, err := logging.NewLogger(cfg.Env, opts.Verbose)
	if err != nil {
		return nil, err
	}

	logger.Debug("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.String("identity_table", cfg.Identity.IdentityTable()),
		zap.Int("admin_emails", len(cfg.Roles.AdminEmails)))

	return &environment{cfg: cfg, logger: logger}, nil
}

// connect opens the pool. With identity bootstrap enabled the local identity
// schema is migrated first.
func (e *environment) connect(ctx context.Context) (*database.DB, error) {
	if e.cfg.Identity.Bootstrap {
		if err := e.migrateIdentity(); err != nil {
			return nil, err
		}
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            e.cfg.Database.URL(),
		MaxConnections: e.cfg.Database.MaxConnections,
		AppRole:        e.cfg.Identity.AppRole,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// connectWithRetry waits for a database that is still starting up.
func (e *environment) connectWithRetry(ctx context.Context) (*database.DB, error) {
	attempt := 0
	return retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*database.DB, error) {
		attempt++
		db, err := e.connect(ctx)
		if err != nil && retry.IsRetryable(err) {
			e.logger.Warn("Database not ready",
				zap.Int("attempt", attempt),
				zap.String("error", logging.SanitizeError(err)))
		}
		return db, err
	})
}

func (e *environment) migrateIdentity() error {
	sqlDB, err := sql.Open("pgx", e.cfg.Database.URL())
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunIdentityMigrations(sqlDB, e.logger); err != nil {
		return fmt.Errorf("failed to bootstrap identity schema: %w", err)
	}
	return nil
}
