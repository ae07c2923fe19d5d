package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// identityMigrationsFS holds the schema of the local identity provider:
// the auth.users table, the auth.uid() function and the authenticated role.
// Hosted providers own these objects already; the migrations only run when
// identity bootstrap is enabled (local development and tests).
//
//go:embed migrations/*.sql
var identityMigrationsFS embed.FS

// IdentityMigrationsTable keeps bootstrap bookkeeping apart from any
// migration history the hosting platform maintains.
const IdentityMigrationsTable = "identity_schema_migrations"

// RunIdentityMigrations applies pending identity bootstrap migrations.
// It is idempotent and safe to call multiple times - only pending migrations will be executed.
func RunIdentityMigrations(db *sql.DB, logger *zap.Logger) error {
	source, err := iofs.New(identityMigrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: IdentityMigrationsTable,
	})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("Failed to close migration source", zap.Error(srcErr))
		}
		if dbErr != nil {
			logger.Warn("Failed to close migration database", zap.Error(dbErr))
		}
	}()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No identity migrations to apply (database up-to-date)")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run identity migrations: %w", err)
	}

	newVersion, _, _ := m.Version()
	logger.Info("Applied identity migrations successfully", zap.Uint("version", newVersion))
	return nil
}
