package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/crm-reconciler/pkg/config"
	"github.com/ekaya-inc/crm-reconciler/pkg/database"
	"github.com/ekaya-inc/crm-reconciler/pkg/models"
)

// IdentityCreatedHandler runs inside the transaction that creates an identity.
// Returning an error fails the creation.
type IdentityCreatedHandler func(ctx context.Context, q database.Querier, identity models.Identity) error

// Beginner starts transactions. *pgxpool.Pool and *database.DB satisfy it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// IdentityProvider creates identities and notifies subscribers exactly once per creation.
type IdentityProvider interface {
	Subscribe(handler IdentityCreatedHandler)
	CreateIdentity(ctx context.Context, email string) (*models.Identity, error)
}

// localIdentityProvider writes identities to the configured identity table.
// Hosted providers own identity creation; this one serves local mode and tests.
type localIdentityProvider struct {
	db       Beginner
	table    string
	handlers []IdentityCreatedHandler
	logger   *zap.Logger
}

// NewLocalIdentityProvider creates an identity provider over the configured identity table.
func NewLocalIdentityProvider(db Beginner, identity config.IdentityConfig, logger *zap.Logger) IdentityProvider {
	return &localIdentityProvider{
		db:     db,
		table:  pgx.Identifier{identity.Schema, identity.Table}.Sanitize(),
		logger: logger,
	}
}

// Subscribe registers handler. Handlers run in registration order.
func (p *localIdentityProvider) Subscribe(handler IdentityCreatedHandler) {
	p.handlers = append(p.handlers, handler)
}

// CreateIdentity inserts an identity and runs every handler in the same transaction.
func (p *localIdentityProvider) CreateIdentity(ctx context.Context, email string) (*models.Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	var identity models.Identity
	err := pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		query := fmt.Sprintf(`INSERT INTO %s (email) VALUES ($1) RETURNING id, email, created_at`, p.table)
		if err := tx.QueryRow(ctx, query, email).Scan(&identity.ID, &identity.Email, &identity.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert identity: %w", err)
		}

		for _, handler := range p.handlers {
			if err := handler(ctx, tx, identity); err != nil {
				return fmt.Errorf("identity created handler failed: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("Created identity",
		zap.String("identity_id", identity.ID.String()),
		zap.Int("handlers", len(p.handlers)))
	return &identity, nil
}
