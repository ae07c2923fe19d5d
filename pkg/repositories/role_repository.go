package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/crm-reconciler/pkg/apperrors"
	"github.com/ekaya-inc/crm-reconciler/pkg/database"
	"github.com/ekaya-inc/crm-reconciler/pkg/models"
)

// RoleRepository defines the interface for role record data access.
// Every method except InsertIfAbsent runs on the identity-scoped connection
// in the context, so row-level security decides which records are visible.
type RoleRepository interface {
	// InsertIfAbsent inserts record unless the identity already has one.
	// It reports whether a row was inserted; a conflict on the identity is not
	// an error, while an e-mail already held by another identity is ErrConflict.
	InsertIfAbsent(ctx context.Context, q database.Querier, record *models.RoleRecord) (bool, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.RoleRecord, error)
	List(ctx context.Context) ([]*models.RoleRecord, error)
	UpdateRole(ctx context.Context, userID uuid.UUID, role string) error
	Remove(ctx context.Context, userID uuid.UUID) error
}

// roleRepository implements RoleRepository using PostgreSQL.
type roleRepository struct{}

// NewRoleRepository creates a new role repository.
func NewRoleRepository() RoleRepository {
	return &roleRepository{}
}

const roleColumns = `id, user_id, coalesce(email, ''), role, created_at`

// InsertIfAbsent inserts a role record, absorbing a conflict on user_id.
func (r *roleRepository) InsertIfAbsent(ctx context.Context, q database.Querier, record *models.RoleRecord) (bool, error) {
	query := `
		INSERT INTO user_roles (user_id, email, role)
		VALUES ($1, NULLIF($2, ''), $3)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING id, created_at`

	err := q.QueryRow(ctx, query, record.UserID, record.Email, record.Role).Scan(&record.ID, &record.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		if database.IsCheckViolation(err) {
			return false, fmt.Errorf("%w: %s", apperrors.ErrInvalidRole, record.Role)
		}
		if database.IsUniqueViolation(err) {
			return false, fmt.Errorf("%w: e-mail %s already has a role record", apperrors.ErrConflict, record.Email)
		}
		return false, fmt.Errorf("failed to insert role: %w", err)
	}
	return true, nil
}

// GetByUserID retrieves the role record of one identity.
func (r *roleRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.RoleRecord, error) {
	scope, ok := database.GetIdentityScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no identity scope in context")
	}

	query := `SELECT ` + roleColumns + ` FROM user_roles WHERE user_id = $1`

	record, err := scanRole(scope.Conn.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return record, nil
}

// List retrieves every role record visible to the caller.
func (r *roleRepository) List(ctx context.Context) ([]*models.RoleRecord, error) {
	scope, ok := database.GetIdentityScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no identity scope in context")
	}

	query := `SELECT ` + roleColumns + ` FROM user_roles ORDER BY created_at`

	rows, err := scope.Conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var records []*models.RoleRecord
	for rows.Next() {
		record, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating roles: %w", err)
	}

	return records, nil
}

// UpdateRole changes the role of one identity.
func (r *roleRepository) UpdateRole(ctx context.Context, userID uuid.UUID, role string) error {
	scope, ok := database.GetIdentityScope(ctx)
	if !ok {
		return fmt.Errorf("no identity scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `UPDATE user_roles SET role = $1 WHERE user_id = $2`, role, userID)
	if err != nil {
		if database.IsCheckViolation(err) {
			return fmt.Errorf("%w: %s", apperrors.ErrInvalidRole, role)
		}
		return fmt.Errorf("failed to update role: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// Remove deletes the role record of one identity.
func (r *roleRepository) Remove(ctx context.Context, userID uuid.UUID) error {
	scope, ok := database.GetIdentityScope(ctx)
	if !ok {
		return fmt.Errorf("no identity scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func scanRole(row pgx.Row) (*models.RoleRecord, error) {
	var record models.RoleRecord
	if err := row.Scan(&record.ID, &record.UserID, &record.Email, &record.Role, &record.CreatedAt); err != nil {
		return nil, err
	}
	return &record, nil
}

// Ensure roleRepository implements RoleRepository at compile time.
var _ RoleRepository = (*roleRepository)(nil)
