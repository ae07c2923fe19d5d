package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/crm-reconciler/pkg/apperrors"
	"github.com/ekaya-inc/crm-reconciler/pkg/database"
	"github.com/ekaya-inc/crm-reconciler/pkg/models"
)

// LeadFilter narrows List. Empty fields match everything.
type LeadFilter struct {
	Status     string
	CallStatus string
	Industry   string
}

// LeadRepository defines the interface for lead data access.
// All methods run on the identity-scoped connection in the context;
// row-level security limits them to the caller's own leads.
type LeadRepository interface {
	Create(ctx context.Context, lead *models.Lead) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Lead, error)
	List(ctx context.Context, filter LeadFilter) ([]*models.Lead, error)
	// Update applies the set fields of changes in a single statement and
	// returns the resulting row, so concurrent updates to different fields
	// never overwrite each other.
	Update(ctx context.Context, id uuid.UUID, changes *models.LeadUpdate) (*models.Lead, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// leadRepository implements LeadRepository using PostgreSQL.
type leadRepository struct{}

// NewLeadRepository creates a new lead repository.
func NewLeadRepository() LeadRepository {
	return &leadRepository{}
}

const leadColumns = `id, owner_id, name, company, email, phone, notes, status, call_status,
	industry, website, revenue, decision_maker, phone_owner, disposition,
	scheduled_call_at, created_at, updated_at`

// Create inserts a lead owned by the scoped identity.
func (r *leadRepository) Create(ctx context.Context, lead *models.Lead) error {
	scope, ok := database.GetIdentityScope(ctx)
	if !ok {
		return fmt.Errorf("no identity scope in context")
	}

	lead.OwnerID = scope.IdentityID

	query := `
		INSERT INTO leads (owner_id, name, company, email, phone, notes, status, call_status,
			industry, website, revenue, decision_maker, phone_owner, disposition, scheduled_call_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at`

	err := scope.Conn.QueryRow(ctx, query,
		lead.OwnerID,
		lead.Name,
		lead.Company,
		lead.Email,
		lead.Phone,
		lead.Notes,
		lead.Status,
		lead.CallStatus,
		lead.Industry,
		lead.Website,
		lead.Revenue,
		lead.DecisionMaker,
		lead.PhoneOwner,
		lead.Disposition,
		lead.ScheduledCallAt,
	).Scan(&lead.ID, &lead.CreatedAt, &lead.UpdatedAt)
	if err != nil {
		return classifyLeadError("create", err)
	}

	return nil
}

// GetByID retrieves one lead.
func (r *leadRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Lead, error) {
	scope, ok := database.GetIdentityScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no identity scope in context")
	}

	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`

	lead, err := scanLead(scope.Conn.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return lead, nil
}

// List retrieves the caller's leads, newest first.
func (r *leadRepository) List(ctx context.Context, filter LeadFilter) ([]*models.Lead, error) {
	scope, ok := database.GetIdentityScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no identity scope in context")
	}

	var conditions []string
	var args []any
	for _, f := range []struct {
		column string
		value  string
	}{
		{"status", filter.Status},
		{"call_status", filter.CallStatus},
		{"industry", filter.Industry},
	} {
		if f.value == "" {
			continue
		}
		args = append(args, f.value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", f.column, len(args)))
	}

	query := `SELECT ` + leadColumns + ` FROM leads`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list leads: %w", err)
	}
	defer rows.Close()

	leads := []*models.Lead{}
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leads: %w", err)
	}

	return leads, nil
}

func (r *leadRepository) Update(ctx context.Context, id uuid.UUID, changes *models.LeadUpdate) (*models.Lead, error) {
	scope, ok := database.GetIdentityScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no identity scope in context")
	}

	query := `
		UPDATE leads
		SET name = coalesce($2::text, name),
		    company = coalesce($3::text, company),
		    email = coalesce($4::text, email),
		    phone = coalesce($5::text, phone),
		    notes = coalesce($6::text, notes),
		    status = coalesce($7::text, status),
		    call_status = coalesce($8::text, call_status),
		    industry = coalesce($9::text, industry),
		    website = coalesce($10::text, website),
		    revenue = coalesce($11::text, revenue),
		    decision_maker = coalesce($12::text, decision_maker),
		    phone_owner = coalesce($13::text, phone_owner),
		    disposition = coalesce($14::text, disposition),
		    scheduled_call_at = CASE WHEN $16::boolean THEN NULL
		                             ELSE coalesce($15::timestamptz, scheduled_call_at) END,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + leadColumns

	lead, err := scanLead(scope.Conn.QueryRow(ctx, query,
		id,
		changes.Name,
		changes.Company,
		changes.Email,
		changes.Phone,
		changes.Notes,
		changes.Status,
		changes.CallStatus,
		changes.Industry,
		changes.Website,
		changes.Revenue,
		changes.DecisionMaker,
		changes.PhoneOwner,
		changes.Disposition,
		changes.ScheduledCallAt,
		changes.ClearScheduledCall,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, classifyLeadError("update", err)
	}

	return lead, nil
}

// Delete removes one lead.
func (r *leadRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetIdentityScope(ctx)
	if !ok {
		return fmt.Errorf("no identity scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `DELETE FROM leads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete lead: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// classifyLeadError maps domain constraint violations onto validation errors.
func classifyLeadError(op string, err error) error {
	var constraint string
	if pgErr := database.PgError(err); pgErr != nil {
		constraint = pgErr.ConstraintName
	}
	switch {
	case database.IsCheckViolation(err) && constraint == "leads_call_status_check":
		return apperrors.ErrInvalidCallStatus
	case database.IsCheckViolation(err):
		return apperrors.ErrInvalidStatus
	default:
		return fmt.Errorf("failed to %s lead: %w", op, err)
	}
}

func scanLead(row pgx.Row) (*models.Lead, error) {
	var l models.Lead
	err := row.Scan(
		&l.ID,
		&l.OwnerID,
		&l.Name,
		&l.Company,
		&l.Email,
		&l.Phone,
		&l.Notes,
		&l.Status,
		&l.CallStatus,
		&l.Industry,
		&l.Website,
		&l.Revenue,
		&l.DecisionMaker,
		&l.PhoneOwner,
		&l.Disposition,
		&l.ScheduledCallAt,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Ensure leadRepository implements LeadRepository at compile time.
var _ LeadRepository = (*leadRepository)(nil)
