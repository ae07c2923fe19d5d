package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/crm-reconciler/pkg/apperrors"
	"github.com/ekaya-inc/crm-reconciler/pkg/models"
	"github.com/ekaya-inc/crm-reconciler/pkg/repositories"
)

// LeadService defines the interface for lead operations.
// Ownership is enforced by row-level security on the caller's identity scope.
type LeadService interface {
	Create(ctx context.Context, lead *models.Lead) (*models.Lead, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Lead, error)
	List(ctx context.Context, filter repositories.LeadFilter) ([]*models.Lead, error)
	Update(ctx context.Context, id uuid.UUID, update *models.LeadUpdate) (*models.Lead, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// SetCallOutcome records the result of a call and replaces the scheduled
	// follow-up: a nil next clears it.
	SetCallOutcome(ctx context.Context, id uuid.UUID, callStatus string, next *time.Time) (*models.Lead, error)
}

// leadService implements LeadService.
type leadService struct {
	leadRepo repositories.LeadRepository
	logger   *zap.Logger
}

// NewLeadService creates a new lead service with dependencies.
func NewLeadService(leadRepo repositories.LeadRepository, logger *zap.Logger) LeadService {
	return &leadService{
		leadRepo: leadRepo,
		logger:   logger,
	}
}

func (s *leadService) Create(ctx context.Context, lead *models.Lead) (*models.Lead, error) {
	lead.ApplyDefaults()
	if err := validateLead(lead); err != nil {
		return nil, err
	}

	if err := s.leadRepo.Create(ctx, lead); err != nil {
		return nil, err
	}

	s.logger.Debug("Created lead",
		zap.String("lead_id", lead.ID.String()),
		zap.String("owner_id", lead.OwnerID.String()))
	return lead, nil
}

func (s *leadService) Get(ctx context.Context, id uuid.UUID) (*models.Lead, error) {
	return s.leadRepo.GetByID(ctx, id)
}

func (s *leadService) List(ctx context.Context, filter repositories.LeadFilter) ([]*models.Lead, error) {
	if filter.Status != "" && !models.IsValidLeadStatus(filter.Status) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidStatus, filter.Status)
	}
	if filter.CallStatus != "" && !models.IsValidCallStatus(filter.CallStatus) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidCallStatus, filter.CallStatus)
	}
	return s.leadRepo.List(ctx, filter)
}

func (s *leadService) Update(ctx context.Context, id uuid.UUID, update *models.LeadUpdate) (*models.Lead, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	return s.leadRepo.Update(ctx, id, update)
}

func (s *leadService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.leadRepo.Delete(ctx, id)
}

func (s *leadService) SetCallOutcome(ctx context.Context, id uuid.UUID, callStatus string, next *time.Time) (*models.Lead, error) {
	return s.Update(ctx, id, &models.LeadUpdate{
		CallStatus:         &callStatus,
		ScheduledCallAt:    next,
		ClearScheduledCall: next == nil,
	})
}

func validateLead(lead *models.Lead) error {
	if !models.IsValidLeadStatus(lead.Status) {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidStatus, lead.Status)
	}
	if !models.IsValidCallStatus(lead.CallStatus) {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidCallStatus, lead.CallStatus)
	}
	return nil
}

// Ensure leadService implements LeadService at compile time.
var _ LeadService = (*leadService)(nil)
