package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/crm-reconciler/pkg/apperrors"
	"github.com/ekaya-inc/crm-reconciler/pkg/config"
	"github.com/ekaya-inc/crm-reconciler/pkg/database"
	"github.com/ekaya-inc/crm-reconciler/pkg/metrics"
	"github.com/ekaya-inc/crm-reconciler/pkg/models"
	"github.com/ekaya-inc/crm-reconciler/pkg/repositories"
)

// RoleService defines the interface for role operations.
type RoleService interface {
	// OnIdentityCreated assigns the initial role of a new identity inside the
	// identity provider's unit of work q. It is safe to call more than once.
	OnIdentityCreated(ctx context.Context, q database.Querier, identity models.Identity) error

	// EnsureOwnRole inserts the caller's role record if the creation hook has
	// not produced one yet, and returns the stored record.
	EnsureOwnRole(ctx context.Context, identity models.Identity) (*models.RoleRecord, error)

	// Lookup returns the role of identityID, or the default role when the
	// store or the record is absent. An unexpected failure is returned
	// together with the default role.
	Lookup(ctx context.Context, identityID uuid.UUID) (string, error)

	// ResolveOwnRole answers the caller's own role like Lookup, but when no
	// record exists yet it self-inserts one and caches the stored role.
	ResolveOwnRole(ctx context.Context, identity models.Identity) (string, error)

	List(ctx context.Context) ([]*models.RoleRecord, error)
	SetRole(ctx context.Context, userID uuid.UUID, role string) error
	Remove(ctx context.Context, userID uuid.UUID) error
}

// roleService implements RoleService.
type roleService struct {
	roleRepo    repositories.RoleRepository
	cache       RoleCache
	adminEmails map[string]struct{}
	logger      *zap.Logger
}

// NewRoleService creates a new role service. adminEmails is the allow-list of
// addresses that receive the admin role on creation; cache may be nil.
func NewRoleService(roleRepo repositories.RoleRepository, cache RoleCache, adminEmails []string, logger *zap.Logger) RoleService {
	allow := make(map[string]struct{}, len(adminEmails))
	for _, e := range config.NormalizeEmails(adminEmails) {
		allow[e] = struct{}{}
	}
	if cache == nil {
		cache = noopRoleCache{}
	}
	return &roleService{
		roleRepo:    roleRepo,
		cache:       cache,
		adminEmails: allow,
		logger:      logger,
	}
}

// InitialRole returns the role a new identity with this e-mail receives.
func (s *roleService) InitialRole(email string) string {
	if _, ok := s.adminEmails[strings.ToLower(strings.TrimSpace(email))]; ok {
		return models.RoleAdmin
	}
	return models.RoleStandard
}

// OnIdentityCreated inserts the initial role record, absorbing duplicates.
func (s *roleService) OnIdentityCreated(ctx context.Context, q database.Querier, identity models.Identity) error {
	record := &models.RoleRecord{
		UserID: identity.ID,
		Email:  identity.Email,
		Role:   s.InitialRole(identity.Email),
	}

	inserted, err := s.roleRepo.InsertIfAbsent(ctx, q, record)
	if err != nil {
		return fmt.Errorf("failed to assign initial role: %w", err)
	}

	s.logger.Info("Handled identity creation",
		zap.String("identity_id", identity.ID.String()),
		zap.String("role", record.Role),
		zap.Bool("inserted", inserted))
	return nil
}

// EnsureOwnRole self-inserts the caller's record under its own identity scope.
func (s *roleService) EnsureOwnRole(ctx context.Context, identity models.Identity) (*models.RoleRecord, error) {
	scope, ok := database.GetIdentityScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no identity scope in context")
	}
	if scope.IdentityID != identity.ID {
		return nil, fmt.Errorf("identity scope %s does not match identity %s", scope.IdentityID, identity.ID)
	}

	record := &models.RoleRecord{
		UserID: identity.ID,
		Email:  identity.Email,
		Role:   s.InitialRole(identity.Email),
	}
	inserted, err := s.roleRepo.InsertIfAbsent(ctx, scope.Conn, record)
	if err != nil {
		return nil, err
	}
	if inserted {
		s.logger.Info("Self-inserted role record",
			zap.String("identity_id", identity.ID.String()),
			zap.String("role", record.Role))
		s.invalidate(ctx, identity.ID)
		return record, nil
	}

	return s.roleRepo.GetByUserID(ctx, identity.ID)
}

// Lookup resolves a role through the cache, then the store, then the default.
func (s *roleService) Lookup(ctx context.Context, identityID uuid.UUID) (string, error) {
	role, found, err := s.resolve(ctx, identityID)
	if !found {
		metrics.RoleLookups.WithLabelValues(metrics.SourceDefault).Inc()
	}
	return role, err
}

// ResolveOwnRole resolves the caller's role through the cache and the store,
// self-inserting the record only when the store has none.
func (s *roleService) ResolveOwnRole(ctx context.Context, identity models.Identity) (string, error) {
	role, found, err := s.resolve(ctx, identity.ID)
	if err != nil {
		metrics.RoleLookups.WithLabelValues(metrics.SourceDefault).Inc()
		return role, err
	}
	if found {
		return role, nil
	}

	record, err := s.EnsureOwnRole(ctx, identity)
	if err != nil {
		metrics.RoleLookups.WithLabelValues(metrics.SourceDefault).Inc()
		if database.IsUndefinedTable(err) {
			return models.DefaultRole, nil
		}
		return models.DefaultRole, err
	}
	metrics.RoleLookups.WithLabelValues(metrics.SourceDatabase).Inc()
	s.remember(ctx, identity.ID, record.Role)
	return record.Role, nil
}

// resolve reads identityID's role from the cache and then the store. found is
// false when neither holds a record, in which case role is the default.
func (s *roleService) resolve(ctx context.Context, identityID uuid.UUID) (role string, found bool, err error) {
	if role, ok, err := s.cache.Get(ctx, identityID); err != nil {
		s.logger.Warn("Role cache read failed",
			zap.String("identity_id", identityID.String()),
			zap.Error(err))
	} else if ok {
		metrics.RoleLookups.WithLabelValues(metrics.SourceCache).Inc()
		return role, true, nil
	}

	record, err := s.roleRepo.GetByUserID(ctx, identityID)
	switch {
	case err == nil:
		metrics.RoleLookups.WithLabelValues(metrics.SourceDatabase).Inc()
		s.remember(ctx, identityID, record.Role)
		return record.Role, true, nil
	case errors.Is(err, apperrors.ErrNotFound), database.IsUndefinedTable(err):
		return models.DefaultRole, false, nil
	default:
		s.logger.Error("Role lookup failed, using default role",
			zap.String("identity_id", identityID.String()),
			zap.Error(err))
		return models.DefaultRole, false, err
	}
}

// List returns every role record visible to the caller.
func (s *roleService) List(ctx context.Context) ([]*models.RoleRecord, error) {
	return s.roleRepo.List(ctx)
}

// SetRole changes the role of userID. Row security admits only admins.
func (s *roleService) SetRole(ctx context.Context, userID uuid.UUID, role string) error {
	if !models.IsValidRole(role) {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidRole, role)
	}

	if err := s.roleRepo.UpdateRole(ctx, userID, role); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// Remove deletes the role record of userID. Row security admits only admins.
func (s *roleService) Remove(ctx context.Context, userID uuid.UUID) error {
	if err := s.roleRepo.Remove(ctx, userID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *roleService) remember(ctx context.Context, identityID uuid.UUID, role string) {
	if err := s.cache.Set(ctx, identityID, role); err != nil {
		s.logger.Warn("Role cache write failed",
			zap.String("identity_id", identityID.String()),
			zap.Error(err))
	}
}

func (s *roleService) invalidate(ctx context.Context, identityID uuid.UUID) {
	if err := s.cache.Invalidate(ctx, identityID); err != nil {
		s.logger.Warn("Role cache invalidation failed",
			zap.String("identity_id", identityID.String()),
			zap.Error(err))
	}
}

// Ensure roleService implements RoleService at compile time.
var _ RoleService = (*roleService)(nil)
