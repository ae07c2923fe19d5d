package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/crm-reconciler/pkg/auth"
	"github.com/ekaya-inc/crm-reconciler/pkg/database"
	"github.com/ekaya-inc/crm-reconciler/pkg/models"
	"github.com/ekaya-inc/crm-reconciler/pkg/repositories"
	"github.com/ekaya-inc/crm-reconciler/pkg/services"
)

// mockAuthService authenticates every request carrying X-Test-Subject.
type mockAuthService struct{}

func (mockAuthService) ValidateRequest(r *http.Request) (*auth.Claims, string, error) {
	subject := r.Header.Get("X-Test-Subject")
	if subject == "" {
		return nil, "", errors.New("no subject")
	}
	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
		Email:            r.Header.Get("X-Test-Email"),
	}
	return claims, "test-token", nil
}

func newTestAuthMiddleware() *auth.Middleware {
	return auth.NewMiddleware(mockAuthService{}, zap.NewNop())
}

// passthroughIdentity stands in for the identity-scoped connection middleware.
func passthroughIdentity(next http.HandlerFunc) http.HandlerFunc {
	return next
}

// withClaims returns ctx carrying claims for subject.
func withClaims(ctx context.Context, subject uuid.UUID, email string) context.Context {
	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject.String()},
		Email:            email,
	}
	return auth.WithClaims(ctx, claims, "test-token")
}

// mockRoleService is a configurable services.RoleService.
type mockRoleService struct {
	record    *models.RoleRecord
	records   []*models.RoleRecord
	ensureErr error
	lookup    string
	lookupErr error
	resolves  int
	setErr    error
	removeErr error

	setUserID uuid.UUID
	setRole   string
	removed   uuid.UUID
}

func (m *mockRoleService) OnIdentityCreated(ctx context.Context, q database.Querier, identity models.Identity) error {
	return nil
}

func (m *mockRoleService) EnsureOwnRole(ctx context.Context, identity models.Identity) (*models.RoleRecord, error) {
	if m.ensureErr != nil {
		return nil, m.ensureErr
	}
	return m.record, nil
}

func (m *mockRoleService) Lookup(ctx context.Context, identityID uuid.UUID) (string, error) {
	return m.lookup, m.lookupErr
}

func (m *mockRoleService) ResolveOwnRole(ctx context.Context, identity models.Identity) (string, error) {
	m.resolves++
	return m.lookup, m.lookupErr
}

func (m *mockRoleService) List(ctx context.Context) ([]*models.RoleRecord, error) {
	return m.records, nil
}

func (m *mockRoleService) SetRole(ctx context.Context, userID uuid.UUID, role string) error {
	m.setUserID = userID
	m.setRole = role
	return m.setErr
}

func (m *mockRoleService) Remove(ctx context.Context, userID uuid.UUID) error {
	m.removed = userID
	return m.removeErr
}

var _ services.RoleService = (*mockRoleService)(nil)

// mockLeadService is a configurable services.LeadService.
type mockLeadService struct {
	lead   *models.Lead
	leads  []*models.Lead
	err    error
	filter repositories.LeadFilter
	update *models.LeadUpdate
}

func (m *mockLeadService) Create(ctx context.Context, lead *models.Lead) (*models.Lead, error) {
	if m.err != nil {
		return nil, m.err
	}
	lead.ID = uuid.New()
	lead.ApplyDefaults()
	return lead, nil
}

func (m *mockLeadService) Get(ctx context.Context, id uuid.UUID) (*models.Lead, error) {
	return m.lead, m.err
}

func (m *mockLeadService) List(ctx context.Context, filter repositories.LeadFilter) ([]*models.Lead, error) {
	m.filter = filter
	return m.leads, m.err
}

func (m *mockLeadService) Update(ctx context.Context, id uuid.UUID, update *models.LeadUpdate) (*models.Lead, error) {
	m.update = update
	return m.lead, m.err
}

func (m *mockLeadService) Delete(ctx context.Context, id uuid.UUID) error {
	return m.err
}

func (m *mockLeadService) SetCallOutcome(ctx context.Context, id uuid.UUID, callStatus string, next *time.Time) (*models.Lead, error) {
	m.callStatus = callStatus
	m.nextCall = next
	return m.lead, m.err
}

var _ services.LeadService = (*mockLeadService)(nil)
