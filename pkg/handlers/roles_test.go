package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/crm-reconciler/pkg/apperrors"
	"github.com/ekaya-inc/crm-reconciler/pkg/audit"
	"github.com/ekaya-inc/crm-reconciler/pkg/auth"
	"github.com/ekaya-inc/crm-reconciler/pkg/models"
	"github.com/ekaya-inc/crm-reconciler/pkg/testhelpers"
)

func newRolesMux(service *mockRoleService) *http.ServeMux {
	mux := http.NewServeMux()
	NewRolesHandler(service, audit.NewSecurityAuditor(zap.NewNop()), zap.NewNop()).RegisterRoutes(mux, newTestAuthMiddleware(), passthroughIdentity)
	return mux
}

func TestRolesHandler_Me(t *testing.T) {
	id := uuid.New()
	service := &mockRoleService{lookup: models.RoleAdmin}

	req := httptest.NewRequest(http.MethodGet, "/api/me/role", nil)
	req = req.WithContext(withClaims(req.Context(), id, "boss@example.com"))
	rec := httptest.NewRecorder()

	NewRolesHandler(service, audit.NewSecurityAuditor(zap.NewNop()), zap.NewNop()).Me(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var response MyRoleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, id, response.UserID)
	assert.Equal(t, "boss@example.com", response.Email)
	assert.Equal(t, models.RoleAdmin, response.Role)
	assert.True(t, response.IsAdmin)
	assert.Equal(t, 1, service.resolves)
}

func TestRolesHandler_Me_DefaultRoleOnFailure(t *testing.T) {
	id := uuid.New()
	service := &mockRoleService{
		lookup:    models.DefaultRole,
		lookupErr: errors.New("connection reset"),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me/role", nil)
	req = req.WithContext(withClaims(req.Context(), id, "rep@example.com"))
	rec := httptest.NewRecorder()

	NewRolesHandler(service, audit.NewSecurityAuditor(zap.NewNop()), zap.NewNop()).Me(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var response MyRoleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, models.RoleStandard, response.Role)
	assert.False(t, response.IsAdmin)
}

func TestRolesHandler_Me_UnsignedTokenInDevMode(t *testing.T) {
	jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{EnableVerification: false})
	require.NoError(t, err)
	defer jwksClient.Close()

	service := &mockRoleService{lookup: models.RoleStandard}
	mux := http.NewServeMux()
	authMiddleware := auth.NewMiddleware(auth.NewAuthService(jwksClient, zap.NewNop()), zap.NewNop())
	NewRolesHandler(service, audit.NewSecurityAuditor(zap.NewNop()), zap.NewNop()).RegisterRoutes(mux, authMiddleware, passthroughIdentity)

	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/me/role", nil)
	req.Header.Set("Authorization", testhelpers.GenerateTestJWTWithBearer(id.String(), "rep@example.com"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var response MyRoleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, id, response.UserID)
	assert.Equal(t, "rep@example.com", response.Email)
	assert.Equal(t, models.RoleStandard, response.Role)
}

func TestRolesHandler_RequiresAuthentication(t *testing.T) {
	mux := newRolesMux(&mockRoleService{})

	req := httptest.NewRequest(http.MethodGet, "/api/roles", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRolesHandler_ListEmpty(t *testing.T) {
	mux := newRolesMux(&mockRoleService{})

	req := httptest.NewRequest(http.MethodGet, "/api/roles", nil)
	req.Header.Set("X-Test-Subject", uuid.NewString())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestRolesHandler_Update(t *testing.T) {
	service := &mockRoleService{}
	mux := newRolesMux(service)
	target := uuid.New()

	req := httptest.NewRequest(http.MethodPut, "/api/roles/"+target.String(), strings.NewReader(`{"role":"admin"}`))
	req.Header.Set("X-Test-Subject", uuid.NewString())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, target, service.setUserID)
	assert.Equal(t, models.RoleAdmin, service.setRole)
}

func TestRolesHandler_UpdateErrors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		setErr   error
		wantCode int
	}{
		{"bad user id", "/api/roles/not-a-uuid", `{"role":"admin"}`, nil, http.StatusBadRequest},
		{"bad body", "/api/roles/" + uuid.NewString(), `{`, nil, http.StatusBadRequest},
		{"invalid role", "/api/roles/" + uuid.NewString(), `{"role":"owner"}`, apperrors.ErrInvalidRole, http.StatusBadRequest},
		{"not visible to caller", "/api/roles/" + uuid.NewString(), `{"role":"admin"}`, apperrors.ErrNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newRolesMux(&mockRoleService{setErr: tt.setErr})

			req := httptest.NewRequest(http.MethodPut, tt.path, strings.NewReader(tt.body))
			req.Header.Set("X-Test-Subject", uuid.NewString())
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestRolesHandler_Remove(t *testing.T) {
	service := &mockRoleService{}
	mux := newRolesMux(service)
	target := uuid.New()

	req := httptest.NewRequest(http.MethodDelete, "/api/roles/"+target.String(), nil)
	req.Header.Set("X-Test-Subject", uuid.NewString())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, target, service.removed)
}

func TestRolesHandler_AuditsRoleChanges(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	mux := http.NewServeMux()
	service := &mockRoleService{}
	NewRolesHandler(service, audit.NewSecurityAuditor(zap.New(core)), zap.NewNop()).
		RegisterRoutes(mux, newTestAuthMiddleware(), passthroughIdentity)

	put := func() int {
		req := httptest.NewRequest(http.MethodPut, "/api/roles/"+uuid.NewString(), strings.NewReader(`{"role":"admin"}`))
		req.Header.Set("X-Test-Subject", uuid.NewString())
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusNoContent, put())
	require.Equal(t, 1, logs.FilterMessage("Role changed").Len())

	service.setErr = apperrors.ErrNotFound
	require.Equal(t, http.StatusNotFound, put())
	assert.Equal(t, 1, logs.FilterMessage("Role change rejected").Len())
}
