package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/crm-reconciler/pkg/apperrors"
	"github.com/ekaya-inc/crm-reconciler/pkg/audit"
	"github.com/ekaya-inc/crm-reconciler/pkg/auth"
	"github.com/ekaya-inc/crm-reconciler/pkg/database"
	"github.com/ekaya-inc/crm-reconciler/pkg/models"
	"github.com/ekaya-inc/crm-reconciler/pkg/services"
)

// IdentityMiddleware wraps a handler with an identity-scoped database connection.
type IdentityMiddleware func(http.HandlerFunc) http.HandlerFunc

// MyRoleResponse is returned by GET /api/me/role.
type MyRoleResponse struct {
	UserID  uuid.UUID `json:"user_id"`
	Email   string    `json:"email"`
	Role    string    `json:"role"`
	IsAdmin bool      `json:"is_admin"`
}

// SetRoleRequest is the request body for changing a role.
type SetRoleRequest struct {
	Role string `json:"role"`
}

// RolesHandler handles role-related HTTP requests.
type RolesHandler struct {
	roleService services.RoleService
	auditor     *audit.SecurityAuditor
	logger      *zap.Logger
}

// NewRolesHandler creates a new roles handler. Role changes are recorded by auditor.
func NewRolesHandler(roleService services.RoleService, auditor *audit.SecurityAuditor, logger *zap.Logger) *RolesHandler {
	return &RolesHandler{
		roleService: roleService,
		auditor:     auditor,
		logger:      logger,
	}
}

// RegisterRoutes registers the roles handler's routes on the given mux.
func (h *RolesHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, identityMiddleware IdentityMiddleware) {
	mux.HandleFunc("GET /api/me/role", authMiddleware.RequireAuth(identityMiddleware(h.Me)))
	mux.HandleFunc("GET /api/roles", authMiddleware.RequireAuth(identityMiddleware(h.List)))
	mux.HandleFunc("PUT /api/roles/{user_id}", authMiddleware.RequireAuth(identityMiddleware(h.Update)))
	mux.HandleFunc("DELETE /api/roles/{user_id}", authMiddleware.RequireAuth(identityMiddleware(h.Remove)))
}

// Me handles GET /api/me/role.
// Serves the caller's role from the cache when present and creates the
// record if the creation hook has not run yet.
func (h *RolesHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.RequireIdentityFromContext(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	role, err := h.roleService.ResolveOwnRole(r.Context(), identity)
	if err != nil {
		// The default role still answers while the store is unavailable.
		h.logger.Warn("Failed to resolve own role",
			zap.String("identity_id", identity.ID.String()),
			zap.Error(err))
	}

	response := MyRoleResponse{
		UserID:  identity.ID,
		Email:   identity.Email,
		Role:    role,
		IsAdmin: role == models.RoleAdmin,
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode role response", zap.Error(err))
	}
}

// List handles GET /api/roles.
// Admins see every record; other callers see only their own.
func (h *RolesHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.roleService.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if records == nil {
		records = []*models.RoleRecord{}
	}

	if err := WriteJSON(w, http.StatusOK, records); err != nil {
		h.logger.Error("Failed to encode roles response", zap.Error(err))
	}
}

// Update handles PUT /api/roles/{user_id}.
func (h *RolesHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseUserID(w, r)
	if !ok {
		return
	}

	var req SetRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.roleService.SetRole(r.Context(), userID, req.Role); err != nil {
		if isRejected(err) {
			h.auditor.LogRoleChangeRejected(r.Context(), userID, "update", r.RemoteAddr)
		}
		writeServiceError(w, h.logger, err)
		return
	}

	h.auditor.LogRoleChange(r.Context(), userID, req.Role, r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}

// Remove handles DELETE /api/roles/{user_id}.
func (h *RolesHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseUserID(w, r)
	if !ok {
		return
	}

	if err := h.roleService.Remove(r.Context(), userID); err != nil {
		if isRejected(err) {
			h.auditor.LogRoleChangeRejected(r.Context(), userID, "remove", r.RemoteAddr)
		}
		writeServiceError(w, h.logger, err)
		return
	}

	h.auditor.LogRoleRemoval(r.Context(), userID, r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}

func (h *RolesHandler) parseUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(r.PathValue("user_id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_user_id", "Invalid user ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return userID, true
}

// isRejected reports whether row security refused the change. Policies hide
// rows a non-admin may not touch, so a refusal usually surfaces as not found.
func isRejected(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound) || database.IsInsufficientPrivilege(err)
}
