package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/crm-reconciler/pkg/auth"
	"github.com/ekaya-inc/crm-reconciler/pkg/models"
	"github.com/ekaya-inc/crm-reconciler/pkg/repositories"
	"github.com/ekaya-inc/crm-reconciler/pkg/services"
)

// LeadsHandler handles lead HTTP requests. Every route runs on the
// caller's identity-scoped connection, so each caller reaches only its own leads.
type LeadsHandler struct {
	leadService services.LeadService
	logger      *zap.Logger
}

// NewLeadsHandler creates a new leads handler.
func NewLeadsHandler(leadService services.LeadService, logger *zap.Logger) *LeadsHandler {
	return &LeadsHandler{
		leadService: leadService,
		logger:      logger,
	}
}

// RegisterRoutes registers the leads handler's routes on the given mux.
func (h *LeadsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, identityMiddleware IdentityMiddleware) {
	mux.HandleFunc("GET /api/leads", authMiddleware.RequireAuth(identityMiddleware(h.List)))
	mux.HandleFunc("POST /api/leads", authMiddleware.RequireAuth(identityMiddleware(h.Create)))
	mux.HandleFunc("GET /api/leads/{id}", authMiddleware.RequireAuth(identityMiddleware(h.Get)))
	mux.HandleFunc("PATCH /api/leads/{id}", authMiddleware.RequireAuth(identityMiddleware(h.Update)))
	mux.HandleFunc("DELETE /api/leads/{id}", authMiddleware.RequireAuth(identityMiddleware(h.Delete)))
	mux.HandleFunc("PUT /api/leads/{id}/call", authMiddleware.RequireAuth(identityMiddleware(h.SetCallOutcome)))
}

// CallOutcomeRequest records a call. Omitting next_call_at, or sending null,
// clears any scheduled follow-up.
type CallOutcomeRequest struct {
	CallStatus string     `json:"call_status"`
	NextCallAt *time.Time `json:"next_call_at,omitempty"`
}

// List handles GET /api/leads?status=&call_status=&industry=
func (h *LeadsHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := repositories.LeadFilter{
		Status:     query.Get("status"),
		CallStatus: query.Get("call_status"),
		Industry:   query.Get("industry"),
	}

	leads, err := h.leadService.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if leads == nil {
		leads = []*models.Lead{}
	}

	if err := WriteJSON(w, http.StatusOK, leads); err != nil {
		h.logger.Error("Failed to encode leads response", zap.Error(err))
	}
}

// Create handles POST /api/leads.
func (h *LeadsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var lead models.Lead
	if err := json.NewDecoder(r.Body).Decode(&lead); err != nil {
		h.badRequest(w, "invalid_request", "Invalid request body")
		return
	}
	if lead.Name == "" {
		h.badRequest(w, "invalid_request", "name is required")
		return
	}

	created, err := h.leadService.Create(r.Context(), &lead)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, created); err != nil {
		h.logger.Error("Failed to encode lead response", zap.Error(err))
	}
}

// Get handles GET /api/leads/{id}.
func (h *LeadsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseLeadID(w, r)
	if !ok {
		return
	}

	lead, err := h.leadService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, lead); err != nil {
		h.logger.Error("Failed to encode lead response", zap.Error(err))
	}
}

// Update handles PATCH /api/leads/{id}.
func (h *LeadsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseLeadID(w, r)
	if !ok {
		return
	}

	var update models.LeadUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.badRequest(w, "invalid_request", "Invalid request body")
		return
	}

	lead, err := h.leadService.Update(r.Context(), id, &update)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, lead); err != nil {
		h.logger.Error("Failed to encode lead response", zap.Error(err))
	}
}

// SetCallOutcome handles PUT /api/leads/{id}/call.
func (h *LeadsHandler) SetCallOutcome(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseLeadID(w, r)
	if !ok {
		return
	}

	var req CallOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid_request", "Invalid request body")
		return
	}
	if req.CallStatus == "" {
		h.badRequest(w, "invalid_request", "call_status is required")
		return
	}

	lead, err := h.leadService.SetCallOutcome(r.Context(), id, req.CallStatus, req.NextCallAt)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, lead); err != nil {
		h.logger.Error("Failed to encode lead response", zap.Error(err))
	}
}

// Delete handles DELETE /api/leads/{id}.
func (h *LeadsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseLeadID(w, r)
	if !ok {
		return
	}

	if err := h.leadService.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *LeadsHandler) parseLeadID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.badRequest(w, "invalid_lead_id", "Invalid lead ID format")
		return uuid.Nil, false
	}
	return id, true
}

func (h *LeadsHandler) badRequest(w http.ResponseWriter, code, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
