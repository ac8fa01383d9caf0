package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
	"github.com/matwana-io/matwana-engine/pkg/middleware"
	"github.com/matwana-io/matwana-engine/pkg/models"
	"github.com/matwana-io/matwana-engine/pkg/repositories"
)

// OrganizationsHandler is the thin provisioning surface for the tenancy
// root. Everything else in the API hangs off an organization, so this
// talks to the repository directly.
type OrganizationsHandler struct {
	repo   repositories.OrganizationRepository
	logger *zap.Logger
}

// NewOrganizationsHandler creates a new organizations handler.
func NewOrganizationsHandler(repo repositories.OrganizationRepository, logger *zap.Logger) *OrganizationsHandler {
	return &OrganizationsHandler{repo: repo, logger: logger}
}

// RegisterRoutes registers the organization routes on the given mux.
func (h *OrganizationsHandler) RegisterRoutes(mux *http.ServeMux, auth *middleware.AuthMiddleware, tenant middleware.TenantMiddleware) {
	// Create has no org in the path, so the URL match is skipped; the
	// token itself still has to be valid.
	mux.HandleFunc("POST /api/orgs", auth.RequireAuth("")(tenant(h.Create)))
	mux.HandleFunc("GET /api/orgs/{oid}", auth.RequireAuth("oid")(tenant(h.Get)))
}

// Create handles POST /api/orgs
func (h *OrganizationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var org models.Organization
	if err := json.NewDecoder(r.Body).Decode(&org); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request_body", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if strings.TrimSpace(org.Name) == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_organization", "name is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if org.Slug == "" {
		org.Slug = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(org.Name), " ", "-"))
	}
	org.IsActive = true

	if err := h.repo.Create(r.Context(), &org); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, apperrors.ErrConflict) {
			status = http.StatusConflict
		} else {
			h.logger.Error("organization create failed", zap.Error(err))
		}
		if err := ErrorResponse(w, status, "create_organization_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	h.logger.Info("organization created",
		zap.String("organization_id", org.ID.String()),
		zap.String("slug", org.Slug))
	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: org}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/orgs/{oid}
func (h *OrganizationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := ParseOrganizationID(w, r, h.logger)
	if !ok {
		return
	}

	org, err := h.repo.GetByID(r.Context(), organizationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, apperrors.ErrNotFound) {
			status = http.StatusNotFound
		} else {
			h.logger.Error("organization get failed", zap.Error(err))
		}
		if err := ErrorResponse(w, status, "get_organization_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: org}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
