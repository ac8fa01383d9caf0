package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
	"github.com/matwana-io/matwana-engine/pkg/middleware"
	"github.com/matwana-io/matwana-engine/pkg/models"
	"github.com/matwana-io/matwana-engine/pkg/services"
)

// DashboardListResponse for GET /dashboards.
type DashboardListResponse struct {
	Dashboards []*models.Dashboard `json:"dashboards"`
	Total      int                 `json:"total"`
}

// DashboardsHandler handles dashboard HTTP requests.
type DashboardsHandler struct {
	service services.DashboardService
	logger  *zap.Logger
}

// NewDashboardsHandler creates a new dashboards handler.
func NewDashboardsHandler(service services.DashboardService, logger *zap.Logger) *DashboardsHandler {
	return &DashboardsHandler{service: service, logger: logger}
}

// RegisterRoutes registers the dashboard routes on the given mux.
func (h *DashboardsHandler) RegisterRoutes(mux *http.ServeMux, auth *middleware.AuthMiddleware, tenant middleware.TenantMiddleware) {
	base := "/api/orgs/{oid}/dashboards"
	guard := func(fn http.HandlerFunc) http.HandlerFunc {
		return auth.RequireAuth("oid")(tenant(fn))
	}

	mux.HandleFunc("GET "+base, guard(h.List))
	mux.HandleFunc("POST "+base, guard(h.Create))
	mux.HandleFunc("GET "+base+"/{did}", guard(h.Get))
	mux.HandleFunc("PUT "+base+"/{did}", guard(h.Update))
	mux.HandleFunc("DELETE "+base+"/{did}", guard(h.Delete))
	mux.HandleFunc("GET "+base+"/{did}/data", guard(h.Data))
	mux.HandleFunc("POST "+base+"/{did}/widgets", guard(h.AddWidget))
	mux.HandleFunc("PUT "+base+"/{did}/widgets/{plid}", guard(h.UpdatePlacement))
	mux.HandleFunc("DELETE "+base+"/{did}/widgets/{plid}", guard(h.RemoveWidget))
}

// List handles GET /api/orgs/{oid}/dashboards
func (h *DashboardsHandler) List(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := ParseOrganizationID(w, r, h.logger)
	if !ok {
		return
	}

	dashboards, err := h.service.List(r.Context(), organizationID)
	if err != nil {
		h.serviceError(w, "list_dashboards_failed", err)
		return
	}

	response := DashboardListResponse{Dashboards: dashboards, Total: len(dashboards)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/orgs/{oid}/dashboards
func (h *DashboardsHandler) Create(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := ParseOrganizationID(w, r, h.logger)
	if !ok {
		return
	}

	var dashboard models.Dashboard
	if err := json.NewDecoder(r.Body).Decode(&dashboard); err != nil {
		h.badRequest(w, "invalid_request_body", err)
		return
	}
	dashboard.OrganizationID = organizationID
	if userID := middleware.GetUserID(r.Context()); userID != "" {
		if id, err := uuid.Parse(userID); err == nil {
			dashboard.CreatedByID = id
		}
	}

	if err := h.service.Create(r.Context(), &dashboard); err != nil {
		h.serviceError(w, "create_dashboard_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: dashboard}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/orgs/{oid}/dashboards/{did}
func (h *DashboardsHandler) Get(w http.ResponseWriter, r *http.Request) {
	organizationID, dashboardID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	view, err := h.service.Get(r.Context(), organizationID, dashboardID)
	if err != nil {
		h.serviceError(w, "get_dashboard_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: view}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /api/orgs/{oid}/dashboards/{did}
func (h *DashboardsHandler) Update(w http.ResponseWriter, r *http.Request) {
	organizationID, dashboardID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	var dashboard models.Dashboard
	if err := json.NewDecoder(r.Body).Decode(&dashboard); err != nil {
		h.badRequest(w, "invalid_request_body", err)
		return
	}
	dashboard.ID = dashboardID
	dashboard.OrganizationID = organizationID

	if err := h.service.Update(r.Context(), &dashboard); err != nil {
		h.serviceError(w, "update_dashboard_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: dashboard}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/orgs/{oid}/dashboards/{did}
func (h *DashboardsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	organizationID, dashboardID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), organizationID, dashboardID); err != nil {
		h.serviceError(w, "delete_dashboard_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "dashboard deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Data handles GET /api/orgs/{oid}/dashboards/{did}/data
// Renders every widget on the dashboard.
func (h *DashboardsHandler) Data(w http.ResponseWriter, r *http.Request) {
	organizationID, dashboardID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	data, err := h.service.Data(r.Context(), organizationID, dashboardID)
	if err != nil {
		h.serviceError(w, "dashboard_data_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// AddWidget handles POST /api/orgs/{oid}/dashboards/{did}/widgets
func (h *DashboardsHandler) AddWidget(w http.ResponseWriter, r *http.Request) {
	organizationID, dashboardID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	var placement models.DashboardWidget
	if err := json.NewDecoder(r.Body).Decode(&placement); err != nil {
		h.badRequest(w, "invalid_request_body", err)
		return
	}
	placement.DashboardID = dashboardID

	if err := h.service.AddWidget(r.Context(), organizationID, &placement); err != nil {
		h.serviceError(w, "add_widget_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: placement}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// UpdatePlacement handles PUT /api/orgs/{oid}/dashboards/{did}/widgets/{plid}
func (h *DashboardsHandler) UpdatePlacement(w http.ResponseWriter, r *http.Request) {
	organizationID, dashboardID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}
	placementID, ok := ParsePlacementID(w, r, h.logger)
	if !ok {
		return
	}

	var placement models.DashboardWidget
	if err := json.NewDecoder(r.Body).Decode(&placement); err != nil {
		h.badRequest(w, "invalid_request_body", err)
		return
	}
	placement.ID = placementID
	placement.DashboardID = dashboardID

	if err := h.service.UpdatePlacement(r.Context(), organizationID, &placement); err != nil {
		h.serviceError(w, "update_placement_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: placement}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// RemoveWidget handles DELETE /api/orgs/{oid}/dashboards/{did}/widgets/{plid}
func (h *DashboardsHandler) RemoveWidget(w http.ResponseWriter, r *http.Request) {
	organizationID, dashboardID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}
	placementID, ok := ParsePlacementID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.service.RemoveWidget(r.Context(), organizationID, dashboardID, placementID); err != nil {
		h.serviceError(w, "remove_widget_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "widget removed"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *DashboardsHandler) parseIDs(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	organizationID, ok := ParseOrganizationID(w, r, h.logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	dashboardID, ok := ParseDashboardID(w, r, h.logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return organizationID, dashboardID, true
}

func (h *DashboardsHandler) badRequest(w http.ResponseWriter, code string, err error) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, err.Error()); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *DashboardsHandler) serviceError(w http.ResponseWriter, code string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("dashboard request failed", zap.String("code", code), zap.Error(err))
	}
	if err := ErrorResponse(w, status, code, err.Error()); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
