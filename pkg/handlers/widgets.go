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

// WidgetListResponse for GET /widgets.
type WidgetListResponse struct {
	Widgets []*models.Widget `json:"widgets"`
	Total   int              `json:"total"`
}

// WidgetsHandler handles widget HTTP requests.
type WidgetsHandler struct {
	service services.WidgetService
	logger  *zap.Logger
}

// NewWidgetsHandler creates a new widgets handler.
func NewWidgetsHandler(service services.WidgetService, logger *zap.Logger) *WidgetsHandler {
	return &WidgetsHandler{service: service, logger: logger}
}

// RegisterRoutes registers the widget routes on the given mux.
func (h *WidgetsHandler) RegisterRoutes(mux *http.ServeMux, auth *middleware.AuthMiddleware, tenant middleware.TenantMiddleware) {
	base := "/api/orgs/{oid}/widgets"
	guard := func(fn http.HandlerFunc) http.HandlerFunc {
		return auth.RequireAuth("oid")(tenant(fn))
	}

	mux.HandleFunc("GET "+base, guard(h.List))
	mux.HandleFunc("POST "+base, guard(h.Create))
	mux.HandleFunc("GET "+base+"/{wid}", guard(h.Get))
	mux.HandleFunc("PUT "+base+"/{wid}", guard(h.Update))
	mux.HandleFunc("DELETE "+base+"/{wid}", guard(h.Delete))
	mux.HandleFunc("GET "+base+"/{wid}/data", guard(h.Data))
}

// List handles GET /api/orgs/{oid}/widgets
// Accepts an optional data_source_id query filter.
func (h *WidgetsHandler) List(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := ParseOrganizationID(w, r, h.logger)
	if !ok {
		return
	}

	var widgets []*models.Widget
	var err error
	if dsParam := r.URL.Query().Get("data_source_id"); dsParam != "" {
		dataSourceID, parseErr := uuid.Parse(dsParam)
		if parseErr != nil {
			h.badRequest(w, "invalid_data_source_id", parseErr)
			return
		}
		widgets, err = h.service.ListByDataSource(r.Context(), organizationID, dataSourceID)
	} else {
		widgets, err = h.service.List(r.Context(), organizationID)
	}
	if err != nil {
		h.serviceError(w, "list_widgets_failed", err)
		return
	}

	response := WidgetListResponse{Widgets: widgets, Total: len(widgets)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/orgs/{oid}/widgets
func (h *WidgetsHandler) Create(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := ParseOrganizationID(w, r, h.logger)
	if !ok {
		return
	}

	var widget models.Widget
	if err := json.NewDecoder(r.Body).Decode(&widget); err != nil {
		h.badRequest(w, "invalid_request_body", err)
		return
	}
	widget.OrganizationID = organizationID
	if userID := middleware.GetUserID(r.Context()); userID != "" {
		if id, err := uuid.Parse(userID); err == nil {
			widget.CreatedByID = id
		}
	}

	if err := h.service.Create(r.Context(), &widget); err != nil {
		h.serviceError(w, "create_widget_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: widget}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/orgs/{oid}/widgets/{wid}
func (h *WidgetsHandler) Get(w http.ResponseWriter, r *http.Request) {
	organizationID, widgetID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	widget, err := h.service.Get(r.Context(), organizationID, widgetID)
	if err != nil {
		h.serviceError(w, "get_widget_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: widget}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /api/orgs/{oid}/widgets/{wid}
func (h *WidgetsHandler) Update(w http.ResponseWriter, r *http.Request) {
	organizationID, widgetID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	existing, err := h.service.Get(r.Context(), organizationID, widgetID)
	if err != nil {
		h.serviceError(w, "get_widget_failed", err)
		return
	}

	var widget models.Widget
	if err := json.NewDecoder(r.Body).Decode(&widget); err != nil {
		h.badRequest(w, "invalid_request_body", err)
		return
	}
	widget.ID = widgetID
	widget.OrganizationID = organizationID
	// The data source binding is immutable after creation.
	widget.DataSourceID = existing.DataSourceID

	if err := h.service.Update(r.Context(), &widget); err != nil {
		h.serviceError(w, "update_widget_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: widget}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/orgs/{oid}/widgets/{wid}
func (h *WidgetsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	organizationID, widgetID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), organizationID, widgetID); err != nil {
		h.serviceError(w, "delete_widget_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "widget deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Data handles GET /api/orgs/{oid}/widgets/{wid}/data
func (h *WidgetsHandler) Data(w http.ResponseWriter, r *http.Request) {
	organizationID, widgetID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	data, err := h.service.Data(r.Context(), organizationID, widgetID)
	if err != nil {
		h.serviceError(w, "widget_data_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *WidgetsHandler) parseIDs(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	organizationID, ok := ParseOrganizationID(w, r, h.logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	widgetID, ok := ParseWidgetID(w, r, h.logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return organizationID, widgetID, true
}

func (h *WidgetsHandler) badRequest(w http.ResponseWriter, code string, err error) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, err.Error()); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *WidgetsHandler) serviceError(w http.ResponseWriter, code string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrConflict), errors.Is(err, apperrors.ErrRefreshInProgress):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("widget request failed", zap.String("code", code), zap.Error(err))
	}
	if err := ErrorResponse(w, status, code, err.Error()); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
