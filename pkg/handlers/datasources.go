package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
	"github.com/matwana-io/matwana-engine/pkg/middleware"
	"github.com/matwana-io/matwana-engine/pkg/models"
	"github.com/matwana-io/matwana-engine/pkg/services"
)

// DataSourceRequest is the create/update payload. The embedded model's
// encrypted fields are json-ignored, so plaintext secrets can only arrive
// through the credentials block.
type DataSourceRequest struct {
	models.DataSource
	Credentials *services.Credentials `json:"credentials,omitempty"`
}

// DataSourceListResponse for GET /datasources.
type DataSourceListResponse struct {
	DataSources []*models.DataSource `json:"data_sources"`
	Total       int                  `json:"total"`
}

// DataSourcesHandler handles data source HTTP requests.
type DataSourcesHandler struct {
	service services.DataSourceService
	logger  *zap.Logger
}

// NewDataSourcesHandler creates a new data sources handler.
func NewDataSourcesHandler(service services.DataSourceService, logger *zap.Logger) *DataSourcesHandler {
	return &DataSourcesHandler{service: service, logger: logger}
}

// RegisterRoutes registers the data source routes on the given mux.
func (h *DataSourcesHandler) RegisterRoutes(mux *http.ServeMux, auth *middleware.AuthMiddleware, tenant middleware.TenantMiddleware) {
	base := "/api/orgs/{oid}/datasources"
	guard := func(fn http.HandlerFunc) http.HandlerFunc {
		return auth.RequireAuth("oid")(tenant(fn))
	}

	mux.HandleFunc("GET "+base, guard(h.List))
	mux.HandleFunc("POST "+base, guard(h.Create))
	mux.HandleFunc("POST "+base+"/test", guard(h.TestConnection))
	mux.HandleFunc("GET "+base+"/{dsid}", guard(h.Get))
	mux.HandleFunc("PUT "+base+"/{dsid}", guard(h.Update))
	mux.HandleFunc("DELETE "+base+"/{dsid}", guard(h.Delete))
	mux.HandleFunc("GET "+base+"/{dsid}/data", guard(h.Data))
	mux.HandleFunc("POST "+base+"/{dsid}/refresh", guard(h.Refresh))
	mux.HandleFunc("POST "+base+"/{dsid}/schema", guard(h.InferSchema))
	mux.HandleFunc("GET "+base+"/{dsid}/health", guard(h.Health))
	mux.HandleFunc("GET "+base+"/{dsid}/logs", guard(h.RefreshLogs))
}

// List handles GET /api/orgs/{oid}/datasources
func (h *DataSourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := ParseOrganizationID(w, r, h.logger)
	if !ok {
		return
	}

	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	sources, err := h.service.List(r.Context(), organizationID, includeInactive)
	if err != nil {
		h.serviceError(w, "list_data_sources_failed", err)
		return
	}

	response := DataSourceListResponse{DataSources: sources, Total: len(sources)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/orgs/{oid}/datasources
func (h *DataSourcesHandler) Create(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := ParseOrganizationID(w, r, h.logger)
	if !ok {
		return
	}

	var req DataSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid_request_body", err)
		return
	}

	ds := req.DataSource
	ds.OrganizationID = organizationID
	if userID := middleware.GetUserID(r.Context()); userID != "" {
		if id, err := parseUserID(userID); err == nil {
			ds.CreatedByID = id
		}
	}

	if err := h.service.Create(r.Context(), &ds, req.Credentials); err != nil {
		h.serviceError(w, "create_data_source_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: ds}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/orgs/{oid}/datasources/{dsid}
func (h *DataSourcesHandler) Get(w http.ResponseWriter, r *http.Request) {
	organizationID, dataSourceID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	ds, err := h.service.Get(r.Context(), organizationID, dataSourceID)
	if err != nil {
		h.serviceError(w, "get_data_source_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: ds}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /api/orgs/{oid}/datasources/{dsid}
func (h *DataSourcesHandler) Update(w http.ResponseWriter, r *http.Request) {
	organizationID, dataSourceID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	existing, err := h.service.Get(r.Context(), organizationID, dataSourceID)
	if err != nil {
		h.serviceError(w, "get_data_source_failed", err)
		return
	}

	var req DataSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid_request_body", err)
		return
	}

	ds := req.DataSource
	ds.ID = dataSourceID
	ds.OrganizationID = organizationID
	// Stored ciphertext survives unless new credentials replace it.
	ds.AuthUsername = existing.AuthUsername
	ds.AuthPasswordEncrypted = existing.AuthPasswordEncrypted
	ds.AuthTokenEncrypted = existing.AuthTokenEncrypted
	ds.AuthAPIKeyEncrypted = existing.AuthAPIKeyEncrypted
	ds.DBPasswordEncrypted = existing.DBPasswordEncrypted

	if err := h.service.Update(r.Context(), &ds, req.Credentials); err != nil {
		h.serviceError(w, "update_data_source_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: ds}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/orgs/{oid}/datasources/{dsid}
func (h *DataSourcesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	organizationID, dataSourceID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), organizationID, dataSourceID); err != nil {
		h.serviceError(w, "delete_data_source_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "data source deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Data handles GET /api/orgs/{oid}/datasources/{dsid}/data
// Serves cached data when valid, fetching otherwise.
func (h *DataSourcesHandler) Data(w http.ResponseWriter, r *http.Request) {
	organizationID, dataSourceID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	result, err := h.service.Refresh(r.Context(), organizationID, dataSourceID, services.FetchOptions{
		Trigger:     models.TriggerAPI,
		TriggeredBy: middleware.GetUserID(r.Context()),
	})
	if err != nil {
		h.serviceError(w, "fetch_data_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: result.Success, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Refresh handles POST /api/orgs/{oid}/datasources/{dsid}/refresh
// Forces a fetch regardless of cache validity.
func (h *DataSourcesHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	organizationID, dataSourceID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	result, err := h.service.Refresh(r.Context(), organizationID, dataSourceID, services.FetchOptions{
		ForceRefresh: true,
		Trigger:      models.TriggerManual,
		TriggeredBy:  middleware.GetUserID(r.Context()),
	})
	if err != nil {
		h.serviceError(w, "refresh_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: result.Success, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// TestConnection handles POST /api/orgs/{oid}/datasources/test
// Probes an unsaved configuration without persisting anything.
func (h *DataSourcesHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := ParseOrganizationID(w, r, h.logger)
	if !ok {
		return
	}

	var req DataSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid_request_body", err)
		return
	}

	ds := req.DataSource
	ds.OrganizationID = organizationID

	result, err := h.service.TestConnection(r.Context(), &ds, req.Credentials)
	if err != nil {
		h.serviceError(w, "test_connection_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: result.Success, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// InferSchema handles POST /api/orgs/{oid}/datasources/{dsid}/schema
func (h *DataSourcesHandler) InferSchema(w http.ResponseWriter, r *http.Request) {
	organizationID, dataSourceID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	inferred, err := h.service.InferSchema(r.Context(), organizationID, dataSourceID)
	if err != nil {
		h.serviceError(w, "infer_schema_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: inferred}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Health handles GET /api/orgs/{oid}/datasources/{dsid}/health
func (h *DataSourcesHandler) Health(w http.ResponseWriter, r *http.Request) {
	organizationID, dataSourceID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	snapshot, err := h.service.Health(r.Context(), organizationID, dataSourceID)
	if err != nil {
		h.serviceError(w, "get_health_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: snapshot}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// RefreshLogs handles GET /api/orgs/{oid}/datasources/{dsid}/logs
func (h *DataSourcesHandler) RefreshLogs(w http.ResponseWriter, r *http.Request) {
	organizationID, dataSourceID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	logs, err := h.service.RefreshLogs(r.Context(), organizationID, dataSourceID, limit)
	if err != nil {
		h.serviceError(w, "list_refresh_logs_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: logs}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *DataSourcesHandler) parseIDs(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	organizationID, ok := ParseOrganizationID(w, r, h.logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	dataSourceID, ok := ParseDataSourceID(w, r, h.logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return organizationID, dataSourceID, true
}

func parseUserID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

func (h *DataSourcesHandler) badRequest(w http.ResponseWriter, code string, err error) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, err.Error()); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *DataSourcesHandler) serviceError(w http.ResponseWriter, code string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrConflict),
		errors.Is(err, apperrors.ErrDataSourceInUse),
		errors.Is(err, apperrors.ErrRefreshInProgress):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("data source request failed", zap.String("code", code), zap.Error(err))
	}
	if err := ErrorResponse(w, status, code, err.Error()); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
