package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParseOrganizationID extracts and validates the organization ID from the
// request path. Returns the parsed UUID and true on success, or uuid.Nil
// and false on error (after writing an error response).
// Expects path parameter: oid
func ParseOrganizationID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "oid", "invalid_organization_id", "Invalid organization ID format", logger)
}

// ParseDataSourceID extracts and validates the data source ID from the
// request path.
// Expects path parameter: dsid
func ParseDataSourceID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "dsid", "invalid_data_source_id", "Invalid data source ID format", logger)
}

// ParseWidgetID extracts and validates the widget ID from the request path.
// Expects path parameter: wid
func ParseWidgetID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "wid", "invalid_widget_id", "Invalid widget ID format", logger)
}

// ParseDashboardID extracts and validates the dashboard ID from the request path.
// Expects path parameter: did
func ParseDashboardID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "did", "invalid_dashboard_id", "Invalid dashboard ID format", logger)
}

// ParsePlacementID extracts and validates the placement ID from the request path.
// Expects path parameter: plid
func ParsePlacementID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "plid", "invalid_placement_id", "Invalid placement ID format", logger)
}

// parseUUID is the internal helper that does the actual parsing work.
func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue(pathParam)
	id, err := uuid.Parse(idStr)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}
