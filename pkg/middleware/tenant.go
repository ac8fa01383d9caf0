package middleware

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/matwana-io/matwana-engine/pkg/database"
)

// TenantMiddleware opens an organization-scoped database connection for
// the request and closes it when the handler returns.
type TenantMiddleware func(http.HandlerFunc) http.HandlerFunc

// NewTenantMiddleware creates the tenant middleware. It must run after
// auth, which puts the organization claim in context.
func NewTenantMiddleware(provider *database.TenantScopeProvider, logger *zap.Logger) TenantMiddleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			organizationID := GetOrganizationID(r.Context())

			ctx, cleanup, err := provider.WithTenantScope(r.Context(), organizationID)
			if err != nil {
				logger.Error("failed to open tenant scope",
					zap.String("organization_id", organizationID.String()),
					zap.Error(err))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "tenant_scope_failed",
					"message": "Failed to scope request to organization",
				})
				return
			}
			defer cleanup()

			next(w, r.WithContext(ctx))
		}
	}
}
