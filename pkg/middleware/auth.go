// Package middleware provides HTTP authentication and tenancy middleware.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matwana-io/matwana-engine/pkg/config"
)

type contextKey string

// ClaimsKey is the context key holding the validated token claims.
const ClaimsKey contextKey = "claims"

// Claims are the engine's expected JWT claims. Tokens are HS256, issued
// by the web layer and shared-secret verified here.
type Claims struct {
	OrganizationID string `json:"org_id"`
	jwt.RegisteredClaims
}

// GetClaims retrieves validated claims from the request context.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetOrganizationID extracts the organization ID from context claims.
// Returns uuid.Nil when unauthenticated or the claim is malformed.
func GetOrganizationID(ctx context.Context) uuid.UUID {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return uuid.Nil
	}
	id, err := uuid.Parse(claims.OrganizationID)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// GetUserID extracts the acting user's ID from context claims.
func GetUserID(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return ""
	}
	return claims.Subject
}

// AuthMiddleware validates bearer tokens and scopes requests to an
// organization.
type AuthMiddleware struct {
	cfg    *config.AuthConfig
	logger *zap.Logger
}

// NewAuthMiddleware creates the auth middleware.
func NewAuthMiddleware(cfg *config.AuthConfig, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{cfg: cfg, logger: logger}
}

// RequireAuth validates the bearer token and requires an organization
// claim. With verification disabled (local development) the organization
// is read from the X-Organization-ID header instead.
func (m *AuthMiddleware) RequireAuth(pathParamName string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, err := m.validate(r)
			if err != nil {
				m.writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}

			if _, err := uuid.Parse(claims.OrganizationID); err != nil {
				m.writeError(w, http.StatusBadRequest, "missing_organization", "Missing organization ID in token")
				return
			}

			// URL organization must match the token's.
			if pathParamName != "" {
				if urlOrg := r.PathValue(pathParamName); urlOrg != claims.OrganizationID {
					m.writeError(w, http.StatusForbidden, "organization_mismatch",
						"Organization ID mismatch between token and URL")
					return
				}
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next(w, r.WithContext(ctx))
		}
	}
}

func (m *AuthMiddleware) validate(r *http.Request) (*Claims, error) {
	if !m.cfg.EnableVerification {
		orgID := r.Header.Get("X-Organization-ID")
		if orgID == "" {
			// Fall back to the path so local curl against scoped routes works.
			orgID = r.PathValue("oid")
		}
		return &Claims{OrganizationID: orgID}, nil
	}

	header := r.Header.Get("Authorization")
	tokenStr, found := strings.CutPrefix(header, "Bearer ")
	if !found || tokenStr == "" {
		return nil, fmt.Errorf("missing bearer token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(m.cfg.SigningSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func (m *AuthMiddleware) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
