package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matwana-io/matwana-engine/pkg/config"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, orgID, userID string, expiresIn time.Duration) string {
	t.Helper()
	claims := &Claims{
		OrganizationID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

// serve routes a request through RequireAuth on an org-scoped pattern so
// r.PathValue resolves the way production routes do.
func serve(m *AuthMiddleware, r *http.Request, next http.HandlerFunc) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/orgs/{oid}/things", m.RequireAuth("oid")(next))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)
	return rec
}

func verifyingMiddleware() *AuthMiddleware {
	return NewAuthMiddleware(&config.AuthConfig{
		EnableVerification: true,
		SigningSecret:      testSecret,
	}, zap.NewNop())
}

func TestRequireAuth_ValidToken(t *testing.T) {
	orgID := uuid.New().String()
	userID := uuid.New().String()
	m := verifyingMiddleware()

	var gotOrg uuid.UUID
	var gotUser string
	next := func(w http.ResponseWriter, r *http.Request) {
		gotOrg = GetOrganizationID(r.Context())
		gotUser = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/orgs/"+orgID+"/things", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, orgID, userID, time.Hour))

	rec := serve(m, r, next)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orgID, gotOrg.String())
	assert.Equal(t, userID, gotUser)
}

func TestRequireAuth_MissingToken(t *testing.T) {
	m := verifyingMiddleware()
	r := httptest.NewRequest(http.MethodGet, "/api/orgs/"+uuid.New().String()+"/things", nil)

	rec := serve(m, r, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_ExpiredToken(t *testing.T) {
	orgID := uuid.New().String()
	m := verifyingMiddleware()

	r := httptest.NewRequest(http.MethodGet, "/api/orgs/"+orgID+"/things", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, orgID, "", -time.Hour))

	rec := serve(m, r, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_WrongSecret(t *testing.T) {
	orgID := uuid.New().String()
	claims := &Claims{OrganizationID: orgID}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	m := verifyingMiddleware()
	r := httptest.NewRequest(http.MethodGet, "/api/orgs/"+orgID+"/things", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	rec := serve(m, r, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_OrganizationMismatch(t *testing.T) {
	m := verifyingMiddleware()

	r := httptest.NewRequest(http.MethodGet, "/api/orgs/"+uuid.New().String()+"/things", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, uuid.New().String(), "", time.Hour))

	rec := serve(m, r, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAuth_MalformedOrgClaim(t *testing.T) {
	m := verifyingMiddleware()

	r := httptest.NewRequest(http.MethodGet, "/api/orgs/not-a-uuid/things", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, "not-a-uuid", "", time.Hour))

	rec := serve(m, r, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireAuth_VerificationDisabled(t *testing.T) {
	orgID := uuid.New().String()
	m := NewAuthMiddleware(&config.AuthConfig{EnableVerification: false}, zap.NewNop())

	var gotOrg uuid.UUID
	next := func(w http.ResponseWriter, r *http.Request) {
		gotOrg = GetOrganizationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}

	// The header names the organization.
	r := httptest.NewRequest(http.MethodGet, "/api/orgs/"+orgID+"/things", nil)
	r.Header.Set("X-Organization-ID", orgID)
	rec := serve(m, r, next)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orgID, gotOrg.String())

	// Without the header the path parameter fills in.
	r = httptest.NewRequest(http.MethodGet, "/api/orgs/"+orgID+"/things", nil)
	rec = serve(m, r, next)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orgID, gotOrg.String())
}

func TestGetClaims_Unauthenticated(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := GetClaims(r.Context())
	assert.False(t, ok)
	assert.Equal(t, uuid.Nil, GetOrganizationID(r.Context()))
	assert.Empty(t, GetUserID(r.Context()))
}
