package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-auth-service/internal/config"
	"shop-auth-service/internal/models"
	"shop-auth-service/internal/service"
)

func newTestTokenService() *service.TokenService {
	return service.NewTokenService(&config.Config{
		Environment: "development",
		JWT: config.JWTConfig{
			AccessSecret:  "access-secret-for-tests",
			RefreshSecret: "refresh-secret-for-tests",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
		},
	})
}

func claimsEcho(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		w.Header().Set("X-Principal-ID", claims.ID)
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticatorAcceptsRoleCookie(t *testing.T) {
	tokens := newTestTokenService()
	token, err := tokens.GenerateAccessToken("seller-1", models.RoleSeller)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.AddCookie(&http.Cookie{Name: "seller-access-token", Value: token})
	w := httptest.NewRecorder()

	Authenticator(tokens, models.RoleSeller)(claimsEcho(t)).ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "seller-1", w.Header().Get("X-Principal-ID"))
}

func TestAuthenticatorAcceptsBearerToken(t *testing.T) {
	tokens := newTestTokenService()
	token, err := tokens.GenerateAccessToken("user-1", models.RoleUser)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	Authenticator(tokens, models.RoleUser)(claimsEcho(t)).ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthenticatorRejectsMissingToken(t *testing.T) {
	tokens := newTestTokenService()

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	w := httptest.NewRecorder()

	Authenticator(tokens, models.RoleUser)(claimsEcho(t)).ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticatorEnforcesRole(t *testing.T) {
	tokens := newTestTokenService()

	// A valid user token does not pass the admin gate, even via bearer.
	token, err := tokens.GenerateAccessToken("user-1", models.RoleUser)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/admin-area", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	Authenticator(tokens, models.RoleAdmin)(claimsEcho(t)).ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticatorRejectsRefreshTokenAsAccess(t *testing.T) {
	tokens := newTestTokenService()
	refresh, err := tokens.GenerateRefreshToken("user-1", models.RoleUser)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.AddCookie(&http.Cookie{Name: "access_token", Value: refresh})
	w := httptest.NewRecorder()

	Authenticator(tokens, models.RoleUser)(claimsEcho(t)).ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
