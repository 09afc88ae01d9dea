package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-auth-service/internal/config"
	"shop-auth-service/internal/models"
)

func testTokenConfig(environment string) *config.Config {
	return &config.Config{
		Environment: environment,
		JWT: config.JWTConfig{
			AccessSecret:  "access-secret-for-tests",
			RefreshSecret: "refresh-secret-for-tests",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
		},
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := NewTokenService(testTokenConfig("development"))

	token, err := svc.GenerateAccessToken("user-123", models.RoleUser)
	require.NoError(t, err)

	claims, err := svc.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.ID)
	assert.Equal(t, models.RoleUser, claims.Role)
}

func TestTokenKindsDoNotCrossVerify(t *testing.T) {
	svc := NewTokenService(testTokenConfig("development"))

	access, err := svc.GenerateAccessToken("user-123", models.RoleUser)
	require.NoError(t, err)
	refresh, err := svc.GenerateRefreshToken("user-123", models.RoleUser)
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(refresh)
	assert.Error(t, err)
	_, err = svc.VerifyRefreshToken(access)
	assert.Error(t, err)

	_, err = svc.VerifyRefreshToken(refresh)
	assert.NoError(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	cfg := testTokenConfig("development")
	cfg.JWT.AccessTTL = -time.Minute
	svc := NewTokenService(cfg)

	token, err := svc.GenerateAccessToken("user-123", models.RoleUser)
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(token)
	assert.Error(t, err)
}

func TestGarbageTokenRejected(t *testing.T) {
	svc := NewTokenService(testTokenConfig("development"))

	for _, token := range []string{"", "not-a-jwt", "aaa.bbb.ccc"} {
		_, err := svc.VerifyAccessToken(token)
		assert.Error(t, err, "token %q", token)
	}
}

func TestCookieNamesPerRole(t *testing.T) {
	assert.Equal(t, "access_token", AccessCookieName(models.RoleUser))
	assert.Equal(t, "refresh_token", RefreshCookieName(models.RoleUser))
	assert.Equal(t, "seller-access-token", AccessCookieName(models.RoleSeller))
	assert.Equal(t, "seller-refresh-token", RefreshCookieName(models.RoleSeller))
	assert.Equal(t, "admin-access-token", AccessCookieName(models.RoleAdmin))
	assert.Equal(t, "admin-refresh-token", RefreshCookieName(models.RoleAdmin))
}

func cookieByName(t *testing.T, cookies []*http.Cookie, name string) *http.Cookie {
	t.Helper()
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %s not set", name)
	return nil
}

func TestSetSessionCookiesClearsSiblingRoles(t *testing.T) {
	svc := NewTokenService(testTokenConfig("development"))

	w := httptest.NewRecorder()
	svc.SetSessionCookies(w, models.RoleSeller, "access-val", "refresh-val")
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 6)

	access := cookieByName(t, cookies, "seller-access-token")
	assert.Equal(t, "access-val", access.Value)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), access.MaxAge)
	assert.True(t, access.HttpOnly)
	assert.False(t, access.Secure)
	assert.Equal(t, http.SameSiteLaxMode, access.SameSite)
	assert.Equal(t, "/", access.Path)

	refresh := cookieByName(t, cookies, "seller-refresh-token")
	assert.Equal(t, "refresh-val", refresh.Value)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), refresh.MaxAge)

	for _, name := range []string{"access_token", "refresh_token", "admin-access-token", "admin-refresh-token"} {
		sibling := cookieByName(t, cookies, name)
		assert.Empty(t, sibling.Value, name)
		assert.Negative(t, sibling.MaxAge, name)
	}
}

func TestProductionCookieAttributes(t *testing.T) {
	svc := NewTokenService(testTokenConfig("production"))

	w := httptest.NewRecorder()
	svc.SetSessionCookies(w, models.RoleUser, "a", "r")

	access := cookieByName(t, w.Result().Cookies(), "access_token")
	assert.True(t, access.Secure)
	assert.Equal(t, http.SameSiteNoneMode, access.SameSite)
}

func TestSetAccessCookieLeavesRefreshAlone(t *testing.T) {
	svc := NewTokenService(testTokenConfig("development"))

	w := httptest.NewRecorder()
	svc.SetAccessCookie(w, models.RoleUser, "new-access")

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "access_token", cookies[0].Name)
	assert.Equal(t, "new-access", cookies[0].Value)
}

func TestClearSessionCookies(t *testing.T) {
	svc := NewTokenService(testTokenConfig("development"))

	w := httptest.NewRecorder()
	svc.ClearSessionCookies(w, models.RoleAdmin)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 2)
	for _, c := range cookies {
		assert.Empty(t, c.Value)
		assert.Negative(t, c.MaxAge)
	}
}

func TestExtractRefreshToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	_, ok := ExtractRefreshToken(r)
	assert.False(t, ok)

	r = httptest.NewRequest(http.MethodPost, "/refresh", nil)
	r.AddCookie(&http.Cookie{Name: "seller-refresh-token", Value: "from-cookie"})
	token, ok := ExtractRefreshToken(r)
	require.True(t, ok)
	assert.Equal(t, "from-cookie", token)

	r = httptest.NewRequest(http.MethodPost, "/refresh", nil)
	r.Header.Set("Authorization", "Bearer from-header")
	token, ok = ExtractRefreshToken(r)
	require.True(t, ok)
	assert.Equal(t, "from-header", token)
}

func TestExtractAccessToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.AddCookie(&http.Cookie{Name: "admin-access-token", Value: "admin-cookie"})

	token, ok := ExtractAccessToken(r, models.RoleAdmin)
	require.True(t, ok)
	assert.Equal(t, "admin-cookie", token)

	// The user namespace does not see the admin cookie.
	_, ok = ExtractAccessToken(r, models.RoleUser)
	assert.False(t, ok)
}
