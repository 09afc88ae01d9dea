package service

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"shop-auth-service/internal/apperr"
	"shop-auth-service/internal/config"
	"shop-auth-service/internal/models"
)

// Cookie names are role namespaced so a browser can hold a user session
// and a seller session at once. Names are part of the frontend contract.
const (
	UserAccessCookie    = "access_token"
	UserRefreshCookie   = "refresh_token"
	SellerAccessCookie  = "seller-access-token"
	SellerRefreshCookie = "seller-refresh-token"
	AdminAccessCookie   = "admin-access-token"
	AdminRefreshCookie  = "admin-refresh-token"
)

const sessionCookieMaxAge = 7 * 24 * time.Hour

// SessionClaims ride inside both token kinds. The JSON keys are frozen;
// downstream services parse them.
type SessionClaims struct {
	ID   string      `json:"id"`
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenService mints, verifies and cookie-plumbs the HS256 session
// tokens. Access and refresh tokens sign with separate secrets so one
// kind never validates as the other.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	production    bool
}

func NewTokenService(cfg *config.Config) *TokenService {
	return &TokenService{
		accessSecret:  []byte(cfg.JWT.AccessSecret),
		refreshSecret: []byte(cfg.JWT.RefreshSecret),
		accessTTL:     cfg.JWT.AccessTTL,
		refreshTTL:    cfg.JWT.RefreshTTL,
		production:    cfg.IsProduction(),
	}
}

// GenerateAccessToken mints a short-lived access token for the principal.
func (s *TokenService) GenerateAccessToken(principalID string, role models.Role) (string, error) {
	return s.sign(principalID, role, s.accessSecret, s.accessTTL)
}

// GenerateRefreshToken mints the long-lived refresh token.
func (s *TokenService) GenerateRefreshToken(principalID string, role models.Role) (string, error) {
	return s.sign(principalID, role, s.refreshSecret, s.refreshTTL)
}

func (s *TokenService) sign(principalID string, role models.Role, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		ID:   principalID,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken validates signature and expiry and returns the claims.
func (s *TokenService) VerifyAccessToken(token string) (*SessionClaims, error) {
	return s.verify(token, s.accessSecret)
}

// VerifyRefreshToken validates against the refresh secret.
func (s *TokenService) VerifyRefreshToken(token string) (*SessionClaims, error) {
	return s.verify(token, s.refreshSecret)
}

func (s *TokenService) verify(token string, secret []byte) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, apperr.Token("Invalid or expired token!")
	}
	if claims.ID == "" || !claims.Role.Valid() {
		return nil, apperr.Token("Invalid or expired token!")
	}
	return claims, nil
}

// AccessCookieName returns the role's access cookie name.
func AccessCookieName(role models.Role) string {
	switch role {
	case models.RoleSeller:
		return SellerAccessCookie
	case models.RoleAdmin:
		return AdminAccessCookie
	default:
		return UserAccessCookie
	}
}

// RefreshCookieName returns the role's refresh cookie name.
func RefreshCookieName(role models.Role) string {
	switch role {
	case models.RoleSeller:
		return SellerRefreshCookie
	case models.RoleAdmin:
		return AdminRefreshCookie
	default:
		return UserRefreshCookie
	}
}

// SetSessionCookies writes both tokens for the role and expires the other
// roles' cookies, so one browser never carries two live identities whose
// cookies the frontend could mix up.
func (s *TokenService) SetSessionCookies(w http.ResponseWriter, role models.Role, accessToken, refreshToken string) {
	s.setCookie(w, AccessCookieName(role), accessToken)
	s.setCookie(w, RefreshCookieName(role), refreshToken)

	for _, other := range []models.Role{models.RoleUser, models.RoleSeller, models.RoleAdmin} {
		if other == role {
			continue
		}
		s.expireCookie(w, AccessCookieName(other))
		s.expireCookie(w, RefreshCookieName(other))
	}
}

// SetAccessCookie refreshes only the access cookie, leaving the refresh
// cookie untouched.
func (s *TokenService) SetAccessCookie(w http.ResponseWriter, role models.Role, accessToken string) {
	s.setCookie(w, AccessCookieName(role), accessToken)
}

// ClearSessionCookies expires the role's pair on logout.
func (s *TokenService) ClearSessionCookies(w http.ResponseWriter, role models.Role) {
	s.expireCookie(w, AccessCookieName(role))
	s.expireCookie(w, RefreshCookieName(role))
}

func (s *TokenService) setCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(sessionCookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.production,
		SameSite: s.sameSite(),
	})
}

func (s *TokenService) expireCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.production,
		SameSite: s.sameSite(),
	})
}

func (s *TokenService) sameSite() http.SameSite {
	// Cross-site frontends need None in production; None requires Secure,
	// so development stays on Lax.
	if s.production {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

// ExtractRefreshToken pulls the refresh token from any role's cookie or,
// failing that, a bearer Authorization header. Mobile clients send the
// header form.
func ExtractRefreshToken(r *http.Request) (string, bool) {
	for _, name := range []string{UserRefreshCookie, SellerRefreshCookie, AdminRefreshCookie} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value, true
		}
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); token != "" {
			return token, true
		}
	}
	return "", false
}

// ExtractAccessToken pulls the access token for middleware, trying the
// role-specific cookie first and then a bearer header.
func ExtractAccessToken(r *http.Request, role models.Role) (string, bool) {
	if c, err := r.Cookie(AccessCookieName(role)); err == nil && c.Value != "" {
		return c.Value, true
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); token != "" {
			return token, true
		}
	}
	return "", false
}
