package handler

import (
	"context"
	"net/http"

	"shop-auth-service/internal/apperr"
	"shop-auth-service/internal/models"
	"shop-auth-service/internal/service"
)

type contextKey string

const claimsContextKey contextKey = "session_claims"

// Authenticator verifies the role's access cookie (or a bearer token) and
// attaches the decoded claims to the request context. The role check is
// strict: an admin token does not pass a seller gate.
func Authenticator(tokens *service.TokenService, role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := service.ExtractAccessToken(r, role)
			if !ok {
				respondWithError(w, apperr.Auth("Authentication required!"))
				return
			}

			claims, err := tokens.VerifyAccessToken(token)
			if err != nil {
				respondWithError(w, err)
				return
			}
			if claims.Role != role {
				respondWithError(w, apperr.Auth("Access denied!"))
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the claims attached by Authenticator.
func ClaimsFromContext(ctx context.Context) (*service.SessionClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*service.SessionClaims)
	return claims, ok
}
