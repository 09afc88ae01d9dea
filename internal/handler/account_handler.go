package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"shop-auth-service/internal/apperr"
	"shop-auth-service/internal/models"
	"shop-auth-service/internal/service"
	"shop-auth-service/internal/util"
)

// AccountHandler serves the auth flows for one principal role. The three
// role handlers share this implementation; role-specific behavior (cookie
// names, auto-login, templates) lives in the services.
type AccountHandler struct {
	role     models.Role
	accounts *service.AccountService
	tokens   *service.TokenService
	logger   *zap.Logger
}

func NewAccountHandler(role models.Role, accounts *service.AccountService, tokens *service.TokenService, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{
		role:     role,
		accounts: accounts,
		tokens:   tokens,
		logger:   logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verify2FARequest struct {
	AccountID string `json:"account_id"`
	Code      string `json:"code"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"new_password"`
}

type totpCodeRequest struct {
	Code string `json:"code"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

// RegisterRoutes mounts the role's public and authenticated routes.
// Admins have no registration routes; the only path to the admin role is
// elevation of an existing user.
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	if h.role != models.RoleAdmin {
		r.Post("/registration", h.Register)
		r.Post("/verify", h.VerifyAndCreate)
	}
	r.Post("/login", h.Login)
	r.Post("/login/verify-2fa", h.VerifyLogin2FA)
	r.Post("/forgot-password", h.ForgotPassword)
	r.Post("/forgot-password/verify", h.VerifyForgotPasswordOTP)
	r.Post("/reset-password", h.ResetPassword)
	r.Post("/refresh-token", h.RefreshToken)

	r.Group(func(r chi.Router) {
		r.Use(Authenticator(h.tokens, h.role))
		r.Get("/me", h.Me)
		r.Post("/logout", h.Logout)
		r.Post("/2fa/setup", h.Setup2FA)
		r.Post("/2fa/activate", h.Activate2FA)
		r.Post("/2fa/disable", h.Disable2FA)
		r.Post("/2fa/backup-codes", h.RegenerateBackupCodes)
	})
}

// Register starts an OTP-gated registration. No account is created yet.
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	message, err := h.accounts.Register(r.Context(), h.role, &req)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, message))
}

// VerifyAndCreate completes registration with the emailed OTP.
func (h *AccountHandler) VerifyAndCreate(w http.ResponseWriter, r *http.Request) {
	var req service.VerifyAndCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	result, err := h.accounts.VerifyAndCreate(r.Context(), h.role, &req)
	if err != nil {
		respondWithError(w, err)
		return
	}

	if result.AutoLogin {
		h.tokens.SetSessionCookies(w, h.role, result.AccessToken, result.RefreshToken)
		respondWithJSON(w, http.StatusCreated,
			successResponse(result.Principal.PublicProfile(), "Account created successfully!"))
		return
	}
	respondWithJSON(w, http.StatusCreated,
		successResponse(nil, "Account created successfully! Please login."))
}

// Login checks credentials; with 2FA active it returns the step-up
// indicator and sets no cookies.
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	result, err := h.accounts.Login(r.Context(), h.role, req.Email, req.Password)
	if err != nil {
		respondWithError(w, err)
		return
	}

	if result.RequiresTwoFactor {
		respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
			"requires_two_factor": true,
			"account_id":          result.PrincipalID,
		}, "Two-factor code required"))
		return
	}

	h.tokens.SetSessionCookies(w, h.role, result.AccessToken, result.RefreshToken)
	respondWithJSON(w, http.StatusOK,
		successResponse(result.Principal.PublicProfile(), "Login successful!"))
}

// VerifyLogin2FA completes a stepped-up login.
func (h *AccountHandler) VerifyLogin2FA(w http.ResponseWriter, r *http.Request) {
	var req verify2FARequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	result, err := h.accounts.VerifyLogin2FA(r.Context(), h.role, req.AccountID, req.Code)
	if err != nil {
		respondWithError(w, err)
		return
	}

	h.tokens.SetSessionCookies(w, h.role, result.AccessToken, result.RefreshToken)
	respondWithJSON(w, http.StatusOK,
		successResponse(result.Principal.PublicProfile(), "Login successful!"))
}

func (h *AccountHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	message, err := h.accounts.ForgotPassword(r.Context(), h.role, req.Email)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, message))
}

func (h *AccountHandler) VerifyForgotPasswordOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	if err := h.accounts.VerifyForgotPasswordOTP(r.Context(), h.role, req.Email, req.OTP); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "OTP verified. You can now reset your password."))
}

func (h *AccountHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	message, err := h.accounts.ResetPassword(r.Context(), h.role, req.Email, req.OTP, req.NewPassword)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, message))
}

// RefreshToken mints a fresh access token from any namespace's refresh
// cookie or a bearer token, and sets only the access cookie.
func (h *AccountHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	token, ok := service.ExtractRefreshToken(r)
	if !ok {
		respondWithError(w, apperr.Token("Refresh token missing!"))
		return
	}

	result, err := h.accounts.Refresh(r.Context(), token)
	if err != nil {
		respondWithError(w, err)
		return
	}

	h.tokens.SetAccessCookie(w, result.Role, result.AccessToken)
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Token refreshed successfully!"))
}

// sessionClaims fetches the claims Authenticator attached and rejects the
// request when they are missing.
func (h *AccountHandler) sessionClaims(w http.ResponseWriter, r *http.Request) (*service.SessionClaims, bool) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, apperr.Auth("Authentication required!"))
	}
	return claims, ok
}

func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.sessionClaims(w, r)
	if !ok {
		return
	}

	profile, err := h.accounts.Profile(r.Context(), h.role, claims.ID)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(profile, ""))
}

// Logout clears the role's cookie pair. Tokens stay valid until expiry;
// there is no server-side session to invalidate.
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		h.accounts.RecordLogout(h.role, claims.ID)
	}
	h.tokens.ClearSessionCookies(w, h.role)
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out successfully!"))
}

func (h *AccountHandler) Setup2FA(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.sessionClaims(w, r)
	if !ok {
		return
	}

	setup, err := h.accounts.Setup2FA(r.Context(), h.role, claims.ID)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK,
		successResponse(setup, "Scan the QR code and verify a code to activate two-factor authentication."))
}

func (h *AccountHandler) Activate2FA(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.sessionClaims(w, r)
	if !ok {
		return
	}

	var req totpCodeRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	if err := h.accounts.Activate2FA(r.Context(), h.role, claims.ID, req.Code); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Two-factor authentication enabled!"))
}

func (h *AccountHandler) Disable2FA(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.sessionClaims(w, r)
	if !ok {
		return
	}

	var req passwordRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	if err := h.accounts.Disable2FA(r.Context(), h.role, claims.ID, req.Password); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Two-factor authentication disabled!"))
}

func (h *AccountHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.sessionClaims(w, r)
	if !ok {
		return
	}

	var req passwordRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	codes, err := h.accounts.RegenerateBackupCodes(r.Context(), h.role, claims.ID, req.Password)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"backup_codes": codes,
	}, "New backup codes generated. Store them safely; they replace the old set."))
}

func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		util.Debug("Failed to decode request body", util.ErrorField(err))
		return apperr.Validation("Invalid request body!")
	}
	return nil
}
