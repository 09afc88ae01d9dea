package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"shop-auth-service/internal/apperr"
	"shop-auth-service/internal/audit"
	"shop-auth-service/internal/client"
	"shop-auth-service/internal/encryption"
	"shop-auth-service/internal/hashing"
	"shop-auth-service/internal/models"
	"shop-auth-service/internal/repository/scylla"
	"shop-auth-service/internal/util"
)

// RegisterRequest starts an OTP-gated registration. No account exists until
// the follow-up verify call.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	// Seller-only fields, ignored for other roles.
	PhoneNumber string `json:"phone_number" validate:"omitempty,max=20"`
	Country     string `json:"country" validate:"omitempty,max=56"`
}

// VerifyAndCreateRequest completes registration with the emailed OTP.
type VerifyAndCreateRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=100"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	OTP         string `json:"otp" validate:"required,len=4,numeric"`
	PhoneNumber string `json:"phone_number" validate:"omitempty,max=20"`
	Country     string `json:"country" validate:"omitempty,max=56"`
}

// CreateResult is returned by VerifyAndCreate. Tokens are set only for
// roles that auto-login after creation; the handler decides on cookies.
type CreateResult struct {
	Principal    *models.Principal
	AutoLogin    bool
	AccessToken  string
	RefreshToken string
}

// LoginResult carries either a completed session or the 2FA step-up
// indicator. When RequiresTwoFactor is set no tokens are present and the
// client must follow up with VerifyLogin2FA using PrincipalID.
type LoginResult struct {
	Principal         *models.Principal
	RequiresTwoFactor bool
	PrincipalID       string
	AccessToken       string
	RefreshToken      string
}

// TwoFactorSetup is the one response that ever carries the plaintext
// secret and backup codes.
type TwoFactorSetup struct {
	Secret      string   `json:"secret"`
	OtpAuthURI  string   `json:"otpauth_uri"`
	BackupCodes []string `json:"backup_codes"`
}

// RefreshResult is a freshly minted access token plus the role whose
// cookie namespace it belongs to.
type RefreshResult struct {
	Role        models.Role
	AccessToken string
}

// AccountService composes the OTP, TOTP, token and hashing services into
// the registration, login, reset and two-factor account flows. One
// instance serves all three roles; the role rides through as a parameter.
type AccountService struct {
	repo     scylla.AccountRepository
	otp      *OTPService
	totp     *TOTPService
	tokens   *TokenService
	hasher   *hashing.Hasher
	enc      *encryption.EncryptionManager
	events   *audit.Publisher
	validate *validator.Validate
	logger   *zap.Logger
}

func NewAccountService(
	repo scylla.AccountRepository,
	otp *OTPService,
	totp *TOTPService,
	tokens *TokenService,
	hasher *hashing.Hasher,
	enc *encryption.EncryptionManager,
	events *audit.Publisher,
	logger *zap.Logger,
) *AccountService {
	return &AccountService{
		repo:     repo,
		otp:      otp,
		totp:     totp,
		tokens:   tokens,
		hasher:   hasher,
		enc:      enc,
		events:   events,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Register validates the payload and sends an activation OTP. Account
// creation is deferred to VerifyAndCreate; registering again before
// verifying just sends another code, subject to the rate limits.
func (s *AccountService) Register(ctx context.Context, role models.Role, req *RegisterRequest) (string, error) {
	if err := s.validateStruct(req); err != nil {
		return "", err
	}
	email := util.NormalizeEmail(req.Email)

	if err := s.failOnExisting(ctx, email, role); err != nil {
		return "", err
	}

	if err := s.otp.CheckRestrictions(email); err != nil {
		return "", err
	}
	if err := s.otp.TrackRequest(email); err != nil {
		return "", err
	}
	if err := s.otp.Send(req.Name, email, activationTemplate(role)); err != nil {
		return "", err
	}

	return "OTP sent to email. Please verify your account.", nil
}

// VerifyAndCreate checks the OTP and persists the new account. Sellers
// are logged in immediately; users get a success message and log in
// themselves. The difference is what the storefronts expect.
func (s *AccountService) VerifyAndCreate(ctx context.Context, role models.Role, req *VerifyAndCreateRequest) (*CreateResult, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	email := util.NormalizeEmail(req.Email)

	// Re-checked: time has passed since Register.
	if err := s.failOnExisting(ctx, email, role); err != nil {
		return nil, err
	}

	if err := s.otp.Verify(email, req.OTP); err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	principal := &models.Principal{
		PrincipalID: uuid.NewString(),
		Role:        role,
		Name:        util.SanitizeInput(req.Name),
		Email:       email,
		Credential2FA: models.Credential2FA{
			PasswordHash: passwordHash,
		},
		CreatedAt: now,
	}

	if err := s.repo.Create(ctx, principal); err != nil {
		if errors.Is(err, scylla.ErrEmailAlreadyRegistered) {
			return nil, duplicateEmailError(role)
		}
		return nil, err
	}

	s.events.Emit(audit.Event{
		Type:        audit.EventAccountCreated,
		Role:        string(role),
		Email:       email,
		PrincipalID: principal.PrincipalID,
		Success:     true,
	})

	result := &CreateResult{Principal: principal}
	if role == models.RoleSeller {
		access, refresh, err := s.issueTokens(principal)
		if err != nil {
			return nil, err
		}
		result.AutoLogin = true
		result.AccessToken = access
		result.RefreshToken = refresh
	}
	return result, nil
}

// Login checks primary credentials. When 2FA is active it returns the
// step-up indicator without issuing tokens; the login completes in
// VerifyLogin2FA.
func (s *AccountService) Login(ctx context.Context, role models.Role, email, password string) (*LoginResult, error) {
	email = util.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.Validation("Email and password are required!")
	}

	principal, err := s.repo.FindByEmail(ctx, email, role)
	if err != nil {
		if errors.Is(err, scylla.ErrPrincipalNotFound) {
			s.events.Emit(audit.Event{Type: audit.EventLoginFailed, Role: string(role), Email: email})
			return nil, missingAccountError(role)
		}
		return nil, err
	}

	if !s.hasher.ComparePassword(password, principal.PasswordHash) {
		s.events.Emit(audit.Event{Type: audit.EventLoginFailed, Role: string(role), Email: email, PrincipalID: principal.PrincipalID})
		return nil, apperr.Auth("Incorrect password!")
	}

	if principal.TwoFactorState() == models.TwoFactorActive {
		s.events.Emit(audit.Event{Type: audit.EventLoginStepUp, Role: string(role), Email: email, PrincipalID: principal.PrincipalID})
		return &LoginResult{
			RequiresTwoFactor: true,
			PrincipalID:       principal.PrincipalID,
		}, nil
	}

	return s.completeLogin(ctx, principal)
}

// VerifyLogin2FA finishes a stepped-up login with a TOTP code or a
// single-use backup code. A matched backup code is removed before tokens
// are issued.
func (s *AccountService) VerifyLogin2FA(ctx context.Context, role models.Role, principalID, code string) (*LoginResult, error) {
	code = strings.TrimSpace(code)
	if principalID == "" || code == "" {
		return nil, apperr.Validation("Account id and verification code are required!")
	}

	principal, err := s.repo.FindByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, scylla.ErrPrincipalNotFound) {
			return nil, apperr.Auth("Invalid credentials!")
		}
		return nil, err
	}
	if principal.Role != role {
		return nil, apperr.Auth("Invalid credentials!")
	}
	if principal.TwoFactorState() != models.TwoFactorActive {
		return nil, apperr.Auth("Two-factor authentication is not enabled!")
	}

	ok, err := s.checkSecondFactor(ctx, principal, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.events.Emit(audit.Event{Type: audit.EventLoginFailed, Role: string(role), PrincipalID: principalID, Detail: "2fa_code_rejected"})
		return nil, apperr.Auth("Invalid two-factor code!")
	}

	return s.completeLogin(ctx, principal)
}

// ForgotPassword sends a reset OTP to an existing account's email.
func (s *AccountService) ForgotPassword(ctx context.Context, role models.Role, email string) (string, error) {
	email = util.NormalizeEmail(email)
	if !util.IsValidEmail(email) {
		return "", apperr.Validation("A valid email is required!")
	}

	principal, err := s.repo.FindByEmail(ctx, email, role)
	if err != nil {
		if errors.Is(err, scylla.ErrPrincipalNotFound) {
			return "", missingAccountError(role)
		}
		return "", err
	}

	if err := s.otp.CheckRestrictions(email); err != nil {
		return "", err
	}
	if err := s.otp.TrackRequest(email); err != nil {
		return "", err
	}
	if err := s.otp.Send(principal.Name, email, client.TemplateForgotPassword); err != nil {
		return "", err
	}

	return "OTP sent to email. Please verify to reset your password.", nil
}

// VerifyForgotPasswordOTP lets the frontend confirm the code before
// showing the new-password form. The code is not consumed here; the
// ResetPassword call verifies it again and retires it.
func (s *AccountService) VerifyForgotPasswordOTP(ctx context.Context, role models.Role, email, otp string) error {
	email = util.NormalizeEmail(email)
	if _, err := s.repo.FindByEmail(ctx, email, role); err != nil {
		if errors.Is(err, scylla.ErrPrincipalNotFound) {
			return missingAccountError(role)
		}
		return err
	}
	return s.otp.Check(email, otp)
}

// ResetPassword verifies the reset OTP, then persists the new password.
// The new password must differ from the current one; no tokens are
// issued, the user logs in fresh.
func (s *AccountService) ResetPassword(ctx context.Context, role models.Role, email, otp, newPassword string) (string, error) {
	email = util.NormalizeEmail(email)
	if otp == "" || newPassword == "" {
		return "", apperr.Validation("Email, OTP and new password are required!")
	}

	principal, err := s.repo.FindByEmail(ctx, email, role)
	if err != nil {
		if errors.Is(err, scylla.ErrPrincipalNotFound) {
			return "", missingAccountError(role)
		}
		return "", err
	}

	if err := s.otp.Verify(email, otp); err != nil {
		return "", err
	}

	if s.hasher.ComparePassword(newPassword, principal.PasswordHash) {
		return "", apperr.Validation("New password must be different from the old password")
	}

	passwordHash, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		return "", err
	}
	if err := s.repo.UpdatePassword(ctx, principal.PrincipalID, passwordHash); err != nil {
		return "", err
	}

	s.events.Emit(audit.Event{
		Type:        audit.EventPasswordReset,
		Role:        string(role),
		Email:       email,
		PrincipalID: principal.PrincipalID,
		Success:     true,
	})
	return "Password reset successfully! Please login with your new password.", nil
}

// Setup2FA generates a secret and backup codes and stores them inactive.
// The secret only activates after Activate2FA proves the authenticator
// was provisioned.
func (s *AccountService) Setup2FA(ctx context.Context, role models.Role, principalID string) (*TwoFactorSetup, error) {
	principal, err := s.findOwnedPrincipal(ctx, role, principalID)
	if err != nil {
		return nil, err
	}
	if principal.TwoFactorState() == models.TwoFactorActive {
		return nil, apperr.Auth("Two-factor authentication is already enabled!")
	}

	secret, err := s.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	codes, hashes, err := s.totp.GenerateBackupCodes()
	if err != nil {
		return nil, err
	}

	secretEnc, keyID, err := s.enc.EncryptSecret(ctx, secret)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateTwoFactor(ctx, principal.PrincipalID, false, secretEnc, keyID, hashes); err != nil {
		return nil, err
	}

	s.events.Emit(audit.Event{Type: audit.EventTwoFactorSetup, Role: string(role), PrincipalID: principalID})
	return &TwoFactorSetup{
		Secret:      secret,
		OtpAuthURI:  s.totp.GenerateOtpAuthURI(principal.Email, secret),
		BackupCodes: codes,
	}, nil
}

// Activate2FA flips the pending secret to active once a correct code
// proves the authenticator holds it.
func (s *AccountService) Activate2FA(ctx context.Context, role models.Role, principalID, code string) error {
	principal, err := s.findOwnedPrincipal(ctx, role, principalID)
	if err != nil {
		return err
	}
	switch principal.TwoFactorState() {
	case models.TwoFactorActive:
		return apperr.Auth("Two-factor authentication is already enabled!")
	case models.TwoFactorDisabled:
		return apperr.Auth("Two-factor setup has not been started!")
	}

	secret, err := s.enc.DecryptSecret(ctx, principal.TwoFactorSecretEnc, principal.TwoFactorKeyID)
	if err != nil {
		return err
	}
	ok, err := s.totp.VerifyTOTP(secret, code, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Auth("Invalid two-factor code!")
	}

	if err := s.repo.UpdateTwoFactor(ctx, principal.PrincipalID, true,
		principal.TwoFactorSecretEnc, principal.TwoFactorKeyID, principal.BackupCodeHashes); err != nil {
		return err
	}

	s.events.Emit(audit.Event{Type: audit.EventTwoFactorEnabled, Role: string(role), PrincipalID: principalID, Success: true})
	return nil
}

// Disable2FA turns 2FA off after re-proving the password, and discards
// the secret and backup codes.
func (s *AccountService) Disable2FA(ctx context.Context, role models.Role, principalID, password string) error {
	principal, err := s.findOwnedPrincipal(ctx, role, principalID)
	if err != nil {
		return err
	}
	if principal.TwoFactorState() != models.TwoFactorActive {
		return apperr.Auth("Two-factor authentication is not enabled!")
	}
	if !s.hasher.ComparePassword(password, principal.PasswordHash) {
		return apperr.Auth("Incorrect password!")
	}

	if err := s.repo.UpdateTwoFactor(ctx, principal.PrincipalID, false, nil, "", nil); err != nil {
		return err
	}

	s.events.Emit(audit.Event{Type: audit.EventTwoFactorDisable, Role: string(role), PrincipalID: principalID, Success: true})
	return nil
}

// RegenerateBackupCodes replaces all backup codes after re-proving the
// password. Previously issued codes stop working immediately.
func (s *AccountService) RegenerateBackupCodes(ctx context.Context, role models.Role, principalID, password string) ([]string, error) {
	principal, err := s.findOwnedPrincipal(ctx, role, principalID)
	if err != nil {
		return nil, err
	}
	if principal.TwoFactorState() != models.TwoFactorActive {
		return nil, apperr.Auth("Two-factor authentication is not enabled!")
	}
	if !s.hasher.ComparePassword(password, principal.PasswordHash) {
		return nil, apperr.Auth("Incorrect password!")
	}

	codes, hashes, err := s.totp.GenerateBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateBackupCodes(ctx, principal.PrincipalID, hashes); err != nil {
		return nil, err
	}
	return codes, nil
}

// ElevateToAdmin promotes an existing user account. This is the only path
// to the admin role; admins are never registered directly.
func (s *AccountService) ElevateToAdmin(ctx context.Context, userID string) error {
	principal, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, scylla.ErrPrincipalNotFound) {
			return missingAccountError(models.RoleUser)
		}
		return err
	}
	if principal.Role != models.RoleUser {
		return apperr.Validation("Only user accounts can be elevated to admin!")
	}
	if err := s.repo.ElevateToAdmin(ctx, userID); err != nil {
		if errors.Is(err, scylla.ErrEmailAlreadyRegistered) {
			return apperr.Validation("An admin already exists with this email!")
		}
		return err
	}
	return nil
}

// Refresh validates a refresh token and mints a new access token.
// Revocation is existence based: a deleted account fails the re-fetch and
// the refresh is rejected.
func (s *AccountService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	principal, err := s.repo.FindByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, scylla.ErrPrincipalNotFound) {
			return nil, apperr.Token("Invalid or expired token!")
		}
		return nil, err
	}

	access, err := s.tokens.GenerateAccessToken(principal.PrincipalID, principal.Role)
	if err != nil {
		return nil, err
	}

	s.events.Emit(audit.Event{Type: audit.EventTokenRefreshed, Role: string(principal.Role), PrincipalID: principal.PrincipalID, Success: true})
	return &RefreshResult{Role: principal.Role, AccessToken: access}, nil
}

// Profile returns the public view of an account for authenticated reads.
func (s *AccountService) Profile(ctx context.Context, role models.Role, principalID string) (*models.PublicProfile, error) {
	principal, err := s.findOwnedPrincipal(ctx, role, principalID)
	if err != nil {
		return nil, err
	}
	return principal.PublicProfile(), nil
}

// RecordLogout emits the audit event; cookie clearing happens at the
// HTTP boundary and nothing is invalidated server side.
func (s *AccountService) RecordLogout(role models.Role, principalID string) {
	s.events.Emit(audit.Event{Type: audit.EventLogout, Role: string(role), PrincipalID: principalID, Success: true})
}

func (s *AccountService) completeLogin(ctx context.Context, principal *models.Principal) (*LoginResult, error) {
	access, refresh, err := s.issueTokens(principal)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateLastLogin(ctx, principal.PrincipalID, time.Now()); err != nil {
		s.logger.Warn("Failed to record last login",
			util.String("principal_id", principal.PrincipalID),
			util.ErrorField(err),
		)
	}

	s.events.Emit(audit.Event{
		Type:        audit.EventLoginSucceeded,
		Role:        string(principal.Role),
		Email:       principal.Email,
		PrincipalID: principal.PrincipalID,
		Success:     true,
	})
	return &LoginResult{
		Principal:    principal,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

func (s *AccountService) issueTokens(principal *models.Principal) (string, string, error) {
	access, err := s.tokens.GenerateAccessToken(principal.PrincipalID, principal.Role)
	if err != nil {
		return "", "", err
	}
	refresh, err := s.tokens.GenerateRefreshToken(principal.PrincipalID, principal.Role)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// checkSecondFactor tries TOTP first, then backup codes. Backup codes are
// single use; the matched hash is removed before reporting success.
func (s *AccountService) checkSecondFactor(ctx context.Context, principal *models.Principal, code string) (bool, error) {
	secret, err := s.enc.DecryptSecret(ctx, principal.TwoFactorSecretEnc, principal.TwoFactorKeyID)
	if err != nil {
		return false, err
	}

	ok, err := s.totp.VerifyTOTP(secret, code, time.Now())
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	idx := s.totp.VerifyBackupCode(code, principal.BackupCodeHashes)
	if idx < 0 {
		return false, nil
	}

	remaining := make([]string, 0, len(principal.BackupCodeHashes)-1)
	remaining = append(remaining, principal.BackupCodeHashes[:idx]...)
	remaining = append(remaining, principal.BackupCodeHashes[idx+1:]...)
	if err := s.repo.UpdateBackupCodes(ctx, principal.PrincipalID, remaining); err != nil {
		return false, err
	}
	principal.BackupCodeHashes = remaining

	s.events.Emit(audit.Event{
		Type:        audit.EventBackupCodeUsed,
		Role:        string(principal.Role),
		PrincipalID: principal.PrincipalID,
		Success:     true,
		Detail:      fmt.Sprintf("%d codes remaining", len(remaining)),
	})
	return true, nil
}

func (s *AccountService) findOwnedPrincipal(ctx context.Context, role models.Role, principalID string) (*models.Principal, error) {
	if principalID == "" {
		return nil, apperr.Validation("Account id is required!")
	}
	principal, err := s.repo.FindByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, scylla.ErrPrincipalNotFound) {
			return nil, missingAccountError(role)
		}
		return nil, err
	}
	if principal.Role != role {
		return nil, apperr.Auth("Access denied!")
	}
	return principal, nil
}

func (s *AccountService) failOnExisting(ctx context.Context, email string, role models.Role) error {
	_, err := s.repo.FindByEmail(ctx, email, role)
	if err == nil {
		return duplicateEmailError(role)
	}
	if errors.Is(err, scylla.ErrPrincipalNotFound) {
		return nil
	}
	return err
}

func (s *AccountService) validateStruct(v interface{}) error {
	if err := s.validate.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return err
		}
		msgs := make([]string, 0, 4)
		for _, fe := range err.(validator.ValidationErrors) {
			msgs = append(msgs, fieldErrorMessage(fe))
		}
		return apperr.Validation("%s", strings.Join(msgs, "; "))
	}
	return nil
}

func fieldErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", fe.Field(), fe.Param())
	case "numeric":
		return fmt.Sprintf("%s must be numeric", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func activationTemplate(role models.Role) string {
	if role == models.RoleSeller {
		return client.TemplateSellerActivation
	}
	return client.TemplateUserActivation
}

func duplicateEmailError(role models.Role) error {
	switch role {
	case models.RoleSeller:
		return apperr.Validation("Seller already exists with this email!")
	case models.RoleAdmin:
		return apperr.Validation("Admin already exists with this email!")
	default:
		return apperr.Validation("User already exists with this email!")
	}
}

func missingAccountError(role models.Role) error {
	switch role {
	case models.RoleSeller:
		return apperr.Auth("Seller doesn't exist!")
	case models.RoleAdmin:
		return apperr.Auth("Admin doesn't exist!")
	default:
		return apperr.Auth("User doesn't exist!")
	}
}
