package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-auth-service/internal/apperr"
	"shop-auth-service/internal/client"
	"shop-auth-service/internal/models"
)

func registerAndCreate(t *testing.T, env *accountTestEnv, role models.Role, email, password string) *CreateResult {
	t.Helper()
	ctx := context.Background()

	_, err := env.accounts.Register(ctx, role, &RegisterRequest{
		Name:     "Alice",
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)

	result, err := env.accounts.VerifyAndCreate(ctx, role, &VerifyAndCreateRequest{
		Name:     "Alice",
		Email:    email,
		Password: password,
		OTP:      env.mailer.lastOTP(t),
	})
	require.NoError(t, err)
	return result
}

// enable2FA walks the full setup and activation sequence and returns the
// plaintext secret and backup codes.
func enable2FA(t *testing.T, env *accountTestEnv, role models.Role, principalID string) *TwoFactorSetup {
	t.Helper()
	ctx := context.Background()

	setup, err := env.accounts.Setup2FA(ctx, role, principalID)
	require.NoError(t, err)
	require.NotEmpty(t, setup.Secret)
	require.Len(t, setup.BackupCodes, 10)

	code, err := env.totp.GenerateTOTP(setup.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, env.accounts.Activate2FA(ctx, role, principalID, code))
	return setup
}

func TestRegistrationFlow(t *testing.T) {
	env := newAccountTestEnv(t)
	ctx := context.Background()

	message, err := env.accounts.Register(ctx, models.RoleUser, &RegisterRequest{
		Name:     "Alice",
		Email:    "alice@example.com",
		Password: "password123",
	})
	require.NoError(t, err)
	assert.Contains(t, message, "OTP sent")
	assert.Equal(t, client.TemplateUserActivation, env.mailer.sent[0].TemplateID)

	result, err := env.accounts.VerifyAndCreate(ctx, models.RoleUser, &VerifyAndCreateRequest{
		Name:     "Alice",
		Email:    "alice@example.com",
		Password: "password123",
		OTP:      env.mailer.lastOTP(t),
	})
	require.NoError(t, err)
	assert.False(t, result.AutoLogin)
	assert.Empty(t, result.AccessToken)
	assert.Equal(t, models.RoleUser, result.Principal.Role)

	// The new account can log in with the registered password.
	login, err := env.accounts.Login(ctx, models.RoleUser, "alice@example.com", "password123")
	require.NoError(t, err)
	assert.False(t, login.RequiresTwoFactor)
	assert.NotEmpty(t, login.AccessToken)
	assert.NotEmpty(t, login.RefreshToken)
}

func TestSellerAutoLoginAfterCreation(t *testing.T) {
	env := newAccountTestEnv(t)

	result := registerAndCreate(t, env, models.RoleSeller, "shop@example.com", "password123")
	require.True(t, result.AutoLogin)
	require.NotEmpty(t, result.AccessToken)
	require.NotEmpty(t, result.RefreshToken)

	claims, err := env.tokens.VerifyAccessToken(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleSeller, claims.Role)
	assert.Equal(t, result.Principal.PrincipalID, claims.ID)
	assert.Equal(t, client.TemplateSellerActivation, env.mailer.sent[0].TemplateID)
}

func TestRegisterRejectsExistingEmailForSameRole(t *testing.T) {
	env := newAccountTestEnv(t)
	ctx := context.Background()

	registerAndCreate(t, env, models.RoleUser, "alice@example.com", "password123")
	env.redis.FastForward(2 * time.Minute)

	_, err := env.accounts.Register(ctx, models.RoleUser, &RegisterRequest{
		Name:     "Alice",
		Email:    "alice@example.com",
		Password: "password123",
	})
	var validationErr *apperr.ValidationError
	require.ErrorAs(t, err, &validationErr)

	// The same address may still register as a seller.
	_, err = env.accounts.Register(ctx, models.RoleSeller, &RegisterRequest{
		Name:     "Alice",
		Email:    "alice@example.com",
		Password: "password123",
	})
	require.NoError(t, err)
}

func TestRegisterAgainBeforeVerification(t *testing.T) {
	env := newAccountTestEnv(t)
	ctx := context.Background()

	req := &RegisterRequest{Name: "Alice", Email: "alice@example.com", Password: "password123"}
	_, err := env.accounts.Register(ctx, models.RoleUser, req)
	require.NoError(t, err)
	firstOTP := env.mailer.lastOTP(t)

	// No account-existence dedup before verify-and-create; once the
	// cooldown passes a second registration sends a fresh code.
	env.redis.FastForward(61 * time.Second)
	_, err = env.accounts.Register(ctx, models.RoleUser, req)
	require.NoError(t, err)
	require.Equal(t, 2, env.mailer.sentCount())

	// The earlier code was overwritten and no longer verifies unless it
	// happens to match the new one.
	secondOTP := env.mailer.lastOTP(t)
	if firstOTP != secondOTP {
		_, err = env.accounts.VerifyAndCreate(ctx, models.RoleUser, &VerifyAndCreateRequest{
			Name: "Alice", Email: "alice@example.com", Password: "password123", OTP: firstOTP,
		})
		var otpErr *apperr.OtpError
		require.ErrorAs(t, err, &otpErr)
	}
}

func TestVerifyAndCreateExpiredOTP(t *testing.T) {
	env := newAccountTestEnv(t)
	ctx := context.Background()

	_, err := env.accounts.Register(ctx, models.RoleUser, &RegisterRequest{
		Name: "Alice", Email: "alice@example.com", Password: "password123",
	})
	require.NoError(t, err)
	otp := env.mailer.lastOTP(t)

	env.redis.FastForward(5*time.Minute + time.Second)

	_, err = env.accounts.VerifyAndCreate(ctx, models.RoleUser, &VerifyAndCreateRequest{
		Name: "Alice", Email: "alice@example.com", Password: "password123", OTP: otp,
	})
	var otpErr *apperr.OtpError
	require.ErrorAs(t, err, &otpErr)
}

func TestLoginFailures(t *testing.T) {
	env := newAccountTestEnv(t)
	ctx := context.Background()

	registerAndCreate(t, env, models.RoleUser, "alice@example.com", "password123")

	_, err := env.accounts.Login(ctx, models.RoleUser, "nobody@example.com", "password123")
	var authErr *apperr.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "User doesn't exist!", authErr.Error())

	_, err = env.accounts.Login(ctx, models.RoleUser, "alice@example.com", "wrong-password")
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "Incorrect password!", authErr.Error())

	// A user account is invisible to the seller login.
	_, err = env.accounts.Login(ctx, models.RoleSeller, "alice@example.com", "password123")
	require.ErrorAs(t, err, &authErr)
}

func TestLoginWith2FAStepUp(t *testing.T) {
	env := newAccountTestEnv(t)
	ctx := context.Background()

	created := registerAndCreate(t, env, models.RoleUser, "alice@example.com", "password123")
	setup := enable2FA(t, env, models.RoleUser, created.Principal.PrincipalID)

	// Primary credentials alone no longer complete the login.
	login, err := env.accounts.Login(ctx, models.RoleUser, "alice@example.com", "password123")
	require.NoError(t, err)
	require.True(t, login.RequiresTwoFactor)
	assert.Equal(t, created.Principal.PrincipalID, login.PrincipalID)
	assert.Empty(t, login.AccessToken)
	assert.Empty(t, login.RefreshToken)

	// A wrong code is rejected.
	_, err = env.accounts.VerifyLogin2FA(ctx, models.RoleUser, login.PrincipalID, "000000")
	var authErr *apperr.AuthError
	require.ErrorAs(t, err, &authErr)

	// The current authenticator code completes it.
	code, err := env.totp.GenerateTOTP(setup.Secret, time.Now())
	require.NoError(t, err)
	completed, err := env.accounts.VerifyLogin2FA(ctx, models.RoleUser, login.PrincipalID, code)
	require.NoError(t, err)
	assert.NotEmpty(t, completed.AccessToken)
	assert.NotEmpty(t, completed.RefreshToken)
}

func TestBackupCodeLoginIsSingleUse(t *testing.T) {
	env := newAccountTestEnv(t)
	ctx := context.Background()

	created := registerAndCreate(t, env, models.RoleUser, "alice@example.com", "password123")
	setup := enable2FA(t, env, models.RoleUser, created.Principal.PrincipalID)
	id := created.Principal.PrincipalID

	backup := setup.BackupCodes[4]
	_, err := env.accounts.VerifyLogin2FA(ctx, models.RoleUser, id, backup)
	require.NoError(t, err)

	stored, err := env.repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Len(t, stored.BackupCodeHashes, 9)

	// Spending the same code again fails.
	_, err = env.accounts.VerifyLogin2FA(ctx, models.RoleUser, id, backup)
	var authErr *apperr.AuthError
	require.ErrorAs(t, err, &authErr)

	// Other codes still work.
	_, err = env.accounts.VerifyLogin2FA(ctx, models.RoleUser, id, setup.BackupCodes[0])
	require.NoError(t, err)
}

func TestResetPasswordFlow(t *testing.T) {
	env := newAccountTestEnv(t)
	ctx := context.Background()

	registerAndCreate(t, env, models.RoleUser, "alice@example.com", "password123")
	env.redis.FastForward(2 * time.Minute)

	_, err := env.accounts.ForgotPassword(ctx, models.RoleUser, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, client.TemplateForgotPassword, env.mailer.sent[env.mailer.sentCount()-1].TemplateID)

	otp := env.mailer.lastOTP(t)

	// The pre-check does not consume the code; it is still good for the
	// reset itself.
	require.NoError(t, env.accounts.VerifyForgotPasswordOTP(ctx, models.RoleUser, "alice@example.com", otp))
	require.NoError(t, env.accounts.VerifyForgotPasswordOTP(ctx, models.RoleUser, "alice@example.com", otp))

	// Reusing the current password is rejected, and the attempt retires
	// the code.
	_, err = env.accounts.ResetPassword(ctx, models.RoleUser, "alice@example.com", otp, "password123")
	var validationErr *apperr.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "New password must be different from the old password", validationErr.Error())

	var otpErr *apperr.OtpError
	_, err = env.accounts.ResetPassword(ctx, models.RoleUser, "alice@example.com", otp, "brand-new-pass")
	require.ErrorAs(t, err, &otpErr)

	env.redis.FastForward(61 * time.Second)
	_, err = env.accounts.ForgotPassword(ctx, models.RoleUser, "alice@example.com")
	require.NoError(t, err)

	_, err = env.accounts.ResetPassword(ctx, models.RoleUser, "alice@example.com", env.mailer.lastOTP(t), "brand-new-pass")
	require.NoError(t, err)

	// Old password dead, new one works.
	_, err = env.accounts.Login(ctx, models.RoleUser, "alice@example.com", "password123")
	require.Error(t, err)
	_, err = env.accounts.Login(ctx, models.RoleUser, "alice@example.com", "brand-new-pass")
	require.NoError(t, err)
}

func TestResetPasswordRequiresOTP(t *testing.T) {
	env := newAccountTestEnv(t)
	ctx := context.Background()

	registerAndCreate(t, env, models.RoleUser, "alice@example.com", "password123")

	// No forgot-password code was ever issued.
	_, err := env.accounts.ResetPassword(ctx, models.RoleUser, "alice@example.com", "1234", "attacker-pass")
	var otpErr *apperr.OtpError
	require.ErrorAs(t, err, &otpErr)

	_, err = env.accounts.ResetPassword(ctx, models.RoleUser, "alice@example.com", "", "attacker-pass")
	var validationErr *apperr.ValidationError
	require.ErrorAs(t, err, &validationErr)

	// A wrong guess against an issued code fails too.
	env.redis.FastForward(2 * time.Minute)
	_, err = env.accounts.ForgotPassword(ctx, models.RoleUser, "alice@example.com")
	require.NoError(t, err)
	_, err = env.accounts.ResetPassword(ctx, models.RoleUser, "alice@example.com", "0000", "attacker-pass")
	require.ErrorAs(t, err, &otpErr)

	// The password never moved.
	_, err = env.accounts.Login(ctx, models.RoleUser, "alice@example.com", "attacker-pass")
	require.Error(t, err)
	_, err = env.accounts.Login(ctx, models.RoleUser, "alice@example.com", "password123")
	require.NoError(t, err)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	env := newAccountTestEnv(t)

	_, err := env.accounts.ForgotPassword(context.Background(), models.RoleUser, "nobody@example.com")
	var authErr *apperr.AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestTwoFactorLifecycle(t *testing.T) {
	env := newAccountTestEnv(t)
	ctx := context.Background()

	created := registerAndCreate(t, env, models.RoleUser, "alice@example.com", "password123")
	id := created.Principal.PrincipalID

	// Activate before setup fails.
	err := env.accounts.Activate2FA(ctx, models.RoleUser, id, "123456")
	var authErr *apperr.AuthError
	require.ErrorAs(t, err, &authErr)

	setup := enable2FA(t, env, models.RoleUser, id)

	// Second setup while active fails.
	_, err = env.accounts.Setup2FA(ctx, models.RoleUser, id)
	require.ErrorAs(t, err, &authErr)

	// Disable needs the correct password.
	err = env.accounts.Disable2FA(ctx, models.RoleUser, id, "wrong")
	require.ErrorAs(t, err, &authErr)
	require.NoError(t, env.accounts.Disable2FA(ctx, models.RoleUser, id, "password123"))

	stored, err := env.repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TwoFactorDisabled, stored.TwoFactorState())
	assert.Empty(t, stored.TwoFactorSecretEnc)
	assert.Empty(t, stored.BackupCodeHashes)

	// Login is single step again; the old secret is gone.
	login, err := env.accounts.Login(ctx, models.RoleUser, "alice@example.com", "password123")
	require.NoError(t, err)
	assert.False(t, login.RequiresTwoFactor)
	_ = setup
}

func TestRegenerateBackupCodesReplacesSet(t *testing.T) {
	env := newAccountTestEnv(t)
	ctx := context.Background()

	created := registerAndCreate(t, env, models.RoleUser, "alice@example.com", "password123")
	id := created.Principal.PrincipalID
	setup := enable2FA(t, env, models.RoleUser, id)

	fresh, err := env.accounts.RegenerateBackupCodes(ctx, models.RoleUser, id, "password123")
	require.NoError(t, err)
	require.Len(t, fresh, 10)

	// Old codes are dead, new ones spend.
	_, err = env.accounts.VerifyLogin2FA(ctx, models.RoleUser, id, setup.BackupCodes[0])
	require.Error(t, err)
	_, err = env.accounts.VerifyLogin2FA(ctx, models.RoleUser, id, fresh[0])
	require.NoError(t, err)
}

func TestElevateToAdmin(t *testing.T) {
	env := newAccountTestEnv(t)
	ctx := context.Background()

	created := registerAndCreate(t, env, models.RoleUser, "alice@example.com", "password123")
	id := created.Principal.PrincipalID

	require.NoError(t, env.accounts.ElevateToAdmin(ctx, id))

	// The account now answers to the admin login only.
	_, err := env.accounts.Login(ctx, models.RoleUser, "alice@example.com", "password123")
	require.Error(t, err)
	login, err := env.accounts.Login(ctx, models.RoleAdmin, "alice@example.com", "password123")
	require.NoError(t, err)

	claims, err := env.tokens.VerifyAccessToken(login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	// Elevating twice fails; the account is no longer a user.
	err = env.accounts.ElevateToAdmin(ctx, id)
	var validationErr *apperr.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestElevateToAdminEmailCollision(t *testing.T) {
	env := newAccountTestEnv(t)
	ctx := context.Background()

	first := registerAndCreate(t, env, models.RoleUser, "alice@example.com", "password123")
	require.NoError(t, env.accounts.ElevateToAdmin(ctx, first.Principal.PrincipalID))

	// Elevation freed the user-role lookup, so the address can register
	// again as a user.
	env.redis.FastForward(61 * time.Second)
	second := registerAndCreate(t, env, models.RoleUser, "alice@example.com", "password456")

	// The admin slot for this email is taken; elevation is refused and
	// the account keeps its user role.
	err := env.accounts.ElevateToAdmin(ctx, second.Principal.PrincipalID)
	var validationErr *apperr.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "An admin already exists with this email!", validationErr.Error())

	_, err = env.accounts.Login(ctx, models.RoleUser, "alice@example.com", "password456")
	require.NoError(t, err)
	login, err := env.accounts.Login(ctx, models.RoleAdmin, "alice@example.com", "password123")
	require.NoError(t, err)
	claims, err := env.tokens.VerifyAccessToken(login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, first.Principal.PrincipalID, claims.ID)
}

func TestRefreshFlow(t *testing.T) {
	env := newAccountTestEnv(t)
	ctx := context.Background()

	created := registerAndCreate(t, env, models.RoleSeller, "shop@example.com", "password123")

	result, err := env.accounts.Refresh(ctx, created.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleSeller, result.Role)

	claims, err := env.tokens.VerifyAccessToken(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, created.Principal.PrincipalID, claims.ID)

	// An access token never passes as a refresh token.
	_, err = env.accounts.Refresh(ctx, created.AccessToken)
	var tokenErr *apperr.TokenError
	require.ErrorAs(t, err, &tokenErr)

	// Revocation is existence based: deleting the account kills future
	// refreshes.
	env.repo.delete(created.Principal.PrincipalID)
	_, err = env.accounts.Refresh(ctx, created.RefreshToken)
	require.ErrorAs(t, err, &tokenErr)
}

func TestValidationErrors(t *testing.T) {
	env := newAccountTestEnv(t)
	ctx := context.Background()

	var validationErr *apperr.ValidationError

	_, err := env.accounts.Register(ctx, models.RoleUser, &RegisterRequest{
		Name: "Alice", Email: "not-an-email", Password: "password123",
	})
	require.ErrorAs(t, err, &validationErr)

	_, err = env.accounts.Register(ctx, models.RoleUser, &RegisterRequest{
		Name: "Alice", Email: "alice@example.com", Password: "short",
	})
	require.ErrorAs(t, err, &validationErr)

	_, err = env.accounts.VerifyAndCreate(ctx, models.RoleUser, &VerifyAndCreateRequest{
		Name: "Alice", Email: "alice@example.com", Password: "password123", OTP: "12",
	})
	require.ErrorAs(t, err, &validationErr)
}
