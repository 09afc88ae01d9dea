package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"shop-auth-service/internal/apperr"
	"shop-auth-service/internal/audit"
	"shop-auth-service/internal/client"
	redisrepo "shop-auth-service/internal/repository/redis"
	"shop-auth-service/internal/util"
)

const (
	otpTTL           = 5 * time.Minute
	otpCooldownTTL   = time.Minute
	otpRequestWindow = time.Hour
	otpSpamLockTTL   = 5 * time.Minute
	otpLockTTL       = 30 * time.Minute

	otpMaxRequests       = 5
	otpMaxFailedAttempts = 5
)

const (
	msgAccountLocked  = "Account locked due to multiple failed attempts! Try again after 30 minutes."
	msgSpamLocked     = "Too many OTP requests! Please wait 5 minutes before requesting again."
	msgCooldown       = "Please wait 1 minute before requesting a new OTP!"
	msgInvalidOTP     = "Invalid or expired OTP!"
	msgIncorrectOTPFn = "Incorrect OTP. %d attempts left."
)

// OTPService issues, rate-limits and verifies the 4-digit email codes that
// gate registration and password resets. All state lives in the OTP cache
// and expires on its own; Verify success or a terminal failure clears the
// code eagerly.
type OTPService struct {
	cache  *redisrepo.OTPCache
	mailer client.Mailer
	events *audit.Publisher
	logger *zap.Logger
}

func NewOTPService(cache *redisrepo.OTPCache, mailer client.Mailer, events *audit.Publisher, logger *zap.Logger) *OTPService {
	return &OTPService{
		cache:  cache,
		mailer: mailer,
		events: events,
		logger: logger,
	}
}

// CheckRestrictions fails when the email is locked, spam-locked or cooling
// down. It reads only; callers decide whether to count the request.
func (s *OTPService) CheckRestrictions(email string) error {
	locked, err := s.cache.IsLocked(email)
	if err != nil {
		return err
	}
	if locked {
		return apperr.AccountLocked(msgAccountLocked, otpLockTTL)
	}

	spamLocked, err := s.cache.IsSpamLocked(email)
	if err != nil {
		return err
	}
	if spamLocked {
		return apperr.RateLimited(msgSpamLocked, otpSpamLockTTL)
	}

	coolingDown, err := s.cache.IsCoolingDown(email)
	if err != nil {
		return err
	}
	if coolingDown {
		return apperr.RateLimited(msgCooldown, otpCooldownTTL)
	}

	return nil
}

// TrackRequest counts one OTP request against the rolling hour window. The
// threshold check runs before the increment, so the lock trips on the
// request after the window fills. Each increment extends the window from
// now; this is the fixed rolling-window approximation, not a sliding log.
func (s *OTPService) TrackRequest(email string) error {
	spamLocked, err := s.cache.IsSpamLocked(email)
	if err != nil {
		return err
	}
	if spamLocked {
		return apperr.RateLimited(msgSpamLocked, otpSpamLockTTL)
	}

	count, err := s.cache.GetRequestCount(email)
	if err != nil {
		return err
	}
	if count >= otpMaxRequests {
		if err := s.cache.SetSpamLock(email, otpSpamLockTTL); err != nil {
			return err
		}
		s.events.Emit(audit.Event{Type: audit.EventOTPRateLimited, Email: email})
		return apperr.RateLimited(msgSpamLocked, otpSpamLockTTL)
	}

	if _, err := s.cache.IncrementRequests(email, otpRequestWindow); err != nil {
		return err
	}
	return nil
}

// Send generates a fresh code, mails it, stores it with its expiry, and
// starts the re-request cooldown.
func (s *OTPService) Send(name, email, templateID string) error {
	otp, err := generateOTP()
	if err != nil {
		return err
	}

	if err := s.mailer.Send(email, subjectForTemplate(templateID), templateID, map[string]string{
		"name": name,
		"otp":  otp,
	}); err != nil {
		return err
	}

	if err := s.cache.SetOTP(email, otp, otpTTL); err != nil {
		return err
	}
	if err := s.cache.SetCooldown(email, otpCooldownTTL); err != nil {
		return err
	}

	s.events.Emit(audit.Event{Type: audit.EventOTPSent, Email: email, Success: true})
	s.logger.Info("OTP dispatched",
		util.String("email", email),
		util.String("template", templateID),
	)
	return nil
}

// Verify checks a provided code against the stored one. Five wrong guesses
// lock the email for 30 minutes; while locked, even the correct code is
// rejected. Success and lockout both clear the stored code and the
// attempt counter.
func (s *OTPService) Verify(email, providedOTP string) error {
	return s.verify(email, providedOTP, true)
}

// Check verifies the code without consuming it, so a later Verify with the
// same code still succeeds. Failed attempts count toward the lockout
// either way.
func (s *OTPService) Check(email, providedOTP string) error {
	return s.verify(email, providedOTP, false)
}

func (s *OTPService) verify(email, providedOTP string, consume bool) error {
	locked, err := s.cache.IsLocked(email)
	if err != nil {
		return err
	}
	if locked {
		return apperr.AccountLocked(msgAccountLocked, otpLockTTL)
	}

	stored, found, err := s.cache.GetOTP(email)
	if err != nil {
		return err
	}
	if !found {
		return apperr.Otp(msgInvalidOTP, -1)
	}

	// Plain trimmed comparison, matching the platform's existing
	// clients. The lockout above bounds what the timing leaks.
	if strings.TrimSpace(stored) == strings.TrimSpace(providedOTP) {
		if !consume {
			return nil
		}
		if err := s.cache.ClearOTPState(email); err != nil {
			return err
		}
		return nil
	}

	attempts, err := s.cache.GetAttemptCount(email)
	if err != nil {
		return err
	}

	if attempts+1 >= otpMaxFailedAttempts {
		if err := s.cache.SetLock(email, otpLockTTL); err != nil {
			return err
		}
		if err := s.cache.ClearOTPState(email); err != nil {
			return err
		}
		s.events.Emit(audit.Event{Type: audit.EventOTPLockout, Email: email})
		s.logger.Warn("OTP verification locked out", util.String("email", email))
		return apperr.AccountLocked(msgAccountLocked, otpLockTTL)
	}

	if _, err := s.cache.IncrementAttempts(email, otpTTL); err != nil {
		return err
	}

	remaining := otpMaxFailedAttempts - attempts - 1
	s.events.Emit(audit.Event{Type: audit.EventOTPVerifyFailed, Email: email})
	return apperr.Otp(fmt.Sprintf(msgIncorrectOTPFn, remaining), remaining)
}

// generateOTP draws a code in [1000, 9999). The top value is excluded;
// kept that way so codes match what the platform's other services accept.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(8999))
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+1000), nil
}

func subjectForTemplate(templateID string) string {
	switch templateID {
	case client.TemplateForgotPassword:
		return "Reset your password"
	case client.TemplateSellerActivation:
		return "Verify your seller account"
	default:
		return "Verify your email"
	}
}
