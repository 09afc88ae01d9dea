package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"shop-auth-service/internal/client"
	"shop-auth-service/internal/util"
)

// Key formats are part of the external contract; other services inspect
// these keys for support tooling. Keep them bit-exact.
const (
	otpPrefix         = "otp:"
	otpCooldownPrefix = "otp_cooldown:"
	otpRequestsPrefix = "otp_requests:"
	otpSpamLockPrefix = "otp_spam_lock:"
	otpAttemptsPrefix = "otp_attempts:"
	otpLockPrefix     = "otp_lock:"
)

// OTPCache holds all ephemeral OTP, rate-limit and lock state, keyed by
// normalized email. TTL expiry is the sole cleanup mechanism.
type OTPCache struct {
	client *client.RedisClient
}

func NewOTPCache(client *client.RedisClient) *OTPCache {
	return &OTPCache{client: client}
}

func (c *OTPCache) withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// SetOTP stores the one live OTP value for an email
func (c *OTPCache) SetOTP(email, otp string, ttl time.Duration) error {
	ctx, cancel := c.withTimeout()
	defer cancel()

	if err := c.client.Set(ctx, otpPrefix+email, otp, ttl); err != nil {
		util.Error("Failed to set OTP in cache", zap.String("email", email), zap.Duration("ttl", ttl), zap.Error(err))
		return fmt.Errorf("failed to set OTP in cache: %w", err)
	}
	util.Debug("OTP cached", zap.String("email", email), zap.Duration("ttl", ttl))
	return nil
}

// GetOTP returns the stored OTP and whether one exists
func (c *OTPCache) GetOTP(email string) (string, bool, error) {
	ctx, cancel := c.withTimeout()
	defer cancel()

	otp, err := c.client.Get(ctx, otpPrefix+email)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", false, nil
		}
		util.Error("Failed to get OTP from cache", zap.String("email", email), zap.Error(err))
		return "", false, fmt.Errorf("failed to get OTP from cache: %w", err)
	}
	return otp, true, nil
}

// ClearOTPState removes the OTP value and its failed-attempt counter.
// Best effort, not transactional: both keys carry TTLs as the backstop.
func (c *OTPCache) ClearOTPState(email string) error {
	ctx, cancel := c.withTimeout()
	defer cancel()

	if err := c.client.Del(ctx, otpPrefix+email, otpAttemptsPrefix+email); err != nil {
		util.Error("Failed to clear OTP state", zap.String("email", email), zap.Error(err))
		return fmt.Errorf("failed to clear OTP state: %w", err)
	}
	return nil
}

func (c *OTPCache) SetCooldown(email string, ttl time.Duration) error {
	ctx, cancel := c.withTimeout()
	defer cancel()

	if err := c.client.Set(ctx, otpCooldownPrefix+email, "true", ttl); err != nil {
		return fmt.Errorf("failed to set OTP cooldown: %w", err)
	}
	return nil
}

func (c *OTPCache) IsCoolingDown(email string) (bool, error) {
	return c.exists(otpCooldownPrefix + email)
}

// IncrementRequests bumps the rolling-window request counter, extending the
// window from now. Returns the post-increment count.
func (c *OTPCache) IncrementRequests(email string, window time.Duration) (int, error) {
	ctx, cancel := c.withTimeout()
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, otpRequestsPrefix+email, window)
	if err != nil {
		util.Error("Failed to increment OTP request counter", zap.String("email", email), zap.Error(err))
		return 0, fmt.Errorf("failed to increment OTP request counter: %w", err)
	}
	return int(count), nil
}

func (c *OTPCache) GetRequestCount(email string) (int, error) {
	return c.counter(otpRequestsPrefix + email)
}

func (c *OTPCache) SetSpamLock(email string, ttl time.Duration) error {
	ctx, cancel := c.withTimeout()
	defer cancel()

	if err := c.client.Set(ctx, otpSpamLockPrefix+email, "locked", ttl); err != nil {
		return fmt.Errorf("failed to set OTP spam lock: %w", err)
	}
	util.Warn("OTP spam lock set", zap.String("email", email), zap.Duration("ttl", ttl))
	return nil
}

func (c *OTPCache) IsSpamLocked(email string) (bool, error) {
	return c.exists(otpSpamLockPrefix + email)
}

// IncrementAttempts bumps the failed-verification counter. Its TTL tracks
// the OTP lifetime so stale counters never outlive the code they guard.
func (c *OTPCache) IncrementAttempts(email string, ttl time.Duration) (int, error) {
	ctx, cancel := c.withTimeout()
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, otpAttemptsPrefix+email, ttl)
	if err != nil {
		util.Error("Failed to increment OTP attempts", zap.String("email", email), zap.Error(err))
		return 0, fmt.Errorf("failed to increment OTP attempts: %w", err)
	}
	return int(count), nil
}

func (c *OTPCache) GetAttemptCount(email string) (int, error) {
	return c.counter(otpAttemptsPrefix + email)
}

func (c *OTPCache) SetLock(email string, ttl time.Duration) error {
	ctx, cancel := c.withTimeout()
	defer cancel()

	if err := c.client.Set(ctx, otpLockPrefix+email, "locked", ttl); err != nil {
		return fmt.Errorf("failed to set OTP lock: %w", err)
	}
	util.Warn("OTP account lock set", zap.String("email", email), zap.Duration("ttl", ttl))
	return nil
}

func (c *OTPCache) IsLocked(email string) (bool, error) {
	return c.exists(otpLockPrefix + email)
}

func (c *OTPCache) exists(key string) (bool, error) {
	ctx, cancel := c.withTimeout()
	defer cancel()

	exists, err := c.client.Exists(ctx, key)
	if err != nil {
		util.Error("Failed to check key existence", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("failed to check key %s: %w", key, err)
	}
	return exists, nil
}

func (c *OTPCache) counter(key string) (int, error) {
	ctx, cancel := c.withTimeout()
	defer cancel()

	countStr, err := c.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter %s: %w", key, err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		util.Error("Invalid counter format", zap.String("key", key), zap.String("count_str", countStr), zap.Error(err))
		return 0, fmt.Errorf("invalid counter format: %w", err)
	}
	return count, nil
}
