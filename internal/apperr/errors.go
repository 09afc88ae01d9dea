// Package apperr defines the closed error taxonomy shared by the account
// flows and the HTTP boundary. Handlers discriminate with errors.As and map
// each kind to a status code; anything outside the taxonomy is treated as an
// internal failure.
package apperr

import (
	"fmt"
	"time"
)

// ValidationError reports malformed or missing input (400-class).
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// AuthError reports an identity or credential failure (401-class).
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string { return e.Msg }

func Auth(format string, args ...interface{}) *AuthError {
	return &AuthError{Msg: fmt.Sprintf(format, args...)}
}

// OtpError reports a wrong or expired one-time password. AttemptsLeft is -1
// when the remaining-attempts count does not apply (e.g. no live OTP).
type OtpError struct {
	Msg          string
	AttemptsLeft int
}

func (e *OtpError) Error() string { return e.Msg }

func Otp(msg string, attemptsLeft int) *OtpError {
	return &OtpError{Msg: msg, AttemptsLeft: attemptsLeft}
}

// RateLimitError reports that OTP issuance is temporarily throttled.
type RateLimitError struct {
	Msg        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return e.Msg }

func RateLimited(msg string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Msg: msg, RetryAfter: retryAfter}
}

// AccountLockedError reports that the account is locked out of the OTP flow.
type AccountLockedError struct {
	Msg        string
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string { return e.Msg }

func AccountLocked(msg string, retryAfter time.Duration) *AccountLockedError {
	return &AccountLockedError{Msg: msg, RetryAfter: retryAfter}
}

// TokenError reports an invalid, expired or malformed session token.
type TokenError struct {
	Msg string
}

func (e *TokenError) Error() string { return e.Msg }

func Token(format string, args ...interface{}) *TokenError {
	return &TokenError{Msg: fmt.Sprintf(format, args...)}
}
