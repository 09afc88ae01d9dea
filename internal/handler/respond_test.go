package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-auth-service/internal/apperr"
)

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.Validation("bad input"), http.StatusBadRequest},
		{apperr.Otp("wrong code", 3), http.StatusBadRequest},
		{apperr.Auth("who are you"), http.StatusUnauthorized},
		{apperr.Token("expired"), http.StatusUnauthorized},
		{apperr.RateLimited("slow down", time.Minute), http.StatusTooManyRequests},
		{apperr.AccountLocked("locked", 30 * time.Minute), http.StatusLocked},
		{errors.New("redis exploded"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusCodeFor(tc.err), "%v", tc.err)
	}
}

func TestRateLimitResponseCarriesRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	respondWithError(w, apperr.RateLimited("Too many OTP requests!", 5*time.Minute))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "300", w.Header().Get("Retry-After"))

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "Too many OTP requests!", resp.Error)
}

func TestLockedResponseCarriesRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	respondWithError(w, apperr.AccountLocked("Account locked!", 30*time.Minute))

	assert.Equal(t, http.StatusLocked, w.Code)
	assert.Equal(t, "1800", w.Header().Get("Retry-After"))
}

func TestOtpErrorCarriesAttemptsLeft(t *testing.T) {
	w := httptest.NewRecorder()
	respondWithError(w, apperr.Otp("Incorrect OTP. 2 attempts left.", 2))

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(2), data["attempts_left"])
}

func TestInternalErrorsStayGeneric(t *testing.T) {
	w := httptest.NewRecorder()
	respondWithError(w, errors.New("dial tcp 10.0.0.3:9042: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Internal server error", resp.Error)
	assert.NotContains(t, w.Body.String(), "10.0.0.3")
}
