package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"shop-auth-service/internal/apperr"
	"shop-auth-service/internal/util"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// successResponse creates a successful response
func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// errorResponse creates an error response
func errorResponse(err error) Response {
	resp := Response{
		Success: false,
		Error:   err.Error(),
	}

	var otpErr *apperr.OtpError
	if errors.As(err, &otpErr) && otpErr.AttemptsLeft >= 0 {
		resp.Data = map[string]interface{}{"attempts_left": otpErr.AttemptsLeft}
	}
	return resp
}

func respondWithJSON(w http.ResponseWriter, statusCode int, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		util.Error("Failed to encode response", util.ErrorField(err))
	}
}

// respondWithError maps the error taxonomy onto status codes and attaches
// Retry-After for rate limits and lockouts.
func respondWithError(w http.ResponseWriter, err error) {
	var rateErr *apperr.RateLimitError
	if errors.As(err, &rateErr) {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rateErr.RetryAfter.Seconds())))
	}
	var lockErr *apperr.AccountLockedError
	if errors.As(err, &lockErr) {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(lockErr.RetryAfter.Seconds())))
	}

	statusCode := statusCodeFor(err)
	if statusCode == http.StatusInternalServerError {
		// Infrastructure failures stay generic; details go to the log only.
		util.Error("Request failed", util.ErrorField(err))
		respondWithJSON(w, statusCode, Response{Success: false, Error: "Internal server error"})
		return
	}
	respondWithJSON(w, statusCode, errorResponse(err))
}

// statusCodeFor determines the appropriate HTTP status code for an error
func statusCodeFor(err error) int {
	var (
		validationErr *apperr.ValidationError
		authErr       *apperr.AuthError
		otpErr        *apperr.OtpError
		rateErr       *apperr.RateLimitError
		lockErr       *apperr.AccountLockedError
		tokenErr      *apperr.TokenError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &otpErr):
		return http.StatusBadRequest
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &tokenErr):
		return http.StatusUnauthorized
	case errors.As(err, &rateErr):
		return http.StatusTooManyRequests
	case errors.As(err, &lockErr):
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}
