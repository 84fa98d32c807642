package main

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/example/fittrack/internal/auth"
)

// APIError represents a structured API error response
type APIError struct {
	Success bool   `json:"success"`
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{Code: code, Message: message})
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, map[string]any{
		"success": true,
		"message": message,
		"data":    data,
	})
}

// writeAuthError maps an error from the auth core onto the HTTP envelope.
// Unexpected errors are logged and reported as a generic 500.
func writeAuthError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, code, message := classifyError(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}
	writeError(w, status, code, message)
}

func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, auth.ErrWrongCurrentPassword):
		return http.StatusBadRequest, "INVALID_PASSWORD", "Current password is incorrect"
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT", err.Error()
	case errors.Is(err, auth.ErrUnknownRole):
		return http.StatusBadRequest, "INVALID_INPUT", "Unknown role"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized, "TOKEN_EXPIRED", "Token expired"
	case errors.Is(err, auth.ErrTokenRevoked):
		return http.StatusUnauthorized, "TOKEN_REVOKED", "Token has been revoked"
	case errors.Is(err, auth.ErrTokenInvalid):
		return http.StatusUnauthorized, "TOKEN_INVALID", "Invalid token"
	case errors.Is(err, auth.ErrUserInactive):
		return http.StatusUnauthorized, "USER_INACTIVE", "Account is deactivated"
	case errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound, "USER_NOT_FOUND", "User not found"
	case errors.Is(err, auth.ErrDuplicateEmail):
		return http.StatusConflict, "DUPLICATE_EMAIL", "User with this email already exists"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"
	}
}
