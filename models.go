package main

import (
	"time"

	"github.com/example/fittrack/internal/auth"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type updateProfileRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type introspectRequest struct {
	Token string `json:"token"`
}

// authResponse is returned by register and login.
type authResponse struct {
	User         *auth.User         `json:"user"`
	AccessToken  string             `json:"accessToken"`
	RefreshToken string             `json:"refreshToken"`
	Permissions  auth.PermissionSet `json:"permissions"`
}

type profileResponse struct {
	User        *auth.User         `json:"user"`
	Permissions auth.PermissionSet `json:"permissions"`
}

type permissionsResponse struct {
	Role        auth.Role          `json:"role"`
	Permissions auth.PermissionSet `json:"permissions"`
}

// TokenInfo represents token metadata for introspection
type TokenInfo struct {
	Active    bool       `json:"active"`
	TokenType string     `json:"token_type,omitempty"`
	UserID    string     `json:"sub,omitempty"`
	Email     string     `json:"email,omitempty"`
	Role      auth.Role  `json:"role,omitempty"`
	ExpiresAt *time.Time `json:"exp,omitempty"`
}

type sweepResponse struct {
	Removed int64 `json:"removed"`
}
