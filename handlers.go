package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/example/fittrack/internal/auth"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid JSON body")
		return false
	}
	return true
}

// decodeOptionalJSON is decodeJSON for requests whose body may be absent.
// An empty body, chunked or not, leaves v untouched.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid JSON body")
		return false
	}
	return true
}

func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	role := auth.Role(req.Role)
	// Only a signed-in manager may create another manager.
	if role == auth.RoleManager {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok || !auth.RequireRole(claims.Role, auth.RoleManager) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Only managers can create manager accounts")
			return
		}
	}

	user, pair, err := a.auth.Register(r.Context(), auth.RegisterInput{
		Name:     req.Name,
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
		Role:     role,
	})
	a.metrics.AuthEvent("register", err)
	if err != nil {
		writeAuthError(w, a.logger, err)
		return
	}

	perms, _ := auth.PermissionsFor(user.Role)
	writeSuccess(w, http.StatusCreated, "User registered successfully", authResponse{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Permissions:  perms,
	})
}

func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Email and password are required")
		return
	}

	user, pair, err := a.auth.AuthenticateCredentials(r.Context(), strings.TrimSpace(req.Email), req.Password)
	a.metrics.AuthEvent("login", err)
	if err != nil {
		writeAuthError(w, a.logger, err)
		return
	}

	perms, _ := auth.PermissionsFor(user.Role)
	writeSuccess(w, http.StatusOK, "Login successful", authResponse{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Permissions:  perms,
	})
}

func (a *App) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Refresh token is required")
		return
	}

	_, pair, err := a.auth.RedeemRefreshToken(r.Context(), req.RefreshToken)
	a.metrics.AuthEvent("refresh", err)
	if err != nil {
		writeAuthError(w, a.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Token refreshed successfully", pair)
}

// HandleLogout ends the session identified by the refresh token in the
// body. A missing or unknown token still logs out successfully.
func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	if req.RefreshToken != "" {
		err := a.auth.RevokeRefreshToken(r.Context(), req.RefreshToken)
		a.metrics.AuthEvent("logout", err)
		if err != nil {
			writeAuthError(w, a.logger, err)
			return
		}
	}

	writeSuccess(w, http.StatusOK, "Logout successful", nil)
}

func (a *App) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	err := a.auth.RevokeAllTokensForUser(r.Context(), claims.UserID)
	a.metrics.AuthEvent("logout_all", err)
	if err != nil {
		writeAuthError(w, a.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Logged out from all devices", nil)
}

func (a *App) HandleProfile(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	user, err := a.auth.Profile(r.Context(), claims.UserID)
	if err != nil {
		writeAuthError(w, a.logger, err)
		return
	}

	perms, _ := auth.PermissionsFor(user.Role)
	writeSuccess(w, http.StatusOK, "", profileResponse{User: user, Permissions: perms})
}

// HandleUpdateProfile changes the caller's name and email. Omitted fields
// keep their current value.
func (a *App) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := a.auth.UpdateProfile(r.Context(), claims.UserID, req.Name, strings.TrimSpace(req.Email))
	a.metrics.AuthEvent("update_profile", err)
	if err != nil {
		writeAuthError(w, a.logger, err)
		return
	}

	perms, _ := auth.PermissionsFor(user.Role)
	writeSuccess(w, http.StatusOK, "Profile updated successfully", profileResponse{User: user, Permissions: perms})
}

func (a *App) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Current and new password are required")
		return
	}

	err := a.auth.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword)
	a.metrics.AuthEvent("change_password", err)
	if err != nil {
		writeAuthError(w, a.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Password changed successfully. Please log in again.", nil)
}

// HandleTokenValidate echoes the verified claims of the caller's token.
func (a *App) HandleTokenValidate(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	writeSuccess(w, http.StatusOK, "Token is valid", map[string]any{
		"valid":  true,
		"claims": claims,
	})
}

func (a *App) HandlePermissions(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	perms, err := auth.PermissionsFor(claims.Role)
	if err != nil {
		writeAuthError(w, a.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", permissionsResponse{Role: claims.Role, Permissions: perms})
}
