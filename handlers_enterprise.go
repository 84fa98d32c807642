package main

import (
	"net/http"

	"github.com/example/fittrack/internal/auth"
)

// HandleTokenIntrospect reports whether a token is currently usable. Access
// tokens are checked by signature and expiry; refresh tokens additionally
// need their store row. Inspection never consumes a refresh token.
func (a *App) HandleTokenIntrospect(w http.ResponseWriter, r *http.Request) {
	var req introspectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Token is required")
		return
	}

	tokens := a.auth.Tokens()
	if claims, err := tokens.VerifyAccessToken(req.Token); err == nil {
		exp := claims.ExpiresAt
		writeSuccess(w, http.StatusOK, "", TokenInfo{
			Active:    true,
			TokenType: "access",
			UserID:    claims.UserID,
			Email:     claims.Email,
			Role:      claims.Role,
			ExpiresAt: &exp,
		})
		return
	}

	if claims, err := tokens.RedeemRefreshToken(r.Context(), req.Token); err == nil {
		exp := claims.ExpiresAt
		writeSuccess(w, http.StatusOK, "", TokenInfo{
			Active:    true,
			TokenType: "refresh",
			UserID:    claims.UserID,
			ExpiresAt: &exp,
		})
		return
	}

	writeSuccess(w, http.StatusOK, "", TokenInfo{Active: false})
}

// HandleSweepTokens removes expired refresh token rows immediately instead
// of waiting for the next scheduled sweep.
func (a *App) HandleSweepTokens(w http.ResponseWriter, r *http.Request) {
	n, err := a.sweeper.RunOnce(r.Context())
	if err != nil {
		writeAuthError(w, a.logger, err)
		return
	}

	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		a.logger.Info("manual token sweep", "user_id", claims.UserID, "removed", n)
	}
	writeSuccess(w, http.StatusOK, "Expired refresh tokens removed", sweepResponse{Removed: n})
}
