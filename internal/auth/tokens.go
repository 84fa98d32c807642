package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token lifetimes used when TokenConfig leaves them unset.
const (
	DefaultAccessTTL  = 7 * 24 * time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
	DefaultIssuer     = "fittrack"
)

// Audiences keep one kind of token from being accepted as the other even
// if both secrets were ever configured to the same value.
const (
	accessAudience  = "fittrack-access"
	refreshAudience = "fittrack-refresh"
)

// TokenConfig holds the signing material and lifetimes for TokenService.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// TokenOption customises a TokenService.
type TokenOption func(*TokenService)

// WithClock replaces time.Now. Used by tests to mint tokens in the past.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for rejected-token diagnostics.
func WithLogger(l *slog.Logger) TokenOption {
	return func(s *TokenService) {
		if l != nil {
			s.logger = l
		}
	}
}

// TokenService issues, verifies and revokes access and refresh tokens.
//
// Access tokens are self-contained: validity is signature plus expiry, and
// they cannot be revoked early. Refresh tokens are additionally backed by a
// store row; deleting the row is what revokes them.
//
// Thread Safety:
//   - Safe for concurrent use. The only state is immutable configuration.
type TokenService struct {
	store         Store
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
	logger        *slog.Logger
}

type accessTokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

type refreshTokenClaims struct {
	jwt.RegisteredClaims
}

// NewTokenService creates a TokenService backed by store.
func NewTokenService(store Store, cfg TokenConfig, opts ...TokenOption) (*TokenService, error) {
	if store == nil {
		return nil, errors.New("token service requires a store")
	}
	if strings.TrimSpace(cfg.AccessSecret) == "" || strings.TrimSpace(cfg.RefreshSecret) == "" {
		return nil, errors.New("access and refresh secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}

	s := &TokenService{
		store:         store,
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		issuer:        cfg.Issuer,
		now:           time.Now,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueAccessToken signs a short-lived token carrying the user's id, email
// and role. It returns the token and its expiry.
func (s *TokenService) IssueAccessToken(user *User) (string, time.Time, error) {
	if user == nil || user.ID == "" {
		return "", time.Time{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	now := s.now()
	exp := now.Add(s.accessTTL)
	claims := accessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{accessAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Email: user.Email,
		Role:  user.Role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}
	return signed, exp, nil
}

// VerifyAccessToken checks signature and expiry and returns the embedded
// identity. It fails with ErrTokenExpired or ErrTokenInvalid.
func (s *TokenService) VerifyAccessToken(raw string) (*AccessClaims, error) {
	var claims accessTokenClaims
	if err := s.parse(raw, &claims, s.accessSecret, accessAudience); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	role, err := ParseRole(string(claims.Role))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	out := &AccessClaims{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   role,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// IssueRefreshToken signs a long-lived token for userID and persists its
// row with expiry now + refresh TTL.
func (s *TokenService) IssueRefreshToken(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	now := s.now()
	exp := now.Add(s.refreshTTL)
	claims := refreshTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{refreshAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("signing refresh token: %w", err)
	}

	row := &RefreshTokenRow{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     signed,
		ExpiresAt: exp,
		CreatedAt: now,
	}
	if err := s.store.InsertRefreshToken(ctx, row); err != nil {
		return "", fmt.Errorf("storing refresh token: %w", err)
	}
	return signed, nil
}

// RedeemRefreshToken validates a refresh token. Both checks are required:
// the signature and embedded expiry, then a matching unexpired store row.
// It does not modify the store; rotation is the caller's explicit step.
func (s *TokenService) RedeemRefreshToken(ctx context.Context, raw string) (*RefreshClaims, error) {
	var claims refreshTokenClaims
	if err := s.parse(raw, &claims, s.refreshSecret, refreshAudience); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	row, err := s.store.FindValidRefreshToken(ctx, raw, s.now())
	if err != nil {
		if errors.Is(err, ErrRefreshTokenNotFound) {
			return nil, ErrTokenRevoked
		}
		return nil, fmt.Errorf("looking up refresh token: %w", err)
	}
	if row.UserID != claims.Subject {
		return nil, fmt.Errorf("%w: subject does not match stored owner", ErrTokenInvalid)
	}

	out := &RefreshClaims{UserID: claims.Subject, ExpiresAt: row.ExpiresAt}
	return out, nil
}

// RevokeRefreshToken deletes the row for raw. Revoking an unknown or
// already revoked token is not an error.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, raw string) error {
	if _, err := s.store.DeleteRefreshToken(ctx, raw); err != nil {
		return fmt.Errorf("revoking refresh token: %w", err)
	}
	return nil
}

// ConsumeRefreshToken deletes the row for raw and fails with
// ErrTokenRevoked if no row was there to delete. Of several concurrent
// consumers of the same token exactly one succeeds.
func (s *TokenService) ConsumeRefreshToken(ctx context.Context, raw string) error {
	deleted, err := s.store.DeleteRefreshToken(ctx, raw)
	if err != nil {
		return fmt.Errorf("consuming refresh token: %w", err)
	}
	if !deleted {
		return ErrTokenRevoked
	}
	return nil
}

// RevokeAll deletes every refresh-token row belonging to userID.
func (s *TokenService) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.DeleteRefreshTokensForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoking refresh tokens for user: %w", err)
	}
	return n, nil
}

// SweepExpired deletes rows whose expiry has passed.
func (s *TokenService) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredRefreshTokens(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweeping expired refresh tokens: %w", err)
	}
	return n, nil
}

// IssueTokenPair mints an access token and a persisted refresh token.
func (s *TokenService) IssueTokenPair(ctx context.Context, user *User) (TokenPair, error) {
	access, _, err := s.IssueAccessToken(user)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.IssueRefreshToken(ctx, user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *TokenService) parse(raw string, claims jwt.Claims, secret []byte, audience string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err == nil {
		return nil
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		s.logger.Debug("expired token rejected", "audience", audience, "token", tokenPrefix(raw))
		return ErrTokenExpired
	}
	s.logger.Debug("invalid token rejected", "audience", audience, "token", tokenPrefix(raw), "error", err)
	return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
}

// tokenPrefix returns a loggable fragment of a token.
func tokenPrefix(raw string) string {
	const n = 10
	if len(raw) > n {
		raw = raw[:n]
	}
	return raw + "..."
}
