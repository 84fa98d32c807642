package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Registration limits.
const (
	minNameLength     = 2
	maxNameLength     = 100
	minPasswordLength = 6
)

// dummyHashInput is hashed once per Authenticator so logins for unknown
// emails spend the same bcrypt time as logins for known ones.
const dummyHashInput = "fittrack-timing-equaliser"

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     Role // empty means RoleStaff
}

// Authenticator is the entry point used by the HTTP layer. It combines
// the store, the password hasher and the token service into the login,
// registration, refresh and logout flows.
type Authenticator struct {
	store     Store
	hasher    *Hasher
	tokens    *TokenService
	logger    *slog.Logger
	now       func() time.Time
	dummyHash string
}

// NewAuthenticator wires the auth flows together.
func NewAuthenticator(ctx context.Context, store Store, hasher *Hasher, tokens *TokenService, logger *slog.Logger) (*Authenticator, error) {
	if store == nil || hasher == nil || tokens == nil {
		return nil, errors.New("authenticator requires store, hasher and token service")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	dummy, err := hasher.Hash(ctx, dummyHashInput)
	if err != nil {
		return nil, fmt.Errorf("preparing dummy hash: %w", err)
	}
	return &Authenticator{
		store:     store,
		hasher:    hasher,
		tokens:    tokens,
		logger:    logger.With("component", "auth"),
		now:       tokens.now,
		dummyHash: dummy,
	}, nil
}

// Tokens exposes the underlying token service.
func (a *Authenticator) Tokens() *TokenService { return a.tokens }

// Register validates input, creates the account and issues its first
// token pair. An existing email fails with ErrDuplicateEmail before any
// write happens.
func (a *Authenticator) Register(ctx context.Context, in RegisterInput) (*User, TokenPair, error) {
	if err := validateRegistration(&in); err != nil {
		return nil, TokenPair{}, err
	}

	if _, err := a.store.FindUserByEmail(ctx, in.Email); err == nil {
		return nil, TokenPair{}, ErrDuplicateEmail
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, TokenPair{}, fmt.Errorf("checking existing email: %w", err)
	}

	hash, err := a.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, TokenPair{}, err
	}

	now := a.now().UTC()
	user := &User{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.InsertUser(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, TokenPair{}, ErrDuplicateEmail
		}
		return nil, TokenPair{}, fmt.Errorf("creating user: %w", err)
	}

	// The account stays if issuing tokens fails; the user can still log in.
	pair, err := a.tokens.IssueTokenPair(ctx, user)
	if err != nil {
		return nil, TokenPair{}, err
	}

	a.logger.Info("user registered", "user_id", user.ID, "email", user.Email, "role", user.Role)
	return user, pair, nil
}

// AuthenticateCredentials checks email and password and issues a token
// pair. Unknown email, inactive account and wrong password are all
// reported as ErrInvalidCredentials.
func (a *Authenticator) AuthenticateCredentials(ctx context.Context, email, password string) (*User, TokenPair, error) {
	user, err := a.store.FindUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, TokenPair{}, fmt.Errorf("looking up user: %w", err)
		}
		a.hasher.Verify(ctx, password, a.dummyHash)
		return nil, TokenPair{}, ErrInvalidCredentials
	}

	if !a.hasher.Verify(ctx, password, user.PasswordHash) || !user.IsActive {
		a.logger.Warn("login rejected", "user_id", user.ID)
		return nil, TokenPair{}, ErrInvalidCredentials
	}

	now := a.now().UTC()
	if err := a.store.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, TokenPair{}, fmt.Errorf("recording login: %w", err)
	}
	user.LastLogin = &now

	pair, err := a.tokens.IssueTokenPair(ctx, user)
	if err != nil {
		return nil, TokenPair{}, err
	}

	a.logger.Info("user logged in", "user_id", user.ID)
	return user, pair, nil
}

// IssueTokensForUser mints a fresh token pair for an already verified user.
func (a *Authenticator) IssueTokensForUser(ctx context.Context, user *User) (TokenPair, error) {
	return a.tokens.IssueTokenPair(ctx, user)
}

// VerifyBearerAccessToken validates an access token presented as a bearer
// credential.
func (a *Authenticator) VerifyBearerAccessToken(token string) (*AccessClaims, error) {
	return a.tokens.VerifyAccessToken(token)
}

// RedeemRefreshToken rotates a refresh token: it is validated, its row is
// consumed, and a new pair is issued for the (still active) owner.
func (a *Authenticator) RedeemRefreshToken(ctx context.Context, token string) (*User, TokenPair, error) {
	claims, err := a.tokens.RedeemRefreshToken(ctx, token)
	if err != nil {
		return nil, TokenPair{}, err
	}

	user, err := a.store.FindUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, TokenPair{}, err
	}
	if !user.IsActive {
		return nil, TokenPair{}, ErrUserInactive
	}

	if err := a.tokens.ConsumeRefreshToken(ctx, token); err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			a.logger.Warn("refresh token consumed concurrently", "user_id", user.ID)
		}
		return nil, TokenPair{}, err
	}

	pair, err := a.tokens.IssueTokenPair(ctx, user)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}

// RevokeRefreshToken ends a single session. Unknown tokens are ignored.
func (a *Authenticator) RevokeRefreshToken(ctx context.Context, token string) error {
	return a.tokens.RevokeRefreshToken(ctx, token)
}

// RevokeAllTokensForUser ends every session of userID. Access tokens
// already issued stay valid until they expire.
func (a *Authenticator) RevokeAllTokensForUser(ctx context.Context, userID string) error {
	n, err := a.tokens.RevokeAll(ctx, userID)
	if err != nil {
		return err
	}
	a.logger.Info("refresh tokens revoked", "user_id", userID, "count", n)
	return nil
}

// ChangePassword replaces the password of userID after checking the
// current one, then revokes every refresh token of that user.
func (a *Authenticator) ChangePassword(ctx context.Context, userID, current, next string) error {
	if utf8.RuneCountInString(next) < minPasswordLength {
		return fmt.Errorf("%w: new password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	user, err := a.store.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !a.hasher.Verify(ctx, current, user.PasswordHash) {
		return ErrWrongCurrentPassword
	}

	hash, err := a.hasher.Hash(ctx, next)
	if err != nil {
		return err
	}
	if err := a.store.UpdateUserPassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if err := a.RevokeAllTokensForUser(ctx, userID); err != nil {
		return err
	}

	a.logger.Info("password changed", "user_id", userID)
	return nil
}

// Profile returns the account of userID.
func (a *Authenticator) Profile(ctx context.Context, userID string) (*User, error) {
	return a.store.FindUserByID(ctx, userID)
}

// UpdateProfile changes the name and email of userID. An empty field keeps
// its current value. Taking an email that belongs to another account fails
// with ErrDuplicateEmail.
func (a *Authenticator) UpdateProfile(ctx context.Context, userID, name, email string) (*User, error) {
	user, err := a.store.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = user.Name
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if email == "" {
		email = user.Email
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	if email != user.Email {
		owner, err := a.store.FindUserByEmail(ctx, email)
		switch {
		case err == nil && owner.ID != userID:
			return nil, ErrDuplicateEmail
		case err != nil && !errors.Is(err, ErrUserNotFound):
			return nil, fmt.Errorf("checking existing email: %w", err)
		}
	}

	if err := a.store.UpdateUserProfile(ctx, userID, name, email); err != nil {
		if errors.Is(err, ErrDuplicateEmail) || errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("updating profile: %w", err)
	}

	a.logger.Info("profile updated", "user_id", userID)
	return a.store.FindUserByID(ctx, userID)
}

// Bootstrap creates the first manager account if email is not registered
// yet. It returns true when an account was created.
func (a *Authenticator) Bootstrap(ctx context.Context, name, email, password string) (bool, error) {
	if email == "" {
		return false, nil
	}
	_, _, err := a.Register(ctx, RegisterInput{Name: name, Email: email, Password: password, Role: RoleManager})
	switch {
	case err == nil:
		a.logger.Info("bootstrap manager created", "email", email)
		return true, nil
	case errors.Is(err, ErrDuplicateEmail):
		return false, nil
	default:
		return false, fmt.Errorf("bootstrapping manager: %w", err)
	}
}

func validateRegistration(in *RegisterInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateName(in.Name); err != nil {
		return err
	}
	if err := validateEmail(in.Email); err != nil {
		return err
	}

	if utf8.RuneCountInString(in.Password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	if in.Role == "" {
		in.Role = RoleStaff
	}
	role, err := ParseRole(string(in.Role))
	if err != nil {
		return err
	}
	in.Role = role
	return nil
}

func validateName(name string) error {
	if n := utf8.RuneCountInString(name); n < minNameLength || n > maxNameLength {
		return fmt.Errorf("%w: name must be %d-%d characters", ErrInvalidInput, minNameLength, maxNameLength)
	}
	return nil
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: email is not a valid address", ErrInvalidInput)
	}
	return nil
}
