package auth

import (
	"context"
	"time"
)

// Store is the persistence boundary consumed by the auth core. Each method
// is a single atomic statement against the backing store; implementations
// are responsible for serialising concurrent writes to the same row.
type Store interface {
	// FindUserByEmail matches the email exactly as given.
	// Returns ErrUserNotFound when absent.
	FindUserByEmail(ctx context.Context, email string) (*User, error)

	// FindUserByID returns ErrUserNotFound when absent.
	FindUserByID(ctx context.Context, id string) (*User, error)

	// InsertUser returns ErrDuplicateEmail on a uniqueness violation and
	// leaves the store untouched.
	InsertUser(ctx context.Context, user *User) error

	// UpdateUserProfile sets name and email. It returns ErrDuplicateEmail if
	// email belongs to another user and ErrUserNotFound if id is absent.
	UpdateUserProfile(ctx context.Context, id, name, email string) error

	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error

	InsertRefreshToken(ctx context.Context, row *RefreshTokenRow) error

	// DeleteRefreshToken is idempotent. It reports whether a row was removed.
	DeleteRefreshToken(ctx context.Context, token string) (bool, error)

	DeleteRefreshTokensForUser(ctx context.Context, userID string) (int64, error)

	// FindValidRefreshToken returns the row for token if its expiry is after
	// now, otherwise ErrRefreshTokenNotFound.
	FindValidRefreshToken(ctx context.Context, token string, now time.Time) (*RefreshTokenRow, error)

	// DeleteExpiredRefreshTokens removes rows whose expiry is strictly
	// before now and returns how many were removed.
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}
