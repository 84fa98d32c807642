package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for auth operations. Callers match them with errors.Is.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrDuplicateEmail     = errors.New("user with this email already exists")
	ErrUnknownRole        = errors.New("unknown role")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user account is inactive")

	// ErrWrongCurrentPassword is returned by ChangePassword. It wraps
	// ErrInvalidInput: the caller is authenticated, only the form is wrong.
	ErrWrongCurrentPassword = fmt.Errorf("%w: current password is incorrect", ErrInvalidInput)

	// ErrRefreshTokenNotFound is returned by stores when no matching,
	// unexpired refresh-token row exists.
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
)
