package auth

import (
	"fmt"
	"time"
)

// Role is an authorisation tier. The set is closed: see ParseRole.
type Role string

const (
	// RoleManager runs the gym and holds every permission.
	RoleManager Role = "manager"

	// RoleStaff handles the front desk: members, payments and check-ins.
	RoleStaff Role = "staff"
)

// Roles lists every valid role.
var Roles = []Role{RoleManager, RoleStaff}

// ParseRole converts a raw string into a Role. An empty string is not a
// role; callers that want a default must apply it first.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleManager:
		return RoleManager, nil
	case RoleStaff:
		return RoleStaff, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// User is a human account able to sign in.
type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // never serialised
	Role         Role       `json:"role"`
	IsActive     bool       `json:"isActive"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// RefreshTokenRow is the persisted half of a refresh token. The row ID is
// independent of the token string so the string can be looked up directly.
type RefreshTokenRow struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// TokenPair is returned by login, registration and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// AccessClaims is the verified content of an access token.
type AccessClaims struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RefreshClaims is the verified content of a refresh token.
type RefreshClaims struct {
	UserID    string
	ExpiresAt time.Time
}
