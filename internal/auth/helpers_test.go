package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testAccessSecret  = "test-access-secret"
	testRefreshSecret = "test-refresh-secret"
)

// memStore is a minimal Store for package tests.
type memStore struct {
	mu     sync.Mutex
	users  map[string]*User
	tokens map[string]*RefreshTokenRow
}

func newMemStore() *memStore {
	return &memStore{users: map[string]*User{}, tokens: map[string]*RefreshTokenRow{}}
}

func (m *memStore) FindUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *memStore) FindUserByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) InsertUser(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return ErrDuplicateEmail
		}
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memStore) UpdateUserProfile(_ context.Context, id, name, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	for _, other := range m.users {
		if other.ID != id && other.Email == email {
			return ErrDuplicateEmail
		}
	}
	u.Name = name
	u.Email = email
	return nil
}

func (m *memStore) UpdateUserPassword(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (m *memStore) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.LastLogin = &at
	return nil
}

func (m *memStore) InsertRefreshToken(_ context.Context, row *RefreshTokenRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *row
	m.tokens[row.Token] = &cp
	return nil
}

func (m *memStore) DeleteRefreshToken(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tokens[token]
	delete(m.tokens, token)
	return ok, nil
}

func (m *memStore) DeleteRefreshTokensForUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, t := range m.tokens {
		if t.UserID == userID {
			delete(m.tokens, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) FindValidRefreshToken(_ context.Context, token string, now time.Time) (*RefreshTokenRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok || !t.ExpiresAt.After(now) {
		return nil, ErrRefreshTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) DeleteExpiredRefreshTokens(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, t := range m.tokens {
		if t.ExpiresAt.Before(now) {
			delete(m.tokens, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) tokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

func (m *memStore) userCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

func testTokenService(t *testing.T, store Store, opts ...TokenOption) *TokenService {
	t.Helper()
	svc, err := NewTokenService(store, TokenConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
	}, opts...)
	require.NoError(t, err)
	return svc
}

func testHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(bcrypt.MinCost, 4)
	require.NoError(t, err)
	return h
}

func testAuthenticator(t *testing.T, store Store) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator(context.Background(), store, testHasher(t), testTokenService(t, store), nil)
	require.NoError(t, err)
	return a
}

func testUser() *User {
	return &User{ID: "usr-1", Name: "Ada", Email: "ada@example.com", Role: RoleStaff, IsActive: true}
}
