package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/example/fittrack/internal/auth"
	_ "modernc.org/sqlite"
)

// Store is the credential store the server runs on: the auth core's
// persistence boundary plus the lifecycle hooks main needs.
type Store interface {
	auth.Store
	Ping(ctx context.Context) error
	Close() error
}

// MemDB keeps everything in maps. Data is lost on restart.
type MemDB struct {
	mu     sync.Mutex
	users  map[string]*auth.User            // by id
	tokens map[string]*auth.RefreshTokenRow // by token string
}

func NewMemoryDB() *MemDB {
	return &MemDB{users: map[string]*auth.User{}, tokens: map[string]*auth.RefreshTokenRow{}}
}

func (m *MemDB) Ping(context.Context) error { return nil }
func (m *MemDB) Close() error              { return nil }

func (m *MemDB) FindUserByEmail(_ context.Context, email string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (m *MemDB) FindUserByID(_ context.Context, id string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return cloneUser(u), nil
	}
	return nil, auth.ErrUserNotFound
}

func (m *MemDB) InsertUser(_ context.Context, user *auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return auth.ErrDuplicateEmail
		}
	}
	m.users[user.ID] = cloneUser(user)
	return nil
}

func (m *MemDB) UpdateUserProfile(_ context.Context, id, name, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.ErrUserNotFound
	}
	for _, other := range m.users {
		if other.ID != id && other.Email == email {
			return auth.ErrDuplicateEmail
		}
	}
	u.Name = name
	u.Email = email
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemDB) UpdateUserPassword(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.ErrUserNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemDB) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.ErrUserNotFound
	}
	at = at.UTC()
	u.LastLogin = &at
	return nil
}

func (m *MemDB) InsertRefreshToken(_ context.Context, row *auth.RefreshTokenRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[row.Token]; ok {
		return errors.New("refresh token already stored")
	}
	cp := *row
	m.tokens[row.Token] = &cp
	return nil
}

func (m *MemDB) DeleteRefreshToken(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tokens[token]
	delete(m.tokens, token)
	return ok, nil
}

func (m *MemDB) DeleteRefreshTokensForUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for tok, row := range m.tokens {
		if row.UserID == userID {
			delete(m.tokens, tok)
			n++
		}
	}
	return n, nil
}

func (m *MemDB) FindValidRefreshToken(_ context.Context, token string, now time.Time) (*auth.RefreshTokenRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.tokens[token]
	if !ok || !row.ExpiresAt.After(now) {
		return nil, auth.ErrRefreshTokenNotFound
	}
	cp := *row
	return &cp, nil
}

func (m *MemDB) DeleteExpiredRefreshTokens(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for tok, row := range m.tokens {
		if row.ExpiresAt.Before(now) {
			delete(m.tokens, tok)
			n++
		}
	}
	return n, nil
}

func cloneUser(u *auth.User) *auth.User {
	cp := *u
	if u.LastLogin != nil {
		t := *u.LastLogin
		cp.LastLogin = &t
	}
	return &cp
}

// SQLiteDB stores users and refresh tokens in a single SQLite file.
// Timestamps are stored as unix milliseconds.
type SQLiteDB struct {
	db   *sql.DB
	path string
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time; SQLite serialises writes anyway and this avoids
	// SQLITE_BUSY under concurrent rotation.
	d.SetMaxOpenConns(1)

	s := &SQLiteDB{db: d, path: path}
	if err := s.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) Init() error {
	queries := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'staff' CHECK (role IN ('manager', 'staff')),
			is_active INTEGER NOT NULL DEFAULT 1,
			last_login INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS refresh_tokens (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token TEXT NOT NULL UNIQUE,
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_id ON refresh_tokens(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires_at ON refresh_tokens(expires_at);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("initialising sqlite schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteDB) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLiteDB) Close() error                  { return s.db.Close() }

const sqliteUserColumns = `id,name,email,password_hash,role,is_active,last_login,created_at,updated_at`

func (s *SQLiteDB) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE email = ?`, email))
}

func (s *SQLiteDB) FindUserByID(ctx context.Context, id string) (*auth.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, id))
}

func (s *SQLiteDB) scanUser(row *sql.Row) (*auth.User, error) {
	var (
		u                    auth.User
		role                 string
		active               int
		lastLogin            sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &active, &lastLogin, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, err
	}
	u.Role = auth.Role(role)
	u.IsActive = active != 0
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	if lastLogin.Valid {
		t := fromMillis(lastLogin.Int64)
		u.LastLogin = &t
	}
	return &u, nil
}

func (s *SQLiteDB) InsertUser(ctx context.Context, user *auth.User) error {
	active := 0
	if user.IsActive {
		active = 1
	}
	var lastLogin sql.NullInt64
	if user.LastLogin != nil {
		lastLogin = sql.NullInt64{Int64: user.LastLogin.UnixMilli(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(`+sqliteUserColumns+`) VALUES(?,?,?,?,?,?,?,?,?)`,
		user.ID, user.Name, user.Email, user.PasswordHash, string(user.Role), active, lastLogin,
		user.CreatedAt.UnixMilli(), user.UpdatedAt.UnixMilli())
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return auth.ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (s *SQLiteDB) UpdateUserProfile(ctx context.Context, id, name, email string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET name = ?, email = ?, updated_at = ? WHERE id = ?`,
		name, email, time.Now().UnixMilli(), id)
	if err != nil && isSQLiteUniqueViolation(err) {
		return auth.ErrDuplicateEmail
	}
	return requireOneRow(res, err)
}

func (s *SQLiteDB) UpdateUserPassword(ctx context.Context, id, hash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, time.Now().UnixMilli(), id)
	return requireOneRow(res, err)
}

func (s *SQLiteDB) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE id = ?`, at.UnixMilli(), id)
	return requireOneRow(res, err)
}

func (s *SQLiteDB) InsertRefreshToken(ctx context.Context, row *auth.RefreshTokenRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens(id,user_id,token,expires_at,created_at) VALUES(?,?,?,?,?)`,
		row.ID, row.UserID, row.Token, row.ExpiresAt.UnixMilli(), row.CreatedAt.UnixMilli())
	return err
}

func (s *SQLiteDB) DeleteRefreshToken(ctx context.Context, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = ?`, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteDB) DeleteRefreshTokensForUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteDB) FindValidRefreshToken(ctx context.Context, token string, now time.Time) (*auth.RefreshTokenRow, error) {
	var (
		row                  auth.RefreshTokenRow
		expiresAt, createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id,user_id,token,expires_at,created_at FROM refresh_tokens WHERE token = ? AND expires_at > ?`,
		token, now.UnixMilli()).Scan(&row.ID, &row.UserID, &row.Token, &expiresAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrRefreshTokenNotFound
		}
		return nil, err
	}
	row.ExpiresAt = fromMillis(expiresAt)
	row.CreatedAt = fromMillis(createdAt)
	return &row, nil
}

func (s *SQLiteDB) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func isSQLiteUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// requireOneRow turns an UPDATE that touched nothing into ErrUserNotFound.
func requireOneRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}
