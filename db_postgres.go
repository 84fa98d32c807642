package main

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/example/fittrack/internal/auth"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

type PostgresDB struct {
	db  *sql.DB
	dsn string
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{db: d, dsn: dsn}
	if err := p.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Init() error {
	// rely on migrations to create tables; just verify connectivity
	return p.db.Ping()
}

func (p *PostgresDB) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
func (p *PostgresDB) Close() error                  { return p.db.Close() }

const pgUserColumns = `id,name,email,password_hash,role,is_active,last_login,created_at,updated_at`

func (p *PostgresDB) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return scanPgUser(p.db.QueryRowContext(ctx, `SELECT `+pgUserColumns+` FROM users WHERE email = $1`, email))
}

func (p *PostgresDB) FindUserByID(ctx context.Context, id string) (*auth.User, error) {
	return scanPgUser(p.db.QueryRowContext(ctx, `SELECT `+pgUserColumns+` FROM users WHERE id = $1`, id))
}

func scanPgUser(row *sql.Row) (*auth.User, error) {
	var (
		u         auth.User
		role      string
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.IsActive, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, err
	}
	u.Role = auth.Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		u.LastLogin = &t
	}
	return &u, nil
}

func (p *PostgresDB) InsertUser(ctx context.Context, user *auth.User) error {
	var lastLogin sql.NullTime
	if user.LastLogin != nil {
		lastLogin = sql.NullTime{Time: *user.LastLogin, Valid: true}
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO users(`+pgUserColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		user.ID, user.Name, user.Email, user.PasswordHash, string(user.Role), user.IsActive, lastLogin,
		user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isPgUniqueViolation(err) {
			return auth.ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (p *PostgresDB) UpdateUserProfile(ctx context.Context, id, name, email string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE users SET name = $1, email = $2, updated_at = now() WHERE id = $3`, name, email, id)
	if err != nil && isPgUniqueViolation(err) {
		return auth.ErrDuplicateEmail
	}
	return requireOneRow(res, err)
}

func (p *PostgresDB) UpdateUserPassword(ctx context.Context, id, hash string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`, hash, id)
	return requireOneRow(res, err)
}

func (p *PostgresDB) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `UPDATE users SET last_login = $1 WHERE id = $2`, at, id)
	return requireOneRow(res, err)
}

func (p *PostgresDB) InsertRefreshToken(ctx context.Context, row *auth.RefreshTokenRow) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens(id,user_id,token,expires_at,created_at) VALUES($1,$2,$3,$4,$5)`,
		row.ID, row.UserID, row.Token, row.ExpiresAt, row.CreatedAt)
	return err
}

func (p *PostgresDB) DeleteRefreshToken(ctx context.Context, token string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (p *PostgresDB) DeleteRefreshTokensForUser(ctx context.Context, userID string) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *PostgresDB) FindValidRefreshToken(ctx context.Context, token string, now time.Time) (*auth.RefreshTokenRow, error) {
	var row auth.RefreshTokenRow
	err := p.db.QueryRowContext(ctx,
		`SELECT id,user_id,token,expires_at,created_at FROM refresh_tokens WHERE token = $1 AND expires_at > $2`,
		token, now).Scan(&row.ID, &row.UserID, &row.Token, &row.ExpiresAt, &row.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrRefreshTokenNotFound
		}
		return nil, err
	}
	row.ExpiresAt = row.ExpiresAt.UTC()
	row.CreatedAt = row.CreatedAt.UTC()
	return &row, nil
}

func (p *PostgresDB) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func isPgUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
