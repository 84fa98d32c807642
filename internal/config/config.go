package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Known insecure defaults. They are accepted outside production so the
// service starts with zero configuration, and rejected in production.
const (
	DefaultJwtSecret     = "change-me-access"
	DefaultRefreshSecret = "change-me-refresh"
)

type Config struct {
	Port       string
	Env        string
	DBAdapter  string
	SQLiteFile string

	JwtSecret       string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	BcryptRounds    int
	HashWorkers     int
	SweepSchedule   string

	CORSOrigin        string
	RateLimitWindow   time.Duration
	RateLimitMax      int
	AuthRateLimitMax  int
	LogLevel          string
	LogFormat         string
	BootstrapName     string
	BootstrapEmail    string
	BootstrapPassword string

	// PostgreSQL connection settings
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// IsProduction reports whether ENV (or NODE_ENV) selects production.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// UsesDefaultSecrets reports whether either signing secret is still a
// known default.
func (c *Config) UsesDefaultSecrets() bool {
	return c.JwtSecret == DefaultJwtSecret || c.RefreshSecret == DefaultRefreshSecret
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}

	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)

	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}

	return dsn, nil
}

func New() (*Config, error) {
	c := &Config{
		Port:       getenv("PORT", "3001"),
		Env:        strings.ToLower(getenv("ENV", getenv("NODE_ENV", "development"))),
		DBAdapter:  getenv("DB_ADAPTER", "sqlite"),
		SQLiteFile: getenv("SQLITE_FILE", "./data/fittrack.db"),

		JwtSecret:     getenv("JWT_SECRET", DefaultJwtSecret),
		RefreshSecret: getenv("REFRESH_TOKEN_SECRET", DefaultRefreshSecret),
		SweepSchedule: getenv("TOKEN_SWEEP_SCHEDULE", "@daily"),

		CORSOrigin:        getenv("CORS_ORIGIN", "http://localhost:8080"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		LogFormat:         getenv("LOG_FORMAT", "json"),
		BootstrapName:     getenv("BOOTSTRAP_MANAGER_NAME", "Gym Manager"),
		BootstrapEmail:    getenv("BOOTSTRAP_MANAGER_EMAIL", ""),
		BootstrapPassword: getenv("BOOTSTRAP_MANAGER_PASSWORD", ""),

		PostgresDSN:      getenv("POSTGRES_DSN", ""),
		PostgresHost:     getenv("POSTGRES_HOST", getenv("DB_HOST", "localhost")),
		PostgresPort:     getenv("POSTGRES_PORT", getenv("DB_PORT", "5432")),
		PostgresUser:     getenv("POSTGRES_USER", getenv("DB_USER", "fittrack")),
		PostgresPassword: getenv("POSTGRES_PASSWORD", getenv("DB_PASSWORD", "")),
		PostgresDB:       getenv("POSTGRES_DB", getenv("DB_NAME", "fittrack")),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", getenv("DB_SSLMODE", "disable")),
	}

	var err error
	if c.AccessTokenTTL, err = ParseDuration(getenv("JWT_EXPIRES_IN", "7d")); err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRES_IN: %w", err)
	}
	if c.RefreshTokenTTL, err = ParseDuration(getenv("REFRESH_TOKEN_EXPIRES_IN", "30d")); err != nil {
		return nil, fmt.Errorf("invalid REFRESH_TOKEN_EXPIRES_IN: %w", err)
	}
	if c.RateLimitWindow, err = ParseDuration(getenv("RATE_LIMIT_WINDOW", "15m")); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
	}
	if c.BcryptRounds, err = getint("BCRYPT_ROUNDS", 12); err != nil {
		return nil, err
	}
	if c.HashWorkers, err = getint("HASH_WORKERS", 0); err != nil {
		return nil, err
	}
	if c.RateLimitMax, err = getint("RATE_LIMIT_MAX_REQUESTS", 100); err != nil {
		return nil, err
	}
	if c.AuthRateLimitMax, err = getint("AUTH_RATE_LIMIT_MAX", 5); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks cross-field rules. Production refuses to start with
// missing, default or shared signing secrets.
func (c *Config) Validate() error {
	switch c.DBAdapter {
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	case "sqlite":
		if c.SQLiteFile == "" {
			return errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	if c.JwtSecret == "" || c.RefreshSecret == "" {
		return errors.New("JWT_SECRET and REFRESH_TOKEN_SECRET must not be empty")
	}
	if c.IsProduction() {
		if c.JwtSecret == DefaultJwtSecret {
			return errors.New("JWT_SECRET must be set in production")
		}
		if c.RefreshSecret == DefaultRefreshSecret {
			return errors.New("REFRESH_TOKEN_SECRET must be set in production")
		}
	}
	if c.JwtSecret == c.RefreshSecret {
		return errors.New("JWT_SECRET and REFRESH_TOKEN_SECRET must differ")
	}

	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if c.RateLimitWindow <= 0 || c.RateLimitMax <= 0 || c.AuthRateLimitMax <= 0 {
		return errors.New("rate limits must be positive")
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid PORT: %s", c.Port)
	}

	return nil
}

// ParseDuration accepts Go duration syntax plus a whole-day suffix, so
// "7d", "30d" and "15m" are all valid.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("parsing days %q: %w", s, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func getint(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return n, nil
}
