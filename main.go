package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/fittrack/internal/auth"
	cfg "github.com/example/fittrack/internal/config"
	"github.com/example/fittrack/internal/obs"
	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
)

type App struct {
	store       Store
	auth        *auth.Authenticator
	sweeper     *auth.Sweeper
	metrics     *obs.Metrics
	logger      *slog.Logger
	corsOrigin  string
	apiLimiter  *RateLimiter
	authLimiter *RateLimiter
	janitor     *cron.Cron
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("write json", "error", err)
	}
}

// NewApp wires the auth core onto store according to c.
func NewApp(ctx context.Context, c *cfg.Config, store Store, logger *slog.Logger) (*App, error) {
	hasher, err := auth.NewHasher(c.BcryptRounds, c.HashWorkers)
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	tokens, err := auth.NewTokenService(store, auth.TokenConfig{
		AccessSecret:  c.JwtSecret,
		RefreshSecret: c.RefreshSecret,
		AccessTTL:     c.AccessTokenTTL,
		RefreshTTL:    c.RefreshTokenTTL,
	}, auth.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}

	authenticator, err := auth.NewAuthenticator(ctx, store, hasher, tokens, logger)
	if err != nil {
		return nil, err
	}

	metrics := obs.NewMetrics()
	sweeper, err := auth.NewSweeper(tokens, c.SweepSchedule, logger, metrics.TokensSwept)
	if err != nil {
		return nil, fmt.Errorf("token sweeper: %w", err)
	}

	app := &App{
		store:       store,
		auth:        authenticator,
		sweeper:     sweeper,
		metrics:     metrics,
		logger:      logger,
		corsOrigin:  c.CORSOrigin,
		apiLimiter:  NewRateLimiter(c.RateLimitMax, c.RateLimitWindow, "RATE_LIMIT_EXCEEDED", "Too many requests from this IP, please try again later."),
		authLimiter: NewRateLimiter(c.AuthRateLimitMax, c.RateLimitWindow, "RATE_LIMIT_EXCEEDED", "Too many authentication attempts, please try again later."),
		janitor:     cron.New(),
	}
	if _, err := app.janitor.AddFunc(fmt.Sprintf("@every %s", c.RateLimitWindow), app.evictIdleClients); err != nil {
		return nil, fmt.Errorf("rate limiter eviction: %w", err)
	}
	return app, nil
}

// Start runs the background jobs: the token sweep and rate limiter eviction.
func (a *App) Start() {
	a.sweeper.Start()
	a.janitor.Start()
}

// Stop halts the background jobs, waiting for running ones until ctx ends.
func (a *App) Stop(ctx context.Context) {
	a.sweeper.Stop(ctx)
	select {
	case <-a.janitor.Stop().Done():
	case <-ctx.Done():
	}
}

func (a *App) evictIdleClients() {
	n := a.apiLimiter.EvictIdle() + a.authLimiter.EvictIdle()
	a.logger.Debug("idle rate limit entries evicted", "removed", n)
}

// Router builds the HTTP handler tree.
func (a *App) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(a.metrics.Instrument)
	r.Use(a.Logging)

	// Health check endpoints (no auth required)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := a.store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(a.apiLimiter.Middleware)

	h := func(f http.HandlerFunc, mw ...func(http.Handler) http.Handler) http.Handler {
		var handler http.Handler = f
		for i := len(mw) - 1; i >= 0; i-- {
			handler = mw[i](handler)
		}
		return handler
	}
	limited := a.authLimiter.Middleware
	manager := a.RequireRole(auth.RoleManager)

	authAPI := api.PathPrefix("/auth").Subrouter()
	authAPI.Handle("/register", h(a.HandleRegister, limited, a.OptionalAuth)).Methods(http.MethodPost)
	authAPI.Handle("/login", h(a.HandleLogin, limited)).Methods(http.MethodPost)
	authAPI.Handle("/refresh-token", h(a.HandleRefresh, limited)).Methods(http.MethodPost)
	authAPI.Handle("/logout", h(a.HandleLogout, a.Authenticate)).Methods(http.MethodPost)
	authAPI.Handle("/logout-all", h(a.HandleLogoutAll, a.Authenticate)).Methods(http.MethodPost)
	authAPI.Handle("/profile", h(a.HandleProfile, a.Authenticate)).Methods(http.MethodGet)
	authAPI.Handle("/profile", h(a.HandleUpdateProfile, a.Authenticate)).Methods(http.MethodPut)
	authAPI.Handle("/change-password", h(a.HandleChangePassword, a.Authenticate)).Methods(http.MethodPut)
	authAPI.Handle("/validate", h(a.HandleTokenValidate, a.Authenticate)).Methods(http.MethodGet)
	authAPI.Handle("/permissions", h(a.HandlePermissions, a.Authenticate)).Methods(http.MethodGet)
	authAPI.Handle("/introspect", h(a.HandleTokenIntrospect, a.Authenticate, manager)).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(a.Authenticate)
	admin.Handle("/tokens/sweep", h(a.HandleSweepTokens, a.RequirePermission(auth.PermTokensManage))).Methods(http.MethodPost)

	// CORS wraps the router so preflight requests are answered even though
	// no route matches OPTIONS.
	return SecurityHeaders(a.CORS(r))
}

func openStore(c *cfg.Config, logger *slog.Logger) (Store, error) {
	switch c.DBAdapter {
	case "sqlite":
		s, err := NewSQLiteDB(c.SQLiteFile)
		if err != nil {
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
		logger.Info("using sqlite database", "file", c.SQLiteFile)
		return s, nil
	case "postgres":
		logger.Info("applying database migrations")
		if err := ApplyMigrations(c.PostgresDSN, logger); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		p, err := NewPostgresDB(c.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		logger.Info("connected to postgres database")
		return p, nil
	case "memory":
		logger.Warn("using in-memory database (not recommended for production)")
		return NewMemoryDB(), nil
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}
}

func main() {
	c, err := cfg.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := obs.NewLogger(c.LogLevel, c.LogFormat, os.Stdout)
	slog.SetDefault(logger)

	if err := run(c, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(c *cfg.Config, logger *slog.Logger) error {
	if c.UsesDefaultSecrets() {
		logger.Warn("using default token secrets; set JWT_SECRET and REFRESH_TOKEN_SECRET")
	}

	store, err := openStore(c, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	app, err := NewApp(ctx, c, store, logger)
	if err != nil {
		return err
	}

	if created, err := app.auth.Bootstrap(ctx, c.BootstrapName, c.BootstrapEmail, c.BootstrapPassword); err != nil {
		return err
	} else if created {
		logger.Info("bootstrap manager account created", "email", c.BootstrapEmail)
	}

	app.Start()

	srv := &http.Server{
		Handler:      app.Router(),
		Addr:         ":" + c.Port,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", c.Port, "env", c.Env, "db", c.DBAdapter)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	app.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("server exited properly")
	return nil
}
