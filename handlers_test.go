package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/fittrack/internal/auth"
	cfg "github.com/example/fittrack/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testConfig() *cfg.Config {
	return &cfg.Config{
		Port:             "0",
		DBAdapter:        "memory",
		JwtSecret:        "handler-test-access",
		RefreshSecret:    "handler-test-refresh",
		AccessTokenTTL:   time.Hour,
		RefreshTokenTTL:  24 * time.Hour,
		BcryptRounds:     bcrypt.MinCost,
		HashWorkers:      4,
		SweepSchedule:    "@daily",
		CORSOrigin:       "http://localhost:8080",
		RateLimitWindow:  15 * time.Minute,
		RateLimitMax:     1000,
		AuthRateLimitMax: 1000,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAuthenticator(t *testing.T, store Store) *auth.Authenticator {
	t.Helper()
	app, err := NewApp(context.Background(), testConfig(), store, discardLogger())
	require.NoError(t, err)
	return app.auth
}

type testServer struct {
	app     *App
	handler http.Handler
}

func newTestServer(t *testing.T, mutate ...func(*cfg.Config)) *testServer {
	t.Helper()
	c := testConfig()
	for _, m := range mutate {
		m(c)
	}
	app, err := NewApp(context.Background(), c, NewMemoryDB(), discardLogger())
	require.NoError(t, err)
	return &testServer{app: app, handler: app.Router()}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"error_code"`
	Error   string          `json:"error_message"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

type authPayload struct {
	User         auth.User `json:"user"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	Permissions  []string  `json:"permissions"`
}

// login signs in through the core rather than HTTP so tests don't spend
// the auth rate limit.
func (s *testServer) login(t *testing.T, email, password string) auth.TokenPair {
	t.Helper()
	_, pair, err := s.app.auth.AuthenticateCredentials(context.Background(), email, password)
	require.NoError(t, err)
	return pair
}

func (s *testServer) bootstrapManager(t *testing.T) auth.TokenPair {
	t.Helper()
	created, err := s.app.auth.Bootstrap(context.Background(), "Gym Owner", "owner@x.com", "owner-pass")
	require.NoError(t, err)
	require.True(t, created)
	return s.login(t, "owner@x.com", "owner-pass")
}

func TestAuthFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodPost, "/api/auth/register", "", registerRequest{
		Name: "Ada", Email: "ada@x.com", Password: "secret1",
	})
	require.Equal(t, http.StatusCreated, status, env.Error)
	assert.True(t, env.Success)
	registered := decodeData[authPayload](t, env)
	assert.Equal(t, auth.RoleStaff, registered.User.Role)
	assert.Contains(t, registered.Permissions, auth.PermMembersView)
	assert.NotContains(t, string(env.Data), "password")

	status, env = s.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Email: "ada@x.com", Password: "secret1"})
	require.Equal(t, http.StatusOK, status, env.Error)
	login := decodeData[authPayload](t, env)
	require.NotNil(t, login.User.LastLogin)

	status, env = s.do(t, http.MethodGet, "/api/auth/profile", login.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	profile := decodeData[authPayload](t, env)
	assert.Equal(t, "ada@x.com", profile.User.Email)

	status, env = s.do(t, http.MethodPost, "/api/auth/refresh-token", "", refreshRequest{RefreshToken: login.RefreshToken})
	require.Equal(t, http.StatusOK, status, env.Error)
	rotated := decodeData[auth.TokenPair](t, env)
	assert.NotEqual(t, login.RefreshToken, rotated.RefreshToken)

	status, env = s.do(t, http.MethodPost, "/api/auth/refresh-token", "", refreshRequest{RefreshToken: login.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "TOKEN_REVOKED", env.Code)
	assert.False(t, env.Success)

	status, _ = s.do(t, http.MethodPost, "/api/auth/logout-all", rotated.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)

	for _, tok := range []string{rotated.RefreshToken, registered.RefreshToken} {
		status, env = s.do(t, http.MethodPost, "/api/auth/refresh-token", "", refreshRequest{RefreshToken: tok})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "TOKEN_REVOKED", env.Code)
	}

	// Access tokens stay valid until they expire.
	status, _ = s.do(t, http.MethodGet, "/api/auth/validate", rotated.AccessToken, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestLogout(t *testing.T) {
	s := newTestServer(t)
	_, _, err := s.app.auth.Register(context.Background(), auth.RegisterInput{Name: "Ada", Email: "ada@x.com", Password: "secret1"})
	require.NoError(t, err)
	pair := s.login(t, "ada@x.com", "secret1")

	status, _ := s.do(t, http.MethodPost, "/api/auth/logout", pair.AccessToken, refreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusOK, status)

	// Logging out twice, or with no body, still succeeds.
	status, _ = s.do(t, http.MethodPost, "/api/auth/logout", pair.AccessToken, refreshRequest{RefreshToken: pair.RefreshToken})
	assert.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, http.MethodPost, "/api/auth/logout", pair.AccessToken, nil)
	assert.Equal(t, http.StatusOK, status)

	status, env := s.do(t, http.MethodPost, "/api/auth/refresh-token", "", refreshRequest{RefreshToken: pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "TOKEN_REVOKED", env.Code)
}

func TestLogoutWithChunkedEmptyBody(t *testing.T) {
	s := newTestServer(t)
	_, _, err := s.app.auth.Register(context.Background(), auth.RegisterInput{Name: "Ada", Email: "ada@x.com", Password: "secret1"})
	require.NoError(t, err)
	pair := s.login(t, "ada@x.com", "secret1")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", http.NoBody)
	req.ContentLength = -1
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	status, env := s.do(t, http.MethodPost, "/api/auth/logout", pair.AccessToken, "not-an-object")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_INPUT", env.Code)
}

func TestUpdateProfileOverHTTP(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	_, _, err := s.app.auth.Register(ctx, auth.RegisterInput{Name: "Ada", Email: "ada@x.com", Password: "secret1"})
	require.NoError(t, err)
	_, _, err = s.app.auth.Register(ctx, auth.RegisterInput{Name: "Eve", Email: "eve@x.com", Password: "secret1"})
	require.NoError(t, err)
	pair := s.login(t, "ada@x.com", "secret1")

	status, _ := s.do(t, http.MethodPut, "/api/auth/profile", "", updateProfileRequest{Name: "Ada L"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env := s.do(t, http.MethodPut, "/api/auth/profile", pair.AccessToken, updateProfileRequest{Name: "Ada Lovelace"})
	require.Equal(t, http.StatusOK, status, env.Error)
	updated := decodeData[authPayload](t, env)
	assert.Equal(t, "Ada Lovelace", updated.User.Name)
	assert.Equal(t, "ada@x.com", updated.User.Email)

	status, env = s.do(t, http.MethodPut, "/api/auth/profile", pair.AccessToken, updateProfileRequest{Email: "eve@x.com"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "DUPLICATE_EMAIL", env.Code)

	status, env = s.do(t, http.MethodPut, "/api/auth/profile", pair.AccessToken, updateProfileRequest{Email: "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_INPUT", env.Code)

	status, env = s.do(t, http.MethodPut, "/api/auth/profile", pair.AccessToken, updateProfileRequest{Email: "lovelace@x.com"})
	require.Equal(t, http.StatusOK, status, env.Error)

	status, env = s.do(t, http.MethodGet, "/api/auth/profile", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	profile := decodeData[authPayload](t, env)
	assert.Equal(t, "lovelace@x.com", profile.User.Email)
	assert.Equal(t, "Ada Lovelace", profile.User.Name)
}

func TestRegisterErrors(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodPost, "/api/auth/register", "", registerRequest{Name: "Ada", Email: "ada@x.com", Password: "secret1"})
	require.Equal(t, http.StatusCreated, status)

	tests := []struct {
		name   string
		body   registerRequest
		status int
		code   string
	}{
		{"duplicate email", registerRequest{Name: "Eve", Email: "ada@x.com", Password: "secret2"}, http.StatusConflict, "DUPLICATE_EMAIL"},
		{"short password", registerRequest{Name: "Eve", Email: "eve@x.com", Password: "123"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad email", registerRequest{Name: "Eve", Email: "eve", Password: "secret2"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown role", registerRequest{Name: "Eve", Email: "eve@x.com", Password: "secret2", Role: "owner"}, http.StatusBadRequest, "INVALID_INPUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := s.do(t, http.MethodPost, "/api/auth/register", "", tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, env.Code)
		})
	}
}

func TestRegisterManagerRequiresManager(t *testing.T) {
	s := newTestServer(t)
	manager := s.bootstrapManager(t)

	body := registerRequest{Name: "Second Boss", Email: "boss2@x.com", Password: "secret1", Role: "manager"}

	status, env := s.do(t, http.MethodPost, "/api/auth/register", "", body)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", env.Code)

	_, _, err := s.app.auth.Register(context.Background(), auth.RegisterInput{Name: "Staff", Email: "staff@x.com", Password: "secret1"})
	require.NoError(t, err)
	staff := s.login(t, "staff@x.com", "secret1")
	status, _ = s.do(t, http.MethodPost, "/api/auth/register", staff.AccessToken, body)
	assert.Equal(t, http.StatusForbidden, status)

	status, env = s.do(t, http.MethodPost, "/api/auth/register", manager.AccessToken, body)
	require.Equal(t, http.StatusCreated, status, env.Error)
	created := decodeData[authPayload](t, env)
	assert.Equal(t, auth.RoleManager, created.User.Role)
	assert.Equal(t, []string{"*"}, created.Permissions)
}

func TestLoginFailures(t *testing.T) {
	s := newTestServer(t)
	_, _, err := s.app.auth.Register(context.Background(), auth.RegisterInput{Name: "Ada", Email: "ada@x.com", Password: "secret1"})
	require.NoError(t, err)

	status, env := s.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Email: "ada@x.com", Password: "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_CREDENTIALS", env.Code)

	// Unknown accounts look identical to a wrong password.
	status, env2 := s.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Email: "nobody@x.com", Password: "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, env.Code, env2.Code)
	assert.Equal(t, env.Error, env2.Error)

	status, env = s.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Email: "ada@x.com"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_INPUT", env.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, "/api/auth/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "TOKEN_MISSING", env.Code)

	status, env = s.do(t, http.MethodGet, "/api/auth/profile", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "TOKEN_INVALID", env.Code)

	// A refresh token is not accepted as a bearer credential.
	_, pair, err := s.app.auth.Register(context.Background(), auth.RegisterInput{Name: "Ada", Email: "ada@x.com", Password: "secret1"})
	require.NoError(t, err)
	status, env = s.do(t, http.MethodGet, "/api/auth/profile", pair.RefreshToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "TOKEN_INVALID", env.Code)
}

func TestStaffForbiddenOnManagerRoutes(t *testing.T) {
	s := newTestServer(t)
	manager := s.bootstrapManager(t)
	_, _, err := s.app.auth.Register(context.Background(), auth.RegisterInput{Name: "Staff", Email: "staff@x.com", Password: "secret1"})
	require.NoError(t, err)
	staff := s.login(t, "staff@x.com", "secret1")

	routes := []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, "/api/auth/introspect", introspectRequest{Token: staff.AccessToken}},
		{http.MethodPost, "/api/admin/tokens/sweep", nil},
	}
	for _, rt := range routes {
		t.Run(rt.path, func(t *testing.T) {
			status, env := s.do(t, rt.method, rt.path, staff.AccessToken, rt.body)
			assert.Equal(t, http.StatusForbidden, status)
			assert.Equal(t, "FORBIDDEN", env.Code)

			status, env = s.do(t, rt.method, rt.path, manager.AccessToken, rt.body)
			assert.Equal(t, http.StatusOK, status, env.Error)
		})
	}
}

func TestPermissionsEndpoint(t *testing.T) {
	s := newTestServer(t)
	manager := s.bootstrapManager(t)
	_, _, err := s.app.auth.Register(context.Background(), auth.RegisterInput{Name: "Staff", Email: "staff@x.com", Password: "secret1"})
	require.NoError(t, err)
	staff := s.login(t, "staff@x.com", "secret1")

	status, env := s.do(t, http.MethodGet, "/api/auth/permissions", manager.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"role":"manager","permissions":["*"]}`, string(env.Data))

	status, env = s.do(t, http.MethodGet, "/api/auth/permissions", staff.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	var got struct {
		Role        auth.Role `json:"role"`
		Permissions []string  `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, auth.RoleStaff, got.Role)
	assert.Contains(t, got.Permissions, auth.PermCheckinManage)
	assert.NotContains(t, got.Permissions, auth.PermSettingsManage)
}

func TestIntrospect(t *testing.T) {
	s := newTestServer(t)
	manager := s.bootstrapManager(t)
	_, staff, err := s.app.auth.Register(context.Background(), auth.RegisterInput{Name: "Staff", Email: "staff@x.com", Password: "secret1"})
	require.NoError(t, err)

	introspect := func(token string) TokenInfo {
		status, env := s.do(t, http.MethodPost, "/api/auth/introspect", manager.AccessToken, introspectRequest{Token: token})
		require.Equal(t, http.StatusOK, status, env.Error)
		return decodeData[TokenInfo](t, env)
	}

	info := introspect(staff.AccessToken)
	assert.True(t, info.Active)
	assert.Equal(t, "access", info.TokenType)
	assert.Equal(t, auth.RoleStaff, info.Role)

	info = introspect(staff.RefreshToken)
	assert.True(t, info.Active)
	assert.Equal(t, "refresh", info.TokenType)

	// Introspection is read-only: the refresh token still rotates.
	_, _, err = s.app.auth.RedeemRefreshToken(context.Background(), staff.RefreshToken)
	require.NoError(t, err)

	info = introspect(staff.RefreshToken)
	assert.False(t, info.Active)
	info = introspect("garbage")
	assert.False(t, info.Active)
}

func TestAdminSweep(t *testing.T) {
	s := newTestServer(t)
	manager := s.bootstrapManager(t)
	ctx := context.Background()

	owner, err := s.app.store.FindUserByEmail(ctx, "owner@x.com")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.app.store.InsertRefreshToken(ctx, &auth.RefreshTokenRow{
			ID: fmt.Sprintf("old-%d", i), UserID: owner.ID, Token: fmt.Sprintf("old-%d", i),
			ExpiresAt: time.Now().Add(-time.Hour), CreatedAt: time.Now().Add(-48 * time.Hour),
		}))
	}

	status, env := s.do(t, http.MethodPost, "/api/admin/tokens/sweep", manager.AccessToken, nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	assert.Equal(t, sweepResponse{Removed: 3}, decodeData[sweepResponse](t, env))

	// The manager's own live session survives.
	_, _, err = s.app.auth.RedeemRefreshToken(ctx, manager.RefreshToken)
	require.NoError(t, err)
}

func TestChangePasswordOverHTTP(t *testing.T) {
	s := newTestServer(t)
	_, _, err := s.app.auth.Register(context.Background(), auth.RegisterInput{Name: "Ada", Email: "ada@x.com", Password: "secret1"})
	require.NoError(t, err)
	pair := s.login(t, "ada@x.com", "secret1")

	status, env := s.do(t, http.MethodPut, "/api/auth/change-password", pair.AccessToken,
		changePasswordRequest{CurrentPassword: "wrong1", NewPassword: "secret2"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_PASSWORD", env.Code)

	// The session is untouched by the failed attempt.
	status, _ = s.do(t, http.MethodGet, "/api/auth/profile", pair.AccessToken, nil)
	assert.Equal(t, http.StatusOK, status)

	status, env = s.do(t, http.MethodPut, "/api/auth/change-password", pair.AccessToken,
		changePasswordRequest{CurrentPassword: "secret1", NewPassword: "secret2"})
	require.Equal(t, http.StatusOK, status, env.Error)

	status, _ = s.do(t, http.MethodPost, "/api/auth/refresh-token", "", refreshRequest{RefreshToken: pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Email: "ada@x.com", Password: "secret2"})
	assert.Equal(t, http.StatusOK, status)
}

func TestAuthRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *cfg.Config) { c.AuthRateLimitMax = 5 })

	for i := 0; i < 5; i++ {
		status, _ := s.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Email: "a@x.com", Password: "wrong-pass"})
		require.Equal(t, http.StatusUnauthorized, status, "attempt %d", i+1)
	}
	status, env := s.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Email: "a@x.com", Password: "wrong-pass"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", env.Code)

	// Other clients keep their own budget.
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(`{"email":"a@x.com","password":"wrong-pass"}`))
	req.RemoteAddr = "198.51.100.7:4000"
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The general limiter is separate from the auth limiter.
	status, _ = s.do(t, http.MethodGet, "/api/auth/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute, "RATE_LIMIT_EXCEEDED", "slow down")
	rl.now = func() time.Time { return now }

	require.True(t, rl.getLimiter("198.51.100.1").Allow())
	require.True(t, rl.getLimiter("198.51.100.1").Allow())
	require.False(t, rl.getLimiter("198.51.100.1").Allow())
	rl.getLimiter("198.51.100.2")
	assert.Equal(t, 2, rl.Len())

	now = now.Add(30 * time.Second)
	rl.getLimiter("198.51.100.2")
	assert.Zero(t, rl.EvictIdle())

	now = now.Add(30 * time.Second)
	assert.Equal(t, 1, rl.EvictIdle())
	assert.Equal(t, 1, rl.Len())

	now = now.Add(time.Minute)
	assert.Equal(t, 1, rl.EvictIdle())
	assert.Zero(t, rl.Len())

	// A returning client starts with a full budget.
	assert.True(t, rl.getLimiter("198.51.100.1").Allow())
}

func TestAppEvictsIdleClients(t *testing.T) {
	s := newTestServer(t)
	_, _ = s.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Email: "a@x.com", Password: "wrong-pass"})
	require.Equal(t, 1, s.app.apiLimiter.Len())
	require.Equal(t, 1, s.app.authLimiter.Len())

	later := time.Now().Add(time.Hour)
	s.app.apiLimiter.now = func() time.Time { return later }
	s.app.authLimiter.now = func() time.Time { return later }
	s.app.evictIdleClients()

	assert.Zero(t, s.app.apiLimiter.Len())
	assert.Zero(t, s.app.authLimiter.Len())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.app.Start()
	s.app.Stop(ctx)
}

func TestHealthReadyAndMetrics(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ready":true}`, rec.Body.String())

	_, _ = s.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Email: "a@x.com", Password: "wrong-pass"})

	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `auth_events_total{event="login",outcome="failure"} 1`)
	assert.Contains(t, body, `path="/api/auth/login"`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestCORS(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:8080", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: name too short", auth.ErrInvalidInput), http.StatusBadRequest},
		{auth.ErrUnknownRole, http.StatusBadRequest},
		{auth.ErrWrongCurrentPassword, http.StatusBadRequest},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{auth.ErrTokenExpired, http.StatusUnauthorized},
		{auth.ErrTokenRevoked, http.StatusUnauthorized},
		{fmt.Errorf("%w: bad signature", auth.ErrTokenInvalid), http.StatusUnauthorized},
		{auth.ErrUserInactive, http.StatusUnauthorized},
		{auth.ErrUserNotFound, http.StatusNotFound},
		{auth.ErrDuplicateEmail, http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _, _ := classifyError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}

	_, _, msg := classifyError(errors.New("pq: password authentication failed"))
	assert.NotContains(t, msg, "pq")
}
