// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codeberg.org/oliverandrich/memberdir/internal/config"
	"codeberg.org/oliverandrich/memberdir/internal/i18n"
	"codeberg.org/oliverandrich/memberdir/internal/repository"
	"codeberg.org/oliverandrich/memberdir/internal/services/email"
	"codeberg.org/oliverandrich/memberdir/internal/services/ratelimit"
	"codeberg.org/oliverandrich/memberdir/internal/testutil"
	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:        "localhost",
			Port:        8080,
			BaseURL:     "http://localhost:8080",
			MaxBodySize: 1,
			Environment: "development",
		},
		Auth: config.AuthConfig{
			OTPPepper:          testutil.TestKey,
			RegisterRateLimit:  10,
			RegisterRateWindow: time.Hour,
		},
		Session: *testutil.SessionConfig(),
		Reaper: config.ReaperConfig{
			PendingSignupTTL: 7 * 24 * time.Hour,
			ExpiredRetention: 15 * 24 * time.Hour,
		},
	}
}

type testServer struct {
	e      *echo.Echo
	repo   *repository.Repository
	mailer *testutil.Mailer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, testConfig())
}

func newTestServerWith(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	require.NoError(t, i18n.Init())
	_, repo := testutil.NewTestDB(t)
	mailer := &testutil.Mailer{}
	limiter := ratelimit.NewSQLLimiter(repo, cfg.Auth.RegisterRateLimit, cfg.Auth.RegisterRateWindow, nil)

	e, err := New(cfg, repo, mailer, limiter)
	require.NoError(t, err)
	return &testServer{e: e, repo: repo, mailer: mailer}
}

func (s *testServer) do(method, path, body string, header map[string]string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	assert.Equal(t, "nosniff", rec.Header().Get(echo.HeaderXContentTypeOptions))
	assert.Empty(t, rec.Header().Get(echo.HeaderStrictTransportSecurity))
}

func TestTrailingSlash(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health/", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/nope", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"code":"NOT_FOUND"}`, rec.Body.String())
}

func TestBodyLimit(t *testing.T) {
	s := newTestServer(t)
	body := `{"fullName":"` + strings.Repeat("a", 2<<20) + `"}`

	rec := s.do(http.MethodPost, "/auth/register", body, nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestBearerRequired(t *testing.T) {
	s := newTestServer(t)
	routes := []struct{ method, path string }{
		{http.MethodPost, "/user/email/change-request"},
		{http.MethodPost, "/user/email/verify-change"},
		{http.MethodPost, "/user/email/resend-otp"},
		{http.MethodDelete, "/user/email/cancel-change"},
	}
	for _, r := range routes {
		t.Run(r.path, func(t *testing.T) {
			rec := s.do(r.method, r.path, "{}", map[string]string{echo.HeaderAuthorization: "Bearer nope"})
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"code":"NOT_AUTHENTICATED"}`, rec.Body.String())
		})
	}
}

func TestSignupToEmailChange(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/auth/register",
		`{"fullName":"Jane Doe","zid":"z1234567","email":"jane@x.com","password":"purple monkey dishwasher","confirmPassword":"purple monkey dishwasher"}`,
		map[string]string{"Accept-Language": "de"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	resume := decode(t, rec)["resumeToken"].(string)

	rec = s.do(http.MethodPost, "/auth/verify-signup",
		`{"resumeToken":"`+resume+`","otp":"`+s.mailer.Last(t).Code+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	access := decode(t, rec)["accessToken"].(string)
	bearer := map[string]string{echo.HeaderAuthorization: "Bearer " + access, "Accept-Language": "de"}

	rec = s.do(http.MethodPost, "/user/email/change-request",
		`{"newEmail":"new@x.com","currentPassword":"purple monkey dishwasher"}`, bearer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/user/email/verify-change", `{"otp":"`+s.mailer.Last(t).Code+`"}`, bearer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "E-Mail-Adresse erfolgreich geändert", body["message"])

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "refresh_token" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)

	rec = s.do(http.MethodPost, "/auth/logout", "", nil, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/auth/login", `{"email":"new@x.com","password":"purple monkey dishwasher"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshCookieSecureOnlyInProduction(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		baseURL     string
		want        bool
	}{
		{"development over http", "development", "http://localhost:8080", false},
		{"development over https", "development", "https://members.example.org", false},
		{"production", "production", "https://members.example.org", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Server.Environment = tt.environment
			cfg.Server.BaseURL = tt.baseURL
			s := newTestServerWith(t, cfg)
			testutil.NewTestUser(t, s.repo, "jane@x.com")

			rec := s.do(http.MethodPost, "/auth/login",
				`{"email":"jane@x.com","password":"`+testutil.TestPassword+`"}`, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			cookies := rec.Result().Cookies()
			require.Len(t, cookies, 1)
			assert.Equal(t, tt.want, cookies[0].Secure)
		})
	}
}

func TestNew_InvalidSecrets(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	cfg := testConfig()
	cfg.Auth.OTPPepper = "short"

	_, err := New(cfg, repo, email.NewLogMailer(), ratelimit.NewSQLLimiter(repo, 1, time.Hour, nil))

	assert.Error(t, err)
}

func TestNewMailer(t *testing.T) {
	cfg := testConfig()
	m, err := newMailer(cfg)
	require.NoError(t, err)
	assert.IsType(t, &email.LogMailer{}, m)

	cfg.SMTP = config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "noreply@example.com"}
	m, err = newMailer(cfg)
	require.NoError(t, err)
	assert.IsType(t, &email.Service{}, m)

	cfg = testConfig()
	cfg.Server.Environment = "production"
	_, err = newMailer(cfg)
	assert.ErrorIs(t, err, config.ErrMissingSecret)
}

func TestNewRegisterLimiter(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	cfg := testConfig()

	l, closeFn, err := newRegisterLimiter(ctx, cfg, repo)
	require.NoError(t, err)
	closeFn()
	assert.IsType(t, &ratelimit.SQLLimiter{}, l)

	mr := miniredis.RunT(t)
	cfg.Redis.URL = "redis://" + mr.Addr()
	l, closeFn, err = newRegisterLimiter(ctx, cfg, repo)
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &ratelimit.RedisLimiter{}, l)

	d, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 9, d.Remaining)

	cfg.Redis.URL = "not a url"
	_, _, err = newRegisterLimiter(ctx, cfg, repo)
	assert.Error(t, err)
}

func TestNewLogHandler(t *testing.T) {
	var buf bytes.Buffer
	h := newLogHandler(&buf, "warn", "json")

	assert.False(t, h.Enabled(context.Background(), -4))
	assert.True(t, h.Enabled(context.Background(), 4))

	tests := map[string]string{"debug": "DEBUG", "warning": "WARN", "error": "ERROR", "": "INFO", "bogus": "INFO"}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in).String(), in)
	}
}
