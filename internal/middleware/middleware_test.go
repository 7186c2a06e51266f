// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codeberg.org/oliverandrich/memberdir/internal/apperr"
	"codeberg.org/oliverandrich/memberdir/internal/auth"
	"codeberg.org/oliverandrich/memberdir/internal/i18n"
	"codeberg.org/oliverandrich/memberdir/internal/middleware"
	"codeberg.org/oliverandrich/memberdir/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireBearer(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	clock := testutil.NewClock(time.Now())
	sessions := testutil.NewSessionManager(t, repo, clock.Now)
	access, err := sessions.IssueAccessToken("user-1")
	require.NoError(t, err)
	refresh, err := sessions.IssueRefreshToken("user-1", 0)
	require.NoError(t, err)

	var gotUser string
	next := func(c echo.Context) error {
		gotUser = auth.GetUserID(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	}
	handler := middleware.RequireBearer(sessions)(next)

	tests := []struct {
		name   string
		header string
		ok     bool
	}{
		{"valid token", "Bearer " + access, true},
		{"lower case scheme", "bearer " + access, true},
		{"missing header", "", false},
		{"wrong scheme", "Basic " + access, false},
		{"empty token", "Bearer ", false},
		{"refresh token", "Bearer " + refresh, false},
		{"garbage", "Bearer nope", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUser = ""
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/user/email/resend-otp", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()

			err := handler(e.NewContext(req, rec))

			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, "user-1", gotUser)
				return
			}
			assert.ErrorIs(t, err, apperr.ErrNotAuthenticated)
			assert.Empty(t, gotUser)
		})
	}
}

func TestRequireBearer_ExpiredToken(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	clock := testutil.NewClock(time.Now())
	sessions := testutil.NewSessionManager(t, repo, clock.Now)
	access, err := sessions.IssueAccessToken("user-1")
	require.NoError(t, err)
	clock.Advance(time.Hour)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+access)

	err = middleware.RequireBearer(sessions)(func(echo.Context) error { return nil })(e.NewContext(req, httptest.NewRecorder()))
	assert.ErrorIs(t, err, apperr.ErrNotAuthenticated)
}

func TestLocale(t *testing.T) {
	require.NoError(t, i18n.Init())

	tests := []struct {
		header string
		want   string
	}{
		{"de-DE,de;q=0.9", "Mitgliederverzeichnis"},
		{"en-US", "Member Directory"},
		{"", "Member Directory"},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			var got string
			e := echo.New()
			e.Use(middleware.Locale())
			e.GET("/", func(c echo.Context) error {
				got = i18n.T(c.Request().Context(), "app_name")
				return c.NoContent(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Accept-Language", tt.header)
			}
			e.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequestLogger_RendersErrorOnce(t *testing.T) {
	e := echo.New()
	e.Use(middleware.RequestLogger())
	e.GET("/fail", func(echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}
