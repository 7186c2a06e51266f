// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package middleware holds the echo middleware shared by all routes.
package middleware

import (
	"log/slog"
	"strings"

	"codeberg.org/oliverandrich/memberdir/internal/apperr"
	"codeberg.org/oliverandrich/memberdir/internal/auth"
	"codeberg.org/oliverandrich/memberdir/internal/services/session"
	"github.com/labstack/echo/v4"
)

// AccessTokenParser verifies access tokens.
type AccessTokenParser interface {
	ParseAccessToken(token string) (*session.Claims, error)
}

// RequireBearer rejects requests without a valid access token and stores
// the token's user id in the request context.
func RequireBearer(tokens AccessTokenParser) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return apperr.ErrNotAuthenticated
			}

			claims, err := tokens.ParseAccessToken(token)
			if err != nil {
				slog.Debug("bearer_rejected", "error", err)
				return apperr.ErrNotAuthenticated
			}

			ctx := auth.WithUserID(c.Request().Context(), claims.UserID(), claims.ID)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
