// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package handlers implements the JSON endpoints of the account API.
package handlers

import (
	"net/http"
	"time"

	authsvc "codeberg.org/oliverandrich/memberdir/internal/services/auth"
	"codeberg.org/oliverandrich/memberdir/internal/services/emailchange"
	"codeberg.org/oliverandrich/memberdir/internal/services/ratelimit"
	"codeberg.org/oliverandrich/memberdir/internal/services/session"
	"codeberg.org/oliverandrich/memberdir/internal/services/signup"
	"github.com/labstack/echo/v4"
)

// Services are the collaborators the handlers delegate to.
type Services struct {
	Signups  *signup.Service
	Logins   *authsvc.Service
	Sessions *session.Manager
	Emails   *emailchange.Service
	Limiter  ratelimit.Limiter // registration limiter
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	signups  *signup.Service
	logins   *authsvc.Service
	sessions *session.Manager
	emails   *emailchange.Service
	limiter  ratelimit.Limiter
	now      func() time.Time
}

// New creates a new Handlers instance.
func New(svc Services) *Handlers {
	return &Handlers{
		signups:  svc.Signups,
		logins:   svc.Logins,
		sessions: svc.Sessions,
		emails:   svc.Emails,
		limiter:  svc.Limiter,
		now:      time.Now,
	}
}

// Health returns the health status.
func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
