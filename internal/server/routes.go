// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"codeberg.org/oliverandrich/memberdir/internal/handlers"
	"codeberg.org/oliverandrich/memberdir/internal/middleware"
	"codeberg.org/oliverandrich/memberdir/internal/services/session"
	"github.com/labstack/echo/v4"
)

func setupRoutes(e *echo.Echo, h *handlers.Handlers, sessions *session.Manager) {
	e.GET("/health", h.Health)

	a := e.Group("/auth")
	a.POST("/register", h.Register)
	a.POST("/verify-signup", h.VerifySignup)
	a.POST("/resend-otp", h.ResendOTP)
	a.POST("/login", h.Login)
	a.POST("/refresh", h.Refresh)
	a.POST("/logout", h.Logout)

	u := e.Group("/user/email", middleware.RequireBearer(sessions))
	u.POST("/change-request", h.RequestEmailChange)
	u.POST("/verify-change", h.VerifyEmailChange)
	u.POST("/resend-otp", h.ResendEmailChangeOTP)
	u.DELETE("/cancel-change", h.CancelEmailChange)
}
