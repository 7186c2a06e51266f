// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"codeberg.org/oliverandrich/memberdir/internal/apperr"
	authsvc "codeberg.org/oliverandrich/memberdir/internal/services/auth"
	"codeberg.org/oliverandrich/memberdir/internal/services/otp"
	"codeberg.org/oliverandrich/memberdir/internal/services/ratelimit"
	"codeberg.org/oliverandrich/memberdir/internal/services/signup"
	"github.com/labstack/echo/v4"
)

// VerifySignupRequest is the request body for confirming a signup.
type VerifySignupRequest struct {
	ResumeToken string `json:"resumeToken"`
	OTP         string `json:"otp"`
}

// ResendOTPRequest is the request body for resending a signup code.
type ResendOTPRequest struct {
	ResumeToken string `json:"resumeToken"`
}

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a pending signup and mails its code. Well-formed
// attempts are limited per client address and email.
func (h *Handlers) Register(c echo.Context) error {
	var req signup.RegisterInput
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.signups.ValidateRegister(req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	decision, err := h.limiter.Allow(ctx, ratelimit.Key(c.RealIP(), authsvc.NormalizeEmail(req.Email)))
	if err != nil {
		return fmt.Errorf("checking register rate limit: %w", err)
	}
	h.setRateLimitHeaders(c, decision)
	if !decision.Allowed {
		seconds := int(math.Ceil(decision.RetryAfter(h.now()).Seconds()))
		slog.Warn("register_rate_limited", "ip", c.RealIP())
		return apperr.ErrTooManyRequests.WithDetails(map[string]any{"retry_after_seconds": seconds})
	}

	reg, err := h.signups.Register(ctx, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"success":     true,
		"userId":      reg.UserID,
		"resumeToken": reg.ResumeToken,
	})
}

// VerifySignup activates a signup and starts a session.
func (h *Handlers) VerifySignup(c echo.Context) error {
	var req VerifySignupRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	verified, err := h.signups.VerifySignup(c.Request().Context(), req.ResumeToken, req.OTP)
	if err != nil {
		return err
	}

	if err := h.setRefreshCookie(c, verified.Tokens.RefreshToken); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":     true,
		"userId":      verified.UserID,
		"accessToken": verified.Tokens.AccessToken,
	})
}

// ResendOTP mails a new signup code.
func (h *Handlers) ResendOTP(c echo.Context) error {
	var req ResendOTPRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	if err := h.signups.ResendSignupOTP(c.Request().Context(), req.ResumeToken); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":          true,
		"expiresInSeconds": otp.ExpiresInSeconds(),
	})
}

// Login authenticates with email and password.
func (h *Handlers) Login(c echo.Context) error {
	var req LoginRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	user, err := h.logins.Login(ctx, req.Email, req.Password)
	if err != nil {
		return err
	}

	tokens, err := h.sessions.IssueTokens(ctx, user.ID)
	if err != nil {
		return err
	}
	if err := h.setRefreshCookie(c, tokens.RefreshToken); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"accessToken": tokens.AccessToken,
	})
}

// Refresh exchanges the refresh cookie for a new token pair.
func (h *Handlers) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	tokens, err := h.sessions.Refresh(ctx, h.sessions.ReadRefreshCookie(c.Request()))
	if err != nil {
		if _, ok := apperr.As(err); ok {
			c.SetCookie(h.sessions.ClearRefreshCookie())
		}
		return err
	}

	if err := h.setRefreshCookie(c, tokens.RefreshToken); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"accessToken": tokens.AccessToken,
	})
}

// Logout ends every session of the cookie's user. The cookie is cleared
// whatever the outcome.
func (h *Handlers) Logout(c echo.Context) error {
	c.SetCookie(h.sessions.ClearRefreshCookie())

	if err := h.sessions.Logout(c.Request().Context(), h.sessions.ReadRefreshCookie(c.Request())); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}
