// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"

	"codeberg.org/oliverandrich/memberdir/internal/apperr"
	"codeberg.org/oliverandrich/memberdir/internal/auth"
	"codeberg.org/oliverandrich/memberdir/internal/i18n"
	"github.com/labstack/echo/v4"
)

// EmailChangeRequest is the request body for starting an email change.
type EmailChangeRequest struct {
	NewEmail        string `json:"newEmail"`
	CurrentPassword string `json:"currentPassword"`
}

// VerifyEmailChangeRequest is the request body for confirming a change.
type VerifyEmailChangeRequest struct {
	OTP string `json:"otp"`
}

// userID returns the id stored by the bearer middleware.
func userID(c echo.Context) (string, error) {
	id := auth.GetUserID(c.Request().Context())
	if id == "" {
		return "", apperr.ErrNotAuthenticated
	}
	return id, nil
}

// RequestEmailChange starts a change of the caller's email.
func (h *Handlers) RequestEmailChange(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	var req EmailChangeRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	res, err := h.emails.RequestChange(c.Request().Context(), id, req.NewEmail, req.CurrentPassword)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":          true,
		"emailMasked":      res.EmailMasked,
		"expiresInSeconds": res.ExpiresInSeconds,
	})
}

// VerifyEmailChange confirms the pending change. All earlier sessions end
// and the caller receives a fresh token pair.
func (h *Handlers) VerifyEmailChange(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	var req VerifyEmailChangeRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	changed, err := h.emails.VerifyChange(ctx, id, req.OTP)
	if err != nil {
		return err
	}

	if err := h.setRefreshCookie(c, changed.Tokens.RefreshToken); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":        true,
		"message":        i18n.T(ctx, "email_change_success"),
		"newAccessToken": changed.Tokens.AccessToken,
	})
}

// ResendEmailChangeOTP mails a new code for the pending change.
func (h *Handlers) ResendEmailChangeOTP(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}

	expires, err := h.emails.Resend(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":          true,
		"expiresInSeconds": expires,
	})
}

// CancelEmailChange drops the pending change.
func (h *Handlers) CancelEmailChange(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}

	if err := h.emails.Cancel(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}
