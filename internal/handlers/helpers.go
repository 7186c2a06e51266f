// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"strconv"

	"codeberg.org/oliverandrich/memberdir/internal/apperr"
	"codeberg.org/oliverandrich/memberdir/internal/services/ratelimit"
	"github.com/labstack/echo/v4"
)

// MsgInvalidBody is the field message for bodies that are not valid JSON.
const MsgInvalidBody = "Request body must be a JSON object"

// bind decodes the JSON body into dst.
func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return apperr.Validation(map[string]string{"body": MsgInvalidBody})
	}
	return nil
}

// setRefreshCookie stores the refresh token in its cookie.
func (h *Handlers) setRefreshCookie(c echo.Context, token string) error {
	cookie, err := h.sessions.RefreshCookie(token)
	if err != nil {
		return err
	}
	c.SetCookie(cookie)
	return nil
}

func (h *Handlers) setRateLimitHeaders(c echo.Context, d ratelimit.Decision) {
	header := c.Response().Header()
	header.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	header.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	header.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		header.Set("Retry-After", strconv.Itoa(int(d.RetryAfter(h.now()).Seconds())))
	}
}
