// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"codeberg.org/oliverandrich/memberdir/internal/apperr"
	"github.com/labstack/echo/v4"
)

type errorBody struct {
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// ErrorHandler renders errors as `{code, details?}`. Errors that are not
// *apperr.Error are logged and reported as 500 INTERNAL.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := renderError(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request().Context(), "request_failed",
			"method", c.Request().Method,
			"uri", c.Request().RequestURI,
			"error", err,
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		slog.Error("failed to write error response", "error", err)
	}
}

func renderError(err error) (int, errorBody) {
	if ae, ok := apperr.As(err); ok {
		return ae.Status, errorBody{Code: ae.Code, Details: ae.Details}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		switch he.Code {
		case http.StatusUnauthorized:
			return he.Code, errorBody{Code: apperr.CodeNotAuthenticated}
		case http.StatusTooManyRequests:
			return he.Code, errorBody{Code: apperr.CodeTooManyRequests}
		}
		if he.Code < http.StatusInternalServerError {
			return he.Code, errorBody{Code: statusCode(he.Code)}
		}
	}

	return http.StatusInternalServerError, errorBody{Code: apperr.CodeInternal}
}

// statusCode turns an HTTP status into an error code, e.g. 404 NOT_FOUND.
func statusCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return apperr.CodeInternal
	}
	return strings.ToUpper(strings.ReplaceAll(text, " ", "_"))
}
