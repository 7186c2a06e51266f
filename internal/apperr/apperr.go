// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package apperr defines the error codes returned to API clients.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned in the `code` field of error bodies.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeEmailExists          = "EMAIL_EXISTS"
	CodeZIDExists            = "ZID_EXISTS"
	CodePendingVerification  = "PENDING_VERIFICATION_EXISTS"
	CodeTooManyRequests      = "TOO_MANY_REQUESTS"
	CodeNotAuthenticated     = "NOT_AUTHENTICATED"
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeAccountNotActive     = "ACCOUNT_NOT_ACTIVE"
	CodeInvalidResumeToken   = "INVALID_RESUME_TOKEN"
	CodeInvalidRefreshToken  = "INVALID_REFRESH_TOKEN"
	CodeUserNotFound         = "USER_NOT_FOUND"
	CodeNoPendingEmailChange = "NO_PENDING_EMAIL_CHANGE"
	CodeOTPExpired           = "OTP_EXPIRED"
	CodeOTPInvalid           = "OTP_INVALID"
	CodeOTPLocked            = "OTP_LOCKED"
	CodeOTPCooldown          = "OTP_COOLDOWN"
	CodeOTPResendLimit       = "OTP_RESEND_LIMIT"
	CodeInternal             = "INTERNAL"
)

// Error is an expected failure with a stable code and HTTP status.
type Error struct { //nolint:govet // fieldalignment: readability over optimization
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// New creates an Error.
func New(status int, code string) *Error {
	return &Error{Status: status, Code: code}
}

// Validation returns a 400 VALIDATION_ERROR with field messages.
func Validation(fields map[string]string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: CodeValidation, Details: fields}
}

// Internal wraps an unexpected failure. Its cause is never sent to clients.
func Internal(err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: CodeInternal, Err: err}
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Sentinels for errors without details. Use WithDetails to attach some.
var (
	ErrEmailExists          = New(http.StatusConflict, CodeEmailExists)
	ErrZIDExists            = New(http.StatusConflict, CodeZIDExists)
	ErrPendingVerification  = New(http.StatusConflict, CodePendingVerification)
	ErrTooManyRequests      = New(http.StatusTooManyRequests, CodeTooManyRequests)
	ErrNotAuthenticated     = New(http.StatusUnauthorized, CodeNotAuthenticated)
	ErrInvalidCredentials   = New(http.StatusUnauthorized, CodeInvalidCredentials)
	ErrAccountNotActive     = New(http.StatusForbidden, CodeAccountNotActive)
	ErrInvalidResumeToken   = New(http.StatusBadRequest, CodeInvalidResumeToken)
	ErrInvalidRefreshToken  = New(http.StatusUnauthorized, CodeInvalidRefreshToken)
	ErrUserNotFound         = New(http.StatusNotFound, CodeUserNotFound)
	ErrNoPendingEmailChange = New(http.StatusNotFound, CodeNoPendingEmailChange)
	ErrOTPExpired           = New(http.StatusBadRequest, CodeOTPExpired)
	ErrOTPInvalid           = New(http.StatusBadRequest, CodeOTPInvalid)
	ErrOTPLocked            = New(http.StatusLocked, CodeOTPLocked)
	ErrOTPCooldown          = New(http.StatusTooManyRequests, CodeOTPCooldown)
	ErrOTPResendLimit       = New(http.StatusTooManyRequests, CodeOTPResendLimit)
)
