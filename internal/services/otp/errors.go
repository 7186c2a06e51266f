// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package otp

import (
	"errors"
	"math"
	"time"

	"codeberg.org/oliverandrich/memberdir/internal/apperr"
)

// Err maps a failed verification to the error sent to clients. It returns
// nil for OutcomeOK.
func (r Result) Err() error {
	switch r.Outcome {
	case OutcomeOK:
		return nil
	case OutcomeExpired:
		return apperr.ErrOTPExpired
	case OutcomeLocked:
		details := map[string]any{"otp_attempts": r.Attempts}
		if r.LockedAt != nil {
			details["locked_at"] = r.LockedAt.UTC().Format(time.RFC3339)
		}
		return apperr.ErrOTPLocked.WithDetails(details)
	default:
		return apperr.ErrOTPInvalid.WithDetails(map[string]any{"otp_attempts": r.Attempts})
	}
}

// ResendErr maps a Resend failure to the error sent to clients. missing is
// returned when the owner has no challenge. Other errors pass through.
func ResendErr(err, missing error) error {
	var cooldown *CooldownError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &cooldown):
		seconds := int(math.Ceil(cooldown.RetryAfter.Seconds()))
		return apperr.ErrOTPCooldown.WithDetails(map[string]any{"retry_after_seconds": seconds})
	case errors.Is(err, ErrResendLimit):
		return apperr.ErrOTPResendLimit
	case errors.Is(err, ErrNoChallenge):
		return missing
	}
	return err
}

// ExpiresInSeconds is TTL in whole seconds, as reported to clients.
func ExpiresInSeconds() int {
	return int(TTL / time.Second)
}
