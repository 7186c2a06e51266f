// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// OTPPurpose distinguishes the flows that share the challenge table.
type OTPPurpose string

const (
	PurposeSignup      OTPPurpose = "signup"
	PurposeEmailChange OTPPurpose = "email_change"
)

// OTPChallenge is the stored state of a one-time code for one owner and purpose.
type OTPChallenge struct { //nolint:govet // fieldalignment: readability over optimization
	ID                string     `db:"id" json:"id"`
	OwnerID           string     `db:"owner_id" json:"owner_id"`
	Purpose           OTPPurpose `db:"purpose" json:"purpose"`
	CodeHash          string     `db:"code_hash" json:"-"` // HMAC-SHA256
	ExpiresAt         time.Time  `db:"expires_at" json:"expires_at"`
	Attempts          int        `db:"attempts" json:"attempts"`
	LockedAt          *time.Time `db:"locked_at" json:"locked_at,omitempty"`
	LastSentAt        time.Time  `db:"last_sent_at" json:"last_sent_at"`
	ResendCount       int        `db:"resend_count" json:"resend_count"`
	ResendWindowStart time.Time  `db:"resend_window_start" json:"resend_window_start"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// IsLocked reports whether too many wrong codes were submitted.
func (c *OTPChallenge) IsLocked() bool {
	return c.LockedAt != nil
}

// IsExpired reports whether the code can no longer be used at now.
func (c *OTPChallenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
