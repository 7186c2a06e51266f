// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// ResumeToken lets a caller continue a pending signup. Only the SHA256 hash is stored.
type ResumeToken struct { //nolint:govet // fieldalignment: readability over optimization
	SignupID  string    `db:"signup_id" json:"signup_id"`
	TokenHash string    `db:"token_hash" json:"-"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// IsExpired reports whether the token is no longer usable at now.
func (t *ResumeToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
