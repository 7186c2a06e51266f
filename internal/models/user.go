// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import (
	"time"
)

// SignupStatus is the lifecycle state of a registration.
type SignupStatus string

const (
	StatusPendingVerification SignupStatus = "PENDING_VERIFICATION"
	StatusActive              SignupStatus = "ACTIVE"
	StatusExpired             SignupStatus = "EXPIRED"
)

// transitions lists the only legal status changes. Purging is a delete, not a state.
var transitions = map[SignupStatus][]SignupStatus{
	StatusPendingVerification: {StatusActive, StatusExpired},
}

// Valid reports whether s is a known status.
func (s SignupStatus) Valid() bool {
	switch s {
	case StatusPendingVerification, StatusActive, StatusExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s SignupStatus) CanTransitionTo(next SignupStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// User is one registration attempt. Rows start pending and graduate to
// ACTIVE once the email is verified.
type User struct { //nolint:govet // fieldalignment: readability over optimization
	ID              string       `db:"id" json:"id"`
	FullName        string       `db:"full_name" json:"full_name"`
	Email           string       `db:"email" json:"email"`
	ZID             string       `db:"zid" json:"zid"`
	PasswordHash    string       `db:"password_hash" json:"-"`
	Status          SignupStatus `db:"status" json:"status"`
	EmailVerifiedAt *time.Time   `db:"email_verified_at" json:"email_verified_at,omitempty"`
	TokenVersion    int64        `db:"token_version" json:"-"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the account finished verification.
func (u *User) IsActive() bool {
	return u.Status == StatusActive
}
