// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// PendingEmailChange is an in-flight email change. Its code lives in the
// email_change challenge owned by the same user.
type PendingEmailChange struct { //nolint:govet // fieldalignment: readability over optimization
	UserID    string    `db:"user_id" json:"user_id"`
	NewEmail  string    `db:"new_email" json:"new_email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
