// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"codeberg.org/oliverandrich/memberdir/internal/models"
)

// SavePendingEmailChange creates or replaces the pending change of a user.
func (r *Repository) SavePendingEmailChange(ctx context.Context, userID, newEmail string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pending_email_changes (user_id, new_email, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   new_email = excluded.new_email,
		   created_at = excluded.created_at,
		   updated_at = excluded.updated_at`,
		userID, newEmail, now, now)
	return wrapError(err)
}

// GetPendingEmailChange retrieves the pending change of a user.
func (r *Repository) GetPendingEmailChange(ctx context.Context, userID string) (*models.PendingEmailChange, error) {
	var p models.PendingEmailChange
	err := r.db.GetContext(ctx, &p, `SELECT * FROM pending_email_changes WHERE user_id = ?`, userID)
	if err != nil {
		return nil, wrapError(err)
	}
	return &p, nil
}

// DeletePendingEmailChange removes the pending change of a user if present.
func (r *Repository) DeletePendingEmailChange(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pending_email_changes WHERE user_id = ?`, userID)
	return wrapError(err)
}

// DeletePendingEmailChanges removes the pending changes of all given users.
func (r *Repository) DeletePendingEmailChanges(ctx context.Context, userIDs []string) (int64, error) {
	return r.execIn(ctx, `DELETE FROM pending_email_changes WHERE user_id IN (?)`, userIDs)
}
