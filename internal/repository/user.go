// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"codeberg.org/oliverandrich/memberdir/internal/models"
)

// CreateUser inserts a new signup record.
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, full_name, email, zid, password_hash, status, email_verified_at, token_version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.FullName, user.Email, user.ZID, user.PasswordHash, user.Status,
		user.EmailVerifiedAt, user.TokenVersion, user.CreatedAt, user.UpdatedAt)
	return wrapError(err)
}

// GetUserByID retrieves a user by ID.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = ?`, id); err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// FindUserByEmail retrieves the user with the given email and status.
func (r *Repository) FindUserByEmail(ctx context.Context, email string, status models.SignupStatus) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE email = ? AND status = ?`, email, status)
	if err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// FindUserByZID retrieves the user with the given zID and status.
func (r *Repository) FindUserByZID(ctx context.Context, zid string, status models.SignupStatus) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE zid = ? AND status = ?`, zid, status)
	if err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// ActivateUser moves a pending signup to ACTIVE. Returns ErrNotFound if
// the row is gone or no longer pending.
func (r *Repository) ActivateUser(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET status = ?, email_verified_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		models.StatusActive, now, now, id, models.StatusPendingVerification)
	if err != nil {
		return wrapError(err)
	}
	return requireAffected(res)
}

// UpdateUserEmail changes the login email of an active user.
func (r *Repository) UpdateUserEmail(ctx context.Context, id, email string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET email = ?, email_verified_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		email, now, now, id, models.StatusActive)
	if err != nil {
		return wrapError(err)
	}
	return requireAffected(res)
}

// GetTokenVersion returns the current refresh token version of a user.
func (r *Repository) GetTokenVersion(ctx context.Context, id string) (int64, error) {
	var version int64
	if err := r.db.GetContext(ctx, &version, `SELECT token_version FROM users WHERE id = ?`, id); err != nil {
		return 0, wrapError(err)
	}
	return version, nil
}

// IncrementTokenVersion atomically bumps the token version and returns the new value.
func (r *Repository) IncrementTokenVersion(ctx context.Context, id string, now time.Time) (int64, error) {
	var version int64
	err := r.db.GetContext(ctx, &version,
		`UPDATE users SET token_version = token_version + 1, updated_at = ? WHERE id = ? RETURNING token_version`,
		now, id)
	if err != nil {
		return 0, wrapError(err)
	}
	return version, nil
}

// ExpirePendingUsers moves every pending signup created before cutoff to
// EXPIRED in one statement and returns the affected ids.
func (r *Repository) ExpirePendingUsers(ctx context.Context, cutoff, now time.Time) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids,
		`UPDATE users SET status = ?, email_verified_at = NULL, updated_at = ?
		 WHERE status = ? AND created_at < ?
		 RETURNING id`,
		models.StatusExpired, now, models.StatusPendingVerification, cutoff)
	if err != nil {
		return nil, wrapError(err)
	}
	return ids, nil
}

// ListExpiredUserIDs returns ids of EXPIRED users last updated before cutoff.
func (r *Repository) ListExpiredUserIDs(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids,
		`SELECT id FROM users WHERE status = ? AND updated_at < ? ORDER BY updated_at`,
		models.StatusExpired, cutoff)
	if err != nil {
		return nil, wrapError(err)
	}
	return ids, nil
}

// CountExpiredUsers counts EXPIRED users last updated before cutoff.
func (r *Repository) CountExpiredUsers(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count,
		`SELECT count(*) FROM users WHERE status = ? AND updated_at < ?`,
		models.StatusExpired, cutoff)
	if err != nil {
		return 0, wrapError(err)
	}
	return count, nil
}

// DeleteExpiredUsers deletes EXPIRED users among ids.
func (r *Repository) DeleteExpiredUsers(ctx context.Context, ids []string) (int64, error) {
	return r.execIn(ctx, `DELETE FROM users WHERE status = 'EXPIRED' AND id IN (?)`, ids)
}
