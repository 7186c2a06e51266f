// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"codeberg.org/oliverandrich/memberdir/internal/models"
)

// SaveOTPChallenge creates the challenge for its owner and purpose, or
// replaces the existing one with a clean state.
func (r *Repository) SaveOTPChallenge(ctx context.Context, c *models.OTPChallenge) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO otp_challenges
		   (id, owner_id, purpose, code_hash, expires_at, attempts, locked_at, last_sent_at,
		    resend_count, resend_window_start, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, NULL, ?, ?, ?, ?, ?)
		 ON CONFLICT (owner_id, purpose) DO UPDATE SET
		   id = excluded.id,
		   code_hash = excluded.code_hash,
		   expires_at = excluded.expires_at,
		   attempts = 0,
		   locked_at = NULL,
		   last_sent_at = excluded.last_sent_at,
		   resend_count = excluded.resend_count,
		   resend_window_start = excluded.resend_window_start,
		   created_at = excluded.created_at,
		   updated_at = excluded.updated_at`,
		c.ID, c.OwnerID, c.Purpose, c.CodeHash, c.ExpiresAt, c.LastSentAt,
		c.ResendCount, c.ResendWindowStart, c.CreatedAt, c.UpdatedAt)
	return wrapError(err)
}

// GetOTPChallenge retrieves the challenge of an owner for a purpose.
func (r *Repository) GetOTPChallenge(ctx context.Context, ownerID string, purpose models.OTPPurpose) (*models.OTPChallenge, error) {
	var c models.OTPChallenge
	err := r.db.GetContext(ctx, &c,
		`SELECT * FROM otp_challenges WHERE owner_id = ? AND purpose = ?`, ownerID, purpose)
	if err != nil {
		return nil, wrapError(err)
	}
	return &c, nil
}

// RecordFailedOTPAttempt increments the attempt counter of an unlocked
// challenge and locks it once maxAttempts is reached. Returns ErrNotFound
// when the challenge is missing or already locked.
func (r *Repository) RecordFailedOTPAttempt(ctx context.Context, id string, maxAttempts int, now time.Time) (int, bool, error) {
	var row struct {
		Attempts int  `db:"attempts"`
		Locked   bool `db:"locked"`
	}
	err := r.db.GetContext(ctx, &row,
		`UPDATE otp_challenges SET
		   attempts = attempts + 1,
		   locked_at = CASE WHEN attempts + 1 >= ? THEN ? ELSE NULL END,
		   updated_at = ?
		 WHERE id = ? AND locked_at IS NULL
		 RETURNING attempts, locked_at IS NOT NULL AS locked`,
		maxAttempts, now, now, id)
	if err != nil {
		return 0, false, wrapError(err)
	}
	return row.Attempts, row.Locked, nil
}

// ConsumeOTPChallenge deletes the challenge if the hash still matches and
// it is neither locked nor expired. Reports whether this call consumed it.
func (r *Repository) ConsumeOTPChallenge(ctx context.Context, id, codeHash string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM otp_challenges
		 WHERE id = ? AND code_hash = ? AND locked_at IS NULL AND expires_at > ?`,
		id, codeHash, now)
	if err != nil {
		return false, wrapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReissueOTPChallenge installs a fresh code on an existing challenge. The
// update only applies while last_sent_at is at or before sentBefore and the
// resend counter still equals prevCount, so concurrent resends cannot both win.
func (r *Repository) ReissueOTPChallenge(ctx context.Context, c *models.OTPChallenge, prevCount int, sentBefore time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE otp_challenges SET
		   code_hash = ?,
		   expires_at = ?,
		   attempts = 0,
		   locked_at = NULL,
		   last_sent_at = ?,
		   resend_count = ?,
		   resend_window_start = ?,
		   updated_at = ?
		 WHERE id = ? AND resend_count = ? AND last_sent_at <= ?`,
		c.CodeHash, c.ExpiresAt, c.LastSentAt, c.ResendCount, c.ResendWindowStart, c.UpdatedAt,
		c.ID, prevCount, sentBefore)
	if err != nil {
		return false, wrapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteOTPChallenge removes the challenge of an owner for a purpose.
func (r *Repository) DeleteOTPChallenge(ctx context.Context, ownerID string, purpose models.OTPPurpose) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM otp_challenges WHERE owner_id = ? AND purpose = ?`, ownerID, purpose)
	return wrapError(err)
}

// DeleteOTPChallengesForOwners removes every challenge owned by ownerIDs.
func (r *Repository) DeleteOTPChallengesForOwners(ctx context.Context, ownerIDs []string) (int64, error) {
	return r.execIn(ctx, `DELETE FROM otp_challenges WHERE owner_id IN (?)`, ownerIDs)
}
