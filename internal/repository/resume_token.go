// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"database/sql"
	"time"

	"codeberg.org/oliverandrich/memberdir/internal/models"
)

// SaveResumeToken stores the resume token of a signup, replacing any previous one.
func (r *Repository) SaveResumeToken(ctx context.Context, signupID, tokenHash string, expiresAt, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO resume_tokens (signup_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (signup_id) DO UPDATE SET
		   token_hash = excluded.token_hash,
		   expires_at = excluded.expires_at,
		   created_at = excluded.created_at`,
		signupID, tokenHash, expiresAt, now)
	return wrapError(err)
}

// GetResumeToken retrieves a resume token by hash.
func (r *Repository) GetResumeToken(ctx context.Context, tokenHash string) (*models.ResumeToken, error) {
	var token models.ResumeToken
	if err := r.db.GetContext(ctx, &token, `SELECT * FROM resume_tokens WHERE token_hash = ?`, tokenHash); err != nil {
		return nil, wrapError(err)
	}
	return &token, nil
}

// DeleteResumeToken deletes the resume token of a signup.
func (r *Repository) DeleteResumeToken(ctx context.Context, signupID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM resume_tokens WHERE signup_id = ?`, signupID)
	return wrapError(err)
}

// DeleteResumeTokens deletes the resume tokens of all given signups.
func (r *Repository) DeleteResumeTokens(ctx context.Context, signupIDs []string) (int64, error) {
	return r.execIn(ctx, `DELETE FROM resume_tokens WHERE signup_id IN (?)`, signupIDs)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
