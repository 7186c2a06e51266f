// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"
)

// HitRateLimit counts one hit against key in a fixed window and returns the
// count and start of the current window. An elapsed window restarts at now.
func (r *Repository) HitRateLimit(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	nowMs := now.UnixMilli()
	cutoff := now.Add(-window).UnixMilli()

	var row struct {
		Count       int   `db:"count"`
		WindowStart int64 `db:"window_start"`
	}
	err := r.db.GetContext(ctx, &row,
		`INSERT INTO rate_limits (key, count, window_start) VALUES (?, 1, ?)
		 ON CONFLICT (key) DO UPDATE SET
		   count = CASE WHEN rate_limits.window_start <= ? THEN 1 ELSE rate_limits.count + 1 END,
		   window_start = CASE WHEN rate_limits.window_start <= ? THEN excluded.window_start ELSE rate_limits.window_start END
		 RETURNING count, window_start`,
		key, nowMs, cutoff, cutoff)
	if err != nil {
		return 0, time.Time{}, wrapError(err)
	}
	return row.Count, time.UnixMilli(row.WindowStart).UTC(), nil
}

// PruneRateLimits deletes windows that started before cutoff.
func (r *Repository) PruneRateLimits(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE window_start < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, wrapError(err)
	}
	return res.RowsAffected()
}
