// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package reaper expires abandoned signups and purges expired accounts.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"codeberg.org/oliverandrich/memberdir/internal/config"
	"codeberg.org/oliverandrich/memberdir/internal/repository"
)

// RateLimitRetention is how long finished rate limit windows are kept.
const RateLimitRetention = 24 * time.Hour

// ExpireResult reports the signups moved to EXPIRED.
type ExpireResult struct {
	ExpiredCount int
	UserIDs      []string
}

// PurgeResult reports the accounts deleted.
type PurgeResult struct {
	PurgedCount int
	UserIDs     []string
}

// Service runs the cleanup jobs. All jobs are idempotent and may overlap.
type Service struct {
	repo *repository.Repository
	cfg  config.ReaperConfig
	now  func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a reaper.
func NewService(repo *repository.Repository, cfg config.ReaperConfig, opts ...Option) *Service {
	s := &Service{
		repo: repo,
		cfg:  cfg,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExpireStaleSignups moves pending signups older than the pending TTL to
// EXPIRED and drops their resume tokens. Their codes are removed
// afterwards; a failure there is logged and does not fail the job.
func (s *Service) ExpireStaleSignups(ctx context.Context) (*ExpireResult, error) {
	now := s.now()
	cutoff := now.Add(-s.cfg.PendingSignupTTL)

	var ids []string
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		var err error
		ids, err = tx.ExpirePendingUsers(ctx, cutoff, now)
		if err != nil {
			return fmt.Errorf("expiring signups: %w", err)
		}
		if _, err := tx.DeleteResumeTokens(ctx, ids); err != nil {
			return fmt.Errorf("deleting resume tokens: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.DeleteOTPChallengesForOwners(ctx, ids); err != nil {
		slog.Warn("reaper_otp_cleanup_failed", "count", len(ids), "error", err)
	}

	slog.Info("reaper_expired", "count", len(ids))
	return &ExpireResult{ExpiredCount: len(ids), UserIDs: ids}, nil
}

// PurgeExpiredAccounts deletes accounts that have been EXPIRED for longer
// than the retention period, together with everything they own. Any
// failure rolls the whole purge back.
func (s *Service) PurgeExpiredAccounts(ctx context.Context) (*PurgeResult, error) {
	cutoff := s.now().Add(-s.cfg.ExpiredRetention)

	var (
		ids    []string
		purged int64
	)
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		var err error
		ids, err = tx.ListExpiredUserIDs(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("listing expired accounts: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if _, err := tx.DeleteOTPChallengesForOwners(ctx, ids); err != nil {
			return fmt.Errorf("deleting otp challenges: %w", err)
		}
		if _, err := tx.DeleteResumeTokens(ctx, ids); err != nil {
			return fmt.Errorf("deleting resume tokens: %w", err)
		}
		if _, err := tx.DeletePendingEmailChanges(ctx, ids); err != nil {
			return fmt.Errorf("deleting pending email changes: %w", err)
		}
		purged, err = tx.DeleteExpiredUsers(ctx, ids)
		if err != nil {
			return fmt.Errorf("deleting users: %w", err)
		}
		return nil
	})
	if err != nil {
		slog.Error("reaper_purge_failed", "error", err)
		return nil, err
	}

	slog.Info("reaper_purged", "count", purged)
	return &PurgeResult{PurgedCount: int(purged), UserIDs: ids}, nil
}

// ExpiredAccountsPurgeCount returns how many accounts PurgeExpiredAccounts
// would delete now.
func (s *Service) ExpiredAccountsPurgeCount(ctx context.Context) (int64, error) {
	count, err := s.repo.CountExpiredUsers(ctx, s.now().Add(-s.cfg.ExpiredRetention))
	if err != nil {
		return 0, fmt.Errorf("counting expired accounts: %w", err)
	}
	return count, nil
}

// PruneRateLimits drops rate limit windows older than RateLimitRetention.
func (s *Service) PruneRateLimits(ctx context.Context) (int64, error) {
	n, err := s.repo.PruneRateLimits(ctx, s.now().Add(-RateLimitRetention))
	if err != nil {
		return 0, fmt.Errorf("pruning rate limits: %w", err)
	}
	if n > 0 {
		slog.Debug("reaper_rate_limits_pruned", "count", n)
	}
	return n, nil
}
