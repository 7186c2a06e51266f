// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package emailchange lets an active member move their login to a new
// address after confirming it with a one-time code.
package emailchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"codeberg.org/oliverandrich/memberdir/internal/apperr"
	"codeberg.org/oliverandrich/memberdir/internal/models"
	"codeberg.org/oliverandrich/memberdir/internal/repository"
	"codeberg.org/oliverandrich/memberdir/internal/services/auth"
	"codeberg.org/oliverandrich/memberdir/internal/services/email"
	"codeberg.org/oliverandrich/memberdir/internal/services/otp"
	"codeberg.org/oliverandrich/memberdir/internal/services/session"
	"codeberg.org/oliverandrich/memberdir/internal/validation"
)

// Field messages of VALIDATION_ERROR responses.
const (
	MsgWrongPassword = "Current password is incorrect"
	MsgSameEmail     = "New email must differ from the current email"
)

type requestInput struct {
	NewEmail        string `json:"newEmail" validate:"required,email,max=254"`
	CurrentPassword string `json:"currentPassword" validate:"required"`
}

type verifyInput struct {
	Code string `json:"otp" validate:"required,len=6,numeric"`
}

// Requested describes a started change.
type Requested struct {
	EmailMasked      string
	ExpiresInSeconds int
}

// Changed is the result of a confirmed change.
type Changed struct {
	Email  string
	Tokens *session.Tokens
}

// Service runs the email change flow.
type Service struct {
	repo     *repository.Repository
	otp      *otp.Engine
	sessions *session.Manager
	mailer   email.Mailer
	validate *validation.Validator
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an email change service.
func NewService(repo *repository.Repository, engine *otp.Engine, sessions *session.Manager,
	mailer email.Mailer, validate *validation.Validator, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		otp:      engine,
		sessions: sessions,
		mailer:   mailer,
		validate: validate,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestChange starts a change to newEmail, replacing any pending one,
// and mails a code to the new address.
func (s *Service) RequestChange(ctx context.Context, userID, newEmail, currentPassword string) (*Requested, error) {
	newEmail = auth.NormalizeEmail(newEmail)
	if err := s.validate.Struct(requestInput{NewEmail: newEmail, CurrentPassword: currentPassword}); err != nil {
		return nil, err
	}

	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(user.PasswordHash, currentPassword) {
		slog.Warn("email_change_rejected", "user_id", userID, "reason", "invalid_password")
		return nil, apperr.Validation(map[string]string{"currentPassword": MsgWrongPassword})
	}
	if newEmail == user.Email {
		return nil, apperr.Validation(map[string]string{"newEmail": MsgSameEmail})
	}

	owner := otp.Owner{ID: userID, Purpose: models.PurposeEmailChange}
	var code string
	err = s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		taken, err := emailTaken(ctx, tx, newEmail, userID)
		if err != nil {
			return err
		}
		if taken {
			return apperr.ErrEmailExists
		}
		if err := tx.SavePendingEmailChange(ctx, userID, newEmail, s.now()); err != nil {
			return fmt.Errorf("saving pending change: %w", err)
		}
		code, err = s.otp.Issue(ctx, tx, owner)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.mailer.SendEmailChangeCode(ctx, newEmail, code); err != nil {
		slog.Error("email_change_mail_failed", "user_id", userID, "error", err)
	}

	slog.Info("email_change_requested", "user_id", userID)
	return &Requested{EmailMasked: MaskEmail(newEmail), ExpiresInSeconds: otp.ExpiresInSeconds()}, nil
}

// VerifyChange confirms the pending change with code. On success the email
// is updated and all earlier sessions are invalidated.
func (s *Service) VerifyChange(ctx context.Context, userID, code string) (*Changed, error) {
	code = strings.TrimSpace(code)
	if err := s.validate.Struct(verifyInput{Code: code}); err != nil {
		return nil, err
	}

	var (
		newEmail string
		outcome  error
	)
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		pending, err := tx.GetPendingEmailChange(ctx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.ErrNoPendingEmailChange
		}
		if err != nil {
			return fmt.Errorf("loading pending change: %w", err)
		}
		newEmail = pending.NewEmail

		res, err := s.otp.Verify(ctx, tx, otp.Owner{ID: userID, Purpose: models.PurposeEmailChange}, code)
		if errors.Is(err, otp.ErrNoChallenge) {
			return apperr.ErrNoPendingEmailChange
		}
		if err != nil {
			return err
		}
		if res.Outcome != otp.OutcomeOK {
			logOutcome(userID, res)
			outcome = res.Err()
			return nil
		}

		// The address may have been taken since the request.
		taken, err := emailTaken(ctx, tx, newEmail, userID)
		if err != nil {
			return err
		}
		if taken {
			outcome = apperr.ErrEmailExists
			return tx.DeletePendingEmailChange(ctx, userID)
		}

		now := s.now()
		err = tx.UpdateUserEmail(ctx, userID, newEmail, now)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return apperr.ErrUserNotFound
		case errors.Is(err, repository.ErrConflict):
			return apperr.ErrEmailExists
		case err != nil:
			return fmt.Errorf("updating email: %w", err)
		}
		if err := tx.DeletePendingEmailChange(ctx, userID); err != nil {
			return fmt.Errorf("deleting pending change: %w", err)
		}
		if _, err := tx.IncrementTokenVersion(ctx, userID, now); err != nil {
			return fmt.Errorf("incrementing token version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		return nil, outcome
	}

	slog.Info("email_changed", "user_id", userID)

	tokens, err := s.sessions.IssueTokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Changed{Email: newEmail, Tokens: tokens}, nil
}

// Resend mails a new code for the pending change.
func (s *Service) Resend(ctx context.Context, userID string) (int, error) {
	pending, err := s.repo.GetPendingEmailChange(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, apperr.ErrNoPendingEmailChange
	}
	if err != nil {
		return 0, fmt.Errorf("loading pending change: %w", err)
	}

	code, err := s.otp.Resend(ctx, s.repo, otp.Owner{ID: userID, Purpose: models.PurposeEmailChange})
	if err != nil {
		if errors.Is(err, otp.ErrCooldown) || errors.Is(err, otp.ErrResendLimit) {
			slog.Warn("email_change_resend_rejected", "user_id", userID, "reason", err)
		}
		return 0, otp.ResendErr(err, apperr.ErrNoPendingEmailChange)
	}

	if err := s.mailer.SendEmailChangeCode(ctx, pending.NewEmail, code); err != nil {
		return 0, fmt.Errorf("sending email change code: %w", err)
	}
	slog.Info("email_change_code_resent", "user_id", userID)
	return otp.ExpiresInSeconds(), nil
}

// Cancel drops the pending change and its challenge. Cancelling without a
// pending change succeeds.
func (s *Service) Cancel(ctx context.Context, userID string) error {
	return s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		if err := tx.DeletePendingEmailChange(ctx, userID); err != nil {
			return fmt.Errorf("deleting pending change: %w", err)
		}
		if err := tx.DeleteOTPChallenge(ctx, userID, models.PurposeEmailChange); err != nil {
			return fmt.Errorf("deleting challenge: %w", err)
		}
		return nil
	})
}

func (s *Service) activeUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if !user.IsActive() {
		return nil, apperr.ErrUserNotFound
	}
	return user, nil
}

// emailTaken reports whether an active account other than userID owns addr.
func emailTaken(ctx context.Context, repo *repository.Repository, addr, userID string) (bool, error) {
	owner, err := repo.FindUserByEmail(ctx, addr, models.StatusActive)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking email: %w", err)
	}
	return owner.ID != userID, nil
}

// MaskEmail hides all but the first character of the local part.
func MaskEmail(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return "***"
	}
	return addr[:1] + "***" + addr[at:]
}

func logOutcome(userID string, res otp.Result) {
	switch res.Outcome {
	case otp.OutcomeLocked:
		slog.Warn("otp_locked", "user_id", userID, "purpose", models.PurposeEmailChange, "attempts", res.Attempts)
	case otp.OutcomeExpired:
		slog.Info("otp_expired", "user_id", userID, "purpose", models.PurposeEmailChange)
	default:
		slog.Info("otp_invalid", "user_id", userID, "purpose", models.PurposeEmailChange, "attempts", res.Attempts)
	}
}
