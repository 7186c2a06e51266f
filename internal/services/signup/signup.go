// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package signup implements registration and its email verification.
package signup

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
	"github.com/google/uuid"
)

// RegisterInput is the registration form.
type RegisterInput struct {
	FullName        string `json:"fullName" validate:"required,max=200"`
	ZID             string `json:"zid" validate:"required,zid"`
	Email           string `json:"email" validate:"required,email,max=254"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

func (in RegisterInput) normalized() RegisterInput {
	in.FullName = strings.TrimSpace(in.FullName)
	in.ZID = strings.ToLower(strings.TrimSpace(in.ZID))
	in.Email = auth.NormalizeEmail(in.Email)
	return in
}

// Registration identifies a pending signup and how to resume it.
type Registration struct {
	UserID      string
	ResumeToken string
}

// Verified is the result of a successful verification.
type Verified struct {
	UserID string
	Tokens *session.Tokens
}

type verifyInput struct {
	ResumeToken string `json:"resumeToken" validate:"required"`
	Code        string `json:"otp" validate:"required,len=6,numeric"`
}

type resendInput struct {
	ResumeToken string `json:"resumeToken" validate:"required"`
}

// Service runs the signup state machine.
type Service struct {
	repo      *repository.Repository
	otp       *otp.Engine
	sessions  *session.Manager
	mailer    email.Mailer
	validate  *validation.Validator
	passwords *auth.PasswordPolicy
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a signup service.
func NewService(repo *repository.Repository, engine *otp.Engine, sessions *session.Manager,
	mailer email.Mailer, validate *validation.Validator, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		otp:       engine,
		sessions:  sessions,
		mailer:    mailer,
		validate:  validate,
		passwords: auth.DefaultPasswordPolicy(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a pending signup, or reports why it cannot. A pending
// signup for the same email yields PENDING_VERIFICATION_EXISTS carrying a
// new resume token for that signup.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Registration, error) {
	in = in.normalized()
	if err := s.validateRegister(in); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	var out registerOutcome
	for attempt := 0; ; attempt++ {
		out, err = s.register(ctx, in, hash)
		// A concurrent registration took the email or zID between our
		// checks and the insert. The second pass reports it properly.
		if errors.Is(err, repository.ErrConflict) && attempt == 0 {
			slog.Debug("register_conflict_retry", "email", in.Email)
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}

	if out.existing {
		slog.Info("register_pending_exists", "user_id", out.reg.UserID)
		return nil, apperr.ErrPendingVerification.WithDetails(map[string]any{
			"userId":      out.reg.UserID,
			"resumeToken": out.reg.ResumeToken,
		})
	}

	if err := s.mailer.SendSignupCode(ctx, in.Email, out.code); err != nil {
		slog.Error("register_mail_failed", "user_id", out.reg.UserID, "error", err)
	}

	slog.Info("register_success", "user_id", out.reg.UserID, "email", in.Email)
	return out.reg, nil
}

type registerOutcome struct {
	reg      *Registration
	code     string
	existing bool
}

func (s *Service) register(ctx context.Context, in RegisterInput, passwordHash string) (registerOutcome, error) {
	var out registerOutcome

	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		if taken, err := exists(tx.FindUserByEmail(ctx, in.Email, models.StatusActive)); err != nil || taken {
			return orConflict(err, apperr.ErrEmailExists)
		}
		if taken, err := exists(tx.FindUserByZID(ctx, in.ZID, models.StatusActive)); err != nil || taken {
			return orConflict(err, apperr.ErrZIDExists)
		}

		pending, err := tx.FindUserByEmail(ctx, in.Email, models.StatusPendingVerification)
		switch {
		case err == nil:
			token, err := s.issueResumeToken(ctx, tx, pending.ID)
			if err != nil {
				return err
			}
			out = registerOutcome{reg: &Registration{UserID: pending.ID, ResumeToken: token}, existing: true}
			return nil
		case !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("finding pending signup: %w", err)
		}

		// The email is free, so a pending row with this zID belongs to someone else.
		if taken, err := exists(tx.FindUserByZID(ctx, in.ZID, models.StatusPendingVerification)); err != nil || taken {
			return orConflict(err, apperr.ErrZIDExists)
		}

		now := s.now()
		user := &models.User{
			ID:           uuid.NewString(),
			FullName:     in.FullName,
			Email:        in.Email,
			ZID:          in.ZID,
			PasswordHash: passwordHash,
			Status:       models.StatusPendingVerification,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("creating signup: %w", err)
		}

		code, err := s.otp.Issue(ctx, tx, otp.Owner{ID: user.ID, Purpose: models.PurposeSignup})
		if err != nil {
			return err
		}
		token, err := s.issueResumeToken(ctx, tx, user.ID)
		if err != nil {
			return err
		}

		out = registerOutcome{reg: &Registration{UserID: user.ID, ResumeToken: token}, code: code}
		return nil
	})
	return out, err
}

// VerifySignup checks the signup code and activates the account. Wrong
// attempts are committed even though the call fails.
func (s *Service) VerifySignup(ctx context.Context, resumeToken, code string) (*Verified, error) {
	if err := s.validate.Struct(verifyInput{ResumeToken: resumeToken, Code: strings.TrimSpace(code)}); err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)

	var (
		userID  string
		outcome error
	)
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		user, err := s.resolve(ctx, tx, resumeToken)
		if err != nil {
			return err
		}
		userID = user.ID

		res, err := s.otp.Verify(ctx, tx, otp.Owner{ID: user.ID, Purpose: models.PurposeSignup}, code)
		if errors.Is(err, otp.ErrNoChallenge) {
			outcome = apperr.ErrOTPExpired
			return nil
		}
		if err != nil {
			return err
		}
		if res.Outcome != otp.OutcomeOK {
			logOutcome(user.ID, res)
			outcome = res.Err()
			return nil
		}

		now := s.now()
		err = tx.ActivateUser(ctx, user.ID, now)
		if errors.Is(err, repository.ErrConflict) {
			// An active account took the email or zID after registration.
			// The code is spent and the signup cannot be resumed.
			conflict, err := activationConflict(ctx, tx, user)
			if err != nil {
				return err
			}
			slog.Warn("signup_activation_conflict", "user_id", user.ID, "code", conflict.Code)
			outcome = conflict
		} else if err != nil {
			return fmt.Errorf("activating user: %w", err)
		}
		if err := tx.DeleteResumeToken(ctx, user.ID); err != nil {
			return fmt.Errorf("deleting resume token: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		return nil, outcome
	}

	slog.Info("signup_verified", "user_id", userID)

	tokens, err := s.sessions.IssueTokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Verified{UserID: userID, Tokens: tokens}, nil
}

// activationConflict reports which unique field blocks activating user.
func activationConflict(ctx context.Context, tx *repository.Repository, user *models.User) (*apperr.Error, error) {
	taken, err := exists(tx.FindUserByEmail(ctx, user.Email, models.StatusActive))
	if err != nil {
		return nil, err
	}
	if taken {
		return apperr.ErrEmailExists, nil
	}
	return apperr.ErrZIDExists, nil
}

// ResendSignupOTP mails a new signup code. A signup whose challenge is
// gone gets a fresh one.
func (s *Service) ResendSignupOTP(ctx context.Context, resumeToken string) error {
	if err := s.validate.Struct(resendInput{ResumeToken: resumeToken}); err != nil {
		return err
	}

	user, err := s.resolve(ctx, s.repo, resumeToken)
	if err != nil {
		return err
	}

	owner := otp.Owner{ID: user.ID, Purpose: models.PurposeSignup}
	code, err := s.otp.Resend(ctx, s.repo, owner)
	if errors.Is(err, otp.ErrNoChallenge) {
		code, err = s.otp.Issue(ctx, s.repo, owner)
	}
	if err != nil {
		if errors.Is(err, otp.ErrCooldown) || errors.Is(err, otp.ErrResendLimit) {
			slog.Warn("signup_resend_rejected", "user_id", user.ID, "reason", err)
		}
		return otp.ResendErr(err, apperr.ErrInvalidResumeToken)
	}

	if err := s.mailer.SendSignupCode(ctx, user.Email, code); err != nil {
		return fmt.Errorf("sending signup code: %w", err)
	}
	slog.Info("signup_code_resent", "user_id", user.ID)
	return nil
}

// resolve returns the pending signup a resume token belongs to.
func (s *Service) resolve(ctx context.Context, repo *repository.Repository, resumeToken string) (*models.User, error) {
	rt, err := repo.GetResumeToken(ctx, HashResumeToken(resumeToken))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.ErrInvalidResumeToken
	}
	if err != nil {
		return nil, fmt.Errorf("loading resume token: %w", err)
	}
	if rt.IsExpired(s.now()) {
		return nil, apperr.ErrInvalidResumeToken
	}

	user, err := repo.GetUserByID(ctx, rt.SignupID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.ErrInvalidResumeToken
	}
	if err != nil {
		return nil, fmt.Errorf("loading signup: %w", err)
	}
	if !user.Status.CanTransitionTo(models.StatusActive) {
		return nil, apperr.ErrInvalidResumeToken
	}
	return user, nil
}

func (s *Service) issueResumeToken(ctx context.Context, tx *repository.Repository, signupID string) (string, error) {
	token, hash, err := GenerateResumeToken()
	if err != nil {
		return "", err
	}
	now := s.now()
	if err := tx.SaveResumeToken(ctx, signupID, hash, now.Add(ResumeTokenTTL), now); err != nil {
		return "", fmt.Errorf("saving resume token: %w", err)
	}
	return token, nil
}

// ValidateRegister checks the shape of a registration without touching
// the store.
func (s *Service) ValidateRegister(in RegisterInput) error {
	return s.validateRegister(in.normalized())
}

func (s *Service) validateRegister(in RegisterInput) error {
	err := s.validate.Struct(in)

	var extra map[string]string
	if in.Password != "" {
		attrs := auth.MemberAttributes{Email: in.Email, ZID: in.ZID, FullName: in.FullName}
		if violations := s.passwords.Check(in.Password, attrs); len(violations) > 0 {
			extra = map[string]string{"password": violations[0].Message}
		}
	}
	return validation.Merge(err, extra)
}

func logOutcome(userID string, res otp.Result) {
	switch res.Outcome {
	case otp.OutcomeLocked:
		slog.Warn("otp_locked", "user_id", userID, "purpose", models.PurposeSignup, "attempts", res.Attempts)
	case otp.OutcomeExpired:
		slog.Info("otp_expired", "user_id", userID, "purpose", models.PurposeSignup)
	default:
		slog.Info("otp_invalid", "user_id", userID, "purpose", models.PurposeSignup, "attempts", res.Attempts)
	}
}

// exists turns a lookup into found/not-found, keeping real errors.
func exists(_ *models.User, err error) (bool, error) {
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking uniqueness: %w", err)
	}
	return true, nil
}

func orConflict(err error, conflict *apperr.Error) error {
	if err != nil {
		return err
	}
	return conflict
}
