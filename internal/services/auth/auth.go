// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"codeberg.org/oliverandrich/memberdir/internal/apperr"
	"codeberg.org/oliverandrich/memberdir/internal/models"
	"codeberg.org/oliverandrich/memberdir/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is used for constant-time login to prevent timing attacks
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), bcrypt.DefaultCost)

// UserStore looks up login candidates.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string, status models.SignupStatus) (*models.User, error)
}

// Service authenticates members by email and password.
type Service struct {
	users UserStore
}

func NewService(users UserStore) *Service {
	return &Service{users: users}
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login authenticates an ACTIVE user. A correct password for a signup that
// is still pending yields ACCOUNT_NOT_ACTIVE.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, error) {
	email = NormalizeEmail(email)

	user, err := s.users.FindUserByEmail(ctx, email, models.StatusActive)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, s.loginPending(ctx, email, password)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !CheckPassword(user.PasswordHash, password) {
		slog.Warn("login_failed", "email", email, "reason", "invalid_password")
		return nil, apperr.ErrInvalidCredentials
	}

	slog.Info("login_success", "user_id", user.ID, "email", email)
	return user, nil
}

func (s *Service) loginPending(ctx context.Context, email, password string) error {
	pending, err := s.users.FindUserByEmail(ctx, email, models.StatusPendingVerification)
	if errors.Is(err, repository.ErrNotFound) {
		// Constant-time: always perform bcrypt comparison to prevent timing attacks
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		slog.Warn("login_failed", "email", email, "reason", "user_not_found")
		return apperr.ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}

	if !CheckPassword(pending.PasswordHash, password) {
		slog.Warn("login_failed", "email", email, "reason", "invalid_password")
		return apperr.ErrInvalidCredentials
	}

	slog.Warn("login_failed", "user_id", pending.ID, "reason", "not_active")
	return apperr.ErrAccountNotActive
}
