// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package session issues access and refresh tokens. Refresh tokens carry
// the user's token version and die when the stored version moves on.
package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"codeberg.org/oliverandrich/memberdir/internal/apperr"
	"codeberg.org/oliverandrich/memberdir/internal/config"
	"codeberg.org/oliverandrich/memberdir/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"

	// CookiePath scopes the refresh cookie to the auth endpoints.
	CookiePath = "/auth"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWrongType    = errors.New("unexpected token type")
)

// Claims are the JWT claims of both token types.
type Claims struct {
	Type    string `json:"typ"`
	Version int64  `json:"ver,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject of the token.
func (c *Claims) UserID() string {
	return c.Subject
}

// Tokens is an access and refresh token pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// VersionStore persists per-user token versions.
type VersionStore interface {
	GetTokenVersion(ctx context.Context, userID string) (int64, error)
	IncrementTokenVersion(ctx context.Context, userID string, now time.Time) (int64, error)
}

// Manager signs and verifies tokens and builds the refresh cookie.
type Manager struct { //nolint:govet // fieldalignment not critical
	store      VersionStore
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	cookieName string
	secure     bool
	cookies    *securecookie.SecureCookie
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a token manager. secure marks the refresh cookie
// Secure and should only be set in production.
func NewManager(store VersionStore, cfg *config.SessionConfig, secure bool, opts ...Option) (*Manager, error) {
	key, err := hex.DecodeString(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid jwt secret: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes, got %d", len(key))
	}

	hashKey, err := hex.DecodeString(cfg.HashKey)
	if err != nil {
		return nil, fmt.Errorf("invalid session hash key: %w", err)
	}
	if len(hashKey) != 32 {
		return nil, fmt.Errorf("session hash key must be 32 bytes, got %d", len(hashKey))
	}

	var blockKey []byte
	if cfg.BlockKey != "" {
		blockKey, err = hex.DecodeString(cfg.BlockKey)
		if err != nil {
			return nil, fmt.Errorf("invalid session block key: %w", err)
		}
		if len(blockKey) != 32 {
			return nil, fmt.Errorf("session block key must be 32 bytes, got %d", len(blockKey))
		}
	}

	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}

	cookies := securecookie.New(hashKey, blockKey)
	cookies.MaxAge(int(cfg.RefreshTTL.Seconds()))

	m := &Manager{
		store:      store,
		key:        key,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		cookieName: cfg.CookieName,
		secure:     secure,
		cookies:    cookies,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AccessTTL returns the lifetime of access tokens.
func (m *Manager) AccessTTL() time.Duration {
	return m.accessTTL
}

// IssueAccessToken signs a short-lived access token for userID.
func (m *Manager) IssueAccessToken(userID string) (string, error) {
	return m.sign(userID, typeAccess, 0, m.accessTTL)
}

// IssueRefreshToken signs a refresh token embedding tokenVersion.
func (m *Manager) IssueRefreshToken(userID string, tokenVersion int64) (string, error) {
	return m.sign(userID, typeRefresh, tokenVersion, m.refreshTTL)
}

// IssueTokens issues an access token and a refresh token bound to the
// user's current token version.
func (m *Manager) IssueTokens(ctx context.Context, userID string) (*Tokens, error) {
	version, err := m.store.GetTokenVersion(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reading token version: %w", err)
	}
	return m.issuePair(userID, version)
}

func (m *Manager) issuePair(userID string, version int64) (*Tokens, error) {
	access, err := m.IssueAccessToken(userID)
	if err != nil {
		return nil, err
	}
	refresh, err := m.IssueRefreshToken(userID, version)
	if err != nil {
		return nil, err
	}
	return &Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

// ParseAccessToken verifies an access token.
func (m *Manager) ParseAccessToken(token string) (*Claims, error) {
	return m.parse(token, typeAccess)
}

// ParseRefreshToken verifies the signature and expiry of a refresh token.
// It does not check the token version.
func (m *Manager) ParseRefreshToken(token string) (*Claims, error) {
	return m.parse(token, typeRefresh)
}

// Invalidate bumps the token version of userID, rejecting every refresh
// token issued before.
func (m *Manager) Invalidate(ctx context.Context, userID string) (int64, error) {
	version, err := m.store.IncrementTokenVersion(ctx, userID, m.now())
	if err != nil {
		return 0, fmt.Errorf("incrementing token version: %w", err)
	}
	slog.Info("sessions_invalidated", "user_id", userID, "token_version", version)
	return version, nil
}

// Refresh exchanges a current refresh token for a new token pair.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, apperr.ErrNotAuthenticated
	}
	claims, err := m.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, apperr.ErrNotAuthenticated
	}

	current, err := m.store.GetTokenVersion(ctx, claims.UserID())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("reading token version: %w", err))
	}
	if claims.Version != current {
		return nil, apperr.ErrInvalidRefreshToken
	}

	return m.issuePair(claims.UserID(), current)
}

// Logout invalidates all sessions of the token's owner. A token that fails
// verification yields NOT_AUTHENTICATED. A verified token whose version was
// already invalidated succeeds without another bump.
func (m *Manager) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return apperr.ErrNotAuthenticated
	}
	claims, err := m.ParseRefreshToken(refreshToken)
	if err != nil {
		return apperr.ErrNotAuthenticated
	}

	current, err := m.store.GetTokenVersion(ctx, claims.UserID())
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperr.Internal(fmt.Errorf("reading token version: %w", err))
	}
	if claims.Version != current {
		return nil
	}

	if _, err := m.Invalidate(ctx, claims.UserID()); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// RefreshCookie returns the signed cookie carrying refreshToken.
func (m *Manager) RefreshCookie(refreshToken string) (*http.Cookie, error) {
	encoded, err := m.cookies.Encode(m.cookieName, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("encoding refresh cookie: %w", err)
	}
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    encoded,
		Path:     CookiePath,
		MaxAge:   int(m.refreshTTL.Seconds()),
		Expires:  m.now().Add(m.refreshTTL),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// ClearRefreshCookie returns a cookie that deletes the refresh cookie.
func (m *Manager) ClearRefreshCookie() *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     CookiePath,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ReadRefreshCookie returns the refresh token in r, or "" if there is no
// cookie or it fails verification.
func (m *Manager) ReadRefreshCookie(r *http.Request) string {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil {
		return ""
	}
	var token string
	if err := m.cookies.Decode(m.cookieName, cookie.Value, &token); err != nil {
		slog.Debug("refresh_cookie_rejected", "error", err)
		return ""
	}
	return token
}

func (m *Manager) sign(userID, typ string, version int64, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		Type:    typ,
		Version: version,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", typ, err)
	}
	return signed, nil
}

func (m *Manager) parse(token, typ string) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return m.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Type != typ {
		return nil, ErrWrongType
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &claims, nil
}
