// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package testutil provides test helpers and fixtures.
package testutil

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeberg.org/oliverandrich/memberdir/internal/config"
	"codeberg.org/oliverandrich/memberdir/internal/database"
	"codeberg.org/oliverandrich/memberdir/internal/models"
	"codeberg.org/oliverandrich/memberdir/internal/repository"
	"codeberg.org/oliverandrich/memberdir/internal/services/otp"
	"codeberg.org/oliverandrich/memberdir/internal/services/session"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"
	"golang.org/x/crypto/bcrypt"
)

// TestPassword is the plaintext password of users created by NewTestUser.
const TestPassword = "correct horse battery"

// TestKey is a 32-byte hex key for peppers, JWT secrets and cookie keys.
const TestKey = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

var (
	testHashOnce sync.Once
	testHash     string
)

// NewTestDB creates an in-memory SQLite database for tests.
// Returns both the database connection and the repository for convenience.
func NewTestDB(t *testing.T) (*sqlx.DB, *repository.Repository) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	repo := repository.New(db)
	return db, repo
}

// NewFileTestDB is NewTestDB on a file in a temporary directory, so several
// connections can work on the database at once.
func NewFileTestDB(t *testing.T) (*sqlx.DB, *repository.Repository) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db, repository.New(db)
}

// UserOption customizes a user created by NewTestUser.
type UserOption func(*models.User)

// WithStatus sets the status of the test user.
func WithStatus(status models.SignupStatus) UserOption {
	return func(u *models.User) { u.Status = status }
}

// WithZID sets the zID of the test user.
func WithZID(zid string) UserOption {
	return func(u *models.User) { u.ZID = zid }
}

// WithTimestamps sets created_at and updated_at of the test user.
func WithTimestamps(created, updated time.Time) UserOption {
	return func(u *models.User) {
		u.CreatedAt = created.UTC()
		u.UpdatedAt = updated.UTC()
	}
}

// NewTestUser creates an ACTIVE user with TestPassword unless options say otherwise.
func NewTestUser(t *testing.T, repo *repository.Repository, email string, opts ...UserOption) *models.User {
	t.Helper()

	testHashOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
		if err != nil {
			panic(err)
		}
		testHash = string(hash)
	})

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		FullName:     "Test User",
		Email:        email,
		ZID:          "z" + uuid.NewString()[:7],
		PasswordHash: testHash,
		Status:       models.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, opt := range opts {
		opt(user)
	}
	if user.Status == models.StatusActive {
		user.EmailVerifiedAt = &user.CreatedAt
	}

	require.NoError(t, repo.CreateUser(context.Background(), user))
	return user
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// NewEchoContext creates an Echo context for handler tests.
func NewEchoContext(e *echo.Echo, method, path string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

// SessionConfig returns session settings using TestKey.
func SessionConfig() *config.SessionConfig {
	return &config.SessionConfig{
		JWTSecret:  TestKey,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		CookieName: "refresh_token",
		HashKey:    TestKey,
	}
}

// NewSessionManager creates a session manager on repo driven by now.
func NewSessionManager(t *testing.T, repo *repository.Repository, now func() time.Time) *session.Manager {
	t.Helper()
	m, err := session.NewManager(repo, SessionConfig(), false, session.WithClock(now))
	require.NoError(t, err)
	return m
}

// NewOTPEngine creates an OTP engine keyed with TestKey and driven by now.
func NewOTPEngine(t *testing.T, now func() time.Time) *otp.Engine {
	t.Helper()
	e, err := otp.NewEngine(TestKey, otp.WithClock(now))
	require.NoError(t, err)
	return e
}

// SentMail is one mail captured by Mailer.
type SentMail struct {
	Purpose models.OTPPurpose
	To      string
	Code    string
}

// Mailer captures codes instead of sending them. Set Err to make sends fail.
type Mailer struct {
	mu   sync.Mutex
	sent []SentMail
	Err  error
}

func (m *Mailer) record(purpose models.OTPPurpose, to, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentMail{Purpose: purpose, To: to, Code: code})
	return nil
}

// SendSignupCode records a signup mail.
func (m *Mailer) SendSignupCode(_ context.Context, to, code string) error {
	return m.record(models.PurposeSignup, to, code)
}

// SendEmailChangeCode records an email change mail.
func (m *Mailer) SendEmailChangeCode(_ context.Context, to, code string) error {
	return m.record(models.PurposeEmailChange, to, code)
}

// Sent returns all captured mails.
func (m *Mailer) Sent() []SentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMail(nil), m.sent...)
}

// Last returns the most recent mail. It fails the test if none was sent.
func (m *Mailer) Last(t *testing.T) SentMail {
	t.Helper()
	sent := m.Sent()
	require.NotEmpty(t, sent, "no mail sent")
	return sent[len(sent)-1]
}
