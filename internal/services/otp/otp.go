// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package otp issues and verifies one-time email codes. Signup and email
// change share the same attempt, lockout and resend policy.
package otp

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"codeberg.org/oliverandrich/memberdir/internal/models"
	"codeberg.org/oliverandrich/memberdir/internal/repository"
	"github.com/google/uuid"
)

const (
	// CodeLength is the number of digits in a code.
	CodeLength = 6
	// TTL is how long a code is valid after it was sent.
	TTL = 10 * time.Minute
	// MaxAttempts is the number of wrong codes that locks a challenge.
	MaxAttempts = 5
	// ResendCooldown is the minimum time between two sends.
	ResendCooldown = 60 * time.Second
	// MaxResends is the number of resends allowed per ResendWindow.
	MaxResends = 5
	// ResendWindow is the period the resend counter applies to.
	ResendWindow = 24 * time.Hour
)

const minPepperLength = 16

var codeUpperBound = big.NewInt(1_000_000)

var (
	ErrNoChallenge = errors.New("otp: no challenge")
	ErrCooldown    = errors.New("otp: resend cooldown active")
	ErrResendLimit = errors.New("otp: resend limit reached")
	ErrInvalidKey  = errors.New("otp: invalid pepper")
)

// CooldownError is returned by Resend while the cooldown is active.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%v: retry after %s", ErrCooldown, e.RetryAfter)
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldown
}

// Outcome is the result of checking a code.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeExpired
	OutcomeInvalid
	OutcomeLocked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "OK"
	case OutcomeExpired:
		return "EXPIRED"
	case OutcomeInvalid:
		return "INVALID"
	case OutcomeLocked:
		return "LOCKED"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result carries the outcome of Verify and the attempt state after it.
type Result struct {
	Outcome  Outcome
	Attempts int
	LockedAt *time.Time
}

// Owner identifies the challenge of one user or signup for one flow.
type Owner struct {
	ID      string
	Purpose models.OTPPurpose
}

// Store is the persistence the engine needs. Every mutation is a single
// conditional statement so callers may run concurrently.
type Store interface {
	GetOTPChallenge(ctx context.Context, ownerID string, purpose models.OTPPurpose) (*models.OTPChallenge, error)
	SaveOTPChallenge(ctx context.Context, c *models.OTPChallenge) error
	RecordFailedOTPAttempt(ctx context.Context, id string, maxAttempts int, now time.Time) (int, bool, error)
	ConsumeOTPChallenge(ctx context.Context, id, codeHash string, now time.Time) (bool, error)
	ReissueOTPChallenge(ctx context.Context, c *models.OTPChallenge, prevCount int, sentBefore time.Time) (bool, error)
}

// Engine generates, hashes and verifies codes.
type Engine struct {
	pepper []byte
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine keyed with a hex-encoded pepper.
func NewEngine(pepperHex string, opts ...Option) (*Engine, error) {
	pepper, err := hex.DecodeString(pepperHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(pepper) < minPepperLength {
		return nil, fmt.Errorf("%w: must be at least %d bytes", ErrInvalidKey, minPepperLength)
	}

	e := &Engine{
		pepper: pepper,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Generate returns a random numeric code of CodeLength digits.
func (e *Engine) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, codeUpperBound)
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// Hash returns the hex HMAC-SHA256 of code under the pepper.
func (e *Engine) Hash(code string) string {
	mac := hmac.New(sha256.New, e.pepper)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches compares code against a stored hash in constant time.
func (e *Engine) Matches(code, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(e.Hash(code)), []byte(hash)) == 1
}

// Issue creates a fresh challenge for owner, replacing any existing one,
// and returns the plaintext code for delivery.
func (e *Engine) Issue(ctx context.Context, store Store, owner Owner) (string, error) {
	code, err := e.Generate()
	if err != nil {
		return "", err
	}

	now := e.now()
	c := &models.OTPChallenge{
		ID:                uuid.NewString(),
		OwnerID:           owner.ID,
		Purpose:           owner.Purpose,
		CodeHash:          e.Hash(code),
		ExpiresAt:         now.Add(TTL),
		LastSentAt:        now,
		ResendWindowStart: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := store.SaveOTPChallenge(ctx, c); err != nil {
		return "", fmt.Errorf("saving challenge: %w", err)
	}
	return code, nil
}

// Verify checks code against the challenge of owner. A lock wins over
// expiry, expiry wins over the code. A wrong code counts as an attempt and
// the MaxAttempts-th wrong code locks the challenge. A correct code
// consumes the challenge.
func (e *Engine) Verify(ctx context.Context, store Store, owner Owner, code string) (Result, error) {
	c, err := e.load(ctx, store, owner)
	if err != nil {
		return Result{}, err
	}

	now := e.now()
	if res, done := evaluate(c, now); done {
		return res, nil
	}

	if !e.Matches(code, c.CodeHash) {
		attempts, locked, err := store.RecordFailedOTPAttempt(ctx, c.ID, MaxAttempts, now)
		if errors.Is(err, repository.ErrNotFound) {
			return e.settle(ctx, store, owner, now)
		}
		if err != nil {
			return Result{}, fmt.Errorf("recording attempt: %w", err)
		}
		if locked {
			return Result{Outcome: OutcomeLocked, Attempts: attempts, LockedAt: &now}, nil
		}
		return Result{Outcome: OutcomeInvalid, Attempts: attempts}, nil
	}

	consumed, err := store.ConsumeOTPChallenge(ctx, c.ID, c.CodeHash, now)
	if err != nil {
		return Result{}, fmt.Errorf("consuming challenge: %w", err)
	}
	if !consumed {
		return e.settle(ctx, store, owner, now)
	}
	return Result{Outcome: OutcomeOK, Attempts: c.Attempts}, nil
}

// Resend installs a fresh code on the existing challenge of owner. Resends
// are capped at MaxResends per ResendWindow and spaced by ResendCooldown.
// A successful resend resets attempts and clears any lock.
func (e *Engine) Resend(ctx context.Context, store Store, owner Owner) (string, error) {
	c, err := e.load(ctx, store, owner)
	if err != nil {
		return "", err
	}

	now := e.now()
	count, windowStart := c.ResendCount, c.ResendWindowStart
	if now.Sub(windowStart) >= ResendWindow {
		count, windowStart = 0, now
	}
	if count >= MaxResends {
		return "", ErrResendLimit
	}
	if elapsed := now.Sub(c.LastSentAt); elapsed < ResendCooldown {
		return "", &CooldownError{RetryAfter: ResendCooldown - elapsed}
	}

	code, err := e.Generate()
	if err != nil {
		return "", err
	}

	next := *c
	next.CodeHash = e.Hash(code)
	next.ExpiresAt = now.Add(TTL)
	next.Attempts = 0
	next.LockedAt = nil
	next.LastSentAt = now
	next.ResendCount = count + 1
	next.ResendWindowStart = windowStart
	next.UpdatedAt = now

	ok, err := store.ReissueOTPChallenge(ctx, &next, c.ResendCount, now.Add(-ResendCooldown))
	if err != nil {
		return "", fmt.Errorf("reissuing challenge: %w", err)
	}
	if !ok {
		// A concurrent resend won the race and just sent a code.
		return "", &CooldownError{RetryAfter: ResendCooldown}
	}
	return code, nil
}

func (e *Engine) load(ctx context.Context, store Store, owner Owner) (*models.OTPChallenge, error) {
	c, err := store.GetOTPChallenge(ctx, owner.ID, owner.Purpose)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoChallenge
	}
	if err != nil {
		return nil, fmt.Errorf("loading challenge: %w", err)
	}
	return c, nil
}

// settle re-reads a challenge that changed under a conditional write.
func (e *Engine) settle(ctx context.Context, store Store, owner Owner, now time.Time) (Result, error) {
	c, err := e.load(ctx, store, owner)
	if err != nil {
		return Result{}, err
	}
	if res, done := evaluate(c, now); done {
		return res, nil
	}
	return Result{Outcome: OutcomeInvalid, Attempts: c.Attempts}, nil
}

func evaluate(c *models.OTPChallenge, now time.Time) (Result, bool) {
	if c.IsLocked() {
		return Result{Outcome: OutcomeLocked, Attempts: c.Attempts, LockedAt: c.LockedAt}, true
	}
	if c.IsExpired(now) {
		return Result{Outcome: OutcomeExpired, Attempts: c.Attempts}, true
	}
	return Result{}, false
}
