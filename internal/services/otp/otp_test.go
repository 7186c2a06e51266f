// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package otp_test

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"codeberg.org/oliverandrich/memberdir/internal/models"
	"codeberg.org/oliverandrich/memberdir/internal/repository"
	"codeberg.org/oliverandrich/memberdir/internal/services/otp"
	"codeberg.org/oliverandrich/memberdir/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPepper = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

type fixture struct {
	engine *otp.Engine
	repo   *repository.Repository
	clock  *testutil.Clock
	owner  otp.Owner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	_, repo := testutil.NewTestDB(t)
	clock := testutil.NewClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	engine, err := otp.NewEngine(testPepper, otp.WithClock(clock.Now))
	require.NoError(t, err)
	user := testutil.NewTestUser(t, repo, "jane@x.com")
	return &fixture{
		engine: engine,
		repo:   repo,
		clock:  clock,
		owner:  otp.Owner{ID: user.ID, Purpose: models.PurposeEmailChange},
	}
}

func (f *fixture) issue(t *testing.T) string {
	t.Helper()
	code, err := f.engine.Issue(context.Background(), f.repo, f.owner)
	require.NoError(t, err)
	return code
}

// wrongCode returns a code guaranteed to differ from code.
func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestNewEngine_InvalidPepper(t *testing.T) {
	_, err := otp.NewEngine("not-hex")
	require.ErrorIs(t, err, otp.ErrInvalidKey)

	_, err = otp.NewEngine("abcd")
	require.ErrorIs(t, err, otp.ErrInvalidKey)
	assert.Contains(t, err.Error(), "at least 16 bytes")
}

func TestGenerate(t *testing.T) {
	engine, err := otp.NewEngine(testPepper)
	require.NoError(t, err)
	digits := regexp.MustCompile(`^\d{6}$`)

	seen := make(map[string]struct{})
	for range 20 {
		code, err := engine.Generate()
		require.NoError(t, err)
		assert.Regexp(t, digits, code)
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 1)
}

func TestHash(t *testing.T) {
	engine, err := otp.NewEngine(testPepper)
	require.NoError(t, err)
	other, err := otp.NewEngine("ffeeddccbbaa99887766554433221100")
	require.NoError(t, err)

	hash := engine.Hash("123456")

	assert.Len(t, hash, 64)
	assert.Equal(t, hash, engine.Hash("123456"))
	assert.NotEqual(t, hash, engine.Hash("123457"))
	assert.NotEqual(t, hash, other.Hash("123456"))
	assert.True(t, engine.Matches("123456", hash))
	assert.False(t, engine.Matches("654321", hash))
}

func TestIssue_StoresHashOnly(t *testing.T) {
	f := newFixture(t)

	code := f.issue(t)

	c, err := f.repo.GetOTPChallenge(context.Background(), f.owner.ID, f.owner.Purpose)
	require.NoError(t, err)
	assert.NotEqual(t, code, c.CodeHash)
	assert.Equal(t, f.engine.Hash(code), c.CodeHash)
	assert.Equal(t, f.clock.Now().Add(otp.TTL), c.ExpiresAt.UTC())
	assert.Zero(t, c.Attempts)
	assert.Zero(t, c.ResendCount)
}

func TestVerify_OKConsumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.issue(t)

	res, err := f.engine.Verify(ctx, f.repo, f.owner, code)
	require.NoError(t, err)
	assert.Equal(t, otp.OutcomeOK, res.Outcome)

	_, err = f.engine.Verify(ctx, f.repo, f.owner, code)
	assert.ErrorIs(t, err, otp.ErrNoChallenge)
}

func TestVerify_NoChallenge(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Verify(context.Background(), f.repo, f.owner, "123456")

	assert.ErrorIs(t, err, otp.ErrNoChallenge)
}

func TestVerify_FifthWrongLocksAndSixthCorrectIsLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.issue(t)
	wrong := wrongCode(code)

	for i := 1; i <= 4; i++ {
		res, err := f.engine.Verify(ctx, f.repo, f.owner, wrong)
		require.NoError(t, err)
		assert.Equal(t, otp.OutcomeInvalid, res.Outcome)
		assert.Equal(t, i, res.Attempts)
	}

	res, err := f.engine.Verify(ctx, f.repo, f.owner, wrong)
	require.NoError(t, err)
	assert.Equal(t, otp.OutcomeLocked, res.Outcome)
	assert.Equal(t, 5, res.Attempts)
	require.NotNil(t, res.LockedAt)

	res, err = f.engine.Verify(ctx, f.repo, f.owner, code)
	require.NoError(t, err)
	assert.Equal(t, otp.OutcomeLocked, res.Outcome)
	assert.Equal(t, 5, res.Attempts, "locked verification must not count")
}

func TestVerify_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.issue(t)

	f.clock.Advance(otp.TTL)

	res, err := f.engine.Verify(ctx, f.repo, f.owner, code)
	require.NoError(t, err)
	assert.Equal(t, otp.OutcomeExpired, res.Outcome)

	res, err = f.engine.Verify(ctx, f.repo, f.owner, wrongCode(code))
	require.NoError(t, err)
	assert.Equal(t, otp.OutcomeExpired, res.Outcome)
	assert.Zero(t, res.Attempts, "expired verification must not count")
}

func TestVerify_LockWinsOverExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.issue(t)
	for range otp.MaxAttempts {
		_, err := f.engine.Verify(ctx, f.repo, f.owner, wrongCode(code))
		require.NoError(t, err)
	}

	f.clock.Advance(time.Hour)

	res, err := f.engine.Verify(ctx, f.repo, f.owner, code)
	require.NoError(t, err)
	assert.Equal(t, otp.OutcomeLocked, res.Outcome)
}

func TestResend_CooldownThenResetsLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.issue(t)
	for range otp.MaxAttempts {
		_, err := f.engine.Verify(ctx, f.repo, f.owner, wrongCode(code))
		require.NoError(t, err)
	}

	f.clock.Advance(30 * time.Second)
	_, err := f.engine.Resend(ctx, f.repo, f.owner)
	require.ErrorIs(t, err, otp.ErrCooldown)
	var cooldown *otp.CooldownError
	require.ErrorAs(t, err, &cooldown)
	assert.Equal(t, 30*time.Second, cooldown.RetryAfter)

	f.clock.Advance(30 * time.Second)
	fresh, err := f.engine.Resend(ctx, f.repo, f.owner)
	require.NoError(t, err)

	c, err := f.repo.GetOTPChallenge(ctx, f.owner.ID, f.owner.Purpose)
	require.NoError(t, err)
	assert.Zero(t, c.Attempts)
	assert.Nil(t, c.LockedAt)
	assert.Equal(t, 1, c.ResendCount)
	assert.Equal(t, f.clock.Now().Add(otp.TTL), c.ExpiresAt.UTC())

	res, err := f.engine.Verify(ctx, f.repo, f.owner, fresh)
	require.NoError(t, err)
	assert.Equal(t, otp.OutcomeOK, res.Outcome)
}

func TestResend_OldCodeStopsWorking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.issue(t)

	f.clock.Advance(otp.ResendCooldown)
	fresh, err := f.engine.Resend(ctx, f.repo, f.owner)
	require.NoError(t, err)

	if old != fresh {
		res, err := f.engine.Verify(ctx, f.repo, f.owner, old)
		require.NoError(t, err)
		assert.Equal(t, otp.OutcomeInvalid, res.Outcome)
	}
}

func TestResend_LimitPerWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.issue(t)

	for range otp.MaxResends {
		f.clock.Advance(otp.ResendCooldown)
		_, err := f.engine.Resend(ctx, f.repo, f.owner)
		require.NoError(t, err)
	}

	// The cap applies regardless of cooldown state.
	f.clock.Advance(time.Hour)
	_, err := f.engine.Resend(ctx, f.repo, f.owner)
	require.ErrorIs(t, err, otp.ErrResendLimit)

	// A new window starts 24h after the first send.
	f.clock.Advance(otp.ResendWindow)
	_, err = f.engine.Resend(ctx, f.repo, f.owner)
	require.NoError(t, err)

	c, err := f.repo.GetOTPChallenge(ctx, f.owner.ID, f.owner.Purpose)
	require.NoError(t, err)
	assert.Equal(t, 1, c.ResendCount)
}

func TestResend_NoChallenge(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Resend(context.Background(), f.repo, f.owner)

	assert.ErrorIs(t, err, otp.ErrNoChallenge)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "OK", otp.OutcomeOK.String())
	assert.Equal(t, "EXPIRED", otp.OutcomeExpired.String())
	assert.Equal(t, "INVALID", otp.OutcomeInvalid.String())
	assert.Equal(t, "LOCKED", otp.OutcomeLocked.String())
}

func TestVerify_ConcurrentCorrectCodesConsumeOnce(t *testing.T) {
	_, repo := testutil.NewFileTestDB(t)
	clock := testutil.NewClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	engine, err := otp.NewEngine(testPepper, otp.WithClock(clock.Now))
	require.NoError(t, err)
	user := testutil.NewTestUser(t, repo, "jane@x.com")
	owner := otp.Owner{ID: user.ID, Purpose: models.PurposeEmailChange}
	code, err := engine.Issue(context.Background(), repo, owner)
	require.NoError(t, err)

	const callers = 8
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([]otp.Result, callers)
		errs    = make([]error, callers)
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i], errs[i] = engine.Verify(context.Background(), repo, owner, code)
		}()
	}
	close(start)
	wg.Wait()

	ok := 0
	for i := range callers {
		if errs[i] != nil {
			require.ErrorIs(t, errs[i], otp.ErrNoChallenge)
			continue
		}
		if results[i].Outcome == otp.OutcomeOK {
			ok++
		}
	}
	assert.Equal(t, 1, ok)

	_, err = repo.GetOTPChallenge(context.Background(), user.ID, models.PurposeEmailChange)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
