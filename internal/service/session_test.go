package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/storage/memory"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/util"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type registryFixture struct {
	registry *SessionRegistry
	sessions *memory.SessionRepository
	accounts *memory.AccountRepository
	notifier *RecordingNotifier
	clock    *fakeClock
	account  *models.Account
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	log := zap.NewNop().Sugar()
	sessions := memory.NewSessionRepository(log)
	accounts := memory.NewAccountRepository()
	notifier := NewRecordingNotifier()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}

	account := testAccount()
	require.NoError(t, accounts.CreateAccount(context.Background(), account))

	tc := testTokenConfig()
	registry := NewSessionRegistry(sessions, accounts, NewTokenIssuer(tc), notifier, tc,
		&util.RegistryConfig{Retention: time.Hour}, log).WithClock(clock.Now)

	return &registryFixture{
		registry: registry,
		sessions: sessions,
		accounts: accounts,
		notifier: notifier,
		clock:    clock,
		account:  account,
	}
}

func (f *registryFixture) begin(t *testing.T, rememberMe bool) *Rotation {
	t.Helper()
	rot, err := f.registry.Begin(context.Background(), f.account, rememberMe, models.DeviceMeta{IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	return rot
}

func TestRotate_ReplacesIdentifier(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	start := f.begin(t, false)

	f.clock.Advance(10 * time.Minute)
	rot, err := f.registry.Rotate(ctx, start.Pair.RefreshToken, nil)
	require.NoError(t, err)

	assert.NotEqual(t, start.Session.RefreshJTI, rot.Session.RefreshJTI)
	assert.Equal(t, start.Session.RefreshJTI, rot.Session.PreviousJTI)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), rot.Session.ExpiresAt)

	claims, err := f.registry.issuer.VerifyAccess(rot.Pair.AccessToken, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, start.Session.ID, claims.SessionID)
}

// readBarrier holds GetSession until n callers have read the record, so every
// rotation attempt observes it before any of them swaps the identifier.
type readBarrier struct {
	*memory.SessionRepository
	wg sync.WaitGroup
}

func newReadBarrier(repo *memory.SessionRepository, n int) *readBarrier {
	b := &readBarrier{SessionRepository: repo}
	b.wg.Add(n)
	return b
}

func (b *readBarrier) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	s, err := b.SessionRepository.GetSession(ctx, id)
	b.wg.Done()
	b.wg.Wait()
	return s, err
}

func TestRotate_ConcurrentSameTokenHasOneWinner(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	start := f.begin(t, false)

	const attempts = 5
	tc := testTokenConfig()
	registry := NewSessionRegistry(newReadBarrier(f.sessions, attempts), f.accounts, f.registry.issuer, f.notifier, tc,
		&util.RegistryConfig{Retention: time.Hour}, zap.NewNop().Sugar()).WithClock(f.clock.Now)

	var (
		wg      sync.WaitGroup
		results = make([]error, attempts)
		pairs   = make([]*Rotation, attempts)
	)
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pairs[i], results[i] = registry.Rotate(ctx, start.Pair.RefreshToken, nil)
		}()
	}
	wg.Wait()

	var (
		winner *Rotation
		losers []*StaleRotationError
	)
	for i, err := range results {
		if err == nil {
			require.Nil(t, winner, "second winner")
			winner = pairs[i]
			continue
		}
		var stale *StaleRotationError
		require.ErrorAs(t, err, &stale)
		losers = append(losers, stale)
	}
	require.NotNil(t, winner)
	require.Len(t, losers, attempts-1)

	for _, stale := range losers {
		claims, err := f.registry.issuer.ParseRefresh(stale.Pair.RefreshToken, f.clock.Now())
		require.NoError(t, err)
		assert.Equal(t, winner.Session.RefreshJTI, claims.ID)
		_, err = f.registry.issuer.VerifyAccess(stale.Pair.AccessToken, f.clock.Now())
		assert.NoError(t, err)
	}

	session, err := f.sessions.GetSession(ctx, start.Session.ID)
	require.NoError(t, err)
	assert.False(t, session.Revoked)
	assert.Empty(t, f.notifier.Events(models.EventRefreshReuse))

	_, err = f.registry.Rotate(ctx, winner.Pair.RefreshToken, nil)
	assert.NoError(t, err)
}

func TestRotate_ReuseRevokesFamily(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	start := f.begin(t, true)

	rot, err := f.registry.Rotate(ctx, start.Pair.RefreshToken, nil)
	require.NoError(t, err)

	_, err = f.registry.Rotate(ctx, start.Pair.RefreshToken, &models.DeviceMeta{IPAddress: "203.0.113.9"})
	require.ErrorIs(t, err, ErrRefreshTokenReused)

	session, err := f.sessions.GetSession(ctx, start.Session.ID)
	require.NoError(t, err)
	assert.True(t, session.Revoked)

	_, err = f.registry.Rotate(ctx, rot.Pair.RefreshToken, nil)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	events := f.notifier.Events(models.EventRefreshReuse)
	require.Len(t, events, 1)
	assert.Equal(t, "203.0.113.9", events[0].NewIP)
}

func TestRotate_SequentialReplayInsideGraceIsReuse(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	start := f.begin(t, false)

	rot, err := f.registry.Rotate(ctx, start.Pair.RefreshToken, nil)
	require.NoError(t, err)

	f.clock.Advance(5 * time.Second)
	replayed, err := f.registry.Rotate(ctx, start.Pair.RefreshToken, nil)
	require.ErrorIs(t, err, ErrRefreshTokenReused)
	assert.Nil(t, replayed)
	var stale *StaleRotationError
	assert.False(t, errors.As(err, &stale), "no pair handed to the replayer")

	_, err = f.registry.Rotate(ctx, rot.Pair.RefreshToken, nil)
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestRotate_OlderGenerationIsReuseEvenInsideGrace(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	start := f.begin(t, false)

	second, err := f.registry.Rotate(ctx, start.Pair.RefreshToken, nil)
	require.NoError(t, err)
	_, err = f.registry.Rotate(ctx, second.Pair.RefreshToken, nil)
	require.NoError(t, err)

	_, err = f.registry.Rotate(ctx, start.Pair.RefreshToken, nil)
	assert.ErrorIs(t, err, ErrRefreshTokenReused)
}

func TestRotate_ExpiredSession(t *testing.T) {
	f := newRegistryFixture(t)
	start := f.begin(t, false)

	f.clock.Advance(31 * time.Minute)
	_, err := f.registry.Rotate(context.Background(), start.Pair.RefreshToken, nil)
	assert.ErrorIs(t, err, ErrRefreshTokenExpired)

	reason, ok := Rejection(err)
	assert.True(t, ok)
	assert.Equal(t, ReasonExpired, reason)
}

func TestRotate_InactiveAccountRevokes(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	start := f.begin(t, false)

	require.NoError(t, f.accounts.SetActive(ctx, f.account.ID, false))
	_, err := f.registry.Rotate(ctx, start.Pair.RefreshToken, nil)
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestRotate_IPChangeNotifies(t *testing.T) {
	f := newRegistryFixture(t)
	start := f.begin(t, false)

	_, err := f.registry.Rotate(context.Background(), start.Pair.RefreshToken, &models.DeviceMeta{IPAddress: "10.0.0.2"})
	require.NoError(t, err)

	events := f.notifier.Events(models.EventIPChange)
	require.Len(t, events, 1)
	assert.Equal(t, "10.0.0.1", events[0].OldIP)
	assert.Equal(t, "10.0.0.2", events[0].NewIP)
}

func TestHeartbeat_ExtendsWithoutRotating(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	start := f.begin(t, true)

	f.clock.Advance(time.Hour)
	session, err := f.registry.Heartbeat(ctx, start.Session.ID, &models.DeviceMeta{ConnectionQuality: models.ConnectionPoor})
	require.NoError(t, err)

	assert.Equal(t, start.Session.RefreshJTI, session.RefreshJTI)
	assert.True(t, session.ExpiresAt.After(start.Session.ExpiresAt))
	assert.Equal(t, f.clock.Now(), session.LastSeenAt)
	assert.Equal(t, models.ConnectionPoor, session.Device.ConnectionQuality)

	_, err = f.registry.Rotate(ctx, start.Pair.RefreshToken, nil)
	assert.NoError(t, err)
}

func TestHeartbeat_RevokedSession(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	start := f.begin(t, true)

	require.NoError(t, f.registry.Revoke(ctx, start.Session.ID, "logout"))
	_, err := f.registry.Heartbeat(ctx, start.Session.ID, nil)
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestRevokeAccount(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	a := f.begin(t, false)
	b := f.begin(t, true)

	n, err := f.registry.RevokeAccount(ctx, f.account.ID, "deactivated")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, rot := range []*Rotation{a, b} {
		_, err := f.registry.Rotate(ctx, rot.Pair.RefreshToken, nil)
		assert.ErrorIs(t, err, ErrSessionRevoked)
	}
}

func TestSweepExpired(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	short := f.begin(t, false)
	long := f.begin(t, true)

	f.clock.Advance(31 * time.Minute)
	n, err := f.registry.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "expired session kept during retention")

	f.clock.Advance(time.Hour)
	n, err = f.registry.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.sessions.GetSession(ctx, short.Session.ID)
	assert.Error(t, err)
	_, err = f.sessions.GetSession(ctx, long.Session.ID)
	assert.NoError(t, err)
}

func (f *registryFixture) courtesyDue(t *testing.T, start *Rotation) (*AccessClaims, models.TokenPair) {
	t.Helper()
	claims, err := f.registry.issuer.VerifyAccess(start.Pair.AccessToken, f.clock.Now())
	require.NoError(t, err)

	pair, err := f.registry.CourtesyRotate(context.Background(), claims, start.Pair.RefreshToken, nil)
	require.NoError(t, err)
	require.Nil(t, pair, "not due yet")

	f.clock.Advance(14 * time.Minute)
	pair, err = f.registry.CourtesyRotate(context.Background(), claims, start.Pair.RefreshToken, nil)
	require.NoError(t, err)
	require.NotNil(t, pair)
	return claims, *pair
}

func TestCourtesyRotate(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	start := f.begin(t, false)
	_, pair := f.courtesyDue(t, start)

	session, err := f.sessions.GetSession(ctx, start.Session.ID)
	require.NoError(t, err)
	assert.True(t, session.RotationPending)

	claims, err := f.registry.issuer.VerifyAccess(pair.AccessToken, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, session.RefreshJTI, claims.RefreshID)

	require.NoError(t, f.registry.ConfirmRotation(ctx, claims))
	session, err = f.sessions.GetSession(ctx, start.Session.ID)
	require.NoError(t, err)
	assert.False(t, session.RotationPending)

	// Once the pushed pair is in use, the old token is a replay.
	f.clock.Advance(2 * time.Minute)
	_, err = f.registry.Rotate(ctx, start.Pair.RefreshToken, nil)
	assert.ErrorIs(t, err, ErrRefreshTokenReused)
}

func TestCourtesyRotate_LostResponseKeepsSession(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	start := f.begin(t, false)
	_, lost := f.courtesyDue(t, start)

	f.clock.Advance(2 * time.Minute)
	rot, err := f.registry.Rotate(ctx, start.Pair.RefreshToken, nil)
	require.NoError(t, err)
	assert.False(t, rot.Session.Revoked)
	assert.False(t, rot.Session.RotationPending)
	assert.Empty(t, f.notifier.Events(models.EventRefreshReuse))

	// The pair that never arrived is dead; the recovered one keeps working.
	_, err = f.registry.Rotate(ctx, lost.RefreshToken, nil)
	assert.ErrorIs(t, err, ErrRefreshTokenReused)
}

func TestCourtesyRotate_RecoveredPairRotates(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	start := f.begin(t, false)
	_, _ = f.courtesyDue(t, start)

	rot, err := f.registry.Rotate(ctx, start.Pair.RefreshToken, nil)
	require.NoError(t, err)

	_, err = f.registry.Rotate(ctx, rot.Pair.RefreshToken, nil)
	assert.NoError(t, err)
}

func TestMetadataHeartbeatInterval(t *testing.T) {
	f := newRegistryFixture(t)
	rot := f.begin(t, false)

	rot.Session.Device.ConnectionQuality = models.ConnectionGood
	assert.Equal(t, int64(300), f.registry.Metadata(rot.Session, time.Time{}).HeartbeatInterval)

	rot.Session.Device.ConnectionQuality = models.ConnectionPoor
	assert.Equal(t, int64(900), f.registry.Metadata(rot.Session, time.Time{}).HeartbeatInterval)

	f.registry.idle.Session = 10 * time.Minute
	assert.Equal(t, int64(300), f.registry.Metadata(rot.Session, time.Time{}).HeartbeatInterval, "capped at half the idle lifetime")
}

func TestRejectionReasons(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ErrRefreshTokenReused, ReasonReused},
		{ErrSessionRevoked, ReasonRevoked},
		{ErrTokenExpired, ReasonTokenExpired},
		{&StaleRotationError{}, ReasonRotated},
		{fmt.Errorf("%w: %w", ErrRefreshTokenInvalid, ErrTokenMalformed), ReasonInvalid},
		{ErrInvalidCredentials, ReasonInvalidCredentials},
	}
	for _, tc := range cases {
		got, ok := Rejection(tc.err)
		assert.True(t, ok)
		assert.Equal(t, tc.want, got, tc.err.Error())
	}

	_, ok := Rejection(errors.New("boom"))
	assert.False(t, ok)
}
