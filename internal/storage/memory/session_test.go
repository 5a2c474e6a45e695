package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/storage"
)

func TestSessionRepository_ConcurrentRotation(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(zap.NewNop().Sugar())
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	session := &models.Session{
		ID:         uuid.New(),
		AccountID:  uuid.New(),
		RefreshJTI: "first",
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
	}
	require.NoError(t, repo.CreateSession(ctx, session))

	const callers = 50
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[models.RotateStatus]int{}
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := repo.RotateRefresh(ctx, models.RotateParams{
				SessionID:    session.ID,
				PresentedJTI: "first",
				ObservedJTI:  "first",
				NextJTI:      uuid.NewString(),
				Now:          now,
				Grace:        10 * time.Second,
				Policy:       models.TTLPolicy{Session: time.Hour},
			})
			assert.NoError(t, err, "caller %d", i)
			mu.Lock()
			statuses[res.Status]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, statuses[models.RotateRotated])
	assert.Equal(t, callers-1, statuses[models.RotateStale])

	stored, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, stored.Revoked)
	assert.Equal(t, "first", stored.PreviousJTI)
}

func TestSessionRepository_UnconfirmedRotation(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(zap.NewNop().Sugar())
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	policy := models.TTLPolicy{Session: time.Hour}

	session := &models.Session{ID: uuid.New(), AccountID: uuid.New(), RefreshJTI: "first", ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, repo.CreateSession(ctx, session))

	res, err := repo.RotateRefresh(ctx, models.RotateParams{
		SessionID: session.ID, PresentedJTI: "first", ObservedJTI: "first", NextJTI: "second", Pending: true, Now: now, Policy: policy,
	})
	require.NoError(t, err)
	require.Equal(t, models.RotateRotated, res.Status)
	assert.True(t, res.Session.RotationPending)

	// The pair for "second" never reached the client; "first" supersedes it.
	later := now.Add(5 * time.Minute)
	res, err = repo.RotateRefresh(ctx, models.RotateParams{
		SessionID: session.ID, PresentedJTI: "first", ObservedJTI: "second", NextJTI: "third", Now: later, Policy: policy,
	})
	require.NoError(t, err)
	require.Equal(t, models.RotateRotated, res.Status)
	assert.Equal(t, "third", res.Session.RefreshJTI)
	assert.False(t, res.Session.RotationPending)

	res, err = repo.RotateRefresh(ctx, models.RotateParams{
		SessionID: session.ID, PresentedJTI: "first", ObservedJTI: "third", NextJTI: "fourth", Now: later, Policy: policy,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RotateReused, res.Status)
}

func TestSessionRepository_ConfirmRotation(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(zap.NewNop().Sugar())
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	session := &models.Session{ID: uuid.New(), RefreshJTI: "second", PreviousJTI: "first", RotationPending: true, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, repo.CreateSession(ctx, session))

	require.NoError(t, repo.ConfirmRotation(ctx, session.ID, "second", now))
	stored, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, stored.RotationPending)

	assert.ErrorIs(t, repo.ConfirmRotation(ctx, uuid.New(), "second", now), storage.ErrSessionNotFound)
}

func TestSessionRepository_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(zap.NewNop().Sugar())
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	accountID := uuid.New()

	live := &models.Session{ID: uuid.New(), AccountID: accountID, ExpiresAt: now.Add(time.Hour)}
	stale := &models.Session{ID: uuid.New(), AccountID: accountID, ExpiresAt: now.Add(-time.Hour)}
	require.NoError(t, repo.CreateSession(ctx, live))
	require.NoError(t, repo.CreateSession(ctx, stale))

	n, err := repo.RevokeAccountSessions(ctx, accountID, "logout", now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = repo.GetSession(ctx, live.ID)
	assert.NoError(t, err)
}
