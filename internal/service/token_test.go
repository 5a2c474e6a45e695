package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/util"
)

func testTokenConfig() *util.TokenConfig {
	return &util.TokenConfig{
		AccessSecret:       []byte("access-secret-for-tests"),
		RefreshSecret:      []byte("refresh-secret-for-tests"),
		Issuer:             "test-issuer",
		AccessTTL:          15 * time.Minute,
		SessionTTL:         30 * time.Minute,
		RememberMeTTL:      24 * time.Hour,
		SessionAbsolute:    12 * time.Hour,
		RememberMeAbsolute: 720 * time.Hour,
		RotationGrace:      10 * time.Second,
		CourtesyWindow:     2 * time.Minute,
	}
}

func testAccount() *models.Account {
	return &models.Account{ID: uuid.New(), Email: "staff@school.test", Role: models.RoleStaff, Active: true}
}

func issueAt(t *testing.T, ts *TokenIssuer, account *models.Account, now time.Time) models.TokenPair {
	t.Helper()
	pair, err := ts.Issue(IssueParams{
		Account:          account,
		SessionID:        uuid.New(),
		RefreshJTI:       uuid.NewString(),
		RefreshExpiresAt: now.Add(time.Hour),
		Now:              now,
	})
	require.NoError(t, err)
	return pair
}

func TestVerifyAccess_ExpiryBoundary(t *testing.T) {
	ts := NewTokenIssuer(testTokenConfig())
	account := testAccount()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	pair := issueAt(t, ts, account, now)
	expiry := now.Add(15 * time.Minute)

	claims, err := ts.VerifyAccess(pair.AccessToken, expiry.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.AccountID)
	assert.Equal(t, models.RoleStaff, claims.Role)
	assert.Equal(t, expiry, claims.ExpiresAt.Time.UTC())

	_, err = ts.VerifyAccess(pair.AccessToken, expiry.Add(time.Second))
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyAccess_Deterministic(t *testing.T) {
	ts := NewTokenIssuer(testTokenConfig())
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	pair := issueAt(t, ts, testAccount(), now)

	first, err := ts.VerifyAccess(pair.AccessToken, now.Add(time.Minute))
	require.NoError(t, err)
	second, err := ts.VerifyAccess(pair.AccessToken, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestVerifyAccess_RejectsForeignSignatures(t *testing.T) {
	ts := NewTokenIssuer(testTokenConfig())
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	pair := issueAt(t, ts, testAccount(), now)

	// A refresh token is signed with the other secret and never passes as an access token.
	_, err := ts.VerifyAccess(pair.RefreshToken, now)
	assert.ErrorIs(t, err, ErrTokenInvalidSignature)

	other := testTokenConfig()
	other.AccessSecret = []byte("someone-else")
	_, err = NewTokenIssuer(other).VerifyAccess(pair.AccessToken, now)
	assert.ErrorIs(t, err, ErrTokenInvalidSignature)

	_, err = ts.VerifyAccess("not-a-jwt", now)
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestParseRefresh(t *testing.T) {
	ts := NewTokenIssuer(testTokenConfig())
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	sessionID := uuid.New()
	pair, err := ts.Issue(IssueParams{
		Account:          testAccount(),
		SessionID:        sessionID,
		RefreshJTI:       "jti-1",
		RememberMe:       true,
		RefreshExpiresAt: now.Add(time.Hour),
		Now:              now,
	})
	require.NoError(t, err)

	claims, err := ts.ParseRefresh(pair.RefreshToken, now)
	require.NoError(t, err)
	assert.Equal(t, sessionID, claims.SessionID)
	assert.Equal(t, "jti-1", claims.ID)
	assert.True(t, claims.RememberMe)

	_, err = ts.ParseRefresh(pair.RefreshToken, now.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrRefreshTokenExpired)

	_, err = ts.ParseRefresh(pair.AccessToken, now)
	assert.ErrorIs(t, err, ErrRefreshTokenInvalid)
}
