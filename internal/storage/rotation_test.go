package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
)

func TestDecideRotation(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	base := models.Session{
		RefreshJTI:  "current",
		PreviousJTI: "previous",
		RotatedAt:   now.Add(-5 * time.Second),
		ExpiresAt:   now.Add(time.Hour),
	}

	tests := []struct {
		name      string
		mutate    func(s *models.Session)
		presented string
		observed  string
		want      models.RotateStatus
	}{
		{name: "current identifier", presented: "current", observed: "current", want: models.RotateRotated},
		{name: "lost race inside grace", presented: "previous", observed: "previous", want: models.RotateStale},
		{name: "replay of previous", presented: "previous", observed: "current", want: models.RotateReused},
		{
			name:      "lost race after grace",
			mutate:    func(s *models.Session) { s.RotatedAt = now.Add(-time.Minute) },
			presented: "previous",
			observed:  "previous",
			want:      models.RotateReused,
		},
		{
			name:      "previous while rotation unconfirmed",
			mutate:    func(s *models.Session) { s.RotationPending = true },
			presented: "previous",
			observed:  "current",
			want:      models.RotateRotated,
		},
		{
			name:      "older generation while rotation unconfirmed",
			mutate:    func(s *models.Session) { s.RotationPending = true },
			presented: "ancient",
			observed:  "current",
			want:      models.RotateReused,
		},
		{name: "older generation", presented: "ancient", observed: "ancient", want: models.RotateReused},
		{
			name:      "expired wins over match",
			mutate:    func(s *models.Session) { s.ExpiresAt = now },
			presented: "current",
			observed:  "current",
			want:      models.RotateExpired,
		},
		{
			name:      "revoked wins over everything",
			mutate:    func(s *models.Session) { s.Revoked = true },
			presented: "current",
			observed:  "current",
			want:      models.RotateRevoked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			if tt.mutate != nil {
				tt.mutate(&s)
			}
			got := DecideRotation(&s, models.RotateParams{
				PresentedJTI: tt.presented,
				ObservedJTI:  tt.observed,
				Now:          now,
				Grace:        10 * time.Second,
			})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyRotation(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s := models.Session{
		RefreshJTI:        "current",
		ExpiresAt:         now.Add(time.Minute),
		AbsoluteExpiresAt: now.Add(10 * time.Minute),
	}
	p := models.RotateParams{
		PresentedJTI: "current",
		NextJTI:      "next",
		Pending:      true,
		Now:          now,
		Policy:       models.TTLPolicy{Session: time.Hour},
	}

	ApplyRotation(&s, models.RotateRotated, p)
	assert.Equal(t, "next", s.RefreshJTI)
	assert.Equal(t, "current", s.PreviousJTI)
	assert.Equal(t, now, s.RotatedAt)
	assert.True(t, s.RotationPending)
	assert.Equal(t, now.Add(10*time.Minute), s.ExpiresAt, "capped by the absolute lifetime")

	ApplyRotation(&s, models.RotateReused, p)
	assert.True(t, s.Revoked)
	assert.Equal(t, RevokeReasonReused, s.RevokeReason)
	assert.False(t, s.RotationPending)
}

func TestConfirmRotation(t *testing.T) {
	s := models.Session{RefreshJTI: "next", PreviousJTI: "current", RotationPending: true}

	assert.False(t, ConfirmRotation(&s, "current"), "pair of an earlier generation")
	assert.True(t, s.RotationPending)

	assert.True(t, ConfirmRotation(&s, "next"))
	assert.False(t, s.RotationPending)
	assert.False(t, ConfirmRotation(&s, "next"), "already confirmed")
}

func TestApplyHeartbeat(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	policy := models.TTLPolicy{Session: 30 * time.Minute}

	s := models.Session{RefreshJTI: "current", ExpiresAt: now.Add(time.Minute)}
	assert.NoError(t, ApplyHeartbeat(&s, models.HeartbeatParams{Now: now, Policy: policy}))
	assert.Equal(t, now.Add(30*time.Minute), s.ExpiresAt)
	assert.Equal(t, "current", s.RefreshJTI)

	expired := models.Session{ExpiresAt: now}
	assert.ErrorIs(t, ApplyHeartbeat(&expired, models.HeartbeatParams{Now: now, Policy: policy}), ErrSessionExpired)

	revoked := models.Session{ExpiresAt: now.Add(time.Hour), Revoked: true}
	assert.ErrorIs(t, ApplyHeartbeat(&revoked, models.HeartbeatParams{Now: now, Policy: policy}), ErrSessionRevoked)
}
