package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenConfig(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_SECRET", "access")
	t.Setenv("REFRESH_TOKEN_SECRET", "refresh")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("ROTATION_GRACE", "not-a-duration")

	cfg, err := NewTokenConfig()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
	assert.Equal(t, defaultRotationGrace, cfg.RotationGrace)
	assert.Equal(t, defaultRememberMeTTL, cfg.RememberMeTTL)
	assert.Equal(t, defaultTokenIssuer, cfg.Issuer)
}

func TestNewTokenConfig_Secrets(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_SECRET", "")
	t.Setenv("REFRESH_TOKEN_SECRET", "refresh")
	_, err := NewTokenConfig()
	assert.ErrorIs(t, err, ErrMissingSecret)

	t.Setenv("ACCESS_TOKEN_SECRET", "same")
	t.Setenv("REFRESH_TOKEN_SECRET", "same")
	_, err = NewTokenConfig()
	assert.ErrorIs(t, err, ErrSharedSecret)
}

func TestNewRegistryConfig(t *testing.T) {
	t.Setenv("SESSION_STORE", "")
	t.Setenv("SESSION_RETENTION", "2h")

	cfg := NewRegistryConfig()
	assert.Equal(t, "redis", cfg.Store)
	assert.Equal(t, 2*time.Hour, cfg.Retention)
	assert.Equal(t, defaultSweepInterval, cfg.SweepInterval)
}
