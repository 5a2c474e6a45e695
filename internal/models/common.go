package models

import "time"

//nolint:gosec //file not handles sensitive data
const (
	APIKeyHeader            = "X-API-Key"
	RefreshTokenHeader      = "X-Refresh-Token"
	NewAccessTokenHeader    = "X-New-Access-Token"
	NewRefreshTokenHeader   = "X-New-Refresh-Token"
	ConnectionQualityHeader = "X-Connection-Quality"
	ClientRTTHeader         = "X-Client-RTT-Ms"

	MwClaimsKey = "claims"
)

const (
	SignInPath      = "/auth/signin"
	RefreshPath     = "/auth/refresh-token"
	LogoutPath      = "/auth/logout"
	HeartbeatPath   = "/auth/heartbeat"
	SetPasswordPath = "/auth/set-password"
	ProfilePath     = "/api/me"
)

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type APIKey struct {
	Key      string `json:"key"`
	ClientID string `json:"client_id"`
}

const (
	EventIPChange     = "ip_change"
	EventRefreshReuse = "refresh_reuse"
)

// SecurityEvent is posted to the security webhook.
type SecurityEvent struct {
	Type       string    `json:"type"`
	AccountID  string    `json:"account_id"`
	SessionID  string    `json:"session_id"`
	OldIP      string    `json:"old_ip,omitempty"`
	NewIP      string    `json:"new_ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
