package models

import (
	"time"

	"github.com/google/uuid"
)

type SignInRequest struct {
	Email      string `json:"email"      validate:"required,email"`
	Password   string `json:"password"   validate:"required"`
	RememberMe bool   `json:"rememberMe"`
}

type SetPasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword"     validate:"required,min=10,max=72"`
}

// SessionMetadata is the client-visible view of a session record.
type SessionMetadata struct {
	SessionID         uuid.UUID         `json:"sessionId"`
	RememberMe        bool              `json:"rememberMe"`
	ExpiresAt         time.Time         `json:"expiresAt"`
	AccessExpiresAt   time.Time         `json:"accessExpiresAt"`
	LastSeenAt        time.Time         `json:"lastSeenAt"`
	ConnectionQuality ConnectionQuality `json:"connectionQuality"`
	HeartbeatInterval int64             `json:"heartbeatIntervalSeconds"`
}

type SignInResponse struct {
	AccessToken     string          `json:"accessToken"`
	RefreshToken    string          `json:"refreshToken"`
	Account         Account         `json:"account"`
	SessionMetadata SessionMetadata `json:"sessionMetadata"`
}

type RefreshResponse struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	Session      SessionMetadata `json:"session"`
}

type HeartbeatResponse struct {
	SessionID         uuid.UUID `json:"sessionId"`
	ExpiresAt         time.Time `json:"expiresAt"`
	LastSeenAt        time.Time `json:"lastSeenAt"`
	HeartbeatInterval int64     `json:"heartbeatIntervalSeconds"`
}

type DeactivateResponse struct {
	AccountID       uuid.UUID `json:"accountId"`
	RevokedSessions int       `json:"revokedSessions"`
}

type ErrorResponse struct {
	Reason string `json:"reason"`
}
