package models

import (
	"time"

	"github.com/google/uuid"
)

type ConnectionQuality string

const (
	ConnectionUnknown  ConnectionQuality = "unknown"
	ConnectionGood     ConnectionQuality = "good"
	ConnectionDegraded ConnectionQuality = "degraded"
	ConnectionPoor     ConnectionQuality = "poor"
)

// ParseConnectionQuality maps a client-reported value onto the known set.
func ParseConnectionQuality(v string) ConnectionQuality {
	switch q := ConnectionQuality(v); q {
	case ConnectionGood, ConnectionDegraded, ConnectionPoor:
		return q
	}
	return ConnectionUnknown
}

// DeviceMeta describes the device/connection a session was last seen from.
type DeviceMeta struct {
	UserAgent         string            `json:"userAgent"`
	IPAddress         string            `json:"ipAddress"`
	ConnectionQuality ConnectionQuality `json:"connectionQuality"`
	RTT               time.Duration     `json:"rtt"`
}

// Session is the server-side record of one refresh-token family.
//
// RefreshJTI is the only identifier that can rotate. PreviousJTI and
// RotatedAt describe the last rotation. RotationPending is set while the pair
// minted by a courtesy rotation has not been seen back from the client.
type Session struct {
	ID                uuid.UUID  `json:"id"`
	AccountID         uuid.UUID  `json:"accountId"`
	RefreshJTI        string     `json:"refreshJti"`
	PreviousJTI       string     `json:"previousJti,omitempty"`
	RotatedAt         time.Time  `json:"rotatedAt"`
	RotationPending   bool       `json:"rotationPending,omitempty"`
	Device            DeviceMeta `json:"device"`
	LastSeenAt        time.Time  `json:"lastSeenAt"`
	RememberMe        bool       `json:"rememberMe"`
	CreatedAt         time.Time  `json:"createdAt"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	AbsoluteExpiresAt time.Time  `json:"absoluteExpiresAt"`
	Revoked           bool       `json:"revoked"`
	RevokedAt         time.Time  `json:"revokedAt"`
	RevokeReason      string     `json:"revokeReason,omitempty"`
}

func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// TTLPolicy decides how far expires-at moves on rotation and heartbeat.
type TTLPolicy struct {
	Session    time.Duration
	Remembered time.Duration
}

func (p TTLPolicy) For(rememberMe bool) time.Duration {
	if rememberMe {
		return p.Remembered
	}
	return p.Session
}

// NextExpiry returns the sliding expiry for s at now, capped by the absolute lifetime.
func (p TTLPolicy) NextExpiry(s *Session, now time.Time) time.Time {
	next := now.Add(p.For(s.RememberMe))
	if !s.AbsoluteExpiresAt.IsZero() && next.After(s.AbsoluteExpiresAt) {
		return s.AbsoluteExpiresAt
	}
	return next
}

type RotateStatus int

const (
	RotateNotFound RotateStatus = iota
	RotateRotated
	RotateStale
	RotateReused
	RotateExpired
	RotateRevoked
)

func (s RotateStatus) String() string {
	switch s {
	case RotateRotated:
		return "rotated"
	case RotateStale:
		return "stale"
	case RotateReused:
		return "reused"
	case RotateExpired:
		return "expired"
	case RotateRevoked:
		return "revoked"
	}
	return "not_found"
}

// RotateParams is one compare-and-swap attempt on a session's refresh identifier.
//
// ObservedJTI is the current identifier as read when the attempt began; an
// attempt that saw PresentedJTI as current and then lost the swap raced the
// winner. Pending marks a rotation whose pair travels in response headers
// and is unconfirmed until the client uses it.
type RotateParams struct {
	SessionID    uuid.UUID
	PresentedJTI string
	ObservedJTI  string
	NextJTI      string
	Pending      bool
	Now          time.Time
	Grace        time.Duration
	Policy       TTLPolicy
	Device       *DeviceMeta
}

type RotateResult struct {
	Status  RotateStatus
	Session *Session
}

type HeartbeatParams struct {
	SessionID uuid.UUID
	Now       time.Time
	Policy    TTLPolicy
	Device    *DeviceMeta
}
