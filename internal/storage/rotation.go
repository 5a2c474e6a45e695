package storage

import (
	"time"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
)

// Revoke reasons recorded on session records.
const (
	RevokeReasonReused      = "reused"
	RevokeReasonLogout      = "logout"
	RevokeReasonDeactivated = "deactivated"
	RevokeReasonPassword    = "password_changed"
)

// DecideRotation classifies a rotation attempt against the current record.
// Callers must hold the record's serialization point (lock, row lock, script).
//
// The previous identifier is accepted in two cases only: the attempt saw it
// as current and lost the swap within the grace window (Stale), or the last
// rotation is still unconfirmed, in which case the undelivered pair is
// superseded (Rotated). Every other rotated-away identifier is reuse.
func DecideRotation(s *models.Session, p models.RotateParams) models.RotateStatus {
	switch {
	case s.Revoked:
		return models.RotateRevoked
	case s.IsExpired(p.Now):
		return models.RotateExpired
	case s.RefreshJTI == p.PresentedJTI:
		return models.RotateRotated
	case s.PreviousJTI == "" || s.PreviousJTI != p.PresentedJTI:
		return models.RotateReused
	case p.ObservedJTI == p.PresentedJTI && p.Now.Sub(s.RotatedAt) <= p.Grace:
		return models.RotateStale
	case s.RotationPending:
		return models.RotateRotated
	default:
		return models.RotateReused
	}
}

// ApplyRotation mutates s according to status. Rotated swaps identifiers,
// Reused revokes the whole family; other statuses leave s untouched.
func ApplyRotation(s *models.Session, status models.RotateStatus, p models.RotateParams) {
	switch status {
	case models.RotateRotated:
		s.PreviousJTI = s.RefreshJTI
		s.RefreshJTI = p.NextJTI
		s.RotatedAt = p.Now
		s.RotationPending = p.Pending
		s.LastSeenAt = p.Now
		s.ExpiresAt = p.Policy.NextExpiry(s, p.Now)
		if p.Device != nil {
			s.Device = *p.Device
		}
	case models.RotateReused:
		Revoke(s, RevokeReasonReused, p.Now)
	}
}

// ConfirmRotation clears the pending flag once the client has used the pair
// minted for refreshJTI. It reports whether s changed.
func ConfirmRotation(s *models.Session, refreshJTI string) bool {
	if !s.RotationPending || s.RefreshJTI != refreshJTI {
		return false
	}
	s.RotationPending = false
	return true
}

// Revoke marks s revoked.
func Revoke(s *models.Session, reason string, at time.Time) {
	s.Revoked = true
	s.RevokedAt = at
	s.RevokeReason = reason
	s.RotationPending = false
}

// ApplyHeartbeat extends s in place or reports why it cannot be extended.
func ApplyHeartbeat(s *models.Session, p models.HeartbeatParams) error {
	if s.Revoked {
		return ErrSessionRevoked
	}
	if s.IsExpired(p.Now) {
		return ErrSessionExpired
	}
	s.LastSeenAt = p.Now
	if next := p.Policy.NextExpiry(s, p.Now); next.After(s.ExpiresAt) {
		s.ExpiresAt = next
	}
	if p.Device != nil {
		s.Device = *p.Device
	}
	return nil
}
