package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/storage"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/util"
)

const (
	minHeartbeatInterval = 30 * time.Second
	goodHeartbeat        = 5 * time.Minute
	degradedHeartbeat    = 10 * time.Minute
	poorHeartbeat        = 15 * time.Minute
)

// SessionRegistry owns the lifecycle of refresh-token families. Every
// mutation of a record goes through the repository's per-session
// serialization point (mutex, row lock or WATCH transaction).
type SessionRegistry struct {
	sessions  storage.SessionRepository
	accounts  storage.AccountRepository
	issuer    *TokenIssuer
	notifier  SecurityNotifier
	idle      models.TTLPolicy
	absolute  models.TTLPolicy
	grace     time.Duration
	courtesy  time.Duration
	retention time.Duration
	confirmed sync.Map
	now       func() time.Time
	log       *zap.SugaredLogger
}

func NewSessionRegistry(
	sessions storage.SessionRepository,
	accounts storage.AccountRepository,
	issuer *TokenIssuer,
	notifier SecurityNotifier,
	tc *util.TokenConfig,
	rc *util.RegistryConfig,
	log *zap.SugaredLogger,
) *SessionRegistry {
	return &SessionRegistry{
		sessions:  sessions,
		accounts:  accounts,
		issuer:    issuer,
		notifier:  notifier,
		idle:      models.TTLPolicy{Session: tc.SessionTTL, Remembered: tc.RememberMeTTL},
		absolute:  models.TTLPolicy{Session: tc.SessionAbsolute, Remembered: tc.RememberMeAbsolute},
		grace:     tc.RotationGrace,
		courtesy:  tc.CourtesyWindow,
		retention: rc.Retention,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

// WithClock replaces the wall clock, for tests.
func (r *SessionRegistry) WithClock(now func() time.Time) *SessionRegistry {
	r.now = now
	return r
}

func (r *SessionRegistry) Now() time.Time {
	return r.now()
}

// Rotation is a successful rotation: the new pair and the updated record.
type Rotation struct {
	Pair            models.TokenPair
	Session         *models.Session
	AccessExpiresAt time.Time
}

// Begin creates an Active session for account and returns its first pair.
func (r *SessionRegistry) Begin(ctx context.Context, account *models.Account, rememberMe bool, device models.DeviceMeta) (*Rotation, error) {
	now := r.now()
	session := &models.Session{
		ID:                uuid.New(),
		AccountID:         account.ID,
		RefreshJTI:        uuid.NewString(),
		Device:            device,
		LastSeenAt:        now,
		RememberMe:        rememberMe,
		CreatedAt:         now,
		AbsoluteExpiresAt: now.Add(r.absolute.For(rememberMe)),
	}
	session.ExpiresAt = r.idle.NextExpiry(session, now)

	pair, err := r.issuer.Issue(IssueParams{
		Account:          account,
		SessionID:        session.ID,
		RefreshJTI:       session.RefreshJTI,
		RememberMe:       rememberMe,
		RefreshExpiresAt: session.AbsoluteExpiresAt,
		Now:              now,
	})
	if err != nil {
		return nil, err
	}

	if err := r.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}

	r.log.Infow("Session started", "sessionID", session.ID, "accountID", account.ID, "rememberMe", rememberMe)
	return &Rotation{Pair: pair, Session: session, AccessExpiresAt: r.issuer.AccessExpiry(now)}, nil
}

// Rotate exchanges a presented refresh token for a new pair. Exactly one of
// several concurrent rotations with the same token wins; a loser that raced
// the winner gets a *StaleRotationError carrying a pair for the winner's
// identifier. Any other rotated-away identifier revokes the whole session.
func (r *SessionRegistry) Rotate(ctx context.Context, presented string, device *models.DeviceMeta) (*Rotation, error) {
	return r.rotate(ctx, presented, device, false)
}

// rotate runs one attempt. pending marks a rotation whose pair is delivered
// in response headers and stays unconfirmed until the client uses it.
func (r *SessionRegistry) rotate(ctx context.Context, presented string, device *models.DeviceMeta, pending bool) (*Rotation, error) {
	now := r.now()
	claims, err := r.issuer.ParseRefresh(presented, now)
	if err != nil {
		return nil, err
	}

	prior, err := r.sessions.GetSession(ctx, claims.SessionID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil, ErrSessionRevoked
	}
	if err != nil {
		return nil, fmt.Errorf("rotate: %w", err)
	}
	if prior.Revoked {
		return nil, ErrSessionRevoked
	}

	account, err := r.accounts.GetAccountByID(ctx, prior.AccountID)
	if err != nil && !errors.Is(err, storage.ErrAccountNotFound) {
		return nil, fmt.Errorf("rotate: %w", err)
	}
	if account == nil || !account.Active {
		if err := r.sessions.RevokeSession(ctx, prior.ID, storage.RevokeReasonDeactivated, now); err != nil {
			r.log.Errorw("failed to revoke session of inactive account", "sessionID", prior.ID, "error", err)
		}
		return nil, ErrSessionRevoked
	}

	nextJTI := uuid.NewString()
	pair, err := r.issuer.Issue(IssueParams{
		Account:          account,
		SessionID:        prior.ID,
		RefreshJTI:       nextJTI,
		RememberMe:       prior.RememberMe,
		RefreshExpiresAt: prior.AbsoluteExpiresAt,
		Pending:          pending,
		Now:              now,
	})
	if err != nil {
		return nil, err
	}

	res, err := r.sessions.RotateRefresh(ctx, models.RotateParams{
		SessionID:    prior.ID,
		PresentedJTI: claims.ID,
		ObservedJTI:  prior.RefreshJTI,
		NextJTI:      nextJTI,
		Pending:      pending,
		Now:          now,
		Grace:        r.grace,
		Policy:       r.idle,
		Device:       device,
	})
	if err != nil {
		return nil, err
	}

	switch res.Status {
	case models.RotateRotated:
		if claims.ID != prior.RefreshJTI {
			r.log.Infow("Unconfirmed rotation superseded", "sessionID", prior.ID)
		}
		if device != nil && prior.Device.IPAddress != "" && device.IPAddress != "" && prior.Device.IPAddress != device.IPAddress {
			r.notifier.Notify(ctx, models.SecurityEvent{
				Type:       models.EventIPChange,
				AccountID:  account.ID.String(),
				SessionID:  prior.ID.String(),
				OldIP:      prior.Device.IPAddress,
				NewIP:      device.IPAddress,
				UserAgent:  device.UserAgent,
				OccurredAt: now,
			})
		}
		r.log.Debugw("Session rotated", "sessionID", prior.ID)
		return &Rotation{Pair: pair, Session: res.Session, AccessExpiresAt: r.issuer.AccessExpiry(now)}, nil
	case models.RotateStale:
		r.log.Infow("Lost concurrent rotation", "sessionID", prior.ID)
		current, err := r.issuer.Issue(IssueParams{
			Account:          account,
			SessionID:        prior.ID,
			RefreshJTI:       res.Session.RefreshJTI,
			RememberMe:       prior.RememberMe,
			RefreshExpiresAt: prior.AbsoluteExpiresAt,
			Pending:          res.Session.RotationPending,
			Now:              now,
		})
		if err != nil {
			return nil, err
		}
		return nil, &StaleRotationError{Pair: current}
	case models.RotateReused:
		r.log.Warnw("Refresh token reuse detected, session revoked", "sessionID", prior.ID, "accountID", prior.AccountID)
		event := models.SecurityEvent{
			Type:       models.EventRefreshReuse,
			AccountID:  prior.AccountID.String(),
			SessionID:  prior.ID.String(),
			OccurredAt: now,
		}
		if device != nil {
			event.NewIP = device.IPAddress
			event.UserAgent = device.UserAgent
		}
		r.notifier.Notify(ctx, event)
		return nil, ErrRefreshTokenReused
	case models.RotateExpired:
		return nil, ErrRefreshTokenExpired
	default:
		return nil, ErrSessionRevoked
	}
}

// CourtesyRotate rotates ahead of access-token expiry on an ordinary request.
// It returns nil when rotation is not due or the refresh token belongs to
// another session. The rotation stays pending until ConfirmRotation sees the
// new access token, so a response lost on the way back does not strand the
// client on a rotated-away token. A lost race yields the winner's pair.
func (r *SessionRegistry) CourtesyRotate(ctx context.Context, access *AccessClaims, presented string, device *models.DeviceMeta) (*models.TokenPair, error) {
	if access.ExpiresAt == nil || access.ExpiresAt.Sub(r.now()) > r.courtesy {
		return nil, nil
	}
	claims, err := r.issuer.ParseRefresh(presented, r.now())
	if err != nil {
		return nil, err
	}
	if claims.SessionID != access.SessionID {
		return nil, nil
	}

	rot, err := r.rotate(ctx, presented, device, true)
	var stale *StaleRotationError
	if errors.As(err, &stale) {
		return &stale.Pair, nil
	}
	if err != nil {
		return nil, err
	}
	return &rot.Pair, nil
}

// ConfirmRotation records that the client used the pair of a courtesy
// rotation. Access tokens minted any other way are ignored.
func (r *SessionRegistry) ConfirmRotation(ctx context.Context, access *AccessClaims) error {
	if access.RefreshID == "" {
		return nil
	}
	if _, ok := r.confirmed.Load(access.RefreshID); ok {
		return nil
	}
	err := r.sessions.ConfirmRotation(ctx, access.SessionID, access.RefreshID, r.now())
	if err != nil && !errors.Is(err, storage.ErrSessionNotFound) {
		return fmt.Errorf("confirm rotation: %w", err)
	}
	r.confirmed.Store(access.RefreshID, struct{}{})
	return nil
}

// Heartbeat records activity and slides expires-at. It never rotates.
func (r *SessionRegistry) Heartbeat(ctx context.Context, sessionID uuid.UUID, device *models.DeviceMeta) (*models.Session, error) {
	session, err := r.sessions.Heartbeat(ctx, models.HeartbeatParams{
		SessionID: sessionID,
		Now:       r.now(),
		Policy:    r.idle,
		Device:    device,
	})
	switch {
	case errors.Is(err, storage.ErrSessionExpired):
		return nil, ErrRefreshTokenExpired
	case errors.Is(err, storage.ErrSessionRevoked), errors.Is(err, storage.ErrSessionNotFound):
		return nil, ErrSessionRevoked
	case err != nil:
		return nil, fmt.Errorf("heartbeat: %w", err)
	}
	return session, nil
}

func (r *SessionRegistry) Revoke(ctx context.Context, sessionID uuid.UUID, reason string) error {
	err := r.sessions.RevokeSession(ctx, sessionID, reason, r.now())
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	r.log.Infow("Session revoked", "sessionID", sessionID, "reason", reason)
	return nil
}

func (r *SessionRegistry) RevokeAccount(ctx context.Context, accountID uuid.UUID, reason string) (int, error) {
	n, err := r.sessions.RevokeAccountSessions(ctx, accountID, reason, r.now())
	if err != nil {
		return n, fmt.Errorf("revoke account sessions: %w", err)
	}
	r.log.Infow("Account sessions revoked", "accountID", accountID, "count", n, "reason", reason)
	return n, nil
}

// SweepExpired removes records whose expiry, or revocation, is older than the retention window.
func (r *SessionRegistry) SweepExpired(ctx context.Context) (int, error) {
	n, err := r.sessions.DeleteExpired(ctx, r.now().Add(-r.retention))
	if err != nil {
		return n, fmt.Errorf("sweep expired sessions: %w", err)
	}
	r.confirmed.Clear()
	if n > 0 {
		r.log.Infow("Expired sessions swept", "count", n)
	}
	return n, nil
}

func (r *SessionRegistry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.SweepExpired(ctx); err != nil {
				r.log.Errorw("session sweep failed", "error", err)
			}
		}
	}
}

// Metadata is the client-visible view of s.
func (r *SessionRegistry) Metadata(s *models.Session, accessExpiresAt time.Time) models.SessionMetadata {
	return models.SessionMetadata{
		SessionID:         s.ID,
		RememberMe:        s.RememberMe,
		ExpiresAt:         s.ExpiresAt,
		AccessExpiresAt:   accessExpiresAt,
		LastSeenAt:        s.LastSeenAt,
		ConnectionQuality: s.Device.ConnectionQuality,
		HeartbeatInterval: int64(r.heartbeatInterval(s).Seconds()),
	}
}

// heartbeatInterval backs off on poor connections and never exceeds half the idle lifetime.
func (r *SessionRegistry) heartbeatInterval(s *models.Session) time.Duration {
	interval := goodHeartbeat
	switch s.Device.ConnectionQuality {
	case models.ConnectionDegraded:
		interval = degradedHeartbeat
	case models.ConnectionPoor:
		interval = poorHeartbeat
	}
	if limit := r.idle.For(s.RememberMe) / 2; interval > limit {
		interval = limit
	}
	return max(interval, minHeartbeatInterval)
}
