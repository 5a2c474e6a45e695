package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/storage"
)

// SessionRepository keeps session records in process memory. All mutations
// go through one mutex, which is the serialization point for rotation.
type SessionRepository struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]models.Session
	log      *zap.SugaredLogger
}

func NewSessionRepository(log *zap.SugaredLogger) *SessionRepository {
	return &SessionRepository{
		sessions: make(map[uuid.UUID]models.Session),
		log:      log,
	}
}

func (m *SessionRepository) CreateSession(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[session.ID] = *session
	m.log.Debugw("Session created", "sessionID", session.ID, "accountID", session.AccountID)

	return nil
}

func (m *SessionRepository) GetSession(_ context.Context, id uuid.UUID) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	return &session, nil
}

func (m *SessionRepository) RotateRefresh(_ context.Context, p models.RotateParams) (models.RotateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[p.SessionID]
	if !ok {
		return models.RotateResult{Status: models.RotateNotFound}, nil
	}

	status := storage.DecideRotation(&session, p)
	storage.ApplyRotation(&session, status, p)
	m.sessions[p.SessionID] = session

	m.log.Debugw("Rotation attempt", "sessionID", p.SessionID, "status", status.String())
	return models.RotateResult{Status: status, Session: &session}, nil
}

func (m *SessionRepository) Heartbeat(_ context.Context, p models.HeartbeatParams) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[p.SessionID]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	if err := storage.ApplyHeartbeat(&session, p); err != nil {
		return nil, err
	}
	m.sessions[p.SessionID] = session
	return &session, nil
}

func (m *SessionRepository) ConfirmRotation(_ context.Context, id uuid.UUID, refreshJTI string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return storage.ErrSessionNotFound
	}
	if storage.ConfirmRotation(&session, refreshJTI) {
		m.sessions[id] = session
	}
	return nil
}

func (m *SessionRepository) RevokeSession(_ context.Context, id uuid.UUID, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return storage.ErrSessionNotFound
	}
	if !session.Revoked {
		storage.Revoke(&session, reason, at)
		m.sessions[id] = session
	}
	return nil
}

func (m *SessionRepository) RevokeAccountSessions(_ context.Context, accountID uuid.UUID, reason string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, session := range m.sessions {
		if session.AccountID != accountID || session.Revoked {
			continue
		}
		storage.Revoke(&session, reason, at)
		m.sessions[id] = session
		count++
	}
	return count, nil
}

func (m *SessionRepository) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, session := range m.sessions {
		if session.ExpiresAt.Before(cutoff) || (session.Revoked && session.RevokedAt.Before(cutoff)) {
			delete(m.sessions, id)
			count++
		}
	}
	return count, nil
}
