package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionRevoked  = errors.New("session revoked")
	ErrSessionExpired  = errors.New("session expired")
	ErrAccountNotFound = errors.New("account not found")
	ErrEmailTaken      = errors.New("email already registered")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type APIKeyRepository interface {
	IsValidAPIKey(ctx context.Context, apiKey string) (bool, error)
}

// AccountRepository is the boundary to the credential store.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	GetAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string, firstLogin bool) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// SessionRepository is the serialization point of the session registry.
// RotateRefresh, Heartbeat and ConfirmRotation must be atomic per session ID.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	RotateRefresh(ctx context.Context, params models.RotateParams) (models.RotateResult, error)
	Heartbeat(ctx context.Context, params models.HeartbeatParams) (*models.Session, error)
	ConfirmRotation(ctx context.Context, id uuid.UUID, refreshJTI string, at time.Time) error
	RevokeSession(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	RevokeAccountSessions(ctx context.Context, accountID uuid.UUID, reason string, at time.Time) (int, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}
