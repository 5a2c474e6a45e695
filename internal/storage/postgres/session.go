package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/storage"
)

// SessionRepository keeps session records in the sessions table. Mutations of a
// single record run inside a transaction holding its row lock.
type SessionRepository struct {
	db storage.DBTX
}

func NewSessionRepository(db storage.DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, account_id, refresh_jti, previous_jti, rotated_at, rotation_pending,
	user_agent, ip_address, connection_quality, rtt_ms, last_seen_at, remember_me,
	created_at, expires_at, absolute_expires_at, revoked, revoked_at, revoke_reason`

func (r *SessionRepository) CreateSession(ctx context.Context, s *models.Session) error {
	query := `INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err := r.db.ExecContext(ctx, query, sessionArgs(s)...)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.db.QueryRowContext(ctx, query, id))
}

func (r *SessionRepository) getForUpdate(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE`
	return scanSession(r.db.QueryRowContext(ctx, query, id))
}

func (r *SessionRepository) save(ctx context.Context, s *models.Session) error {
	query := `UPDATE sessions SET
		account_id = $2, refresh_jti = $3, previous_jti = $4, rotated_at = $5, rotation_pending = $6,
		user_agent = $7, ip_address = $8, connection_quality = $9, rtt_ms = $10,
		last_seen_at = $11, remember_me = $12, created_at = $13, expires_at = $14,
		absolute_expires_at = $15, revoked = $16, revoked_at = $17, revoke_reason = $18
		WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, sessionArgs(s)...); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// ConfirmRotation is a single conditional UPDATE, so it needs no row lock.
func (r *SessionRepository) ConfirmRotation(ctx context.Context, id uuid.UUID, refreshJTI string, _ time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET rotation_pending = FALSE
		WHERE id = $1 AND refresh_jti = $2 AND rotation_pending`, id, refreshJTI)
	if err != nil {
		return fmt.Errorf("confirm rotation: %w", err)
	}
	return r.requireRow(ctx, res, id)
}

func (r *SessionRepository) RevokeSession(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked = TRUE, revoked_at = $2, revoke_reason = $3, rotation_pending = FALSE
		WHERE id = $1 AND NOT revoked`, id, at, reason)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return r.requireRow(ctx, res, id)
}

// requireRow turns a no-op UPDATE on a missing record into ErrSessionNotFound.
func (r *SessionRepository) requireRow(ctx context.Context, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, err := r.GetSession(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *SessionRepository) RevokeAccountSessions(ctx context.Context, accountID uuid.UUID, reason string, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked = TRUE, revoked_at = $2, revoke_reason = $3, rotation_pending = FALSE
		WHERE account_id = $1 AND NOT revoked`, accountID, at, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke account sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke account sessions: %w", err)
	}
	return int(n), nil
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < $1 OR (revoked AND revoked_at < $1)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return int(n), nil
}

func sessionArgs(s *models.Session) []any {
	return []any{
		s.ID,
		s.AccountID,
		s.RefreshJTI,
		s.PreviousJTI,
		nullTime(s.RotatedAt),
		s.RotationPending,
		s.Device.UserAgent,
		s.Device.IPAddress,
		string(s.Device.ConnectionQuality),
		s.Device.RTT.Milliseconds(),
		s.LastSeenAt,
		s.RememberMe,
		s.CreatedAt,
		s.ExpiresAt,
		s.AbsoluteExpiresAt,
		s.Revoked,
		nullTime(s.RevokedAt),
		s.RevokeReason,
	}
}

func scanSession(row *sql.Row) (*models.Session, error) {
	var (
		s         models.Session
		rotatedAt sql.NullTime
		revokedAt sql.NullTime
		quality   string
		rttMs     int64
	)
	err := row.Scan(
		&s.ID,
		&s.AccountID,
		&s.RefreshJTI,
		&s.PreviousJTI,
		&rotatedAt,
		&s.RotationPending,
		&s.Device.UserAgent,
		&s.Device.IPAddress,
		&quality,
		&rttMs,
		&s.LastSeenAt,
		&s.RememberMe,
		&s.CreatedAt,
		&s.ExpiresAt,
		&s.AbsoluteExpiresAt,
		&s.Revoked,
		&revokedAt,
		&s.RevokeReason,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	s.RotatedAt = rotatedAt.Time
	s.RevokedAt = revokedAt.Time
	s.Device.ConnectionQuality = models.ParseConnectionQuality(quality)
	s.Device.RTT = time.Duration(rttMs) * time.Millisecond
	return &s, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
