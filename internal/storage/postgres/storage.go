package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/storage"
)

// Storage bundles the credential store and the SQL session registry backend.
type Storage struct {
	db *sql.DB
	*AccountRepository
	*SessionRepository
}

func NewStorage(db *sql.DB) *Storage {
	return &Storage{
		db:                db,
		AccountRepository: NewAccountRepository(db),
		SessionRepository: NewSessionRepository(db),
	}
}

// withSessionTx runs fn against the row-locked session inside one transaction.
// fn reports whether the record must be written back.
func (s *Storage) withSessionTx(ctx context.Context, id uuid.UUID, fn func(*models.Session) (bool, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	sessionRepoTx := NewSessionRepository(tx)

	session, err := sessionRepoTx.getForUpdate(ctx, id)
	if err != nil {
		return err
	}

	dirty, err := fn(session)
	if err != nil {
		return err
	}
	if dirty {
		if err := sessionRepoTx.save(ctx, session); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RotateRefresh compares and swaps the refresh identifier under SELECT ... FOR UPDATE,
// so concurrent rotations of one session serialize on the row lock.
func (s *Storage) RotateRefresh(ctx context.Context, p models.RotateParams) (models.RotateResult, error) {
	var result models.RotateResult
	err := s.withSessionTx(ctx, p.SessionID, func(session *models.Session) (bool, error) {
		status := storage.DecideRotation(session, p)
		storage.ApplyRotation(session, status, p)
		result = models.RotateResult{Status: status, Session: session}
		return status == models.RotateRotated || status == models.RotateReused, nil
	})
	if errors.Is(err, storage.ErrSessionNotFound) {
		return models.RotateResult{Status: models.RotateNotFound}, nil
	}
	if err != nil {
		return models.RotateResult{}, fmt.Errorf("rotate refresh: %w", err)
	}
	return result, nil
}

func (s *Storage) Heartbeat(ctx context.Context, p models.HeartbeatParams) (*models.Session, error) {
	var out *models.Session
	err := s.withSessionTx(ctx, p.SessionID, func(session *models.Session) (bool, error) {
		if err := storage.ApplyHeartbeat(session, p); err != nil {
			return false, err
		}
		out = session
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertAccount creates the account or resets its password, first-login flag and
// active flag when the email already exists.
func (s *Storage) UpsertAccount(ctx context.Context, account *models.Account) (*models.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	accountRepoTx := NewAccountRepository(tx)

	existing, err := accountRepoTx.GetAccountByEmail(ctx, account.Email)
	switch {
	case errors.Is(err, storage.ErrAccountNotFound):
		if err := accountRepoTx.CreateAccount(ctx, account); err != nil {
			return nil, fmt.Errorf("failed to create account in tx: %w", err)
		}
		existing = account
	case err != nil:
		return nil, fmt.Errorf("failed to get account by email in tx: %w", err)
	default:
		if err := accountRepoTx.UpdatePassword(ctx, existing.ID, account.PasswordHash, account.FirstLogin); err != nil {
			return nil, fmt.Errorf("failed to update account in tx: %w", err)
		}
		if err := accountRepoTx.SetActive(ctx, existing.ID, account.Active); err != nil {
			return nil, fmt.Errorf("failed to update account in tx: %w", err)
		}
		existing.PasswordHash = account.PasswordHash
		existing.FirstLogin = account.FirstLogin
		existing.Active = account.Active
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return existing, nil
}
