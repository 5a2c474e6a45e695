package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/storage"
)

const uniqueViolation = "23505"

type AccountRepository struct {
	db storage.DBTX
}

func NewAccountRepository(db storage.DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, email, password_hash, role, active, first_login, created_at, updated_at`

func (r *AccountRepository) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `INSERT INTO accounts (` + accountColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		account.ID,
		account.Email,
		account.PasswordHash,
		account.Role,
		account.Active,
		account.FirstLogin,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return storage.ErrEmailTaken
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *AccountRepository) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE lower(email) = lower($1)`
	return r.scanOne(r.db.QueryRowContext(ctx, query, email))
}

func (r *AccountRepository) GetAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *AccountRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string, firstLogin bool) error {
	query := `UPDATE accounts SET password_hash = $2, first_login = $3, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, "update password", query, id, passwordHash, firstLogin)
}

func (r *AccountRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE accounts SET active = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, "set active", query, id, active)
}

func (r *AccountRepository) scanOne(row *sql.Row) (*models.Account, error) {
	var account models.Account
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.Role,
		&account.Active,
		&account.FirstLogin,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &account, nil
}

func (r *AccountRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return storage.ErrAccountNotFound
	}
	return nil
}
