package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/storage"
)

// AccountRepository is an in-process credential store.
type AccountRepository struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]models.Account
	byEmail  map[string]uuid.UUID
}

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		accounts: make(map[uuid.UUID]models.Account),
		byEmail:  make(map[string]uuid.UUID),
	}
}

func (m *AccountRepository) CreateAccount(_ context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(account.Email)
	if _, taken := m.byEmail[email]; taken {
		return storage.ErrEmailTaken
	}
	m.accounts[account.ID] = *account
	m.byEmail[email] = account.ID
	return nil
}

func (m *AccountRepository) GetAccountByEmail(_ context.Context, email string) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	account := m.accounts[id]
	return &account, nil
}

func (m *AccountRepository) GetAccountByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[id]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	return &account, nil
}

func (m *AccountRepository) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string, firstLogin bool) error {
	return m.mutate(id, func(a *models.Account) {
		a.PasswordHash = passwordHash
		a.FirstLogin = firstLogin
	})
}

func (m *AccountRepository) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	return m.mutate(id, func(a *models.Account) {
		a.Active = active
	})
}

func (m *AccountRepository) mutate(id uuid.UUID, fn func(*models.Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[id]
	if !ok {
		return storage.ErrAccountNotFound
	}
	fn(&account)
	account.UpdatedAt = time.Now().UTC()
	m.accounts[id] = account
	return nil
}
