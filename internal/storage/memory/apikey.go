package memory

import (
	"context"
	"sync"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
)

// APIKeyRepository validates client API keys against a fixed set.
type APIKeyRepository struct {
	mu      sync.RWMutex
	apiKeys map[string]models.APIKey
}

func NewAPIKeyRepository(keys ...models.APIKey) *APIKeyRepository {
	apiKeys := make(map[string]models.APIKey, len(keys))
	for _, k := range keys {
		apiKeys[k.Key] = k
	}
	return &APIKeyRepository{
		apiKeys: apiKeys,
	}
}

func (m *APIKeyRepository) GetAPIKey(_ context.Context, apiKey string) (*models.APIKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.apiKeys[apiKey]
	if !ok {
		return nil, false
	}
	return &key, true
}

func (m *APIKeyRepository) IsValidAPIKey(ctx context.Context, apiKey string) (bool, error) {
	_, ok := m.GetAPIKey(ctx, apiKey)
	return ok, nil
}
