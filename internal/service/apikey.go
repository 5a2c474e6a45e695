package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	CurrentAPIKeyRedisKey      = "apikey:current"
	OldAPIKeyRedisKey          = "apikey:old"
	APIKeyRotationTimeRedisKey = "apikey:rotation_time"

	apiKeyOverlap = 24 * time.Hour
)

var ErrAPIKeyEmpty = errors.New("client API key is empty")

// APIKeyService validates the X-API-Key of the internal administrative
// clients. Only SHA-256 hashes are stored. After a rotation the previous key
// keeps working for apiKeyOverlap so clients can be redeployed.
type APIKeyService struct {
	rdb *redis.Client
	log *zap.SugaredLogger
	now func() time.Time
}

func NewAPIKeyService(rdb *redis.Client, log *zap.SugaredLogger) *APIKeyService {
	return &APIKeyService{rdb: rdb, log: log, now: time.Now}
}

// SyncAPIKey installs key as the current one; a different current key becomes the old one.
func (s *APIKeyService) SyncAPIKey(ctx context.Context, key string) error {
	if key == "" {
		return ErrAPIKeyEmpty
	}

	hashedNewKey := hashAPIKey(key)

	currentHashedKey, err := s.rdb.Get(ctx, CurrentAPIKeyRedisKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.log.Warn("Current API key not found during sync; initializing.")
			return s.setKeys(ctx, hashedNewKey, "")
		}
		return fmt.Errorf("failed to get current API key from Redis: %w", err)
	}

	if equalHashes(hashedNewKey, currentHashedKey) {
		s.log.Info("Skipping key sync: new key is the same as the current one.")
		return nil
	}

	if err := s.setKeys(ctx, hashedNewKey, currentHashedKey); err != nil {
		return err
	}
	s.log.Info("API Key rotated successfully.")
	return nil
}

func (s *APIKeyService) IsValidAPIKey(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}

	hashedKey := hashAPIKey(key)

	currentHashedKey, err := s.rdb.Get(ctx, CurrentAPIKeyRedisKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("failed to get current API key from Redis: %w", err)
	}
	if equalHashes(hashedKey, currentHashedKey) {
		return true, nil
	}

	oldHashedKey, err := s.rdb.Get(ctx, OldAPIKeyRedisKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("failed to get old API key from Redis: %w", err)
	}
	if oldHashedKey == "" || !equalHashes(hashedKey, oldHashedKey) {
		return false, nil
	}

	rotationTimeStr, err := s.rdb.Get(ctx, APIKeyRotationTimeRedisKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to get key rotation time from Redis: %w", err)
	}
	rotationTime, err := time.Parse(time.RFC3339, rotationTimeStr)
	if err != nil {
		return false, fmt.Errorf("failed to parse key rotation time: %w", err)
	}
	return s.now().Sub(rotationTime) <= apiKeyOverlap, nil
}

func (s *APIKeyService) setKeys(ctx context.Context, current, old string) error {
	pipe := s.rdb.TxPipeline()
	if old != "" {
		pipe.Set(ctx, OldAPIKeyRedisKey, old, apiKeyOverlap)
	}
	pipe.Set(ctx, CurrentAPIKeyRedisKey, current, 0)
	pipe.Set(ctx, APIKeyRotationTimeRedisKey, s.now().UTC().Format(time.RFC3339), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store API key in Redis: %w", err)
	}
	return nil
}

func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func equalHashes(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
