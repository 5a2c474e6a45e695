package main

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/api"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/controller"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/migrations"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/service"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/storage"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/storage/memory"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/storage/postgres"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/storage/redis"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/util"
)

func main() {
	ctx := context.Background()
	logger := util.NewZapLogger()
	defer logger.Sync() //nolint:errcheck // stdout sync

	tokenConfig, err := util.NewTokenConfig()
	if err != nil {
		logger.Fatal(zap.Error(err))
	}
	registryConfig := util.NewRegistryConfig()

	dbConfig, err := util.NewDBConfig()
	if err != nil {
		logger.Fatal(zap.Error(err))
	}
	db, dbCleanup, err := util.NewDBConnection(logger, dbConfig)
	if err != nil {
		logger.Fatal(zap.Error(err))
	}
	if err := migrations.RunMigrations(db, logger); err != nil {
		logger.Fatal(zap.Error(err))
	}
	pg := postgres.NewStorage(db)
	cleanupFuncs := []func(){dbCleanup}

	var (
		sessions   storage.SessionRepository
		apiKeyRepo storage.APIKeyRepository
	)

	redisConfig, err := util.NewRedisConfig()
	switch {
	case err == nil:
		redisClient, redisCleanup, err := util.NewRedisClient(ctx, logger, redisConfig)
		if err != nil {
			logger.Fatal(zap.Error(err))
		}
		cleanupFuncs = append(cleanupFuncs, redisCleanup)

		apiKeyService := service.NewAPIKeyService(redisClient, logger)
		if err := apiKeyService.SyncAPIKey(ctx, util.GetAPIKey()); err != nil {
			logger.Fatal(zap.Error(err))
		}
		apiKeyRepo = apiKeyService

		if registryConfig.Store == "redis" {
			sessions = redis.NewSessionRepository(redisClient, registryConfig.Retention)
		}
	case errors.Is(err, util.ErrRedisAddrMissing) && registryConfig.Store != "redis":
		logger.Warn("REDIS_ADDR not set; using static API key")
		apiKeyRepo = memory.NewAPIKeyRepository(models.APIKey{Key: util.GetAPIKey(), ClientID: "admin-ui"})
	default:
		logger.Fatal(zap.Error(err))
	}

	if sessions == nil {
		switch registryConfig.Store {
		case "postgres":
			sessions = pg
		case "memory":
			sessions = memory.NewSessionRepository(logger)
		default:
			logger.Fatalf("unknown SESSION_STORE %q", registryConfig.Store)
		}
	}
	logger.Infow("Session registry backend selected", "store", registryConfig.Store)

	issuer := service.NewTokenIssuer(tokenConfig)
	notifier := service.NewWebhookService(logger, util.GetWebhookURL())
	registry := service.NewSessionRegistry(sessions, pg, issuer, notifier, tokenConfig, registryConfig, logger)
	authService := service.NewAuthService(pg, registry, issuer, service.NewPasswordHasher(util.GetBcryptCost()), logger)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	go registry.RunSweeper(sweepCtx, registryConfig.SweepInterval)
	cleanupFuncs = append([]func(){stopSweeper}, cleanupFuncs...)

	ctrl := controller.NewController(logger, authService)

	apiServer := api.NewAPI(ctrl, authService, apiKeyRepo, util.NewServerConfig(), util.NewRateLimiterConfig(), logger, cleanupFuncs)
	apiServer.Run(ctx)
}
