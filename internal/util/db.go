package util

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
)

var (
	ErrDatabaseURLMissing = errors.New("DATABASE_URL is not set")
	ErrRedisAddrMissing   = errors.New("REDIS_ADDR is not set")
)

type DBConfig struct {
	DSN string
}

func NewDBConfig() (*DBConfig, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, ErrDatabaseURLMissing
	}

	return &DBConfig{
		DSN: dsn,
	}, nil
}

type RedisConfig struct {
	Addr     string
	Password string
}

func NewRedisConfig() (*RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil, ErrRedisAddrMissing
	}

	return &RedisConfig{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	}, nil
}

func NewDBConnection(logger *zap.SugaredLogger, cfg *DBConfig) (*sql.DB, func(), error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, nil, err
	}

	if err = db.Ping(); err != nil {
		return nil, nil, err
	}

	logger.Info("Successfully connected to database!")

	cleanup := func() {
		if err := db.Close(); err != nil {
			logger.Errorf("Failed to close database connection: %v", err)
		} else {
			logger.Info("Database connection closed successfully.")
		}
	}

	return db, cleanup, nil
}

func NewRedisClient(ctx context.Context, logger *zap.SugaredLogger, cfg *RedisConfig) (*redis.Client, func(), error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       0,
	})

	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("Successfully connected to Redis!")

	cleanup := func() {
		if err := redisClient.Close(); err != nil {
			logger.Errorf("Failed to close Redis connection: %v", err)
		} else {
			logger.Info("Redis connection closed successfully.")
		}
	}

	return redisClient, cleanup, nil
}
