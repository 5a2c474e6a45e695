package util

import (
	"errors"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

//nolint:gochecknoglobals // here its ok
var once sync.Once

func init() {
	once.Do(func() {
		if err := godotenv.Load(".env"); err != nil {
			log.Printf("Warning: could not load .env file: %v", err)
		}
	})
}

const (
	defaultServerAddr      = "localhost:8080"
	defaultWriteTimeout    = 10 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultIdleTimeout     = 30 * time.Second
	defaultGracefulTimeout = 5 * time.Second

	defaultAccessTTL          = 15 * time.Minute
	defaultSessionTTL         = 30 * time.Minute
	defaultRememberMeTTL      = 24 * time.Hour
	defaultSessionAbsolute    = 12 * time.Hour
	defaultRememberMeAbsolute = 720 * time.Hour
	defaultRotationGrace      = 10 * time.Second
	defaultCourtesyWindow     = 2 * time.Minute
	defaultTokenIssuer        = "schoolmanagement-auth"

	defaultSessionStore     = "redis"
	defaultSweepInterval    = 5 * time.Minute
	defaultSessionRetention = 1 * time.Hour

	defaultRateLimit     = 100
	defaultRateInterval  = 1 * time.Minute
	defaultRateBlockTime = 5 * time.Minute

	defaultBcryptCost = 12
)

var (
	ErrMissingSecret = errors.New("token secret is not set")
	ErrSharedSecret  = errors.New("access and refresh secrets must differ")
)

type ServerConfig struct {
	ServerAddr      string
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	GracefulTimeout time.Duration
}

func NewServerConfig() *ServerConfig {
	addr := os.Getenv("SERVER_ADDRESS")
	if addr == "" {
		addr = defaultServerAddr
	}

	return &ServerConfig{
		ServerAddr:      addr,
		WriteTimeout:    parseDurationOrDefault("WRITE_TIMEOUT", defaultWriteTimeout),
		ReadTimeout:     parseDurationOrDefault("READ_TIMEOUT", defaultReadTimeout),
		IdleTimeout:     parseDurationOrDefault("IDLE_TIMEOUT", defaultIdleTimeout),
		GracefulTimeout: parseDurationOrDefault("GRACEFUL_TIMEOUT", defaultGracefulTimeout),
	}
}

// TokenConfig holds signing secrets and every lifetime the session lifecycle uses.
// SessionTTL and RememberMeTTL are sliding idle lifetimes; the Absolute pair caps them.
type TokenConfig struct {
	AccessSecret       []byte
	RefreshSecret      []byte
	Issuer             string
	AccessTTL          time.Duration
	SessionTTL         time.Duration
	RememberMeTTL      time.Duration
	SessionAbsolute    time.Duration
	RememberMeAbsolute time.Duration
	RotationGrace      time.Duration
	CourtesyWindow     time.Duration
}

func NewTokenConfig() (*TokenConfig, error) {
	access := os.Getenv("ACCESS_TOKEN_SECRET")
	refresh := os.Getenv("REFRESH_TOKEN_SECRET")
	if access == "" || refresh == "" {
		return nil, ErrMissingSecret
	}
	if access == refresh {
		return nil, ErrSharedSecret
	}

	issuer := os.Getenv("TOKEN_ISSUER")
	if issuer == "" {
		issuer = defaultTokenIssuer
	}

	return &TokenConfig{
		AccessSecret:       []byte(access),
		RefreshSecret:      []byte(refresh),
		Issuer:             issuer,
		AccessTTL:          parseDurationOrDefault("ACCESS_TOKEN_TTL", defaultAccessTTL),
		SessionTTL:         parseDurationOrDefault("SESSION_TTL", defaultSessionTTL),
		RememberMeTTL:      parseDurationOrDefault("REMEMBER_ME_TTL", defaultRememberMeTTL),
		SessionAbsolute:    parseDurationOrDefault("SESSION_ABSOLUTE_TTL", defaultSessionAbsolute),
		RememberMeAbsolute: parseDurationOrDefault("REMEMBER_ME_ABSOLUTE_TTL", defaultRememberMeAbsolute),
		RotationGrace:      parseDurationOrDefault("ROTATION_GRACE", defaultRotationGrace),
		CourtesyWindow:     parseDurationOrDefault("COURTESY_WINDOW", defaultCourtesyWindow),
	}, nil
}

type RegistryConfig struct {
	Store         string
	SweepInterval time.Duration
	Retention     time.Duration
}

func NewRegistryConfig() *RegistryConfig {
	store := os.Getenv("SESSION_STORE")
	if store == "" {
		store = defaultSessionStore
	}

	return &RegistryConfig{
		Store:         store,
		SweepInterval: parseDurationOrDefault("SWEEP_INTERVAL", defaultSweepInterval),
		Retention:     parseDurationOrDefault("SESSION_RETENTION", defaultSessionRetention),
	}
}

type RateLimiterConfig struct {
	Limit     int
	Interval  time.Duration
	BlockTime time.Duration
}

func NewRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		Limit:     parseIntOrDefault("RATE_LIMIT_LIMIT", defaultRateLimit),
		Interval:  parseDurationOrDefault("RATE_LIMIT_INTERVAL", defaultRateInterval),
		BlockTime: parseDurationOrDefault("RATE_LIMIT_BLOCK_TIME", defaultRateBlockTime),
	}
}

func GetWebhookURL() string {
	return os.Getenv("WEBHOOK_URL")
}

func GetAPIKey() string {
	return os.Getenv("AUTH_SERVICE_API_KEY")
}

func GetBcryptCost() int {
	return parseIntOrDefault("BCRYPT_COST", defaultBcryptCost)
}

func GetLogLevel() string {
	return os.Getenv("LOG_LEVEL")
}

func parseDurationOrDefault(varName string, def time.Duration) time.Duration {
	if v := os.Getenv(varName); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Invalid duration in %s: %s, using default %s", varName, v, def)
	}
	return def
}

func parseIntOrDefault(varName string, def int) int {
	if v := os.Getenv(varName); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("Invalid %s: %s, using default %d", varName, v, def)
	}
	return def
}
