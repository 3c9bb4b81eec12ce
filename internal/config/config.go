package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	// Voice provider (Vapi) platform credentials. Per-org keys live on the
	// organizations table; these are the platform fallbacks.
	VapiBaseURL string
	VapiAPIKey  string

	// Shared secret expected on /cron/* invocations from the external scheduler.
	CronSecret string

	IdempotencyTTL time.Duration

	// SeedDefaultOrg creates a bootstrap organization on startup. Meant
	// for local development, off in production.
	SeedDefaultOrg bool

	RateLimit RateLimitConfig
}

// RateLimitConfig configures the redis-backed webhook ingest limiter
// and the optional scheduler tick lock.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	WebhookOrgRate       float64
	WebhookOrgBurst      int
	WebhookEndpointRate  float64
	WebhookEndpointBurst int

	TickLockEnabled bool
	TickLockTTL     time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "apex"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:     getenv("DATABASE_TYPE", "postgres"),
		DBHost:     getenv("DATABASE_HOST", "localhost"),
		DBPort:     getenv("DATABASE_PORT", "5432"),
		DBName:     getenv("DATABASE_NAME", "postgres"),
		DBUser:     getenv("DATABASE_USER", "postgres"),
		DBPassword: getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:  getenv("DATABASE_SSLMODE", "disable"),

		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		VapiBaseURL: getenv("VAPI_BASE_URL", "https://api.vapi.ai"),
		VapiAPIKey:  strings.TrimSpace(getenv("VAPI_API_KEY", "")),

		CronSecret: strings.TrimSpace(getenv("CRON_SECRET", "")),

		IdempotencyTTL: getenvDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		SeedDefaultOrg: getenvBool("SEED_DEFAULT_ORG", false),

		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       getenvInt("REDIS_DB", 0),

			WebhookOrgRate:       getenvFloat("WEBHOOK_ORG_RATE", 50),
			WebhookOrgBurst:      getenvInt("WEBHOOK_ORG_BURST", 100),
			WebhookEndpointRate:  getenvFloat("WEBHOOK_ENDPOINT_RATE", 200),
			WebhookEndpointBurst: getenvInt("WEBHOOK_ENDPOINT_BURST", 400),

			TickLockEnabled: getenvBool("SCHEDULER_TICK_LOCK", false),
			TickLockTTL:     getenvDuration("SCHEDULER_TICK_LOCK_TTL", 55*time.Second),
		},
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
