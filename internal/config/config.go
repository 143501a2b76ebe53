package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	// Storage. Empty values select the in-memory implementations.
	PostgresDSN   string
	RedisURL      string
	MigrationsDir string

	// Collaborators
	PaymentGatewayURL      string
	BookingServiceURL      string
	NotificationServiceURL string

	// Sweeps
	ExpirySweepInterval time.Duration
	EffectRetryInterval time.Duration
	EffectMaxAttempts   int
	LockTTL             time.Duration

	// Search job tiers
	TiersFile string

	// Admin
	AdminUserIDs []uuid.UUID

	// Auth
	JWTSecret       string
	JWTExpiration   time.Duration
	IdentitySecret  string
	AssertionMaxAge time.Duration

	// Rate limit
	RateLimitPerMinute int

	// Server
	APIPort    string
	WorkerPort string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),

		PaymentGatewayURL:      getEnv("PAYMENT_GATEWAY_URL", ""),
		BookingServiceURL:      getEnv("BOOKING_SERVICE_URL", ""),
		NotificationServiceURL: getEnv("NOTIFICATION_SERVICE_URL", "http://localhost:8081"),

		ExpirySweepInterval: getEnvSeconds("EXPIRY_SWEEP_INTERVAL_SECONDS", 60),
		EffectRetryInterval: getEnvSeconds("EFFECT_RETRY_INTERVAL_SECONDS", 30),
		EffectMaxAttempts:   getEnvInt("EFFECT_MAX_ATTEMPTS", 10),
		LockTTL:             getEnvSeconds("LOCK_TTL_SECONDS", 10),

		TiersFile: getEnv("TIERS_FILE", ""),

		AdminUserIDs: parseUUIDList(getEnv("ADMIN_USER_IDS", "")),

		JWTSecret:     getEnv("JWT_SECRET", "change-me-in-production"),
		JWTExpiration: time.Duration(getEnvInt("JWT_EXPIRATION_HOURS", 24)) * time.Hour,

		IdentitySecret:  getEnv("IDENTITY_PROVIDER_SECRET", ""),
		AssertionMaxAge: getEnvSeconds("ASSERTION_MAX_AGE_SECONDS", 300),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		APIPort:    getEnv("API_PORT", "3000"),
		WorkerPort: getEnv("WORKER_PORT", "3001"),
	}
}

func (c *Config) IsAdmin(userID uuid.UUID) bool {
	for _, id := range c.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Config) Validate(log *zap.Logger) {
	if c.JWTSecret == "change-me-in-production" {
		log.Warn("JWT_SECRET is default, change in production")
	}
	if c.IdentitySecret == "" {
		log.Warn("IDENTITY_PROVIDER_SECRET is not set, assertion exchange is disabled")
	}
	if c.PostgresDSN == "" {
		log.Warn("POSTGRES_DSN is not set, state is kept in memory only")
	}
	if c.RedisURL == "" {
		log.Warn("REDIS_URL is not set, locks and events are process-local")
	}
	if c.PaymentGatewayURL == "" {
		log.Warn("PAYMENT_GATEWAY_URL is not set, escrow movements are recorded but not executed")
	}
	if len(c.AdminUserIDs) == 0 {
		log.Warn("ADMIN_USER_IDS is empty, nobody can arbitrate disputes")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func parseUUIDList(s string) []uuid.UUID {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ids := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := uuid.Parse(p)
		if err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// getEnvSeconds reads a positive number of seconds.
func getEnvSeconds(key string, fallback int) time.Duration {
	v := getEnvInt(key, fallback)
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}
