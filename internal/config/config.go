package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// RateLimitConfig holds per-endpoint-group rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool

	WebhookRequests int
	WebhookWindow   time.Duration

	ClaimRequests int
	ClaimWindow   time.Duration

	AdminRequests int
	AdminWindow   time.Duration
}

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr string
	ServerPort int

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// MemberCap is the hard bound on active memberships.
	MemberCap int

	// Admin auth
	JWTSecret         string
	JWTIssuer         string
	AccessTokenTTL    time.Duration
	AdminPasswordHash string
	AdminTOTPSecret   string

	// Identity provider sync (optional)
	IdentityBaseURL     string
	IdentityAPIToken    string
	IdentitySyncTimeout time.Duration

	RateLimit RateLimitConfig

	MaxRequestBodySize int64
	RunMigrations      bool
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Server defaults
		ServerAddr: getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort: getEnvInt("SERVER_PORT", 8080),

		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "membergate"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		MemberCap: getEnvInt("MEMBER_CAP", 0),

		JWTSecret:         getEnv("JWT_SECRET", ""),
		JWTIssuer:         getEnv("JWT_ISSUER", "membergate"),
		AccessTokenTTL:    getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		AdminTOTPSecret:   getEnv("ADMIN_TOTP_SECRET", ""),

		IdentityBaseURL:     getEnv("IDENTITY_BASE_URL", ""),
		IdentityAPIToken:    getEnv("IDENTITY_API_TOKEN", ""),
		IdentitySyncTimeout: getEnvDuration("IDENTITY_SYNC_TIMEOUT", 10*time.Second),

		RateLimit: RateLimitConfig{
			Enabled:         getEnvBool("RATE_LIMIT_ENABLED", true),
			WebhookRequests: getEnvInt("RATE_LIMIT_WEBHOOK_REQUESTS", 300),
			WebhookWindow:   getEnvDuration("RATE_LIMIT_WEBHOOK_WINDOW", time.Minute),
			ClaimRequests:   getEnvInt("RATE_LIMIT_CLAIM_REQUESTS", 10),
			ClaimWindow:     getEnvDuration("RATE_LIMIT_CLAIM_WINDOW", time.Minute),
			AdminRequests:   getEnvInt("RATE_LIMIT_ADMIN_REQUESTS", 30),
			AdminWindow:     getEnvDuration("RATE_LIMIT_ADMIN_WINDOW", time.Minute),
		},

		MaxRequestBodySize: getEnvInt64("MAX_REQUEST_BODY_SIZE", 1<<20),
		RunMigrations:      getEnvBool("RUN_MIGRATIONS", false),
	}

	// Validate required fields
	if cfg.MemberCap <= 0 {
		return nil, fmt.Errorf("MEMBER_CAP is required and must be positive")
	}
	if cfg.HasAdmin() && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required when ADMIN_PASSWORD_HASH is set")
	}

	return cfg, nil
}

// HasAdmin returns true if the admin surface is configured.
func (c *Config) HasAdmin() bool {
	return c.AdminPasswordHash != ""
}

// HasIdentitySync returns true if identity provider sync is configured.
func (c *Config) HasIdentitySync() bool {
	return c.IdentityBaseURL != "" && c.IdentityAPIToken != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
