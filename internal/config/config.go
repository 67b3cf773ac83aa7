package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// HTTP Configuration
	HTTP HTTPConfig

	// Database Configuration
	Database DatabaseConfig

	// Redis Configuration
	Redis RedisConfig

	// Auth Configuration
	Auth AuthConfig

	// Session purge worker
	Worker WorkerConfig

	// Logging Configuration
	Logging LoggingConfig
}

// HTTPConfig holds API server configuration
type HTTPConfig struct {
	Port           string
	AllowedOrigins []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Address string // Redis address (host:port)
}

// AuthConfig holds token issuing and login throttling settings
type AuthConfig struct {
	JWTSecret          string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	SecureCookies      bool
	LoginRateLimit     int64
	LoginRateWindow    time.Duration
	RateLimitUsesRedis bool
}

// WorkerConfig holds the expired-session purge settings
type WorkerConfig struct {
	PurgeSchedule  string        // Cron expression
	PurgeRetention time.Duration // How long expired/revoked sessions are kept
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	accessTTL, err := getDuration("ACCESS_TOKEN_TTL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	refreshTTL, err := getDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour)
	if err != nil {
		return nil, err
	}
	rateWindow, err := getDuration("LOGIN_RATE_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}
	retention, err := getDuration("SESSION_PURGE_RETENTION", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}

	rateLimit, err := strconv.ParseInt(getEnv("LOGIN_RATE_LIMIT", "10"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid LOGIN_RATE_LIMIT: %w", err)
	}

	return &Config{
		HTTP: HTTPConfig{
			Port:           getEnv("PORT", "8080"),
			AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", "propertyhub.sqlite"),
		},
		Redis: RedisConfig{
			Address: getEnv("REDIS_ADDRESS", "localhost:6379"),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTTL:          accessTTL,
			RefreshTTL:         refreshTTL,
			SecureCookies:      getEnv("SECURE_COOKIES", "true") == "true",
			LoginRateLimit:     rateLimit,
			LoginRateWindow:    rateWindow,
			RateLimitUsesRedis: getEnv("LOGIN_RATE_LIMIT_REDIS", "true") == "true",
		},
		Worker: WorkerConfig{
			PurgeSchedule:  getEnv("SESSION_PURGE_SCHEDULE", "0 * * * *"),
			PurgeRetention: retention,
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
