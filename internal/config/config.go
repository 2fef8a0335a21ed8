package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the service.
type Config struct {
	AppMode     string
	ServiceName string
	HTTPAddr    string
	LogLevel    string
	// EnvFileLoaded reports whether a .env file was read.
	EnvFileLoaded bool

	Database  DatabaseConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Schedule  ScheduleConfig

	RabbitMQURL       string
	OTLPEndpoint      string
	MemberEmailDomain string
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	Driver string
	URL    string
}

// AuthConfig holds the staff credential and token settings.
type AuthConfig struct {
	JWTSecret         string
	TokenTTL          time.Duration
	StaffUsername     string
	StaffPasswordHash string
}

// Enabled reports whether staff authentication is configured.
func (a AuthConfig) Enabled() bool {
	return a.StaffPasswordHash != ""
}

// RateLimitConfig configures the API token bucket.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// ScheduleConfig holds cron specs for background jobs. Empty disables a job.
type ScheduleConfig struct {
	OverdueSweep string
	Audit        string
}

// Load reads an optional .env file and then the environment.
func Load(files ...string) (*Config, error) {
	loaded := godotenv.Load(files...) == nil

	appMode := strings.TrimSpace(getEnv("APP_MODE", "dev"))
	if appMode != "dev" && appMode != "prod" {
		return nil, fmt.Errorf("invalid APP_MODE: '%s' (must be 'dev' or 'prod')", appMode)
	}

	ttl, err := getEnvDuration("TOKEN_TTL", 12*time.Hour)
	if err != nil {
		return nil, err
	}
	rps, err := getEnvFloat("RATE_LIMIT_RPS", 20)
	if err != nil {
		return nil, err
	}
	burst, err := getEnvInt("RATE_LIMIT_BURST", 40)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppMode:       appMode,
		ServiceName:   getEnv("SERVICE_NAME", "libradesk"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		EnvFileLoaded: loaded,
		Database: DatabaseConfig{
			Driver: getEnv("DB_DRIVER", "sqlite3"),
			URL:    getEnv("DATABASE_URL", "file:libradesk.db?_foreign_keys=on&_busy_timeout=5000"),
		},
		Auth: AuthConfig{
			JWTSecret:         getEnv("JWT_SECRET", ""),
			TokenTTL:          ttl,
			StaffUsername:     getEnv("STAFF_USERNAME", "librarian"),
			StaffPasswordHash: getEnv("STAFF_PASSWORD_HASH", ""),
		},
		RateLimit: RateLimitConfig{RPS: rps, Burst: burst},
		Schedule: ScheduleConfig{
			OverdueSweep: getEnv("OVERDUE_SWEEP_SCHEDULE", "0 8 * * *"),
			Audit:        getEnv("AUDIT_SCHEDULE", "30 2 * * *"),
		},
		RabbitMQURL:       getEnv("RABBITMQ_URL", ""),
		OTLPEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		MemberEmailDomain: getEnv("MEMBER_EMAIL_DOMAIN", "@gmail.com"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid DB_DRIVER: '%s' (must be 'postgres' or 'sqlite3')", c.Database.Driver)
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.AppMode == "prod" {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in prod mode")
		}
		if c.Auth.StaffPasswordHash == "" {
			return fmt.Errorf("STAFF_PASSWORD_HASH is required in prod mode")
		}
	}
	if c.Auth.Enabled() && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when STAFF_PASSWORD_HASH is set")
	}
	return nil
}

// IsProduction reports whether APP_MODE is prod.
func (c *Config) IsProduction() bool {
	return c.AppMode == "prod"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
