// Package config loads and validates service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Fixed protocol windows shared with client applications
const (
	OTPWindow  = 5 * time.Minute
	HandoffTTL = 30 * time.Minute
)

// MaxAccessTokenMinutes caps ACCESS_TOKEN_EXPIRE_MINUTES at one year
const MaxAccessTokenMinutes = 365 * 24 * 60

// Store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreFile     = "file"
	StoreRedis    = "redis"
	StoreS3       = "s3"
)

// Config holds the auth service configuration
type Config struct {
	Port          string
	Host          string
	AllowedDomain string

	JWTSecret      string
	JWTIssuer      string
	AccessTokenTTL time.Duration

	BcryptCost          int
	OTPDeliveryTimeout  time.Duration
	CredentialStore     string
	DatabaseURL         string
	SessionStore        string
	SessionDir          string
	SessionCleanupEvery time.Duration

	Redis  RedisConfig
	Server ServerConfig

	ConsulAddr  string
	ConsulToken string

	CORSAllowedOrigins []string
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ServerConfig holds HTTP server timeouts
type ServerConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Load reads the configuration from environment variables, applying defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:          GetEnvOrDefault("AUTH_SERVICE_PORT", "8000"),
		Host:          GetEnvOrDefault("SERVICE_HOST", "localhost"),
		AllowedDomain: GetEnvOrDefault("COMPANY_DOMAIN", ""),

		JWTSecret: GetEnvOrDefault("JWT_SECRET_KEY", ""),
		JWTIssuer: GetEnvOrDefault("JWT_ISSUER", ""),

		CredentialStore: GetEnvOrDefault("CREDENTIAL_STORE", StoreMemory),
		DatabaseURL:     GetEnvOrDefault("DATABASE_URL", ""),
		SessionStore:    GetEnvOrDefault("SESSION_STORE", StoreFile),
		SessionDir:      GetEnvOrDefault("SESSION_DIR", "sessions"),

		Redis: RedisConfig{
			Addr:     GetEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: GetEnvOrDefault("REDIS_PASSWORD", ""),
		},

		ConsulAddr:  GetEnvOrDefault("CONSUL_HTTP_ADDR", ""),
		ConsulToken: GetEnvOrDefault("CONSUL_HTTP_TOKEN", ""),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:8501", "http://localhost:8502"}),
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	minutes, err := getEnvInt("ACCESS_TOKEN_EXPIRE_MINUTES", 30)
	collect(err)
	if err == nil && (minutes < 1 || minutes > MaxAccessTokenMinutes) {
		collect(fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES: must be between 1 and %d, got %d", MaxAccessTokenMinutes, minutes))
	}
	cfg.AccessTokenTTL = time.Duration(minutes) * time.Minute

	cfg.BcryptCost, err = getEnvInt("BCRYPT_COST", 0)
	collect(err)
	cfg.Redis.DB, err = getEnvInt("REDIS_DB", 0)
	collect(err)

	cfg.OTPDeliveryTimeout, err = getEnvDuration("OTP_DELIVERY_TIMEOUT", 10*time.Second)
	collect(err)
	cfg.SessionCleanupEvery, err = getEnvDuration("SESSION_CLEANUP_INTERVAL", 5*time.Minute)
	collect(err)
	cfg.Server.ReadTimeout, err = getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second)
	collect(err)
	cfg.Server.WriteTimeout, err = getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.Server.IdleTimeout, err = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)
	collect(err)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return cfg, nil
}

// Validate checks cross-field constraints that Load cannot express with defaults
func (c *Config) Validate() error {
	if c.AllowedDomain == "" {
		return errors.New("COMPANY_DOMAIN is required")
	}
	if err := ValidateSigningSecret(c.JWTSecret); err != nil {
		return err
	}
	if c.AccessTokenTTL <= 0 {
		return errors.New("ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}
	if c.OTPDeliveryTimeout <= 0 {
		return errors.New("OTP_DELIVERY_TIMEOUT must be positive")
	}
	if c.SessionCleanupEvery < 0 {
		return errors.New("SESSION_CLEANUP_INTERVAL must not be negative")
	}

	switch c.CredentialStore {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when CREDENTIAL_STORE=postgres")
		}
	default:
		return fmt.Errorf("unsupported CREDENTIAL_STORE %q", c.CredentialStore)
	}

	switch c.SessionStore {
	case StoreMemory, StoreFile, StoreRedis, StoreS3:
	default:
		return fmt.Errorf("unsupported SESSION_STORE %q", c.SessionStore)
	}

	return nil
}
