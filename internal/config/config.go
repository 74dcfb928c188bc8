// Package config loads the server configuration from the environment with
// Viper. A .env file, when present, is loaded into the environment by the
// caller first.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/travelmate/authgate"
	"github.com/travelmate/authgate/jwt"
	"github.com/travelmate/authgate/notify"
)

// Config is the process configuration.
type Config struct {
	HTTPAddr       string `mapstructure:"HTTP_ADDR"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	LatencyMetrics bool   `mapstructure:"METRICS_LATENCY"`

	// RedisAddr empty keeps all shared state in process memory.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	KeyPrefix     string `mapstructure:"KEY_PREFIX"`

	// DatabaseURL enables the Postgres principal directory, session
	// repository and lockout store.
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	MigrateOnBoot bool   `mapstructure:"MIGRATE_ON_BOOT"`

	JWTSecret    string        `mapstructure:"JWT_SECRET"`
	JWTIssuer    string        `mapstructure:"JWT_ISSUER"`
	JWTAlgorithm string        `mapstructure:"JWT_ALGORITHM"`
	AccessTTL    time.Duration `mapstructure:"JWT_ACCESS_TTL"`

	RefreshTTL  time.Duration `mapstructure:"REFRESH_TTL"`
	MaxDevices  int           `mapstructure:"MAX_DEVICES"`
	MaxAttempts int           `mapstructure:"LOGIN_MAX_ATTEMPTS"`
	LoginWindow time.Duration `mapstructure:"LOGIN_WINDOW"`

	LockoutEnabled   bool          `mapstructure:"LOCKOUT_ENABLED"`
	LockoutThreshold int           `mapstructure:"LOCKOUT_THRESHOLD"`
	LockoutDuration  time.Duration `mapstructure:"LOCKOUT_DURATION"`

	CollaboratorTimeout time.Duration `mapstructure:"COLLABORATOR_TIMEOUT"`
	MaintenanceInterval time.Duration `mapstructure:"MAINTENANCE_INTERVAL"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUser     string `mapstructure:"SMTP_USER"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("METRICS_LATENCY", true)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("KEY_PREFIX", "authgate")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MIGRATE_ON_BOOT", false)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "travelmate")
	v.SetDefault("JWT_ALGORITHM", "hs256")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("REFRESH_TTL", "168h")
	v.SetDefault("MAX_DEVICES", 5)
	v.SetDefault("LOGIN_MAX_ATTEMPTS", 5)
	v.SetDefault("LOGIN_WINDOW", "30m")
	v.SetDefault("LOCKOUT_ENABLED", true)
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_DURATION", "30m")
	v.SetDefault("COLLABORATOR_TIMEOUT", "3s")
	v.SetDefault("MAINTENANCE_INTERVAL", "5m")
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USER", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if len(c.JWTSecret) < 32 {
		return errors.New("config: JWT_SECRET must be at least 32 bytes")
	}
	if c.MaintenanceInterval <= 0 {
		return errors.New("config: MAINTENANCE_INTERVAL must be positive")
	}
	return nil
}

// Engine maps the process configuration onto the engine configuration.
func (c *Config) Engine() authgate.Config {
	cfg := authgate.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(c.JWTSecret)
	cfg.JWT.Issuer = c.JWTIssuer
	cfg.JWT.AccessTTL = c.AccessTTL
	cfg.JWT.SigningMethod = jwt.SigningMethod(strings.ToLower(strings.TrimSpace(c.JWTAlgorithm)))
	cfg.Session.TTL = c.RefreshTTL
	cfg.Session.MaxDevices = c.MaxDevices
	cfg.Attempt.MaxAttempts = c.MaxAttempts
	cfg.Attempt.Window = c.LoginWindow
	cfg.Lockout.Enabled = c.LockoutEnabled
	cfg.Lockout.Threshold = c.LockoutThreshold
	cfg.Lockout.Duration = c.LockoutDuration
	cfg.CollaboratorTimeout = c.CollaboratorTimeout
	cfg.KeyPrefix = c.KeyPrefix
	cfg.Metrics.EnableLatencyHistograms = c.LatencyMetrics
	return cfg
}

// SMTP returns the relay settings, or false when no relay is configured.
func (c *Config) SMTP() (notify.SMTPConfig, bool) {
	if c.SMTPHost == "" || c.SMTPFrom == "" {
		return notify.SMTPConfig{}, false
	}
	return notify.SMTPConfig{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		User:     c.SMTPUser,
		Password: c.SMTPPassword,
		From:     c.SMTPFrom,
		FromName: "TravelMate",
	}, true
}
