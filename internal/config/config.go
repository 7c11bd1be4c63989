// Package config loads the grants UI configuration from the environment and
// the per-grant routing table from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/R3E-Network/grants_ui/internal/httputil"
)

// Config is the process configuration. Backend, GAS and Redis settings are
// optional; an empty backend URL disables durable state without error.
type Config struct {
	Port      int    `env:"PORT,default=3000"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	BackendURL           string        `env:"GRANTS_UI_BACKEND_URL"`
	BackendAuthToken     string        `env:"GRANTS_UI_BACKEND_AUTH_TOKEN"`
	BackendEncryptionKey string        `env:"GRANTS_UI_BACKEND_ENCRYPTION_KEY"`
	BackendTimeout       time.Duration `env:"BACKEND_TIMEOUT,default=10s"`
	BackendMaxRetries    int           `env:"BACKEND_MAX_RETRIES,default=2"`

	LockTokenSecret string        `env:"APPLICATION_LOCK_TOKEN_SECRET"`
	LockTokenExpiry time.Duration `env:"APPLICATION_LOCK_TOKEN_EXPIRY,default=5m"`

	GASURL   string `env:"GAS_API_URL"`
	GASToken string `env:"GAS_API_TOKEN"`

	ApplicantJWTSecret string `env:"APPLICANT_JWT_SECRET"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB,default=0"`
	SessionTTL    time.Duration `env:"SESSION_TTL,default=4h"`

	RateLimitRPS   int `env:"RATE_LIMIT_RPS,default=20"`
	RateLimitBurst int `env:"RATE_LIMIT_BURST,default=40"`

	SecureCookies bool `env:"COOKIE_SECURE,default=true"`

	MockBackend  bool   `env:"MOCK_BACKEND,default=false"`
	DevTools     bool   `env:"DEV_TOOLS,default=false"`
	GrantsConfig string `env:"GRANTS_CONFIG"`
}

// Load reads an optional .env file then decodes the environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env (%s): %w", envFile, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	cfg.BackendURL = strings.TrimRight(strings.TrimSpace(cfg.BackendURL), "/")
	cfg.GASURL = strings.TrimRight(strings.TrimSpace(cfg.GASURL), "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks combinations that would fail at the first request.
func (c *Config) Validate() error {
	if c.BackendURL != "" && c.BackendAuthToken != "" && c.BackendEncryptionKey == "" {
		return fmt.Errorf("GRANTS_UI_BACKEND_ENCRYPTION_KEY is required when GRANTS_UI_BACKEND_AUTH_TOKEN is set")
	}
	if c.BackendMaxRetries < 0 {
		return fmt.Errorf("BACKEND_MAX_RETRIES must not be negative")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d is out of range", c.Port)
	}
	return nil
}

// BackendEnabled reports whether durable state operations should run.
func (c *Config) BackendEnabled() bool {
	return c.BackendURL != ""
}

// ClientRetries returns the retry count for outbound service clients. An
// explicit BACKEND_MAX_RETRIES=0 disables retries rather than selecting the
// client default.
func (c *Config) ClientRetries() int {
	if c.BackendMaxRetries == 0 {
		return httputil.NoRetries
	}
	return c.BackendMaxRetries
}

// UseRedis reports whether the session store should be Redis-backed.
func (c *Config) UseRedis() bool {
	return c.RedisAddr != ""
}
