// Package config loads environment variables (and an optional .env file) into
// a typed Config used across the service. Defaults let the binary run locally
// with minimal setup.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"

	"github.com/MrSigel/pulseframelabs/backend/crypto"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	HTTPAddr     string `env:"HTTP_ADDR" default:":8080"`
	StoreBackend string `env:"STORE_BACKEND" default:"postgres"`
	DBDsn        string `env:"DB_DSN"`
	// RedisURL, when set, moves hotword counters to Redis.
	RedisURL string `env:"REDIS_URL"`

	EncryptionKey          string `env:"ENCRYPTION_KEY"`
	EncryptionPreviousKeys string `env:"ENCRYPTION_PREVIOUS_KEYS"`

	TwitchClientID     string `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret string `env:"TWITCH_CLIENT_SECRET"`

	ChatConnectTimeout time.Duration `env:"CHAT_CONNECT_TIMEOUT" default:"10s"`
	ChatSendRate       int           `env:"CHAT_SEND_RATE" default:"20"`
	ChatSendPeriod     time.Duration `env:"CHAT_SEND_PERIOD" default:"30s"`

	BotLogSize         int    `env:"BOT_LOG_SIZE" default:"200"`
	BotDefaultFeatures string `env:"BOT_DEFAULT_FEATURES" default:"chat-relay,hotwords"`

	TokenRefreshInterval time.Duration `env:"TOKEN_REFRESH_INTERVAL" default:"5m"`
	TokenRefreshWindow   time.Duration `env:"TOKEN_REFRESH_WINDOW" default:"15m"`

	LogLevel     string `env:"LOG_LEVEL" default:"info"`
	LogFormat    string `env:"LOG_FORMAT" default:"text"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	AdminToken    string `env:"ADMIN_TOKEN"`
	AdminUsername string `env:"ADMIN_USERNAME"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	// CORSAllowedOrigins is comma separated; empty allows every origin.
	CORSAllowedOrigins string  `env:"CORS_ALLOWED_ORIGINS"`
	RateLimitRPS       float64 `env:"RATE_LIMIT_RPS" default:"10"`
	RateLimitBurst     int     `env:"RATE_LIMIT_BURST" default:"20"`
}

// Load reads .env (when present) and the environment, then validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StorePostgres, StoreMemory, c.StoreBackend)
	}
	if c.ChatConnectTimeout <= 0 {
		return errors.New("CHAT_CONNECT_TIMEOUT must be positive")
	}
	if c.ChatSendRate <= 0 || c.ChatSendPeriod <= 0 {
		return errors.New("CHAT_SEND_RATE and CHAT_SEND_PERIOD must be positive")
	}
	if c.BotLogSize <= 0 {
		return errors.New("BOT_LOG_SIZE must be positive")
	}
	if c.EncryptionKey != "" {
		if _, err := c.Keyring(); err != nil {
			return fmt.Errorf("ENCRYPTION_KEY: %w", err)
		}
	} else if c.EncryptionPreviousKeys != "" {
		return errors.New("ENCRYPTION_PREVIOUS_KEYS requires ENCRYPTION_KEY")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		return errors.New("ADMIN_USERNAME and ADMIN_PASSWORD must be set together")
	}
	return nil
}

// Keyring returns nil when no encryption key is configured.
func (c *Config) Keyring() (*crypto.Keyring, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	return crypto.ParseKeyring(c.EncryptionKey, c.EncryptionPreviousKeys)
}

// DefaultFeatures splits BOT_DEFAULT_FEATURES.
func (c *Config) DefaultFeatures() []string { return splitList(c.BotDefaultFeatures) }

func (c *Config) AllowedOrigins() []string { return splitList(c.CORSAllowedOrigins) }

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
