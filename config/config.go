// Package config reads the gateway configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Bus drivers
const (
	BusGoChannel   = "gochannel"
	BusRedisStream = "redisstream"
)

// Config holds all application configuration
type Config struct {
	Port        string
	BackendURL  string
	AnalysisURL string
	HTTPTimeout time.Duration
	LogLevel    slog.Level

	StoreDriver  string
	StoreProfile string
	RedisURL     string
	SQLitePath   string
	BusDriver    string

	TelegramBot     string
	TelegramAuthURL string
	Wallet          string
	Locale          string
	NotifyOptIn     bool
	MaxLeverage     int

	MountRetryAttempts int
	MountRetryInterval time.Duration

	SandboxPort string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8090"),
		BackendURL:  getEnv("BACKEND_URL", ""),
		AnalysisURL: getEnv("ANALYSIS_URL", ""),
		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
		LogLevel:    getEnvLevel("LOG_LEVEL", slog.LevelInfo),

		StoreDriver:  strings.ToLower(getEnv("STORE_DRIVER", StoreMemory)),
		StoreProfile: getEnv("STORE_PROFILE", "default"),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SQLitePath:   getEnv("SQLITE_PATH", "./data/smartlink.db"),
		BusDriver:    strings.ToLower(getEnv("BUS_DRIVER", BusGoChannel)),

		TelegramBot:     getEnv("TELEGRAM_BOT", "Mockadv_bot"),
		TelegramAuthURL: getEnv("TELEGRAM_AUTH_URL", ""),
		Wallet:          getEnv("WALLET_ADDRESS", ""),
		Locale:          getEnv("LOCALE", "en"),
		NotifyOptIn:     getEnvBool("NOTIFY_OPT_IN", true),
		MaxLeverage:     getEnvInt("MAX_LEVERAGE", 100),

		MountRetryAttempts: getEnvInt("MOUNT_RETRY_ATTEMPTS", 20),
		MountRetryInterval: getEnvDuration("MOUNT_RETRY_INTERVAL", 100*time.Millisecond),

		SandboxPort: getEnv("SANDBOX_PORT", "8091"),
	}
	if cfg.AnalysisURL == "" {
		cfg.AnalysisURL = cfg.BackendURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if err := checkURL("BACKEND_URL", c.BackendURL); err != nil {
		return err
	}
	if err := checkURL("ANALYSIS_URL", c.AnalysisURL); err != nil {
		return err
	}
	switch c.StoreDriver {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" || c.StoreProfile == "" {
			return fmt.Errorf("REDIS_URL and STORE_PROFILE are required for the redis store")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.BusDriver {
	case BusGoChannel:
	case BusRedisStream:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redisstream bus")
		}
	default:
		return fmt.Errorf("unknown BUS_DRIVER %q", c.BusDriver)
	}
	if c.TelegramBot == "" {
		return fmt.Errorf("TELEGRAM_BOT cannot be empty")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be > 0")
	}
	if c.MaxLeverage <= 0 {
		return fmt.Errorf("MAX_LEVERAGE must be > 0")
	}
	if c.MountRetryAttempts <= 0 || c.MountRetryInterval <= 0 {
		return fmt.Errorf("MOUNT_RETRY_ATTEMPTS and MOUNT_RETRY_INTERVAL must be > 0")
	}
	return nil
}

func checkURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", key)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}

// SandboxPort returns the port of the fake backend. It needs none of the
// gateway settings, so it is read on its own.
func SandboxPort() string {
	return getEnv("SANDBOX_PORT", "8091")
}
