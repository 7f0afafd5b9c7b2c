package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	CacheDir    string `envconfig:"CACHE_DIR" required:"true"`
	DurableDir  string `envconfig:"DURABLE_DIR"`
	VolatileDir string `envconfig:"VOLATILE_DIR"`

	DownloadTimeout    time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"60s"`
	MaxParallel        int           `envconfig:"MAX_PARALLEL" default:"5"`
	MemoryTTL          time.Duration `envconfig:"MEMORY_TTL" default:"5m"`
	MemoryMaxEntrySize int64         `envconfig:"MEMORY_MAX_ENTRY_SIZE" default:"1048576"`

	VolatileRetention time.Duration `envconfig:"VOLATILE_RETENTION" default:"24h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	UpdateInterval    time.Duration `envconfig:"UPDATE_INTERVAL" default:"30s"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath            string `envconfig:"DB_PATH" default:"flips.db"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"flipcache"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"90s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads an optional .env file and the environment variables and populates the Config struct.
func LoadConfig(envFiles ...string) (*Config, error) {
	// A missing .env file is the common case in production.
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate rejects settings the cache cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.CacheDir) == "" {
		return errors.New("cache directory cannot be empty")
	}

	if c.DownloadTimeout <= 0 {
		return fmt.Errorf("download timeout must be positive: %s", c.DownloadTimeout)
	}

	if c.MaxParallel <= 0 {
		return fmt.Errorf("max parallel downloads must be positive: %d", c.MaxParallel)
	}

	if c.VolatileRetention <= 0 {
		return fmt.Errorf("volatile retention must be positive: %s", c.VolatileRetention)
	}

	if c.CleanupInterval <= 0 || c.UpdateInterval <= 0 {
		return errors.New("cleanup and update intervals must be positive")
	}

	return nil
}

// DurableRoot is the directory for content that must survive cleanup.
func (c *Config) DurableRoot() string {
	if c.DurableDir != "" {
		return c.DurableDir
	}

	return filepath.Join(c.CacheDir, "support", "flips_resources")
}

// VolatileRoot is the directory the retention sweeper is allowed to reclaim.
func (c *Config) VolatileRoot() string {
	if c.VolatileDir != "" {
		return c.VolatileDir
	}

	return filepath.Join(c.CacheDir, "caches", "flips_resources")
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
