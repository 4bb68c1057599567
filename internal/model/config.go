package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// RecordStoreConfig holds connection settings for the hosted record store.
type RecordStoreConfig struct {
	// BaseURL is the root URL of the record store REST API.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// HealthPath is probed by the connectivity monitor.
	HealthPath string `mapstructure:"health_path" yaml:"health_path"`

	// APIKey is the bearer key. Usually left empty here and loaded from
	// the system keyring instead.
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

// SyncConfig holds settings for the offline queue and sync engine.
type SyncConfig struct {
	// MaxRetries is the replay ceiling before a queued mutation is
	// dropped and reported.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// ProbeIntervalSec is how often the connectivity monitor probes the
	// record store.
	ProbeIntervalSec int `mapstructure:"probe_interval_sec" yaml:"probe_interval_sec"`
}

// FeedConfig holds notification feed settings.
type FeedConfig struct {
	PageSize int `mapstructure:"page_size" yaml:"page_size"`
}

// APIConfig holds settings for the local HTTP API.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	RecordStore RecordStoreConfig `mapstructure:"record_store" yaml:"record_store"`
	Sync        SyncConfig        `mapstructure:"sync" yaml:"sync"`
	Feed        FeedConfig        `mapstructure:"feed" yaml:"feed"`
	API         APIConfig         `mapstructure:"api" yaml:"api"`

	// CachePath is the location of the local SQLite cache database.
	CachePath string `mapstructure:"cache_path" yaml:"cache_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/clubsync/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "clubsync", "config.yaml")
}

// defaultCachePath returns the default local cache database location.
func defaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "clubsync.db")
	}
	return filepath.Join(home, ".local", "share", "clubsync", "cache.db")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		RecordStore: RecordStoreConfig{
			HealthPath: "/health",
		},
		Sync: SyncConfig{
			MaxRetries:       3,
			ProbeIntervalSec: 15,
		},
		Feed: FeedConfig{
			PageSize: 20,
		},
		API: APIConfig{
			ListenAddr: "127.0.0.1:8487",
		},
		CachePath: defaultCachePath(),
		LogLevel:  "info",
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("record_store.health_path", "/health")
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.probe_interval_sec", 15)
	v.SetDefault("feed.page_size", 20)
	v.SetDefault("api.listen_addr", "127.0.0.1:8487")
	v.SetDefault("cache_path", defaultCachePath())
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("record_store", cfg.RecordStore)
	v.Set("sync", cfg.Sync)
	v.Set("feed", cfg.Feed)
	v.Set("api", cfg.API)
	v.Set("cache_path", cfg.CachePath)
	v.Set("log_level", cfg.LogLevel)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
