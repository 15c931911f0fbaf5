package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// appName names the per-user config and cache directories.
const appName = "jnlpcache"

// Config represents the complete jnlpcache configuration
type Config struct {
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Fetch    FetchConfig    `mapstructure:"fetch" yaml:"fetch"`
	Progress ProgressConfig `mapstructure:"progress" yaml:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// CacheConfig controls where and how much is cached
type CacheConfig struct {
	// Dir is the cache root. Empty means the per-user cache directory.
	// Supports ~ for home directory expansion.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB bounds the cache size enforced by clean (default: -1, unlimited)
	MaxSizeMB int64 `mapstructure:"max_size_mb" yaml:"max_size_mb"`
}

// FetchConfig controls downloads
type FetchConfig struct {
	// PreferHTTPS tries https before plain http for default-port URLs (default: true)
	PreferHTTPS bool `mapstructure:"prefer_https" yaml:"prefer_https"`
	// ConnectTimeoutMs bounds connection setup, 0 = no timeout
	ConnectTimeoutMs int `mapstructure:"connect_timeout_ms" yaml:"connect_timeout_ms"`
	// ReadTimeoutMs bounds the wait for response headers, 0 = no timeout
	ReadTimeoutMs int `mapstructure:"read_timeout_ms" yaml:"read_timeout_ms"`
	// MaxCandidates caps the URLs tried per resource, 0 = no cap
	MaxCandidates int `mapstructure:"max_candidates" yaml:"max_candidates"`
}

// ProgressConfig controls how often download progress is reported
type ProgressConfig struct {
	// KnownChunkKB is the reporting step when the length is known (default: 16)
	KnownChunkKB int `mapstructure:"known_chunk_kb" yaml:"known_chunk_kb"`
	// UnknownChunkKB is the reporting step when the length is unknown (default: 256)
	UnknownChunkKB int `mapstructure:"unknown_chunk_kb" yaml:"unknown_chunk_kb"`
}

// LoggingConfig controls logging to <cache>/launcher.log
type LoggingConfig struct {
	// Enabled controls whether the log file is written (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 5)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated backups (default: true)
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Dir:       "", // Empty means use the per-user cache directory
			MaxSizeMB: -1,
		},
		Fetch: FetchConfig{
			PreferHTTPS:      true,
			ConnectTimeoutMs: 10000,
			ReadTimeoutMs:    30000,
			MaxCandidates:    0,
		},
		Progress: ProgressConfig{
			KnownChunkKB:   16,
			UnknownChunkKB: 256,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  5,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Cache defaults
	viper.SetDefault("cache.dir", defaults.Cache.Dir)
	viper.SetDefault("cache.max_size_mb", defaults.Cache.MaxSizeMB)

	// Fetch defaults
	viper.SetDefault("fetch.prefer_https", defaults.Fetch.PreferHTTPS)
	viper.SetDefault("fetch.connect_timeout_ms", defaults.Fetch.ConnectTimeoutMs)
	viper.SetDefault("fetch.read_timeout_ms", defaults.Fetch.ReadTimeoutMs)
	viper.SetDefault("fetch.max_candidates", defaults.Fetch.MaxCandidates)

	// Progress defaults
	viper.SetDefault("progress.known_chunk_kb", defaults.Progress.KnownChunkKB)
	viper.SetDefault("progress.unknown_chunk_kb", defaults.Progress.UnknownChunkKB)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// MaxBytes returns the cache size bound in bytes, or -1 for no bound.
func (c *CacheConfig) MaxBytes() int64 {
	if c.MaxSizeMB < 0 {
		return -1
	}
	return c.MaxSizeMB << 20
}

// ResolveDir returns the cache root. An empty Dir means DefaultCacheDir,
// a leading ~ expands to the home directory and a relative path is made
// absolute against the working directory.
func (c *CacheConfig) ResolveDir() string {
	if c.Dir == "" {
		return DefaultCacheDir()
	}
	path := expandHome(c.Dir)
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path
}

// ConnectTimeout returns the connect timeout as a time.Duration (0 means disabled)
func (c *FetchConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// ReadTimeout returns the response header timeout as a time.Duration (0 means disabled)
func (c *FetchConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

// KnownChunk returns the known-length reporting step in bytes.
func (c *ProgressConfig) KnownChunk() int64 {
	return int64(c.KnownChunkKB) << 10
}

// UnknownChunk returns the unknown-length reporting step in bytes.
func (c *ProgressConfig) UnknownChunk() int64 {
	return int64(c.UnknownChunkKB) << 10
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	return path
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	// Fall back to ~/.config/jnlpcache
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + appName
	}
	return filepath.Join(home, ".config", appName)
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DefaultCacheDir returns the per-user cache root
func DefaultCacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName)
	}
	return filepath.Join(home, ".cache", appName)
}
