package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/jnlpcache/internal/cache"
	"github.com/Iron-Ham/jnlpcache/internal/config"
	"github.com/Iron-Ham/jnlpcache/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "jnlpcache",
	Short: "Download and cache launcher resources",
	Long: `jnlpcache downloads application resources into a cache directory that
several launcher processes can share safely. Downloads race the candidate
URLs of a resource, apply archive diffs against cached versions and publish
the result atomically.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/jnlpcache/config.yaml)")
	rootCmd.PersistentFlags().String("cache-dir", "", "cache directory (default is $HOME/.cache/jnlpcache)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("cache.dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("JNLPCACHE")
	// e.g., JNLPCACHE_CACHE_MAX_SIZE_MB for cache.max_size_mb
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// env is what most commands need: the loaded configuration, the cache and
// a logger writing to the cache's log file.
type env struct {
	cfg    *config.Config
	cache  *cache.Cache
	logger *logging.Logger
}

func (e *env) Close() {
	_ = e.logger.Close()
}

func openEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	dir := cfg.Cache.ResolveDir()

	logger := logging.NopLogger()
	if cfg.Logging.Enabled {
		logger, err = logging.NewLoggerWithRotation(dir, cfg.Logging.Level, logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open log: %w", err)
		}
	}

	c, err := cache.Open(dir, cache.WithLogger(logger))
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("failed to open cache %s: %w", dir, err)
	}
	return &env{cfg: cfg, cache: c, logger: logger}, nil
}
