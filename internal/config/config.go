// ABOUTME: Configuration loading through viper with file, env and default layers
// ABOUTME: Resolves data paths and validates the remote backend and poll settings

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harper/feedsync/internal/storage"
)

// Config stores feedsync configuration.
type Config struct {
	// DataDir holds feedsync.db. Supports ~ expansion. Defaults to
	// ~/.local/share/feedsync.
	DataDir string `mapstructure:"data_dir"`

	// NodeID overrides the generated device identity used to tag remote
	// writes. It must differ on every device.
	NodeID string `mapstructure:"node_id"`

	Remote RemoteConfig `mapstructure:"remote"`
	Poll   PollConfig   `mapstructure:"poll"`
	Log    LogConfig    `mapstructure:"log"`
	HTTP   HTTPConfig   `mapstructure:"http"`

	// path is the file the config was read from, empty when none existed.
	path string
}

// RemoteConfig selects and configures the remote table service.
type RemoteConfig struct {
	Backend       string        `mapstructure:"backend"`
	CharmHost     string        `mapstructure:"charm_host"`
	CharmWatch    time.Duration `mapstructure:"charm_watch"`
	CharmAutoSync bool          `mapstructure:"charm_auto_sync"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`
}

// PollConfig configures the poll scheduler.
type PollConfig struct {
	IdleDelay time.Duration `mapstructure:"idle_delay"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// HTTPConfig configures the feed transport and the status API of `run`.
type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	Listen    string        `mapstructure:"listen"` // empty disables the status API
}

// GetDataDir returns the configured data directory with ~ expanded.
func (c *Config) GetDataDir() string {
	if c.DataDir == "" {
		return defaultDataDir()
	}
	return ExpandPath(c.DataDir)
}

// DBPath returns the SQLite database path.
func (c *Config) DBPath() string {
	return storage.DefaultDBPath(c.GetDataDir())
}

// Path returns the file the config was read from, or "" when defaults and
// env were used alone.
func (c *Config) Path() string {
	return c.path
}

// OpenStorage opens the SQLite store in the data directory.
func (c *Config) OpenStorage() (*storage.SQLiteStore, error) {
	return storage.NewSQLiteStore(c.DBPath())
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	switch c.Remote.Backend {
	case BackendCharm, BackendRedis, BackendNone:
	default:
		return fmt.Errorf("unknown remote backend: %q", c.Remote.Backend)
	}
	if c.Poll.IdleDelay < MinPollIdleDelay {
		return fmt.Errorf("poll idle delay %s is below the minimum of %s", c.Poll.IdleDelay, MinPollIdleDelay)
	}
	if c.HTTP.Timeout <= 0 {
		return errors.New("http timeout must be positive")
	}
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// GetConfigDir returns the directory searched for config.yaml.
func GetConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, _ := os.UserHomeDir()
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "feedsync")
}

// Load reads the config file at path, or config.{yaml,json,toml} in
// GetConfigDir when path is empty. A missing file is not an error.
// FEEDSYNC_* environment variables override file values.
func Load(path string) (*Config, error) {
	v := newViper()
	read := true
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			read = false
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(GetConfigDir())
	}

	if read {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if read {
		cfg.path = v.ConfigFileUsed()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("data_dir", "")
	v.SetDefault("remote.backend", DefaultBackend)
	v.SetDefault("remote.charm_host", "")
	v.SetDefault("remote.charm_watch", DefaultCharmWatch)
	v.SetDefault("remote.charm_auto_sync", true)
	v.SetDefault("node_id", "")
	v.SetDefault("remote.redis_addr", DefaultRedisAddr)
	v.SetDefault("remote.redis_password", "")
	v.SetDefault("remote.redis_db", 0)
	v.SetDefault("remote.redis_prefix", DefaultRedisPrefix)
	v.SetDefault("poll.idle_delay", DefaultPollIdleDelay)
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", DefaultLogMaxSizeMB)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age_days", DefaultLogMaxAgeDays)
	v.SetDefault("http.timeout", DefaultHTTPTimeout)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.listen", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// defaultDataDir returns the standard XDG data directory for feedsync.
func defaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "feedsync")
}
