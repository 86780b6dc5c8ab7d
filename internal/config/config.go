package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/vango-dev/katai/internal/errors"
)

const (
	// ConfigName is the base name of the configuration file.
	ConfigName = "katai"

	// EnvPrefix prefixes environment overrides.
	EnvPrefix = "KATAI"

	// DefaultAddr is the default inspection server address.
	DefaultAddr = ":7070"

	// DefaultCachePrefix is prepended to every composite cache key.
	DefaultCachePrefix = "katai"
)

// Cache backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
)

// Config holds katai configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Server  ServerConfig  `mapstructure:"server"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Stores  []StoreConfig `mapstructure:"stores"`

	// configPath is the file the config was read from, if any.
	configPath string
}

// LogConfig controls the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Format is text or json.
	Format string `mapstructure:"format"`
}

// ServerConfig holds inspection server settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// CacheConfig selects and configures the cache backend.
type CacheConfig struct {
	Backend string       `mapstructure:"backend"`
	Prefix  string       `mapstructure:"prefix"`
	Codec   string       `mapstructure:"codec"`
	SQLite  SQLiteConfig `mapstructure:"sqlite"`
	S3      S3Config     `mapstructure:"s3"`
}

// SQLiteConfig holds settings for the sqlite backend.
type SQLiteConfig struct {
	Path  string `mapstructure:"path"`
	Table string `mapstructure:"table"`
}

// S3Config holds settings for the s3 backend.
type S3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`

	// PathStyle forces path-style addressing (needed by most S3-compatible
	// servers such as MinIO).
	PathStyle bool `mapstructure:"path_style"`
}

// MetricsConfig controls the Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// StoreConfig describes a store created at startup.
type StoreConfig struct {
	Name     string         `mapstructure:"name"`
	Cached   bool           `mapstructure:"cached"`
	CacheKey string         `mapstructure:"cache_key"`
	Initial  map[string]any `mapstructure:"initial"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.addr", DefaultAddr)
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.prefix", DefaultCachePrefix)
	v.SetDefault("cache.codec", "json")
	v.SetDefault("cache.sqlite.path", "katai.db")
	v.SetDefault("cache.sqlite.table", "katai_cache")
	v.SetDefault("cache.s3.prefix", "")
	v.SetDefault("cache.s3.region", "us-east-1")
	v.SetDefault("cache.s3.endpoint", "")
	v.SetDefault("cache.s3.bucket", "")
	v.SetDefault("cache.s3.path_style", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "katai")
}

// New returns a Config populated with defaults only.
func New() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	// Defaults always decode.
	_ = v.Unmarshal(&c)
	return &c
}

// Load reads configuration from path, or from KATAI_CONFIG, or from
// katai.{yaml,json,toml} in the working directory. A missing file is not an
// error; environment overrides use the KATAI_ prefix.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(ConfigName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		switch {
		case notFound && path == "":
		case os.IsNotExist(err):
			return nil, errors.New("K041").Wrap(err).
				WithSuggestion(fmt.Sprintf("Check that %s exists", path))
		default:
			return nil, errors.New("K041").Wrap(err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.New("K041").Wrap(fmt.Errorf("unmarshal config: %w", err))
	}
	c.configPath = v.ConfigFileUsed()
	c.normalize()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) normalize() {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	c.Cache.Codec = strings.ToLower(strings.TrimSpace(c.Cache.Codec))
}

// Path returns the file the config was loaded from, or "".
func (c *Config) Path() string {
	return c.configPath
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", c.Log.Level, "debug, info, warn or error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid("log.format", c.Log.Format, "text or json")
	}
	switch c.Cache.Backend {
	case BackendNone, BackendMemory, BackendSQLite:
	case BackendS3:
		if c.Cache.S3.Bucket == "" {
			return errors.New("K040").
				WithDetail("cache.s3.bucket is required when cache.backend is s3")
		}
	default:
		return invalid("cache.backend", c.Cache.Backend, "none, memory, sqlite or s3")
	}
	switch c.Cache.Codec {
	case "json", "yaml":
	default:
		return invalid("cache.codec", c.Cache.Codec, "json or yaml")
	}

	seen := make(map[string]bool, len(c.Stores))
	for i, s := range c.Stores {
		if s.Name == "" {
			return errors.New("K040").
				WithDetail(fmt.Sprintf("stores[%d] has no name", i))
		}
		if seen[s.Name] {
			return errors.New("K040").
				WithDetail(fmt.Sprintf("store %q is declared twice", s.Name))
		}
		seen[s.Name] = true
		if (s.Cached || s.CacheKey != "") && c.Cache.Backend == BackendNone {
			return errors.New("K040").
				WithDetail(fmt.Sprintf("store %q is cached but cache.backend is none", s.Name))
		}
	}
	return nil
}

// CacheEnabled reports whether a cache backend is configured.
func (c *Config) CacheEnabled() bool {
	return c.Cache.Backend != BackendNone
}

func invalid(key, got, want string) error {
	return errors.New("K040").
		WithDetail(fmt.Sprintf("%s = %q", key, got)).
		WithSuggestion("Use " + want)
}
