package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/federation/cache"
	"github.com/wippyai/federation/errors"
	"github.com/wippyai/federation/loader"
	"github.com/wippyai/federation/metrics"
	"github.com/wippyai/federation/resolver"
)

// EnvPrefix prefixes environment overrides: fetch.timeout is read from
// FEDERATION_FETCH_TIMEOUT.
const EnvPrefix = "FEDERATION"

type Config struct {
	Remotes resolver.Table `mapstructure:"remotes"`
	Cache   CacheConfig    `mapstructure:"cache"`
	Log     LogConfig      `mapstructure:"log"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Fetch   FetchConfig    `mapstructure:"fetch"`
	Shared  SharedConfig   `mapstructure:"shared"`
}

type FetchConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
}

type CacheConfig struct {
	// Dir enables the on-disk bundle store for cacheable remotes.
	Dir string `mapstructure:"dir"`
}

type SharedConfig struct {
	// Strict turns singleton version mismatches into load failures.
	Strict bool `mapstructure:"strict"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `mapstructure:"addr"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Fetch:   FetchConfig{Timeout: cache.DefaultTimeout, MaxConcurrent: 8},
		Log:     LogConfig{Level: "info"},
		Remotes: resolver.Table{},
	}
}

// Load reads configuration from path (TOML, YAML or JSON by extension) with
// environment overrides applied. An empty path reads defaults and the
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("fetch.timeout", d.Fetch.Timeout)
	v.SetDefault("fetch.max_concurrent", d.Fetch.MaxConcurrent)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("shared.strict", d.Shared.Strict)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read config "+path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "decode config")
	}
	if cfg.Remotes == nil {
		cfg.Remotes = resolver.Table{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the decoder cannot.
func (c *Config) Validate() error {
	if c.Fetch.Timeout <= 0 {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("fetch.timeout must be positive, got %s", c.Fetch.Timeout))
	}
	if c.Fetch.MaxConcurrent <= 0 {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("fetch.max_concurrent must be positive, got %d", c.Fetch.MaxConcurrent))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log.level")
	}
	for _, id := range c.Remotes.IDs() {
		if c.Remotes[id].URL == "" {
			return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("remotes.%s.url is empty", id))
		}
	}
	return nil
}

// Table returns the configured remotes.
func (c *Config) Table() resolver.Table {
	out := make(resolver.Table, len(c.Remotes))
	for id, r := range c.Remotes {
		out[id] = r
	}
	return out
}

// Resolver serves the configured remotes. Configuration keys are case
// insensitive, so ids are matched case-insensitively and the descriptor
// keeps the requested spelling.
func (c *Config) Resolver() resolver.Func {
	byLower := make(resolver.Table, len(c.Remotes))
	for id, r := range c.Remotes {
		byLower[strings.ToLower(id)] = r
	}
	return func(id string, _ resolver.Caller) *resolver.Descriptor {
		r, ok := byLower[strings.ToLower(id)]
		if !ok {
			return nil
		}
		return &resolver.Descriptor{ID: id, URL: r.URL, Cacheable: r.Cacheable}
	}
}

// LoaderOptions translates the configuration into loader options. logger
// and m may be nil.
func (c *Config) LoaderOptions(logger *zap.Logger, m *metrics.Collector) ([]loader.Option, error) {
	opts := []loader.Option{
		loader.WithTimeout(c.Fetch.Timeout),
		loader.WithMaxConcurrentFetches(c.Fetch.MaxConcurrent),
		loader.WithStrictVersions(c.Shared.Strict),
		loader.WithMetrics(m),
	}
	if logger != nil {
		opts = append(opts, loader.WithLogger(logger))
	}
	if c.Cache.Dir != "" {
		store, err := cache.NewDirStore(c.Cache.Dir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "cache.dir")
		}
		opts = append(opts, loader.WithStore(store))
	}
	return opts, nil
}

// NewLogger builds a zap logger for the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log.level")
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
