// Package config loads stagetasks settings from defaults, an optional YAML
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"stagetasks/internal/store"
)

// EnvPrefix namespaces environment variables, e.g. STAGETASKS_STORE_DRIVER.
const EnvPrefix = "STAGETASKS"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Events    EventsConfig    `mapstructure:"events"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type StoreConfig struct {
	Driver      string        `mapstructure:"driver"`
	Path        string        `mapstructure:"path"`
	Dir         string        `mapstructure:"dir"`
	DSN         string        `mapstructure:"dsn"`
	RedisURL    string        `mapstructure:"redis_url"`
	Key         string        `mapstructure:"key"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

type EventsConfig struct {
	NATSURL string `mapstructure:"nats_url"`
}

type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Stdout  bool `mapstructure:"stdout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("store.driver", store.DriverSQLite)
	v.SetDefault("store.path", "./data/stagetasks.db")
	v.SetDefault("store.dir", "./data")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.redis_url", "")
	v.SetDefault("store.key", store.DefaultKey)
	v.SetDefault("store.lock_timeout", 5*time.Second)
	v.SetDefault("events.nats_url", "")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.stdout", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. path may be empty. overrides (typically from
// command-line flags) take precedence over everything else.
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// PORT and DB_PATH are honoured for existing deployments.
	if err := v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("store.path", EnvPrefix+"_STORE_PATH", "DB_PATH"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	for key, val := range overrides {
		v.Set(key, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}

	switch c.Store.Driver {
	case store.DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the sqlite driver"))
		}
	case store.DriverFile:
		if c.Store.Dir == "" {
			errs = append(errs, errors.New("store.dir is required for the file driver"))
		}
	case store.DriverMySQL:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the mysql driver"))
		}
	case store.DriverRedis:
		if c.Store.RedisURL == "" {
			errs = append(errs, errors.New("store.redis_url is required for the redis driver"))
		}
	case store.DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("store.driver must be one of %s, got %q",
			strings.Join(store.Drivers, ", "), c.Store.Driver))
	}

	if c.Store.LockTimeout < 0 {
		errs = append(errs, errors.New("store.lock_timeout must not be negative"))
	}
	if !slices.Contains([]string{"text", "json"}, strings.ToLower(c.Log.Format)) {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// StoreOptions maps the store section to store.Open options.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Driver:      c.Store.Driver,
		Path:        c.Store.Path,
		Dir:         c.Store.Dir,
		DSN:         c.Store.DSN,
		RedisURL:    c.Store.RedisURL,
		LockTimeout: c.Store.LockTimeout,
	}
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
