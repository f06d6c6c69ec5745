// Package config loads runtime settings from an optional file, FUELREVIEW_*
// environment variables and built-in defaults.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "FUELREVIEW"

// Config holds all runtime settings
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Reviews   ReviewsConfig   `mapstructure:"reviews"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig selects the review repository: "sqlite" or "memory"
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type ReviewsConfig struct {
	PageSize int `mapstructure:"page_size"`
}

// TelemetryConfig sets the zone telemetry dates and times are recorded in
type TelemetryConfig struct {
	Timezone string `mapstructure:"timezone"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("database.path", "fleet_reviews.db")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("reviews.page_size", 200)
	v.SetDefault("telemetry.timezone", "UTC")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads path (if non-empty) over the defaults and applies environment
// overrides such as FUELREVIEW_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "memory":
	default:
		return errors.Errorf("storage.driver must be sqlite or memory, got %q", c.Storage.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Reviews.PageSize <= 0 {
		return errors.Errorf("reviews.page_size must be positive, got %d", c.Reviews.PageSize)
	}
	return nil
}
