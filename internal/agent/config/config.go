// Package config loads the sync agent's configuration from file, environment,
// and flags via viper.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config captures agent runtime settings.
type Config struct {
	DataDir          string        `mapstructure:"data_dir"`
	ServerURL        string        `mapstructure:"server_url"`
	Token            string        `mapstructure:"token"`
	DeviceID         string        `mapstructure:"device_id"`
	Streams          []string      `mapstructure:"streams"`
	CanonicalSources []string      `mapstructure:"canonical_sources"`
	BatchSize        int           `mapstructure:"batch_size"`
	BackfillWindow   time.Duration `mapstructure:"backfill_window"`
	UploadTimeout    time.Duration `mapstructure:"upload_timeout"`
	Deferred         bool          `mapstructure:"deferred"`
	LogFile          string        `mapstructure:"log_file"`
	MetricsAddress   string        `mapstructure:"metrics_address"`
}

// DatabasePath is the agent's SQLite file inside the data dir.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "agent.db")
}

// SpoolDir holds deferred upload payloads.
func (c Config) SpoolDir() string {
	return filepath.Join(c.DataDir, "spool")
}

// TriggerDir is watched for per-stream wake-up files.
func (c Config) TriggerDir() string {
	return filepath.Join(c.DataDir, "triggers")
}

// Load reads configuration. An explicit path wins; otherwise agent.yaml is
// searched in the usual locations. Environment variables use the
// HEALTHSYNC_ prefix.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", "./healthsync-agent")
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("streams", []string{"heart-rate", "step-count", "workouts"})
	v.SetDefault("batch_size", 1000)
	v.SetDefault("backfill_window", 30*24*time.Hour)
	v.SetDefault("upload_timeout", 30*time.Second)
	v.SetDefault("deferred", false)
	v.SetDefault("metrics_address", "")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("agent")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/healthsync")
	}

	v.SetEnvPrefix("HEALTHSYNC")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		// Running entirely off defaults and env is fine.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
