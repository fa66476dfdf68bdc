// Package config loads the daemon's TOML configuration file.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/gamewarden/gamewarden/internal/metrics"
	"github.com/gamewarden/gamewarden/internal/scheduler"
	"github.com/gamewarden/gamewarden/internal/store"
	"github.com/gamewarden/gamewarden/internal/supervisor"
)

// File is the top-level TOML structure.
type File struct {
	Listen     string                `mapstructure:"listen"`
	LogLevel   string                `mapstructure:"log_level"`
	DataDir    string                `mapstructure:"data_dir"`
	WebhookURL string                `mapstructure:"webhook_url"`
	Supervisor supervisor.Config     `mapstructure:"supervisor"`
	Sampler    metrics.SamplerConfig `mapstructure:"sampler"`
	Scheduler  scheduler.Config      `mapstructure:"scheduler"`
	Store      store.Config          `mapstructure:"store"`
}

// Load reads the TOML file at path and applies defaults.
func Load(path string) (File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetDefault("listen", "127.0.0.1:8820")
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", "data")
	v.SetDefault("supervisor.grace_period", "10s")
	v.SetDefault("supervisor.log.dir", "data/logs")
	v.SetDefault("sampler.interval", "1s")
	v.SetDefault("sampler.disk_interval", "1m")
	v.SetDefault("scheduler.status_interval", "20s")
	v.SetDefault("scheduler.task_interval", "1m")
	v.SetDefault("scheduler.backup_dir", "data/backups")
	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.path", "data/gamewarden.db")

	if err := v.ReadInConfig(); err != nil {
		return File{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return File{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return f, nil
}

// Default returns the configuration used when no file is given.
func Default() File {
	return File{
		Listen:   "127.0.0.1:8820",
		LogLevel: "info",
		DataDir:  "data",
		Supervisor: supervisor.Config{
			GracePeriod: supervisor.DefaultGracePeriod,
		},
		Sampler: metrics.SamplerConfig{
			Interval:     time.Second,
			DiskInterval: time.Minute,
		},
		Scheduler: scheduler.Config{
			StatusInterval: scheduler.DefaultStatusInterval,
			TaskInterval:   scheduler.DefaultTaskInterval,
			BackupDir:      "data/backups",
		},
		Store: store.Config{Type: "sqlite", Path: "data/gamewarden.db"},
	}
}
