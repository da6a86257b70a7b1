package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the top-level configuration structure.
type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Proctoring ProctoringConfig `mapstructure:"proctoring"`
	Analyzer   AnalyzerConfig   `mapstructure:"analyzer"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// HTTPConfig holds server-related settings.
type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxConnections  int           `mapstructure:"max_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// ProctoringConfig holds classification and transport tuning.
type ProctoringConfig struct {
	IdleThresholdMS int64 `mapstructure:"idle_threshold_ms"`
	EventsPerMinute int   `mapstructure:"events_per_minute"`
}

// AnalyzerConfig holds settings for the external content analyzer.
type AnalyzerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggingConfig holds settings for the logger.
type LoggingConfig struct {
	Directory string `mapstructure:"directory"`
}

// setDefaults sets the default values for the configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.path", "./data/proctorboard.db")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 10*time.Minute)

	// 5 minutes of inactivity before an idle_time event counts
	v.SetDefault("proctoring.idle_threshold_ms", 300000)
	v.SetDefault("proctoring.events_per_minute", 120)

	v.SetDefault("analyzer.base_url", "")
	v.SetDefault("analyzer.timeout", 3*time.Second)

	v.SetDefault("logging.directory", "logs")
}

// Load reads configuration from config/config.yaml, PROCTORBOARD_*
// environment variables and defaults, and watches the file for changes.
func Load(configDir string, log *zap.Logger) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.AddConfigPath(configDir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("PROCTORBOARD") // e.g. PROCTORBOARD_HTTP_PORT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing file is fine; defaults and env vars cover everything.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info("configuration file changed, reloading", zap.String("file", e.Name))
		reloaded := &Config{}
		if err := v.Unmarshal(reloaded); err != nil {
			log.Error("error reloading configuration", zap.Error(err))
			return
		}
		if err := reloaded.Validate(); err != nil {
			log.Error("reloaded configuration invalid, keeping current", zap.Error(err))
			return
		}
		*cfg = *reloaded
	})

	return cfg, nil
}

// Validate checks configuration bounds.
func (c *Config) Validate() error {
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database max_connections must be at least 1: %d", c.Database.MaxConnections)
	}
	if c.Proctoring.IdleThresholdMS <= 0 {
		return fmt.Errorf("idle_threshold_ms must be positive: %d", c.Proctoring.IdleThresholdMS)
	}
	if c.Proctoring.EventsPerMinute < 1 {
		return fmt.Errorf("events_per_minute must be at least 1: %d", c.Proctoring.EventsPerMinute)
	}
	if c.Analyzer.Timeout <= 0 {
		return fmt.Errorf("analyzer timeout must be positive: %s", c.Analyzer.Timeout)
	}
	return nil
}

// Address returns the HTTP listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}
