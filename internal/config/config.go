// Package config loads application configuration from YAML files and
// environment variables, with env vars taking precedence.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the root configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Places PlacesConfig `yaml:"places" mapstructure:"places"`
	Queue  QueueConfig  `yaml:"queue" mapstructure:"queue"`
	Worker WorkerConfig `yaml:"worker" mapstructure:"worker"`
	Import ImportConfig `yaml:"import" mapstructure:"import"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects and configures the backing store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// PlacesConfig configures the review source API client.
type PlacesConfig struct {
	APIKey            string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// QueueConfig configures the sync queue and scheduler.
type QueueConfig struct {
	TargetDepth int `yaml:"target_depth" mapstructure:"target_depth"`
	ClaimSize   int `yaml:"claim_size" mapstructure:"claim_size"`
}

// WorkerConfig configures the drain worker pool.
type WorkerConfig struct {
	Concurrency  int `yaml:"concurrency" mapstructure:"concurrency"`
	SyncPageSize int `yaml:"sync_page_size" mapstructure:"sync_page_size"`
}

// ImportConfig configures bulk file imports.
type ImportConfig struct {
	ChunkDelayMillis int `yaml:"chunk_delay_millis" mapstructure:"chunk_delay_millis"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the configuration for the given run mode. Mode is one
// of "sync", "import", or "serve"; each mode only validates the settings
// it actually uses.
func (c *Config) Validate(mode string) error {
	var problems []string

	if err := c.validateStore(); err != nil {
		problems = append(problems, err.Error())
	}

	switch mode {
	case "sync":
		if c.Places.APIKey == "" {
			problems = append(problems, "places.api_key is required")
		}
		if c.Places.RequestsPerSecond <= 0 {
			problems = append(problems, "places.requests_per_second must be > 0")
		}
		if c.Worker.Concurrency < 1 || c.Worker.Concurrency > 50 {
			problems = append(problems, "worker.concurrency must be between 1 and 50")
		}
		if c.Worker.SyncPageSize < 1 {
			problems = append(problems, "worker.sync_page_size must be >= 1")
		}
		if c.Queue.TargetDepth < 1 {
			problems = append(problems, "queue.target_depth must be >= 1")
		}
		if c.Queue.ClaimSize < 1 {
			problems = append(problems, "queue.claim_size must be >= 1")
		}
	case "import":
		if c.Import.ChunkDelayMillis < 0 {
			problems = append(problems, "import.chunk_delay_millis must be >= 0")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return eris.New("store.sqlite_path is required for the sqlite driver")
		}
	default:
		return eris.Errorf("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REVIEWSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "reviewsync.db")
	v.SetDefault("places.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("places.requests_per_second", 5.0)
	v.SetDefault("queue.target_depth", 500)
	v.SetDefault("queue.claim_size", 25)
	v.SetDefault("worker.concurrency", 3)
	v.SetDefault("worker.sync_page_size", 200)
	v.SetDefault("import.chunk_delay_millis", 100)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
