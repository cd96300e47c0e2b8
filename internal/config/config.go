package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
	GWR    GWRConfig    `yaml:"gwr" mapstructure:"gwr"`
	Fetch  FetchConfig  `yaml:"fetch" mapstructure:"fetch"`
	Relay  RelayConfig  `yaml:"relay" mapstructure:"relay"`
	Cache  CacheConfig  `yaml:"cache" mapstructure:"cache"`
	CORS   CORSConfig   `yaml:"cors" mapstructure:"cors"`
	Batch  BatchConfig  `yaml:"batch" mapstructure:"batch"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// GWRConfig points lookups at the building register layer.
type GWRConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FetchConfig configures the outbound HTTP client.
type FetchConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// Timeout returns the request timeout as a duration.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSecs) * time.Second
}

// RelayConfig configures the allow-listed relay.
type RelayConfig struct {
	AllowedHosts []string `yaml:"allowed_hosts" mapstructure:"allowed_hosts"`
}

// CacheConfig configures the optional record cache.
type CacheConfig struct {
	Driver     string `yaml:"driver" mapstructure:"driver"`
	DSN        string `yaml:"dsn" mapstructure:"dsn"`
	TTLMinutes int    `yaml:"ttl_minutes" mapstructure:"ttl_minutes"`
	MaxEntries int    `yaml:"max_entries" mapstructure:"max_entries"`
	// MaxConns and MinConns size the postgres pool. Zero keeps the store defaults.
	MaxConns int `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int `yaml:"min_conns" mapstructure:"min_conns"`
}

// TTL returns the record lifetime as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// CORSConfig configures cross-origin access to the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// BatchConfig configures the batch command.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// Load reads configuration from .env, config file and environment. path names
// an explicit config file, which must exist; when empty an optional
// config.yaml in the working directory is used.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("GWR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "GWR_SERVER_PORT", "PORT"); err != nil {
		return nil, eris.Wrap(err, "config: bind port env")
	}

	// Defaults
	v.SetDefault("server.port", 8000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("gwr.base_url", "https://api3.geo.admin.ch/rest/services/ech/MapServer/ch.bfs.gebaeude_wohnungs_register")
	v.SetDefault("fetch.user_agent", "EWS-Tool/1.0")
	v.SetDefault("fetch.timeout_secs", 20)
	v.SetDefault("fetch.rate_per_sec", 10)
	v.SetDefault("relay.allowed_hosts", []string{"api3.geo.admin.ch", "services.geo.sg.ch"})
	v.SetDefault("cache.driver", "none")
	v.SetDefault("cache.ttl_minutes", 60)
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.max_conns", 0)
	v.SetDefault("cache.min_conns", 0)
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("batch.concurrency", 4)

	// Read config file (optional unless named explicitly)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a given command depends on.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
	case "lookup", "extract":
	case "batch":
		if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 32 {
			errs = append(errs, "batch.concurrency must be between 1 and 32")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode != "extract" {
		if c.Fetch.TimeoutSecs <= 0 {
			errs = append(errs, "fetch.timeout_secs must be > 0")
		}
		if c.Fetch.RatePerSec < 0 {
			errs = append(errs, "fetch.rate_per_sec must be >= 0")
		}
		switch c.Cache.Driver {
		case "", "none", "memory", "sqlite":
		case "postgres":
			if c.Cache.DSN == "" {
				errs = append(errs, "cache.dsn is required for the postgres driver")
			}
		default:
			errs = append(errs, "cache.driver must be one of none, memory, sqlite, postgres")
		}
		if c.Cache.MaxConns < 0 || c.Cache.MinConns < 0 {
			errs = append(errs, "cache.max_conns and cache.min_conns must be >= 0")
		} else if c.Cache.MaxConns > 0 && c.Cache.MinConns > c.Cache.MaxConns {
			errs = append(errs, "cache.min_conns must not exceed cache.max_conns")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
