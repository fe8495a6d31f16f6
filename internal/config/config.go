package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Overpass   OverpassConfig   `yaml:"overpass" mapstructure:"overpass"`
	Normalize  NormalizeConfig  `yaml:"normalize" mapstructure:"normalize"`
	Import     ImportConfig     `yaml:"import" mapstructure:"import"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects and configures the facility store driver.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// OverpassConfig configures the ingestion client.
type OverpassConfig struct {
	Endpoint         string `yaml:"endpoint" mapstructure:"endpoint"`
	UserAgent        string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MinIntervalMs    int    `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	MaxAttempts      int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int    `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int    `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BreakerThreshold int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int    `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// Timeout is the per-request HTTP timeout.
func (c OverpassConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// MinInterval is the spacing enforced between requests.
func (c OverpassConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMs) * time.Millisecond
}

// NormalizeConfig configures tag normalization.
type NormalizeConfig struct {
	SkipUnclassified bool               `yaml:"skip_unclassified" mapstructure:"skip_unclassified"`
	QualityScores    map[string]float64 `yaml:"quality_scores" mapstructure:"quality_scores"`
}

// ImportConfig configures import runs.
type ImportConfig struct {
	MaxRadiusMeters float64 `yaml:"max_radius_meters" mapstructure:"max_radius_meters"`
	RunTimeoutSecs  int     `yaml:"run_timeout_secs" mapstructure:"run_timeout_secs"`
	Concurrency     int     `yaml:"concurrency" mapstructure:"concurrency"`
	RecordRuns      bool    `yaml:"record_runs" mapstructure:"record_runs"`
}

// RunTimeout bounds a single import run.
func (c ImportConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSecs) * time.Second
}

// SearchConfig bounds search requests.
type SearchConfig struct {
	MaxRadiusMeters float64 `yaml:"max_radius_meters" mapstructure:"max_radius_meters"`
	DefaultLimit    int     `yaml:"default_limit" mapstructure:"default_limit"`
	MaxLimit        int     `yaml:"max_limit" mapstructure:"max_limit"`
}

// CacheConfig configures the Redis search cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	URL     string `yaml:"url" mapstructure:"url"`
	TTLSecs int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// TTL is the lifetime of a cached search response.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	CORSOrigins         []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// MonitoringConfig configures the import health checker run by serve.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinFinishedRuns      int     `yaml:"min_finished_runs" mapstructure:"min_finished_runs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "atlas.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("overpass.endpoint", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.user_agent", "atlas/1.0")
	v.SetDefault("overpass.timeout_secs", 30)
	v.SetDefault("overpass.min_interval_ms", 1000)
	v.SetDefault("overpass.max_attempts", 4)
	v.SetDefault("overpass.initial_backoff_ms", 1000)
	v.SetDefault("overpass.max_backoff_ms", 30000)
	v.SetDefault("overpass.breaker_threshold", 5)
	v.SetDefault("overpass.breaker_reset_secs", 60)
	v.SetDefault("normalize.skip_unclassified", false)
	v.SetDefault("import.max_radius_meters", 5000)
	v.SetDefault("import.run_timeout_secs", 600)
	v.SetDefault("import.concurrency", 2)
	v.SetDefault("import.record_runs", true)
	v.SetDefault("search.max_radius_meters", 50000)
	v.SetDefault("search.default_limit", 20)
	v.SetDefault("search.max_limit", 100)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.url", "redis://localhost:6379/0")
	v.SetDefault("cache.ttl_secs", 60)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 10)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.min_finished_runs", 5)
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

// Drivers lists the supported store drivers.
var Drivers = []string{"postgres", "sqlite", "memory"}

// Validate checks the settings a command depends on. Mode is one of
// "import", "search", "serve" or "migrate".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	case "memory":
	default:
		errs = append(errs, "store.driver must be one of "+strings.Join(Drivers, ", "))
	}

	if c.Search.MaxRadiusMeters <= 0 {
		errs = append(errs, "search.max_radius_meters must be > 0")
	}
	if c.Search.MaxLimit < 1 {
		errs = append(errs, "search.max_limit must be >= 1")
	}
	if c.Search.DefaultLimit < 1 || c.Search.DefaultLimit > c.Search.MaxLimit {
		errs = append(errs, "search.default_limit must be between 1 and search.max_limit")
	}
	if c.Import.MaxRadiusMeters <= 0 {
		errs = append(errs, "import.max_radius_meters must be > 0")
	}
	if c.Import.Concurrency < 1 || c.Import.Concurrency > 16 {
		errs = append(errs, "import.concurrency must be between 1 and 16")
	}
	if c.Overpass.MaxAttempts < 1 {
		errs = append(errs, "overpass.max_attempts must be >= 1")
	}
	if c.Overpass.MinIntervalMs < 0 {
		errs = append(errs, "overpass.min_interval_ms must be >= 0")
	}
	for source, score := range c.Normalize.QualityScores {
		if score < 0 || score > 1 {
			errs = append(errs, "normalize.quality_scores."+source+" must be within [0, 1]")
		}
	}
	if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
		errs = append(errs, "monitoring.failure_rate_threshold must be within [0, 1]")
	}
	if c.Cache.Enabled && c.Cache.URL == "" {
		errs = append(errs, "cache.url is required when cache.enabled is set")
	}

	switch mode {
	case "import", "search":
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	case "migrate":
		if c.Store.Driver == "memory" {
			errs = append(errs, "migrate needs a persistent store.driver")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
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
