package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Stats      StatsConfig      `yaml:"stats" mapstructure:"stats"`
	Population PopulationConfig `yaml:"population" mapstructure:"population"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// IngestConfig configures file ingestion.
type IngestConfig struct {
	BatchSize        int      `yaml:"batch_size" mapstructure:"batch_size"`
	PreviewRows      int      `yaml:"preview_rows" mapstructure:"preview_rows"`
	Encodings        []string `yaml:"encodings" mapstructure:"encodings"`
	Delimiter        string   `yaml:"delimiter" mapstructure:"delimiter"`
	KeepExtraColumns bool     `yaml:"keep_extra_columns" mapstructure:"keep_extra_columns"`
	Concurrency      int      `yaml:"concurrency" mapstructure:"concurrency"`
	DefaultCrimeType string   `yaml:"default_crime_type" mapstructure:"default_crime_type"`
	SourceName       string   `yaml:"source_name" mapstructure:"source_name"`
	StorageDir       string   `yaml:"storage_dir" mapstructure:"storage_dir"`
	APIKey           string   `yaml:"api_key" mapstructure:"api_key"`
	DownloadRetries  int      `yaml:"download_retries" mapstructure:"download_retries"`
}

// StatsConfig configures the aggregation engine.
type StatsConfig struct {
	PerCapitaBase float64 `yaml:"per_capita_base" mapstructure:"per_capita_base"`
	YoYMinYear    int     `yaml:"yoy_min_year" mapstructure:"yoy_min_year"`
}

// PopulationConfig selects and configures the population data source.
type PopulationConfig struct {
	Source      string       `yaml:"source" mapstructure:"source"`
	File        string       `yaml:"file" mapstructure:"file"`
	Concurrency int          `yaml:"concurrency" mapstructure:"concurrency"`
	Census      CensusConfig `yaml:"census" mapstructure:"census"`
}

// CensusConfig holds Census Bureau data API settings.
type CensusConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	Dataset     string  `yaml:"dataset" mapstructure:"dataset"`
	Variable    string  `yaml:"variable" mapstructure:"variable"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// MetricsConfig configures metric export. An empty path disables export.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path" mapstructure:"textfile_path"`
}

// MonitoringConfig holds ingestion health thresholds and alert delivery.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StaleAfterHours      int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CRIMESTATS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("ingest.batch_size", 1000)
	v.SetDefault("ingest.preview_rows", 10)
	v.SetDefault("ingest.encodings", []string{"utf-8", "iso-8859-1", "windows-1252"})
	v.SetDefault("ingest.delimiter", ",")
	v.SetDefault("ingest.keep_extra_columns", true)
	v.SetDefault("ingest.concurrency", 2)
	v.SetDefault("ingest.default_crime_type", "murder")
	v.SetDefault("ingest.source_name", "FBI_UCR")
	v.SetDefault("ingest.storage_dir", "data")
	v.SetDefault("ingest.download_retries", 3)
	v.SetDefault("stats.per_capita_base", 100000)
	v.SetDefault("stats.yoy_min_year", 1900)
	v.SetDefault("population.source", "csv")
	v.SetDefault("population.concurrency", 4)
	v.SetDefault("population.census.base_url", "https://api.census.gov/data")
	v.SetDefault("population.census.dataset", "pep/population")
	v.SetDefault("population.census.variable", "POP")
	v.SetDefault("population.census.rate_per_sec", 5)
	v.SetDefault("population.census.timeout_secs", 30)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.stale_after_hours", 24)
	v.SetDefault("monitoring.lookback_window_hours", 168)
	v.SetDefault("monitoring.check_interval_secs", 300)

	// Keys without a useful default are registered so env-only values reach Unmarshal.
	for _, key := range []string{
		"store.database_url",
		"ingest.api_key",
		"population.file",
		"population.census.api_key",
		"metrics.textfile_path",
		"monitoring.webhook_url",
	} {
		v.SetDefault(key, "")
	}

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

// Validate checks the settings a command mode depends on.
// Modes: "preview" (no database), "store" (any database command), "population".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "preview":
	case "store", "population":
		errs = append(errs, c.validateStore()...)
		if mode == "population" {
			errs = append(errs, c.validatePopulation()...)
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Ingest.BatchSize < 1 {
		errs = append(errs, "ingest.batch_size must be > 0")
	}
	if c.Ingest.Concurrency < 1 || c.Ingest.Concurrency > 32 {
		errs = append(errs, "ingest.concurrency must be between 1 and 32")
	}
	if len(c.Ingest.Encodings) == 0 {
		errs = append(errs, "ingest.encodings must not be empty")
	}
	if c.Stats.PerCapitaBase <= 0 {
		errs = append(errs, "stats.per_capita_base must be > 0")
	}

	if len(errs) > 0 {
		return eris.New(fmt.Sprintf("config: invalid (%s)", strings.Join(errs, "; ")))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}
	// sqlite falls back to a local crime_stats.db file.
	if c.Store.DatabaseURL == "" && c.Store.Driver != "sqlite" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
}

func (c *Config) validatePopulation() []string {
	var errs []string
	switch c.Population.Source {
	case "csv", "census", "synthetic":
	default:
		errs = append(errs, fmt.Sprintf("population.source must be csv, census or synthetic, got %q", c.Population.Source))
	}
	if c.Population.Concurrency < 1 {
		errs = append(errs, "population.concurrency must be > 0")
	}
	if c.Population.Source == "census" && c.Population.Census.RatePerSec <= 0 {
		errs = append(errs, "population.census.rate_per_sec must be > 0")
	}
	return errs
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
