// Package config loads the ingestor's runtime configuration from an optional
// YAML file plus environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RunMode selects the scheduler's top-level execution mode.
type RunMode string

const (
	RunOnce    RunMode = "once"
	RunForever RunMode = "forever"
)

// DatabaseConfig controls persistence.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn" env:"OFFERWATCH_DB_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"OFFERWATCH_DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"OFFERWATCH_DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds" env:"OFFERWATCH_DB_CONN_MAX_LIFETIME_SECONDS"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"OFFERWATCH_LOG_LEVEL"`
	Format     string `yaml:"format" env:"OFFERWATCH_LOG_FORMAT"`
	Output     string `yaml:"output" env:"OFFERWATCH_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"OFFERWATCH_LOG_FILE_PREFIX"`
}

// SchedulerConfig controls cycle/query pacing. Only operator-tunable fields
// live here; values fixed by design are package constants below.
type SchedulerConfig struct {
	Mode              RunMode `yaml:"mode" env:"OFFERWATCH_RUN_MODE"`
	CycleSleepMinSec  int     `yaml:"cycle_sleep_min_seconds" env:"OFFERWATCH_CYCLE_SLEEP_MIN_SECONDS"`
	CycleSleepMaxSec  int     `yaml:"cycle_sleep_max_seconds" env:"OFFERWATCH_CYCLE_SLEEP_MAX_SECONDS"`
	QueryRegistryFile string  `yaml:"query_registry_file" env:"OFFERWATCH_QUERY_REGISTRY_FILE"`
}

// SheetConfig controls the external curated company sheet.
type SheetConfig struct {
	SpreadsheetID string `yaml:"spreadsheet_id" env:"OFFERWATCH_SHEET_ID"`
}

// ProviderConfig holds provider credentials consumed by the (out-of-module)
// HTTP clients; the core only needs to know they are configured, not how.
type ProviderConfig struct {
	MarketplaceAPIKey string   `yaml:"marketplace_api_key" env:"OFFERWATCH_MARKETPLACE_API_KEY"`
	ATSClients        []string `yaml:"ats_clients" env:"OFFERWATCH_ATS_CLIENTS"`
}

// Config is the top-level configuration structure.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Sheet     SheetConfig     `yaml:"sheet"`
	Provider  ProviderConfig  `yaml:"provider"`
}

// Fixed operational constants, deliberately not operator-tunable.
const (
	MaxRetriesPerQuery      = 3
	ClientPauseDuration     = 6 * time.Hour
	QueryJitterMin          = 10 * time.Second
	QueryJitterMax          = 60 * time.Second
	AggregationChunkSize    = 50
	AggregationMaxRetries   = 2
	AggregationRetryBackoff = 100 * time.Millisecond
	SimilarityThreshold     = 0.82
	StrongScoreThreshold    = 6
	RunLockTTL              = 30 * time.Minute
	FeedbackWindowStartHour = 3
	FeedbackWindowEndHour   = 6
	FeedbackTimeZone        = "Europe/Madrid"
	CycleFallbackSleep      = 120 * time.Second
	TransientRetryGap       = 2 * time.Second
)

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "offerwatch",
		},
		Scheduler: SchedulerConfig{
			Mode:              RunForever,
			CycleSleepMinSec:  300,
			CycleSleepMaxSec:  900,
			QueryRegistryFile: "configs/queries.yaml",
		},
	}
}

// Load loads configuration from an optional YAML file (CONFIG_FILE or
// configs/config.yaml) and then overlays environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate checks the fields required to start either run mode.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database dsn is required (OFFERWATCH_DB_DSN)")
	}
	if c.Scheduler.Mode != RunOnce && c.Scheduler.Mode != RunForever {
		return fmt.Errorf("invalid run mode %q (must be %q or %q)", c.Scheduler.Mode, RunOnce, RunForever)
	}
	if c.Scheduler.CycleSleepMinSec <= 0 || c.Scheduler.CycleSleepMaxSec < c.Scheduler.CycleSleepMinSec {
		return fmt.Errorf("invalid cycle sleep bounds [%d, %d]", c.Scheduler.CycleSleepMinSec, c.Scheduler.CycleSleepMaxSec)
	}
	return nil
}
