package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration loaded from config.yaml.
type Config struct {
	HTTPAddr      string   `yaml:"http_addr"      json:"-"`
	DBPath        string   `yaml:"db_path"        json:"-"`
	MediaDir      string   `yaml:"media_dir"      json:"-"`
	LogLevel      string   `yaml:"log_level"      json:"-"`
	RetentionDays int      `yaml:"retention_days" json:"retention_days"`
	PurgeSchedule string   `yaml:"purge_schedule" json:"purge_schedule"`
	Analyzer      Analyzer `yaml:"analyzer"       json:"analyzer"`
	Ingest        Ingest   `yaml:"ingest"         json:"ingest"`
	Scoring       Scoring  `yaml:"scoring"        json:"scoring"`
	Filter        Filter   `yaml:"filter"         json:"filter"`
}

// Analyzer holds connection settings for the remote scoring service.
type Analyzer struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	APIKey  string `yaml:"api_key"  json:"-"`
	Model   string `yaml:"model"    json:"model"`
}

// Ingest holds tuning knobs for the batch pipeline.
type Ingest struct {
	BatchSize          int `yaml:"batch_size"            json:"batch_size"`
	BatchDelayMs       int `yaml:"batch_delay_ms"        json:"batch_delay_ms"`
	MaxAttempts        int `yaml:"max_attempts"          json:"max_attempts"`
	RetryBaseMs        int `yaml:"retry_base_ms"         json:"retry_base_ms"`
	RateLimitCooldownS int `yaml:"rate_limit_cooldown_s" json:"rate_limit_cooldown_s"`
	IntakeWorkers      int `yaml:"intake_workers"        json:"intake_workers"`
	MaxDimension       int `yaml:"max_dimension"         json:"max_dimension"`
	JPEGQuality        int `yaml:"jpeg_quality"          json:"jpeg_quality"`
}

// Scoring maps analyzer scores to quality tiers and drives scan estimates.
type Scoring struct {
	TopThreshold    float64 `yaml:"top_threshold"     json:"top_threshold"`
	HighThreshold   float64 `yaml:"high_threshold"    json:"high_threshold"`
	CostPerImage    float64 `yaml:"cost_per_image"    json:"cost_per_image"`
	SecondsPerBatch float64 `yaml:"seconds_per_batch" json:"seconds_per_batch"`
}

// Filter holds the default pre-flight filter options. A session may override
// them at start time.
type Filter struct {
	SkipSmall       bool `yaml:"skip_small"        json:"skip_small"`
	MinSizeKB       int  `yaml:"min_size_kb"       json:"min_size_kb"`
	SkipScreenshots bool `yaml:"skip_screenshots"  json:"skip_screenshots"`
	SkipExisting    bool `yaml:"skip_existing"     json:"skip_existing"`
}

// BatchDelay returns the inter-batch pacing delay as a duration.
func (i Ingest) BatchDelay() time.Duration {
	return time.Duration(i.BatchDelayMs) * time.Millisecond
}

// RetryBase returns the base of the exponential retry schedule.
func (i Ingest) RetryBase() time.Duration {
	return time.Duration(i.RetryBaseMs) * time.Millisecond
}

// RateLimitCooldown returns the single long sleep applied after a rate-limit
// signal from the analyzer.
func (i Ingest) RateLimitCooldown() time.Duration {
	return time.Duration(i.RateLimitCooldownS) * time.Second
}

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.DBPath == "" {
		c.DBPath = "/data/shoebox.db"
	}
	if c.MediaDir == "" {
		c.MediaDir = "/data/media"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = 90
	}
	if c.PurgeSchedule == "" {
		c.PurgeSchedule = "0 3 * * *"
	}
	if c.Ingest.BatchSize == 0 {
		c.Ingest.BatchSize = 10
	}
	if c.Ingest.BatchDelayMs == 0 {
		c.Ingest.BatchDelayMs = 500
	}
	if c.Ingest.MaxAttempts == 0 {
		c.Ingest.MaxAttempts = 3
	}
	if c.Ingest.RetryBaseMs == 0 {
		c.Ingest.RetryBaseMs = 2000
	}
	if c.Ingest.RateLimitCooldownS == 0 {
		c.Ingest.RateLimitCooldownS = 60
	}
	if c.Ingest.IntakeWorkers == 0 {
		c.Ingest.IntakeWorkers = 4
	}
	if c.Ingest.MaxDimension == 0 {
		c.Ingest.MaxDimension = 2048
	}
	if c.Ingest.JPEGQuality == 0 {
		c.Ingest.JPEGQuality = 80
	}
	if c.Scoring.TopThreshold == 0 {
		c.Scoring.TopThreshold = 8.0
	}
	if c.Scoring.HighThreshold == 0 {
		c.Scoring.HighThreshold = 6.0
	}
	if c.Scoring.CostPerImage == 0 {
		c.Scoring.CostPerImage = 0.0025
	}
	if c.Scoring.SecondsPerBatch == 0 {
		c.Scoring.SecondsPerBatch = 4.0
	}
	if c.Filter.MinSizeKB == 0 {
		c.Filter.MinSizeKB = 50
	}
}

// validate rejects configurations the pipeline cannot run with. Filter and
// scoring values are checked once here rather than ad hoc during processing.
func (c *Config) validate() error {
	if c.Ingest.BatchSize < 1 {
		return fmt.Errorf("ingest.batch_size must be >= 1, got %d", c.Ingest.BatchSize)
	}
	if c.Ingest.MaxAttempts < 1 {
		return fmt.Errorf("ingest.max_attempts must be >= 1, got %d", c.Ingest.MaxAttempts)
	}
	if c.Scoring.HighThreshold > c.Scoring.TopThreshold {
		return fmt.Errorf("scoring.high_threshold (%v) exceeds top_threshold (%v)",
			c.Scoring.HighThreshold, c.Scoring.TopThreshold)
	}
	if c.Ingest.JPEGQuality < 1 || c.Ingest.JPEGQuality > 100 {
		return fmt.Errorf("ingest.jpeg_quality must be in 1..100, got %d", c.Ingest.JPEGQuality)
	}
	return nil
}

// Load reads and parses the YAML config file at path.
// If the file does not exist, Load returns a default Config so the server
// can start without a mounted config file (useful for bare Docker runs).
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		var cfg Config
		cfg.applyDefaults()
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return &cfg, nil
}
