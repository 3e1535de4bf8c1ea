// Package config loads and validates a morphing run configuration from a
// YAML file, with environment variables overriding the operational knobs.
// Validation happens entirely at load time so a bad configuration fails
// before any dataset is fetched.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/buildenergy/epwmorph/internal/domain"
)

// Config is the on-disk configuration shape (YAML).
type Config struct {
	// Project names the run; it prefixes output file names.
	Project     string `yaml:"project"`
	WeatherFile string `yaml:"weather_file"`
	OutputDir   string `yaml:"output_dir"`

	// DryRun runs the full morph but writes no output files.
	DryRun bool `yaml:"dry_run"`

	Variables   []string  `yaml:"variables"`
	Pathways    []string  `yaml:"pathways"`
	Percentiles []float64 `yaml:"percentiles"`
	Years       []int     `yaml:"years"`
	Models      []string  `yaml:"models"`

	// Baseline overrides the year range detected from the weather file's
	// "Period of Record" comment.
	Baseline *YearRangeConfig `yaml:"baseline"`

	// Interpolate picks bilinear grid interpolation instead of
	// nearest-cell lookup.
	Interpolate bool `yaml:"interpolate"`

	Source SourceConfig `yaml:"source"`
	Cache  CacheConfig  `yaml:"cache"`

	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	Concurrency int    `yaml:"concurrency"`

	// DebugAddr, when set, serves health, progress, and Prometheus
	// metrics over HTTP for the duration of the run.
	DebugAddr string `yaml:"debug_addr"`
}

type YearRangeConfig struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

type SourceConfig struct {
	BaseURL    string `yaml:"base_url"`
	Timeout    string `yaml:"timeout"`
	Resolution string `yaml:"resolution"`

	// TimeoutDuration is the parsed Timeout, populated by Load.
	TimeoutDuration time.Duration `yaml:"-"`
}

type CacheConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// defaultModels is the CMIP6 ensemble used when the configuration does
// not pick its own model set.
var defaultModels = []string{
	"ACCESS-CM2",
	"CanESM5",
	"EC-Earth3",
	"GFDL-ESM4",
	"MIROC6",
	"MPI-ESM1-2-HR",
	"MRI-ESM2-0",
	"UKESM1-0-LL",
}

// pathwayNames maps the human-facing scenario names of the original
// tooling onto SSP codes. Codes pass through unchanged.
var pathwayNames = map[string]string{
	"Best Case Scenario":       "ssp126",
	"Middle of the Road":       "ssp245",
	"Upper Middle of the Road": "ssp370",
	"Worst Case Scenario":      "ssp585",
}

var knownPathways = map[string]bool{
	"ssp126": true,
	"ssp245": true,
	"ssp370": true,
	"ssp585": true,
}

// Load reads, defaults, overrides, and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	c.applyEnv()
	if err := c.normalize(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Project == "" {
		c.Project = "epwmorph"
	}
	if c.OutputDir == "" {
		c.OutputDir = "out"
	}
	if len(c.Variables) == 0 {
		c.Variables = domain.Variables()
	}
	if len(c.Percentiles) == 0 {
		c.Percentiles = []float64{50}
	}
	if len(c.Models) == 0 {
		c.Models = append([]string(nil), defaultModels...)
	}
	if c.Source.Timeout == "" {
		c.Source.Timeout = "30s"
	}
	if c.Source.Resolution == "" {
		c.Source.Resolution = "mon"
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = ".epwmorph-cache"
	}
	if c.Cache.MaxBytes == 0 {
		c.Cache.MaxBytes = 10 << 30
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
}

func (c *Config) applyEnv() {
	c.LogLevel = envOrDefault("EPWMORPH_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("EPWMORPH_LOG_FORMAT", c.LogFormat)
	c.Cache.Dir = envOrDefault("EPWMORPH_CACHE_DIR", c.Cache.Dir)
	c.Source.BaseURL = envOrDefault("EPWMORPH_SOURCE_URL", c.Source.BaseURL)
	c.DebugAddr = envOrDefault("EPWMORPH_DEBUG_ADDR", c.DebugAddr)
	if v := os.Getenv("EPWMORPH_CACHE_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Cache.MaxBytes = n
		}
	}
	if v := os.Getenv("EPWMORPH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Concurrency = n
		}
	}
}

func (c *Config) normalize() error {
	for i, p := range c.Pathways {
		if code, ok := pathwayNames[p]; ok {
			c.Pathways[i] = code
		}
	}
	// A repeated pathway, percentile, or year would re-run identical
	// combinations and overwrite the same output file.
	c.Pathways = dedupe(c.Pathways)
	c.Percentiles = dedupe(c.Percentiles)
	c.Years = dedupe(c.Years)
	c.Models = dedupe(c.Models)
	d, err := time.ParseDuration(c.Source.Timeout)
	if err != nil || d <= 0 {
		return fmt.Errorf("invalid source.timeout %q", c.Source.Timeout)
	}
	c.Source.TimeoutDuration = d
	return nil
}

// Validate rejects configurations the run could not execute.
func (c *Config) Validate() error {
	if c.WeatherFile == "" {
		return errors.New("weather_file is required")
	}
	if c.Source.BaseURL == "" {
		return errors.New("source.base_url is required")
	}
	if len(c.Pathways) == 0 {
		return errors.New("at least one pathway is required")
	}
	for _, p := range c.Pathways {
		if !knownPathways[p] {
			return fmt.Errorf("unknown pathway %q", p)
		}
	}
	if len(c.Years) == 0 {
		return errors.New("at least one future year is required")
	}
	for _, y := range c.Years {
		if y < 2015 || y > 2100 {
			return fmt.Errorf("future year %d outside the projection horizon 2015-2100", y)
		}
	}
	for _, p := range c.Percentiles {
		if p < 0 || p > 100 {
			return fmt.Errorf("percentile %v out of range [0, 100]", p)
		}
	}
	for _, v := range c.Variables {
		if _, err := domain.LookupVariable(v); err != nil {
			return err
		}
	}
	if c.Baseline != nil && c.Baseline.Start > c.Baseline.End {
		return fmt.Errorf("baseline range %d-%d is inverted", c.Baseline.Start, c.Baseline.End)
	}
	if c.Concurrency < 1 {
		return errors.New("concurrency must be at least 1")
	}
	return nil
}

// BaselineRange returns the configured baseline override, if any.
func (c *Config) BaselineRange() (domain.YearRange, bool) {
	if c.Baseline == nil {
		return domain.YearRange{}, false
	}
	return domain.YearRange{Start: c.Baseline.Start, End: c.Baseline.End}, true
}

func dedupe[T comparable](values []T) []T {
	seen := make(map[T]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
