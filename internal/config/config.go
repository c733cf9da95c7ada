// Package config is the single source of truth for the engine's
// configuration surface: directory layout, loader behaviour, critical
// streams, per-stream filters, and the frozen engine constants.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"matrixcore/internal/domain"
)

// Frozen engine constants.
const (
	// RollingWindowSize is the per-slot score FIFO capacity.
	RollingWindowSize = 13

	// MatrixReprocessTradingDays is the default rolling-resequence window in
	// unique trading days. 40 is an accepted alternate via configuration.
	MatrixReprocessTradingDays = 35
)

// DOMBlockedDays are the days of month globally blocked for two-streams.
var DOMBlockedDays = map[int]bool{4: true, 16: true, 30: true}

// DefaultTimetableInstruments is the instrument set behind the 12-entry
// execution contract ({instrument}{1|2} for each).
var DefaultTimetableInstruments = []string{"ES", "NQ", "YM", "RTY", "CL", "GC"}

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the matrix engine.
type Config struct {
	Paths     Paths           `yaml:"paths"`
	Logging   Logging         `yaml:"logging"`
	Loader    LoaderConfig    `yaml:"loader"`
	Matrix    MatrixConfig    `yaml:"matrix"`
	Timetable TimetableConfig `yaml:"timetable"`

	// StreamFilters maps stream name to its exclusion rules. Discovered
	// streams without an entry get the zero-value filter.
	StreamFilters map[string]domain.StreamFilter `yaml:"stream_filters"`
}

// Paths holds the directory layout for inputs, outputs, and state.
type Paths struct {
	AnalyzerRunsDir string `yaml:"analyzer_runs_dir"`
	OutputDir       string `yaml:"output_dir"`
	StateDir        string `yaml:"state_dir"`     // checkpoints + run history
	TimetableDir    string `yaml:"timetable_dir"` // timetable_current.json
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// LoaderConfig controls the analyzer-data loader.
type LoaderConfig struct {
	MaxRetries        int  `yaml:"max_retries"`
	RetryDelaySeconds int  `yaml:"retry_delay_seconds"`
	MaxWorkers        int  `yaml:"max_workers"` // 0 = min(numStreams, 2*CPU)
	AllowInvalidDates bool `yaml:"allow_invalid_dates_salvage"`
}

// MatrixConfig controls matrix builds.
type MatrixConfig struct {
	CriticalStreams []string `yaml:"critical_streams"`
	ResequenceDays  int      `yaml:"resequence_days"`

	// DisplayYear limits emitted rows to one calendar year; 0 emits all.
	// Histories advance over the full data range either way.
	DisplayYear int `yaml:"display_year"`
}

// TimetableConfig controls the execution timetable.
type TimetableConfig struct {
	Instruments []string `yaml:"instruments"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns a runnable configuration used when no YAML file is
// supplied.
func Default() *Config {
	return &Config{
		Paths: Paths{
			AnalyzerRunsDir: "data/analyzer_runs",
			OutputDir:       "data/matrix",
			StateDir:        "state",
			TimetableDir:    "data/timetable",
		},
		Logging: Logging{Level: "info"},
		Loader: LoaderConfig{
			MaxRetries:        3,
			RetryDelaySeconds: 5,
		},
		Matrix: MatrixConfig{
			ResequenceDays: MatrixReprocessTradingDays,
		},
		Timetable: TimetableConfig{
			Instruments: append([]string(nil), DefaultTimetableInstruments...),
		},
		StreamFilters: make(map[string]domain.StreamFilter),
	}
}

// Load reads the YAML configuration file at the given path, parses it over
// the defaults, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(cfg)
	normalize(cfg)

	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to the defaults (plus
// environment overrides) when no file exists at the given path.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		applyEnvOverrides(cfg)
		normalize(cfg)
		return cfg, nil
	}
	return Load(path)
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ANALYZER_RUNS_DIR"); v != "" {
		cfg.Paths.AnalyzerRunsDir = v
	}
	if v := os.Getenv("MATRIX_OUTPUT_DIR"); v != "" {
		cfg.Paths.OutputDir = v
	}
	if v := os.Getenv("MATRIX_STATE_DIR"); v != "" {
		cfg.Paths.StateDir = v
	}
	if v := os.Getenv("MATRIX_TIMETABLE_DIR"); v != "" {
		cfg.Paths.TimetableDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MATRIX_RESEQUENCE_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Matrix.ResequenceDays = n
		}
	}
	if v := os.Getenv("ALLOW_INVALID_DATES_SALVAGE"); v != "" {
		cfg.Loader.AllowInvalidDates = v == "1" || v == "true"
	}
}

// normalize backfills zero values that yaml parsing may have cleared.
func normalize(cfg *Config) {
	if cfg.Loader.MaxRetries <= 0 {
		cfg.Loader.MaxRetries = 3
	}
	if cfg.Loader.RetryDelaySeconds < 0 {
		cfg.Loader.RetryDelaySeconds = 0
	}
	if cfg.Matrix.ResequenceDays <= 0 {
		cfg.Matrix.ResequenceDays = MatrixReprocessTradingDays
	}
	if len(cfg.Timetable.Instruments) == 0 {
		cfg.Timetable.Instruments = append([]string(nil), DefaultTimetableInstruments...)
	}
	if cfg.StreamFilters == nil {
		cfg.StreamFilters = make(map[string]domain.StreamFilter)
	}
}

// IsCritical reports whether the stream is in the critical set.
func (c *Config) IsCritical(stream string) bool {
	for _, s := range c.Matrix.CriticalStreams {
		if s == stream {
			return true
		}
	}
	return false
}
