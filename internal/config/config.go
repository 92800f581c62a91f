package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

const (
	defaultInterval          = 1 * time.Second
	defaultSetupBackoff      = 120 * time.Second
	defaultDegradedThreshold = 0.5
	envInterval              = "THREADMON_INTERVAL"
	envSetupBackoff          = "THREADMON_SETUP_BACKOFF"
	envDegradedThreshold     = "THREADMON_DEGRADED_THRESHOLD"
)

// Config aggregates the tunables of the sampling loop.
type Config struct {
	// Interval is the sleep between ticks.
	Interval time.Duration
	// SetupBackoff is the fixed wait before retrying a failed or torn-down
	// session. Not interruptible mid-wait; restart the process to change it.
	SetupBackoff time.Duration
	// DegradedThreshold is the unmatched-identity fraction above which a
	// session is declared degraded.
	DegradedThreshold float64
	// DecimalComma rewrites decimal points as commas in output rows.
	DecimalComma bool
	// OutputDir is where session output files are created.
	OutputDir string
}

// Load builds a Config from an optional JSON file path plus environment
// overrides.
func Load(path string) (Config, error) {
	cfg := Config{
		Interval:          defaultInterval,
		SetupBackoff:      defaultSetupBackoff,
		DegradedThreshold: defaultDegradedThreshold,
		OutputDir:         ".",
	}

	if path != "" {
		fileCfg, err := loadFromFile(path)
		if err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
		if fileCfg.Interval != 0 {
			cfg.Interval = fileCfg.Interval
		}
		if fileCfg.SetupBackoff != 0 {
			cfg.SetupBackoff = fileCfg.SetupBackoff
		}
		if fileCfg.DegradedThreshold != 0 {
			cfg.DegradedThreshold = fileCfg.DegradedThreshold
		}
		cfg.DecimalComma = fileCfg.DecimalComma
		if fileCfg.OutputDir != "" {
			cfg.OutputDir = fileCfg.OutputDir
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envInterval); v != "" {
		if dur, err := time.ParseDuration(v); err == nil && dur > 0 {
			cfg.Interval = dur
		} else if err != nil {
			log.Printf("invalid %s value %q: %v", envInterval, v, err)
		}
	}

	if v := os.Getenv(envSetupBackoff); v != "" {
		if dur, err := time.ParseDuration(v); err == nil && dur > 0 {
			cfg.SetupBackoff = dur
		} else if err != nil {
			log.Printf("invalid %s value %q: %v", envSetupBackoff, v, err)
		}
	}

	if v := os.Getenv(envDegradedThreshold); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f < 1 {
			cfg.DegradedThreshold = f
		} else {
			log.Printf("invalid %s value %q", envDegradedThreshold, v)
		}
	}
}

type fileConfig struct {
	Interval          time.Duration
	SetupBackoff      time.Duration
	DegradedThreshold float64
	DecimalComma      bool
	OutputDir         string
}

type rawFileConfig struct {
	Interval          string  `json:"interval"`
	SetupBackoff      string  `json:"setup_backoff"`
	DegradedThreshold float64 `json:"degraded_threshold"`
	DecimalComma      bool    `json:"decimal_comma"`
	OutputDir         string  `json:"output_dir"`
}

func loadFromFile(path string) (fileConfig, error) {
	var cfg fileConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	var raw rawFileConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return cfg, err
	}

	if raw.Interval != "" {
		dur, err := time.ParseDuration(raw.Interval)
		if err != nil {
			return cfg, fmt.Errorf("parse interval: %w", err)
		}
		if dur <= 0 {
			return cfg, errors.New("interval must be > 0")
		}
		cfg.Interval = dur
	}
	if raw.SetupBackoff != "" {
		dur, err := time.ParseDuration(raw.SetupBackoff)
		if err != nil {
			return cfg, fmt.Errorf("parse setup_backoff: %w", err)
		}
		if dur <= 0 {
			return cfg, errors.New("setup_backoff must be > 0")
		}
		cfg.SetupBackoff = dur
	}
	if raw.DegradedThreshold != 0 {
		if raw.DegradedThreshold <= 0 || raw.DegradedThreshold >= 1 {
			return cfg, errors.New("degraded_threshold must be between 0 and 1")
		}
		cfg.DegradedThreshold = raw.DegradedThreshold
	}
	cfg.DecimalComma = raw.DecimalComma
	cfg.OutputDir = raw.OutputDir

	return cfg, nil
}
