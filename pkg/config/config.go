// Package config provides configuration loading and management for infersubc.
// It handles loading configuration from YAML or TOML files and provides
// default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"infersubc/pkg/stage"
)

// Config represents the application configuration
type Config struct {
	// Processing parameters
	Processing struct {
		// Workers bounds how many independent stages run at once
		Workers int `yaml:"workers" toml:"workers"`

		// StageTimeout is the per-stage time limit as a Go duration; empty
		// or "0" disables it
		StageTimeout string `yaml:"stageTimeout" toml:"stage_timeout"`

		// Spacing is the physical voxel size used for distances
		Spacing struct {
			Z float64 `yaml:"z" toml:"z"`
			Y float64 `yaml:"y" toml:"y"`
			X float64 `yaml:"x" toml:"x"`
		} `yaml:"spacing" toml:"spacing"`
	} `yaml:"processing" toml:"processing"`

	// Input parameters
	Input struct {
		// Dir holds one sub-directory of image planes per channel
		Dir string `yaml:"dir" toml:"dir"`

		// Channels lists the channel names to load
		Channels []string `yaml:"channels" toml:"channels"`
	} `yaml:"input" toml:"input"`

	// Stages holds raw option overrides keyed by stage name. They are
	// validated against each stage's schema before a run.
	Stages map[string]map[string]any `yaml:"stages" toml:"stages"`

	// Output parameters
	Output struct {
		// Dir receives masks, plots and the run database
		Dir string `yaml:"dir" toml:"dir"`

		// SaveMasks writes a colourised PNG per stage and plane
		SaveMasks bool `yaml:"saveMasks" toml:"save_masks"`

		// Plot writes the interaction heat map
		Plot bool `yaml:"plot" toml:"plot"`

		// Database is the SQLite file runs are recorded in, relative to
		// Dir; empty disables persistence
		Database string `yaml:"database" toml:"database"`

		// Reuse loads labels of an identical earlier stage execution from
		// the database instead of running the stage again
		Reuse bool `yaml:"reuse" toml:"reuse"`
	} `yaml:"output" toml:"output"`

	// Logging parameters
	Logging struct {
		// Level is a zerolog level name
		Level string `yaml:"level" toml:"level"`

		// JSON switches from console to JSON output
		JSON bool `yaml:"json" toml:"json"`

		// NoColor disables colours in console output
		NoColor bool `yaml:"noColor" toml:"no_color"`
	} `yaml:"logging" toml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.Workers = min(runtime.NumCPU(), len(stage.Organelles()))
	cfg.Processing.StageTimeout = "10m"
	cfg.Processing.Spacing.Z = 1.0
	cfg.Processing.Spacing.Y = 1.0
	cfg.Processing.Spacing.X = 1.0

	cfg.Input.Dir = "input"
	cfg.Input.Channels = []string{
		stage.Nuclei, stage.Lysosome, stage.Mitochondria, stage.Golgi,
		stage.Peroxisome, stage.ER, stage.LipidBody, stage.Soma,
	}

	cfg.Stages = map[string]map[string]any{}

	cfg.Output.Dir = "output"
	cfg.Output.SaveMasks = true
	cfg.Output.Plot = true
	cfg.Output.Database = "runs.db"
	cfg.Output.Reuse = false

	cfg.Logging.Level = "info"

	return cfg
}

// Timeout parses the per-stage time limit.
func (c *Config) Timeout() (time.Duration, error) {
	raw := strings.TrimSpace(c.Processing.StageTimeout)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid stage timeout %q: %w", raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("stage timeout must not be negative, got %s", d)
	}
	return d, nil
}

// DatabasePath resolves the database file, or "" when persistence is off.
func (c *Config) DatabasePath() string {
	if c.Output.Database == "" {
		return ""
	}
	if filepath.IsAbs(c.Output.Database) {
		return c.Output.Database
	}
	return filepath.Join(c.Output.Dir, c.Output.Database)
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Processing.Workers < 1 {
		errs = append(errs, fmt.Errorf("processing.workers must be at least 1, got %d", c.Processing.Workers))
	}
	if _, err := c.Timeout(); err != nil {
		errs = append(errs, err)
	}
	sp := c.Processing.Spacing
	if sp.Z <= 0 || sp.Y <= 0 || sp.X <= 0 {
		errs = append(errs, fmt.Errorf("processing.spacing must be positive, got z=%g y=%g x=%g", sp.Z, sp.Y, sp.X))
	}

	if len(c.Input.Channels) == 0 {
		errs = append(errs, errors.New("input.channels must name at least one channel"))
	}
	seen := make(map[string]bool, len(c.Input.Channels))
	for _, name := range c.Input.Channels {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("input.channels contains an empty name"))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("input.channels lists %s twice", name))
		}
		seen[name] = true
	}

	if c.Output.Dir == "" {
		errs = append(errs, errors.New("output.dir must be set"))
	}
	if c.Output.Reuse && c.Output.Database == "" {
		errs = append(errs, errors.New("output.reuse needs output.database"))
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	return errors.Join(errs...)
}

// format picks the encoding from the file extension.
func format(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return "toml"
	}
	return "yaml"
}

// LoadConfig loads configuration from a YAML or TOML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	switch format(configPath) {
	case "toml":
		err = toml.Unmarshal(data, cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if cfg.Stages == nil {
		cfg.Stages = map[string]map[string]any{}
	}

	return cfg, nil
}

// SaveConfig saves the configuration, encoded by the file extension
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch format(configPath) {
	case "toml":
		data, err = toml.Marshal(cfg)
	default:
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
