// Package config provides configuration loading and management for atlasmatch.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Matching parameters
	Matching struct {
		// ToleranceMM is the matching tolerance: the maximum search radius in
		// mm for volumetric atlases, or the standard-deviation multiplier for
		// surface outlier rejection
		ToleranceMM float64 `yaml:"toleranceMM"`

		// NumCores specifies how many CPU cores to use for parallel matching
		NumCores int `yaml:"numCores"`
	} `yaml:"matching"`

	// Correction parameters
	Correction struct {
		// RemoveDistance enables residualization of the region correlation
		// matrix against inter-centroid distance
		RemoveDistance bool `yaml:"removeDistance"`

		// StratifyByStructure residualizes connection types (cortex-cortex,
		// cortex-subcortex, ...) separately
		StratifyByStructure bool `yaml:"stratifyByStructure"`
	} `yaml:"correction"`

	// Stability filter parameters
	Stability struct {
		// Threshold is the stability cutoff for retaining features
		Threshold float64 `yaml:"threshold"`

		// AsPercentile treats Threshold as a percentile of the score
		// distribution rather than an absolute cutoff
		AsPercentile bool `yaml:"asPercentile"`

		// RankCorrelation uses Spearman rather than Pearson similarity
		RankCorrelation bool `yaml:"rankCorrelation"`
	} `yaml:"stability"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default matching parameters
	cfg.Matching.ToleranceMM = 2.0
	cfg.Matching.NumCores = runtime.NumCPU() // Use all available cores by default

	// Set default correction parameters
	cfg.Correction.RemoveDistance = false
	cfg.Correction.StratifyByStructure = false

	// Set default stability parameters
	cfg.Stability.Threshold = 0.9
	cfg.Stability.AsPercentile = true
	cfg.Stability.RankCorrelation = true

	// Set default output parameters
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
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
