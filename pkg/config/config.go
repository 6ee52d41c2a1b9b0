// Package config provides configuration loading and management for surropt.
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
	// Engine parameters
	Engine struct {
		// Workers specifies how many CPU workers execute kernel launches
		Workers int `yaml:"workers"`
	} `yaml:"engine"`

	// Kriging hyperparameters
	Kriging struct {
		// Theta is the Gaussian correlation decay rate
		Theta float64 `yaml:"theta"`

		// Variance is the process variance
		Variance float64 `yaml:"variance"`

		// Nugget is the regularization term modeling observation noise
		Nugget float64 `yaml:"nugget"`

		// ThetaCandidates is the list of decay rates tried when fitting
		ThetaCandidates []float64 `yaml:"thetaCandidates"`
	} `yaml:"kriging"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default engine parameters
	cfg.Engine.Workers = runtime.NumCPU() // Use all available cores by default

	// Set default Kriging hyperparameters
	cfg.Kriging.Theta = 1.0
	cfg.Kriging.Variance = 1.0
	cfg.Kriging.Nugget = 0.0
	cfg.Kriging.ThetaCandidates = []float64{0.1, 0.5, 1.0, 2.0, 4.0}

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
