package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Beacon.PollInterval == 0 {
		cfg.Beacon.PollInterval = 12 * time.Second
	}
	if cfg.Daemon.Workers == 0 {
		cfg.Daemon.Workers = 4
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = 2 * time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 60 * time.Second
	}
	if cfg.Trace.OutputDir == "" {
		cfg.Trace.OutputDir = "artifacts"
	}
}

func validate(cfg *AppConfig) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if cfg.Beacon.RPCURL == "" {
		return fmt.Errorf("beacon.rpc_url is required")
	}
	if cfg.Prover.URL == "" {
		return fmt.Errorf("prover.url is required")
	}
	if cfg.Settlement.RPCURL == "" {
		return fmt.Errorf("settlement.rpc_url is required")
	}
	return nil
}
