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
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Mode == "" {
		cfg.Storage.Mode = "postgres"
	}
	if cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = 30 * time.Second
	}

	if cfg.Ingestion.TaskID == "" {
		cfg.Ingestion.TaskID = "default"
	}
	if cfg.Ingestion.BatchSize == 0 {
		cfg.Ingestion.BatchSize = 100
	}
	if cfg.Ingestion.ScanInterval == 0 {
		cfg.Ingestion.ScanInterval = 2 * time.Second
	}
	if cfg.Ingestion.IdleInterval == 0 {
		cfg.Ingestion.IdleInterval = 10 * time.Second
	}
	if cfg.Ingestion.RetryInterval == 0 {
		cfg.Ingestion.RetryInterval = 30 * time.Second
	}
	if cfg.Ingestion.MaxRetries == 0 {
		cfg.Ingestion.MaxRetries = 5
	}

	if cfg.Resilience.FailureThreshold == 0 {
		cfg.Resilience.FailureThreshold = 5
	}
	if cfg.Resilience.SuccessThreshold == 0 {
		cfg.Resilience.SuccessThreshold = 2
	}
	if cfg.Resilience.BreakerTimeout == 0 {
		cfg.Resilience.BreakerTimeout = 30 * time.Second
	}
	if cfg.Resilience.MaxAttempts == 0 {
		cfg.Resilience.MaxAttempts = 5
	}
	if cfg.Resilience.BaseDelay == 0 {
		cfg.Resilience.BaseDelay = time.Second
	}
	if cfg.Resilience.MaxDelay == 0 {
		cfg.Resilience.MaxDelay = 60 * time.Second
	}

	if cfg.Replay.DefaultBatchSize == 0 {
		cfg.Replay.DefaultBatchSize = 100
	}
	if cfg.Replay.CheckpointRetention == 0 {
		cfg.Replay.CheckpointRetention = 30 * 24 * time.Hour
	}
}
