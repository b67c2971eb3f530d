package config

import (
	"time"

	redisclient "github.com/vietddude/ledgerflow/internal/infra/redis"
	"github.com/vietddude/ledgerflow/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Database   postgres.Config  `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Remote     RemoteConfig     `yaml:"remote"`
	Ingestion  IngestionConfig  `yaml:"ingestion"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Replay     ReplaySettings   `yaml:"replay"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Mode string `yaml:"mode"` // postgres, memory
}

// RedisConfig holds dead-letter queue settings. Disabled means enrichment
// failures are logged and dropped instead of retried.
type RedisConfig struct {
	Enabled            bool `yaml:"enabled"`
	redisclient.Config `yaml:",inline"`
}

// RemoteConfig holds remote data service settings.
type RemoteConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// IngestionConfig holds settings for the ingestion task.
type IngestionConfig struct {
	Enabled       bool          `yaml:"enabled"`
	TaskID        string        `yaml:"task_id"`
	Network       string        `yaml:"network"`
	ContractIDs   []string      `yaml:"contract_ids"`
	BatchSize     int           `yaml:"batch_size"`
	ScanInterval  time.Duration `yaml:"scan_interval"`
	IdleInterval  time.Duration `yaml:"idle_interval"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	MaxRetries    int           `yaml:"max_retries"`
}

// ResilienceConfig tunes the circuit breaker and retry policy guarding
// remote calls.
type ResilienceConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
	MaxAttempts      int           `yaml:"max_attempts"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
}

// ReplaySettings holds replay engine defaults.
type ReplaySettings struct {
	DefaultBatchSize    int           `yaml:"default_batch_size"`
	CheckpointRetention time.Duration `yaml:"checkpoint_retention"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}
