package config

import (
	"time"

	"github.com/petscheit/bankai-sub001/internal/api"
	"github.com/petscheit/bankai-sub001/internal/clients/beacon"
	"github.com/petscheit/bankai-sub001/internal/clients/prover"
	"github.com/petscheit/bankai-sub001/internal/clients/settlement"
	"github.com/petscheit/bankai-sub001/internal/clients/trace"
	"github.com/petscheit/bankai-sub001/internal/daemon"
	redisclient "github.com/petscheit/bankai-sub001/internal/infra/redis"
	"github.com/petscheit/bankai-sub001/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     api.Config         `yaml:"server"`
	Database   postgres.Config    `yaml:"database"`
	Redis      redisclient.Config `yaml:"redis"`
	Beacon     beacon.Config      `yaml:"beacon"`
	Prover     prover.Config      `yaml:"prover"`
	Settlement settlement.Config  `yaml:"settlement"`
	Trace      trace.Config       `yaml:"trace"`
	Daemon     daemon.Config      `yaml:"daemon"`
	Retry      RetryConfig        `yaml:"retry"`
	Logging    LoggingConfig      `yaml:"logging"`
}

// RetryConfig holds transient-failure retry settings.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}
