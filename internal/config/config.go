package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/aescanero/subsys/internal/application/health"
	"github.com/aescanero/subsys/internal/application/orchestrator"
)

// Config holds all configuration for the subsystem host
type Config struct {
	// Server configuration
	HTTPPort int    `env:"SUBSYS_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"SUBSYS_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis configuration
	Redis RedisConfig

	// Startup and refresh configuration
	Orchestrator OrchestratorConfig

	// Health aggregation
	Health HealthConfig

	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Event stream and snapshot storage
	StreamMaxLen int64         `env:"REDIS_STREAM_MAX_LEN" envDefault:"10000"`
	SnapshotTTL  time.Duration `env:"REDIS_SNAPSHOT_TTL" envDefault:"24h"`
}

// OrchestratorConfig holds phase scheduling configuration
type OrchestratorConfig struct {
	PhaseTimeout         time.Duration `env:"ORCHESTRATOR_PHASE_TIMEOUT" envDefault:"30s"`
	DependencyTimeout    time.Duration `env:"ORCHESTRATOR_DEPENDENCY_TIMEOUT" envDefault:"10s"`
	GracePeriod          time.Duration `env:"ORCHESTRATOR_GRACE_PERIOD" envDefault:"5s"`
	DestroyTimeout       time.Duration `env:"ORCHESTRATOR_DESTROY_TIMEOUT" envDefault:"5s"`
	BroadcastConcurrency int           `env:"ORCHESTRATOR_BROADCAST_CONCURRENCY" envDefault:"0"`
	AutoRefresh          bool          `env:"ORCHESTRATOR_AUTO_REFRESH" envDefault:"true"`
}

// HealthConfig holds health aggregation configuration
type HealthConfig struct {
	Interval           time.Duration `env:"HEALTH_CHECK_INTERVAL" envDefault:"30s"`
	CheckTimeout       time.Duration `env:"HEALTH_CHECK_TIMEOUT" envDefault:"5s"`
	MaxConcurrency     int           `env:"HEALTH_MAX_CONCURRENCY" envDefault:"16"`
	GoodMaxFailRatio   float64       `env:"HEALTH_GOOD_MAX_FAIL_RATIO" envDefault:"0.2"`
	CriticalFailRatio  float64       `env:"HEALTH_CRITICAL_FAIL_RATIO" envDefault:"0.5"`
	CriticalComponents []string      `env:"HEALTH_CRITICAL_COMPONENTS" envSeparator:","`
	NotifyOnChangeOnly bool          `env:"HEALTH_NOTIFY_ON_CHANGE_ONLY" envDefault:"true"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	// Validate Redis config
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	// Validate timeouts
	if c.Orchestrator.PhaseTimeout <= 0 {
		return fmt.Errorf("phase timeout must be positive")
	}
	if c.Orchestrator.DependencyTimeout <= 0 {
		return fmt.Errorf("dependency timeout must be positive")
	}
	if c.Health.Interval <= 0 {
		return fmt.Errorf("health check interval must be positive")
	}

	// Validate health thresholds
	// Zero ratios would be replaced by the aggregator defaults.
	if c.Health.GoodMaxFailRatio <= 0 || c.Health.GoodMaxFailRatio > 1 {
		return fmt.Errorf("good max fail ratio must be greater than 0 and at most 1: %v", c.Health.GoodMaxFailRatio)
	}
	if c.Health.CriticalFailRatio < c.Health.GoodMaxFailRatio || c.Health.CriticalFailRatio > 1 {
		return fmt.Errorf("critical fail ratio must be between %v and 1: %v", c.Health.GoodMaxFailRatio, c.Health.CriticalFailRatio)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

// OrchestratorConfig converts the environment settings into an orchestrator
// configuration. Logger, metrics sink and snapshot store are left for the
// caller to set.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		PhaseTimeout:         c.Orchestrator.PhaseTimeout,
		DependencyTimeout:    c.Orchestrator.DependencyTimeout,
		GracePeriod:          c.Orchestrator.GracePeriod,
		DestroyTimeout:       c.Orchestrator.DestroyTimeout,
		BroadcastConcurrency: c.Orchestrator.BroadcastConcurrency,
		AutoRefresh:          c.Orchestrator.AutoRefresh,
		Health: health.Config{
			Interval:       c.Health.Interval,
			CheckTimeout:   c.Health.CheckTimeout,
			MaxConcurrency: c.Health.MaxConcurrency,
			Policy: health.Policy{
				GoodMaxFailRatio:   c.Health.GoodMaxFailRatio,
				CriticalFailRatio:  c.Health.CriticalFailRatio,
				CriticalComponents: c.Health.CriticalComponents,
			},
			NotifyOnChangeOnly: c.Health.NotifyOnChangeOnly,
		},
	}
}
