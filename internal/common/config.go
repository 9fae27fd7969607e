package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database     DatabaseConfig
	Redis        RedisConfig
	Server       ServerConfig
	Provider     ProviderConfig
	Orchestrator OrchestratorConfig
	Durable      DurableConfig
	Janitor      JanitorConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// RedisConfig holds the connection URL shared by the queue and the notifier.
type RedisConfig struct {
	URL      string
	QueueKey string
	DelayKey string
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr string
}

// ProviderConfig holds discovery-provider configuration
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RatePerSecond caps outbound provider calls across the process.
	RatePerSecond float64
	RateBurst     int
}

// OrchestratorConfig holds sourcing-run configuration
type OrchestratorConfig struct {
	MaxPollIterations  int
	PollInterval       time.Duration
	ExecutionLimit     int // 0 executes all strategies
	ScoringParallelism int
	StaggerSeconds     int
}

// DurableConfig holds checkpoint-store configuration
type DurableConfig struct {
	Path  string
	Retry RetryConfig
}

// RetryConfig bounds engine-managed retries for retryable steps.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// JanitorConfig holds stale-run sweeper configuration
type JanitorConfig struct {
	Schedule string
	StaleTTL time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			QueueKey: getEnv("SCORING_QUEUE_KEY", "scoring:jobs"),
			DelayKey: getEnv("SCORING_DELAY_KEY", "scoring:scheduled"),
		},
		Server: ServerConfig{
			HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		},
		Provider: ProviderConfig{
			BaseURL:       getEnv("PROVIDER_BASE_URL", ""),
			APIKey:        getEnv("PROVIDER_API_KEY", ""),
			Timeout:       getEnvAsDuration("PROVIDER_TIMEOUT", 45*time.Second),
			RatePerSecond: getEnvAsFloat64("PROVIDER_RATE_PER_SECOND", 5),
			RateBurst:     getEnvAsInt("PROVIDER_RATE_BURST", 10),
		},
		Orchestrator: OrchestratorConfig{
			MaxPollIterations:  getEnvAsInt("SOURCING_MAX_POLLS", 60),
			PollInterval:       getEnvAsDuration("SOURCING_POLL_INTERVAL", 10*time.Second),
			ExecutionLimit:     getEnvAsInt("SOURCING_EXECUTION_LIMIT", 0),
			ScoringParallelism: getEnvAsInt("SCORING_PARALLELISM", 5),
			StaggerSeconds:     getEnvAsInt("SCORING_STAGGER_SECONDS", 30),
		},
		Durable: DurableConfig{
			Path: getEnv("DURABLE_DB_PATH", "./tmp/durable.db"),
			Retry: RetryConfig{
				MaxAttempts: getEnvAsInt("DURABLE_RETRY_MAX_ATTEMPTS", 3),
				BaseDelay:   getEnvAsDuration("DURABLE_RETRY_BASE_DELAY", 2*time.Second),
				MaxDelay:    getEnvAsDuration("DURABLE_RETRY_MAX_DELAY", 30*time.Second),
			},
		},
		Janitor: JanitorConfig{
			Schedule: getEnv("JANITOR_SCHEDULE", "*/10 * * * *"),
			StaleTTL: getEnvAsDuration("JANITOR_STALE_TTL", 30*time.Minute),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Provider.BaseURL == "" {
		return NewAppError("CONFIG_ERROR", "PROVIDER_BASE_URL is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Orchestrator.MaxPollIterations <= 0 {
		return NewAppError("CONFIG_ERROR", "SOURCING_MAX_POLLS must be positive", ErrInvalidInput)
	}
	return nil
}
