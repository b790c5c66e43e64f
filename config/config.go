package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache, rate limiting and job queue broker
	RedisAddr string

	// Gateway file with provider pools and pricing
	GatewayConfigPath string // default: gateway.yaml

	// Credential pool
	CredentialCooldown time.Duration // default: 60s
	DispatchTimeout    time.Duration // default: 60s

	// Usage recording
	UsageQueueSize int // default: 1024

	// Logging
	LogLevel  string // default: info
	LogFormat string // "json" or "console"
	LogFile   string // optional, rotated with lumberjack

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	DefaultRateLimitTPM int64 // tokens per minute, default: 100000

	// Job queue worker
	WorkerEnabled     bool
	WorkerConcurrency int // default: 10

	RunSeed bool
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		GatewayConfigPath:    getEnv("GATEWAY_CONFIG", "gateway.yaml"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
		LogFile:              os.Getenv("LOG_FILE"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		WorkerEnabled:        getEnv("WORKER_ENABLED", "false") == "true",
		RunSeed:              os.Getenv("RUN_SEED") == "true",
	}

	var err error

	// Rate Limiting Default
	tpmStr := getEnv("DEFAULT_RATE_LIMIT_TPM", "100000")
	cfg.DefaultRateLimitTPM, err = strconv.ParseInt(tpmStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_TPM: %w", err)
	}

	if cfg.CredentialCooldown, err = getDuration("CREDENTIAL_COOLDOWN", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.DispatchTimeout, err = getDuration("DISPATCH_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.UsageQueueSize, err = getInt("USAGE_QUEUE_SIZE", 1024); err != nil {
		return nil, err
	}
	if cfg.WorkerConcurrency, err = getInt("WORKER_CONCURRENCY", 10); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	if c.CredentialCooldown <= 0 {
		return fmt.Errorf("CREDENTIAL_COOLDOWN must be positive")
	}
	if c.UsageQueueSize <= 0 {
		return fmt.Errorf("USAGE_QUEUE_SIZE must be positive")
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
