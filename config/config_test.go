package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/test")
	t.Setenv("REDIS_ADDR", "localhost:6379")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CREDENTIAL_COOLDOWN", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "gateway.yaml", cfg.GatewayConfigPath)
	assert.Equal(t, int64(100000), cfg.DefaultRateLimitTPM)
	assert.Equal(t, 60*time.Second, cfg.CredentialCooldown)
	assert.Equal(t, 1024, cfg.UsageQueueSize)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CREDENTIAL_COOLDOWN", "90s")
	t.Setenv("WORKER_ENABLED", "true")
	t.Setenv("WORKER_CONCURRENCY", "4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.CredentialCooldown)
	assert.True(t, cfg.WorkerEnabled)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"unparsable duration", "CREDENTIAL_COOLDOWN", "soon"},
		{"zero cooldown", "CREDENTIAL_COOLDOWN", "0s"},
		{"unparsable queue size", "USAGE_QUEUE_SIZE", "many"},
		{"negative queue size", "USAGE_QUEUE_SIZE", "-1"},
		{"bad tpm", "DEFAULT_RATE_LIMIT_TPM", "lots"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidate_RequiresStores(t *testing.T) {
	cfg := &Config{CredentialCooldown: time.Second, UsageQueueSize: 1, WorkerConcurrency: 1}
	assert.Error(t, cfg.Validate())

	cfg.PostgresDSN = "postgres://localhost/test"
	assert.Error(t, cfg.Validate())

	cfg.RedisAddr = "localhost:6379"
	assert.NoError(t, cfg.Validate())
}
