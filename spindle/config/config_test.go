package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:6555", cfg.Server.ListenAddr)
	assert.Equal(t, "sqlite", cfg.Server.Secrets.Provider)
	assert.Equal(t, "spindle", cfg.Server.Secrets.Vault.Mount)
	assert.Equal(t, 5*time.Minute, cfg.Pipelines.WorkflowTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Pipelines.StepTimeout)
	assert.Equal(t, 64*1024, cfg.Pipelines.OutputLimit)
	assert.Equal(t, "memory", cfg.Queue.Provider)
	assert.Equal(t, 2, cfg.Queue.Workers)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"SPINDLE_SERVER_LISTEN_ADDR":        "127.0.0.1:9000",
		"SPINDLE_SERVER_SECRETS_PROVIDER":   "vault",
		"SPINDLE_SERVER_SECRETS_VAULT_ADDR": "http://vault:8200",
		"SPINDLE_PIPELINES_STEP_TIMEOUT":    "30s",
		"SPINDLE_PIPELINES_OUTPUT_LIMIT":    "1024",
		"SPINDLE_QUEUE_PROVIDER":            "redis",
		"SPINDLE_QUEUE_REDIS_ADDR":          "redis:6379",
	}))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddr)
	assert.Equal(t, "vault", cfg.Server.Secrets.Provider)
	assert.Equal(t, "http://vault:8200", cfg.Server.Secrets.Vault.Addr)
	assert.Equal(t, 30*time.Second, cfg.Pipelines.StepTimeout)
	assert.Equal(t, 1024, cfg.Pipelines.OutputLimit)
	assert.Equal(t, "redis", cfg.Queue.Provider)
	assert.Equal(t, "redis:6379", cfg.Queue.RedisAddr)
}

func TestLoadInvalid(t *testing.T) {
	_, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"SPINDLE_PIPELINES_STEP_TIMEOUT": "soon",
	}))
	assert.Error(t, err)
}
