package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"CANVAS_API_TOKEN", "CANVAS_API_URL", "API_TIMEOUT", "CACHE_TTL",
		"MAX_CONCURRENT_REQUESTS", "ENABLE_DATA_ANONYMIZATION", "ANONYMIZATION_DEBUG",
		"LOG_API_REQUESTS", "LOG_ACCESS_EVENTS", "LOG_EXECUTION_EVENTS",
		"AUDIT_LOG_DIR", "INSTITUTION_NAME", "TIMEZONE", "LOG_LEVEL",
	}
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_MissingToken(t *testing.T) {
	clearEnv(t)
	t.Setenv("CANVAS_API_URL", "https://canvas.example.edu/api/v1")

	cfg, warning, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Empty(t, warning)
}

func TestLoad_MissingURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("CANVAS_API_TOKEN", "1234567890abcdef1234567890")

	cfg, _, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CANVAS_API_TOKEN", "1234567890abcdef1234567890")
	t.Setenv("CANVAS_API_URL", "https://canvas.example.edu/api/v1")

	cfg, warning, err := Load()
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.Equal(t, 30, cfg.RequestTimeoutSeconds)
	assert.Equal(t, 300, cfg.CacheTTLSeconds)
	assert.Equal(t, 10, cfg.MaxConcurrentRequests)
	assert.True(t, cfg.EnableAnonymization)
	assert.False(t, cfg.AnonymizationDebug)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NotEmpty(t, cfg.AuditLogDir)
}

func TestLoad_URLMissingAPIVersionWarns(t *testing.T) {
	clearEnv(t)
	t.Setenv("CANVAS_API_TOKEN", "1234567890abcdef1234567890")
	t.Setenv("CANVAS_API_URL", "https://canvas.example.edu")

	cfg, warning, err := Load()
	require.NoError(t, err)
	assert.NotEmpty(t, warning)
	assert.Equal(t, "https://canvas.example.edu", cfg.CanvasAPIURL)
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("CANVAS_API_TOKEN", "1234567890abcdef1234567890")
	t.Setenv("CANVAS_API_URL", "https://canvas.example.edu/api/v1")
	t.Setenv("API_TIMEOUT", "60")
	t.Setenv("CACHE_TTL", "0")
	t.Setenv("ENABLE_DATA_ANONYMIZATION", "false")
	t.Setenv("LOG_ACCESS_EVENTS", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, _, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.RequestTimeoutSeconds)
	assert.Equal(t, 0, cfg.CacheTTLSeconds)
	assert.False(t, cfg.EnableAnonymization)
	assert.True(t, cfg.LogAccessEvents)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.AuditEnabled())
}

func TestConfig_AuditEnabled(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.AuditEnabled())

	cfg.LogExecutionEvents = true
	assert.True(t, cfg.AuditEnabled())
}
