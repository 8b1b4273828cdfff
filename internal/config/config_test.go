package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 18080, cfg.Server.GatewayPort)
	assert.Equal(t, 18081, cfg.Server.APIPort)
	assert.Equal(t, DefaultMaxCaptureBytes, cfg.Capture.MaxCaptureBytes)
	assert.Equal(t, DefaultPrimaryTimeout, cfg.Capture.PrimaryTimeout)
	assert.Equal(t, DefaultFallbackQueueSize, cfg.Capture.QueueSize)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, DefaultMaxLineageDepth, cfg.Store.MaxLineageDepth)
	assert.Equal(t, "stub", cfg.Embedding.Backend)
	assert.Equal(t, DefaultEmbeddingDimension, cfg.Embedding.Dimension)
	assert.Equal(t, DefaultSameThreshold, cfg.Similarity.SameThreshold)
	assert.Equal(t, DefaultForkThreshold, cfg.Similarity.ForkThreshold)
	assert.Equal(t, DefaultSessionIdleTimeout, cfg.Sessions.IdleTimeout)
	assert.Equal(t, "https://api.openai.com", cfg.Providers.OpenAI.BaseURL)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromBytesOverridesDefaults(t *testing.T) {
	yaml := `
server:
  gateway_port: 9090
  api_port: 9091
capture:
  max_capture_bytes: 4096
  primary_timeout: 5s
similarity:
  same_threshold: 0.9
  fork_threshold: 0.6
`
	cfg, err := LoadFromBytes([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.GatewayPort)
	assert.Equal(t, 4096, cfg.Capture.MaxCaptureBytes)
	assert.Equal(t, 5*time.Second, cfg.Capture.PrimaryTimeout)
	assert.Equal(t, 0.9, cfg.Similarity.SameThreshold)
	assert.Equal(t, 0.6, cfg.Similarity.ForkThreshold)
	// Untouched sections still get defaults.
	assert.Equal(t, DefaultFallbackQueueSize, cfg.Capture.QueueSize)
	assert.Equal(t, "memory", cfg.Store.Type)
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("TEST_GW_PORT", "7070")

	yaml := `
server:
  gateway_port: ${TEST_GW_PORT}
  api_port: ${TEST_API_PORT:-7071}
store:
  type: ${TEST_STORE_TYPE:-memory}
`
	cfg, err := LoadFromBytes([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.GatewayPort, "set variables expand")
	assert.Equal(t, 7071, cfg.Server.APIPort, "unset variables take the :- default")
	assert.Equal(t, "memory", cfg.Store.Type)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EMBEDDING_API_KEY", "sk-env-key")
	t.Setenv("CONFIG_URI", "postgres://env-host/codepromptu")
	t.Setenv("FALLBACK_TTL_MS", "5000")

	cfg, err := LoadFromBytes([]byte(`
store:
  type: postgres
embedding:
  backend: openai
`))
	require.NoError(t, err)

	assert.Equal(t, "sk-env-key", cfg.Embedding.APIKey)
	assert.Equal(t, "postgres://env-host/codepromptu", cfg.Store.DSN)
	assert.Equal(t, 5*time.Second, cfg.Capture.FallbackTTL)
}

func TestValidateRejectsContradictions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port clash", func(c *Config) { c.Server.APIPort = c.Server.GatewayPort }},
		{"port out of range", func(c *Config) { c.Server.GatewayPort = 70000 }},
		{"postgres without dsn", func(c *Config) { c.Store.Type = "postgres"; c.Store.DSN = "" }},
		{"unknown store type", func(c *Config) { c.Store.Type = "dynamo" }},
		{"openai without key", func(c *Config) { c.Embedding.Backend = "openai"; c.Embedding.APIKey = "" }},
		{"unknown embedding backend", func(c *Config) { c.Embedding.Backend = "cohere" }},
		{"inverted thresholds", func(c *Config) {
			c.Similarity.SameThreshold = 0.5
			c.Similarity.ForkThreshold = 0.8
		}},
		{"bad provider url", func(c *Config) { c.Providers.OpenAI.BaseURL = "not a url" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := LoadFromBytes([]byte("server: [not, a, map"))
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}
