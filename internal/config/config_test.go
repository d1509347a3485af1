package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8082, cfg.Server.Port)
	assert.False(t, cfg.Server.TLSEnabled)
	assert.Equal(t, 60, cfg.Server.TurnRateLimitPerMin)

	assert.Equal(t, "http://localhost:8080", cfg.Registry.BaseURL)
	assert.Equal(t, 300, cfg.Registry.CacheTTLSeconds)

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.NotNil(t, cfg.LLM.OpenAI)
	assert.NotNil(t, cfg.LLM.Anthropic)

	assert.Equal(t, 3, cfg.Workflow.EscalationThreshold)
	assert.Equal(t, 30, cfg.Workflow.RecencyHalfLifeDays)
	assert.Equal(t, 1.25, cfg.Workflow.ExpertBoost)
	assert.Equal(t, 45, cfg.Workflow.GatewayTimeoutSeconds)

	assert.NotEmpty(t, cfg.Database.SQLitePath)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		wantError bool
	}{
		{
			name:      "valid default config",
			modifyFn:  func(cfg *Config) {},
			wantError: false,
		},
		{
			name:      "invalid port",
			modifyFn:  func(cfg *Config) { cfg.Server.Port = 0 },
			wantError: true,
		},
		{
			name:      "zero turn rate limit",
			modifyFn:  func(cfg *Config) { cfg.Server.TurnRateLimitPerMin = 0 },
			wantError: true,
		},
		{
			name:      "unknown provider",
			modifyFn:  func(cfg *Config) { cfg.LLM.Provider = "gemini" },
			wantError: true,
		},
		{
			name:      "zero escalation threshold",
			modifyFn:  func(cfg *Config) { cfg.Workflow.EscalationThreshold = 0 },
			wantError: true,
		},
		{
			name:      "expert boost below one",
			modifyFn:  func(cfg *Config) { cfg.Workflow.ExpertBoost = 0.5 },
			wantError: true,
		},
		{
			name:      "missing registry URL",
			modifyFn:  func(cfg *Config) { cfg.Registry.BaseURL = "" },
			wantError: true,
		},
		{
			name:      "malformed registry URL",
			modifyFn:  func(cfg *Config) { cfg.Registry.BaseURL = "not-a-url" },
			wantError: true,
		},
		{
			name:      "empty sqlite path",
			modifyFn:  func(cfg *Config) { cfg.Database.SQLitePath = "" },
			wantError: true,
		},
		{
			name:      "bad log level",
			modifyFn:  func(cfg *Config) { cfg.Logging.Level = "verbose" },
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)
			errs := cfg.Validate()
			if tt.wantError {
				assert.NotEmpty(t, errs)
			} else {
				assert.Empty(t, errs)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ai.yaml")

	yaml := `
server:
  port: 9090
workflow:
  escalation_threshold: 5
  recency_half_life_days: 14
llm:
  provider: ollama
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	mgr, err := NewManager(path)
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))

	cfg := mgr.Get(context.Background())
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Workflow.EscalationThreshold)
	assert.Equal(t, 14, cfg.Workflow.RecencyHalfLifeDays)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	// untouched settings keep defaults
	assert.Equal(t, 1.25, cfg.Workflow.ExpertBoost)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	mgr, err := NewManager(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))

	cfg := mgr.Get(context.Background())
	assert.Equal(t, DefaultConfig().Server.Port, cfg.Server.Port)
}

func TestAPIKeyEnvOverride(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key-123")

	mgr, err := NewManager(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))

	cfg := mgr.Get(context.Background())
	assert.Equal(t, "test-key-123", cfg.LLM.Anthropic["api_key"])
}
